// Package parser provides RFC 5322 email message parsing with MIME multipart support.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"strconv"
	"strings"

	"github.com/shineum/submission-triage/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parsed is a message together with the content of its attachments.
// Message.Attachments[i] references Attachments[i].
type Parsed struct {
	Message     *email.Message
	Attachments []email.Attachment
}

// Parse parses a raw RFC 5322 email message. Headers are copied verbatim;
// From is reduced to the bare address and Subject is decoded from RFC 2047
// encoded words. Every part carrying a filename, or an attachment
// disposition, is collected as an attachment. Unrecognized MIME parts are
// logged as warnings.
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &email.Message{
		Headers: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		m.Headers[key] = values
	}

	m.From = parseAddress(msg.Header.Get("From"))
	m.Subject = decodeHeader(msg.Header.Get("Subject"))
	m.MessageID = msg.Header.Get("Message-Id")
	m.ID = m.MessageID
	if date, err := msg.Header.Date(); err == nil {
		m.Date = date
	} else if msg.Header.Get("Date") != "" {
		slog.Warn("failed to parse date header",
			"date", msg.Header.Get("Date"),
			"error", err,
		)
	}

	result := &Parsed{Message: m}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
	}

	for i, att := range result.Attachments {
		m.Attachments = append(m.Attachments, email.AttachmentRef{
			ID:       strconv.Itoa(i),
			Filename: att.Filename,
		})
	}

	return result, nil
}

// parseMultipart walks a multipart MIME body, collecting attachments.
// Text bodies are skipped.
func parseMultipart(body io.Reader, boundary string, result *Parsed) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		isAttachment := strings.HasPrefix(part.Header.Get("Content-Disposition"), "attachment")
		filename := explicitFilename(part, params)

		if !isAttachment && filename == "" {
			if mediaType != "text/plain" && mediaType != "text/html" {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
				)
			}
			continue
		}

		content, err := readPartContent(part)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		if filename == "" {
			filename = fallbackFilename(mediaType)
		}
		result.Attachments = append(result.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
	}

	return nil
}

// readPartContent reads the full content of a MIME part, handling
// Content-Transfer-Encoding (base64, quoted-printable).
func readPartContent(part *multipart.Part) ([]byte, error) {
	encoding := part.Header.Get("Content-Transfer-Encoding")
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	default:
		// The multipart reader already undoes quoted-printable.
		return raw, nil
	}
}

// explicitFilename returns the filename from Content-Disposition or the
// Content-Type "name" parameter, decoding RFC 2047 words.
func explicitFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return decodeHeader(fn)
	}
	if name := params["name"]; name != "" {
		return decodeHeader(name)
	}
	return ""
}

func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return "attachment." + sub
	}
	return "attachment"
}

func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// parseAddress reduces a From header to its bare address.
func parseAddress(raw string) string {
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}
