// Package gmail implements a mailbox on a Gmail account through the Gmail
// REST API. It lists submissions with a search query, downloads their
// attachments and answers them in the same thread.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shineum/submission-triage/internal/email"
)

const (
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
)

// Mailbox reads and answers submissions in one Gmail account.
type Mailbox struct {
	svc  *gmailapi.Service
	user string
}

// New creates a Mailbox for user ("me" for the authorized account). opts
// must carry the authorized HTTP client.
func New(ctx context.Context, user string, opts ...option.ClientOption) (*Mailbox, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	if user == "" {
		user = "me"
	}
	return &Mailbox{svc: svc, user: user}, nil
}

// Name returns the mailbox name.
func (m *Mailbox) Name() string {
	return "gmail"
}

// ListMessages searches with "after:<unix> before:<unix>", follows every
// page and fetches the headers and part tree of each hit. Messages are
// returned oldest first.
func (m *Mailbox) ListMessages(ctx context.Context, w email.Window) ([]*email.Message, error) {
	query := fmt.Sprintf("after:%d before:%d", w.After.Unix(), w.Before.Unix())

	var ids []string
	pageToken := ""
	for {
		call := m.svc.Users.Messages.List(m.user).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmailapi.ListMessagesResponse
		err := withRetry(ctx, func() (err error) {
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	out := make([]*email.Message, 0, len(ids))
	for _, id := range ids {
		var gm *gmailapi.Message
		err := withRetry(ctx, func() (err error) {
			gm, err = m.svc.Users.Messages.Get(m.user, id).Format("full").Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", id, err)
		}
		out = append(out, toMessage(gm))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	slog.Info("messages listed", "mailbox", m.Name(), "query", query, "count", len(out))
	return out, nil
}

// FetchAttachments downloads each referenced attachment by ID.
func (m *Mailbox) FetchAttachments(ctx context.Context, msg *email.Message) ([]email.Attachment, error) {
	out := make([]email.Attachment, 0, len(msg.Attachments))
	for _, ref := range msg.Attachments {
		if ref.ID == "" {
			continue
		}

		var body *gmailapi.MessagePartBody
		err := withRetry(ctx, func() (err error) {
			body, err = m.svc.Users.Messages.Attachments.Get(m.user, msg.ID, ref.ID).Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch attachment %s: %w", ref.Filename, err)
		}

		content, err := decodeData(body.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment %s: %w", ref.Filename, err)
		}
		out = append(out, email.Attachment{Filename: ref.Filename, Content: content})
	}
	return out, nil
}

// Send delivers reply in the thread of the message it answers.
func (m *Mailbox) Send(ctx context.Context, reply *email.Reply) error {
	raw, err := reply.MIME("")
	if err != nil {
		return fmt.Errorf("failed to build reply: %w", err)
	}

	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}
	return withRetry(ctx, func() error {
		_, err := m.svc.Users.Messages.Send(m.user, msg).Context(ctx).Do()
		return err
	})
}

// toMessage converts a message fetched with format=full.
func toMessage(gm *gmailapi.Message) *email.Message {
	msg := &email.Message{
		ID:       gm.Id,
		ThreadID: gm.ThreadId,
		Date:     time.UnixMilli(gm.InternalDate),
		Headers:  make(map[string][]string),
	}

	if gm.Payload == nil {
		return msg
	}

	for _, h := range gm.Payload.Headers {
		key := textproto.CanonicalMIMEHeaderKey(h.Name)
		msg.Headers[key] = append(msg.Headers[key], h.Value)
	}
	header := textproto.MIMEHeader(msg.Headers)

	msg.Subject = header.Get("Subject")
	msg.MessageID = header.Get("Message-Id")
	msg.From = header.Get("From")
	if addr, err := mail.ParseAddress(msg.From); err == nil {
		msg.From = addr.Address
	}

	msg.Attachments = attachmentRefs(gm.Payload, nil)
	return msg
}

// attachmentRefs walks the part tree depth first collecting every part
// stored as a separate attachment.
func attachmentRefs(part *gmailapi.MessagePart, refs []email.AttachmentRef) []email.AttachmentRef {
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		refs = append(refs, email.AttachmentRef{ID: part.Body.AttachmentId, Filename: part.Filename})
	}
	for _, p := range part.Parts {
		refs = attachmentRefs(p, refs)
	}
	return refs
}

// decodeData decodes the base64url payloads returned by the API, which
// may or may not be padded.
func decodeData(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// withRetry retries fn on rate limiting and server errors with
// exponential backoff.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		delay := baseRetryDelay << attempt
		slog.Info("transient Gmail API error, retrying", "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("context cancelled during retry wait: %w", ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("Gmail API request failed after %d retries: %w", maxRetries, err)
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}
