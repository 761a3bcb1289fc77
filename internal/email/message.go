// Package email defines the mail data model shared by mailboxes, the
// reconciler and the reply providers.
package email

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"time"
)

// extensionPattern matches a lower-case file extension at the end of a name.
var extensionPattern = regexp.MustCompile(`\.[0-9a-z]+$`)

// Message is a submission email fetched from a mailbox.
type Message struct {
	// ID is the mailbox-specific identifier used to fetch attachments
	// and to reply.
	ID       string
	ThreadID string

	// MessageID is the RFC 5322 Message-ID header, used for reply threading.
	MessageID string
	From      string
	Subject   string
	Date      time.Time

	// SubjectID is the legajo recovered from Subject, 0 if none.
	SubjectID int

	Attachments []AttachmentRef
	Headers     map[string][]string
}

// HasAttachment reports whether at least one attachment reference carries
// an identifier the mailbox can fetch.
func (m *Message) HasAttachment() bool {
	for _, ref := range m.Attachments {
		if ref.ID != "" {
			return true
		}
	}
	return false
}

// AttachmentRef identifies an attachment without its content.
type AttachmentRef struct {
	ID       string
	Filename string
}

// Attachment represents a downloaded file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Extension returns the lower-case suffix of the attachment filename,
// including the dot, or "" when there is none.
func (a Attachment) Extension() string {
	return Extension(a.Filename)
}

// Extension returns the file extension of name as matched by the
// submission rules: a dot followed by lower-case letters or digits.
func Extension(name string) string {
	return extensionPattern.FindString(strings.ToLower(name))
}

// Reply is an outgoing answer to a submission message.
type Reply struct {
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
	ThreadID   string

	// SourceID is the mailbox ID of the message being answered.
	SourceID string
}

// ReplyTo builds a reply addressed to the sender of msg, threaded to it.
func ReplyTo(msg *Message, body string) *Reply {
	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return &Reply{
		To:         msg.From,
		Subject:    subject,
		Body:       body,
		InReplyTo:  msg.MessageID,
		References: msg.MessageID,
		ThreadID:   msg.ThreadID,
		SourceID:   msg.ID,
	}
}

// MIME renders the reply as an RFC 5322 text/plain message. from may be
// empty when the transport fills in the sender.
func (r *Reply) MIME(from string) ([]byte, error) {
	var buf bytes.Buffer

	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", r.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", r.Subject))
	if r.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", r.InReplyTo)
	}
	if r.References != "" {
		fmt.Fprintf(&buf, "References: %s\r\n", r.References)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(r.Body)); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return buf.Bytes(), nil
}

// Window is the half-open time range [After, Before) used to list messages.
type Window struct {
	After  time.Time
	Before time.Time
}

// Valid reports whether the window ends after it starts.
func (w Window) Valid() bool {
	return w.Before.After(w.After)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.After) && t.Before(w.Before)
}
