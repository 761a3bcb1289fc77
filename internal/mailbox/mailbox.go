// Package mailbox defines the interface for the mail services submissions
// are fetched from.
package mailbox

import (
	"context"

	"github.com/shineum/submission-triage/internal/email"
)

// Mailbox lists submission messages and downloads their attachments.
type Mailbox interface {
	// ListMessages returns every message received inside w, with
	// headers and attachment references but without attachment content.
	ListMessages(ctx context.Context, w email.Window) ([]*email.Message, error)

	// FetchAttachments downloads the attachments referenced by msg, in
	// reference order.
	FetchAttachments(ctx context.Context, msg *email.Message) ([]email.Attachment, error)

	// Name returns the human-readable name of this mailbox.
	Name() string
}
