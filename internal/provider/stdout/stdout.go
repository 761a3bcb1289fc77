// Package stdout implements a Provider that prints replies instead of
// sending them, for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/submission-triage/internal/email"
)

const rule = "========================================\n"

// Provider prints replies in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the reply. Write errors are returned so the reply is
// retried on the next evaluation.
func (p *Provider) Send(_ context.Context, reply *email.Reply) error {
	var b strings.Builder

	b.WriteString(rule)
	fmt.Fprintf(&b, "To: %s\n", reply.To)
	fmt.Fprintf(&b, "Subject: %s\n", reply.Subject)
	if reply.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\n", reply.InReplyTo)
	}
	b.WriteString("Body:\n")
	b.WriteString(strings.TrimRight(reply.Body, "\n") + "\n")
	b.WriteString(rule)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to print reply: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
