// Package provider defines the interface for reply delivery backends.
package provider

import (
	"context"

	"github.com/shineum/submission-triage/internal/email"
)

// Provider is the interface that reply delivery backends must implement.
// Each provider delivers the validation results back to a student
// (e.g., stdout, AWS SES, or the mailbox the submission came from).
type Provider interface {
	// Send delivers a reply through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, reply *email.Reply) error

	// Name returns the human-readable name of this provider.
	Name() string
}
