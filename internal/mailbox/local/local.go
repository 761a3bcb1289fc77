// Package local implements a mailbox backed by a directory of .eml files.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/parser"
)

// Mailbox reads RFC 5322 messages saved as .eml files in Dir.
type Mailbox struct {
	Dir string
}

// New returns a Mailbox reading from dir.
func New(dir string) *Mailbox {
	return &Mailbox{Dir: dir}
}

// Name returns "local".
func (m *Mailbox) Name() string {
	return "local"
}

// ListMessages parses every .eml file in Dir and keeps those whose Date
// falls inside w, ordered by file name. Files that fail to parse are
// logged and skipped. Message IDs are the file names.
func (m *Mailbox) ListMessages(ctx context.Context, w email.Window) ([]*email.Message, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*email.Message
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := m.parse(name)
		if err != nil {
			slog.Warn("skipping unreadable message", "file", name, "error", err)
			continue
		}
		if !w.Contains(p.Message.Date) {
			continue
		}
		out = append(out, p.Message)
	}

	slog.Info("messages listed", "mailbox", m.Name(), "dir", m.Dir, "count", len(out))
	return out, nil
}

// FetchAttachments re-reads the message file and returns its attachments.
func (m *Mailbox) FetchAttachments(ctx context.Context, msg *email.Message) ([]email.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := m.parse(msg.ID)
	if err != nil {
		return nil, err
	}
	return p.Attachments, nil
}

func (m *Mailbox) parse(name string) (*parser.Parsed, error) {
	raw, err := os.ReadFile(filepath.Join(m.Dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	p, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	p.Message.ID = name
	return p, nil
}
