// Package imap implements a mailbox read over IMAP.
package imap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/shineum/submission-triage/internal/email"
	"github.com/shineum/submission-triage/internal/parser"
)

const commandTimeout = 30 * time.Second

// Config holds the IMAP account settings.
type Config struct {
	// Address is host:port of an implicit-TLS IMAP server.
	Address  string
	Username string
	Password string

	// Folder defaults to INBOX.
	Folder string
}

// Mailbox reads messages from one IMAP folder. Each operation opens its
// own connection.
type Mailbox struct {
	cfg  Config
	dial func(addr string) (*client.Client, error)
}

// New returns a Mailbox connecting over TLS.
func New(cfg Config) *Mailbox {
	return newWithDialer(cfg, func(addr string) (*client.Client, error) {
		return client.DialTLS(addr, nil)
	})
}

func newWithDialer(cfg Config, dial func(string) (*client.Client, error)) *Mailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Mailbox{cfg: cfg, dial: dial}
}

// Name returns "imap".
func (m *Mailbox) Name() string {
	return "imap"
}

// ListMessages searches the folder by internal date and keeps the
// messages whose Date header falls inside w. IMAP date searches only
// have day precision, so the search is widened by a day on each side.
// Message IDs are UIDs; messages are returned oldest first.
func (m *Mailbox) ListMessages(ctx context.Context, w email.Window) ([]*email.Message, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.logout(c)

	criteria := goimap.NewSearchCriteria()
	criteria.Since = w.After.AddDate(0, 0, -1)
	criteria.Before = w.Before.AddDate(0, 0, 1)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", m.cfg.Folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	var out []*email.Message
	err = m.fetch(ctx, c, uids, func(p *parser.Parsed) {
		if w.Contains(p.Message.Date) {
			out = append(out, p.Message)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	slog.Info("messages listed", "mailbox", m.Name(), "folder", m.cfg.Folder, "count", len(out))
	return out, nil
}

// FetchAttachments downloads the full message again and returns its
// attachments.
func (m *Mailbox) FetchAttachments(ctx context.Context, msg *email.Message) ([]email.Attachment, error) {
	uid, err := strconv.ParseUint(msg.ID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message uid %q: %w", msg.ID, err)
	}

	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer m.logout(c)

	var files []email.Attachment
	found := false
	err = m.fetch(ctx, c, []uint32{uint32(uid)}, func(p *parser.Parsed) {
		found = true
		files = p.Attachments
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("message uid %d no longer exists", uid)
	}
	return files, nil
}

func (m *Mailbox) connect(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := m.dial(m.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", m.cfg.Address, err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		m.logout(c)
		return nil, fmt.Errorf("failed to log in as %s: %w", m.cfg.Username, err)
	}
	if _, err := c.Select(m.cfg.Folder, true); err != nil {
		m.logout(c)
		return nil, fmt.Errorf("failed to open folder %s: %w", m.cfg.Folder, err)
	}
	return c, nil
}

func (m *Mailbox) logout(c *client.Client) {
	if err := c.Logout(); err != nil {
		slog.Debug("imap logout failed", "error", err)
	}
}

// fetch downloads the bodies of uids and hands every parsable message to
// fn, with its ID set to the UID.
func (m *Mailbox) fetch(ctx context.Context, c *client.Client, uids []uint32, fn func(*parser.Parsed)) error {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	msgs := make(chan *goimap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, msgs)
	}()

	for msg := range msgs {
		if ctx.Err() != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			slog.Warn("server returned no body", "uid", msg.Uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			slog.Warn("failed to read message body", "uid", msg.Uid, "error", err)
			continue
		}

		p, err := parser.Parse(raw)
		if err != nil {
			slog.Warn("skipping unreadable message", "uid", msg.Uid, "error", err)
			continue
		}
		p.Message.ID = strconv.FormatUint(uint64(msg.Uid), 10)
		fn(p)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	return ctx.Err()
}
