// Package main is the entry point for the submission triage tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"
	"google.golang.org/api/option"

	"github.com/shineum/submission-triage/internal/archive"
	"github.com/shineum/submission-triage/internal/config"
	"github.com/shineum/submission-triage/internal/console"
	"github.com/shineum/submission-triage/internal/filer"
	"github.com/shineum/submission-triage/internal/mailbox"
	"github.com/shineum/submission-triage/internal/mailbox/gmail"
	"github.com/shineum/submission-triage/internal/mailbox/graph"
	"github.com/shineum/submission-triage/internal/mailbox/imap"
	"github.com/shineum/submission-triage/internal/mailbox/local"
	"github.com/shineum/submission-triage/internal/provider"
	"github.com/shineum/submission-triage/internal/provider/ses"
	"github.com/shineum/submission-triage/internal/provider/stdout"
	"github.com/shineum/submission-triage/internal/session"
	"github.com/shineum/submission-triage/internal/submission"
)

// readPassword reads a line from a terminal without echo.
var readPassword = term.ReadPassword

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "path to a dotenv file loaded before configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("failed to load time zone", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	mb, err := selectMailbox(ctx, cfg, interactive)
	if err != nil {
		slog.Error("failed to open mailbox", "provider", cfg.Mailbox.Provider, "error", err)
		os.Exit(1)
	}

	replies, err := selectReplies(ctx, cfg, mb)
	if err != nil {
		slog.Error("failed to set up replies", "provider", cfg.Replies.Provider, "error", err)
		os.Exit(1)
	}

	sess := &session.Session{
		Mailbox: mb,
		Evaluator: &submission.Evaluator{
			Inspector: &archive.Inspector{QuarantineDir: cfg.Output.QuarantinePath()},
			Provider:  replies,
			Workers:   cfg.Workers,
		},
		Filer:     &filer.Filer{Root: cfg.Output.Dir, Workers: cfg.Workers},
		Roster:    session.Roster{Path: cfg.Roster.File, Encoding: cfg.Roster.Encoding},
		OutputDir: cfg.Output.Dir,
		Reviewers: cfg.Reviewers,
		Shuffler:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}

	replyName := "none"
	if replies != nil {
		replyName = replies.Name()
	}
	slog.Info("starting submission triage",
		"mailbox", mb.Name(),
		"replies", replyName,
		"roster", cfg.Roster.File,
		"output", cfg.Output.Dir,
		"reviewers", len(cfg.Reviewers),
	)

	c := console.New(os.Stdin, os.Stdout, loc)
	c.Echo = !interactive
	if err := c.Run(ctx, sess); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("menu stopped", "error", err)
		os.Exit(1)
	}

	slog.Info("submission triage stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectMailbox opens the mailbox submissions are read from.
func selectMailbox(ctx context.Context, cfg *config.Config, interactive bool) (mailbox.Mailbox, error) {
	switch cfg.Mailbox.Provider {
	case config.MailboxGmail:
		client, err := gmail.NewHTTPClient(ctx, gmail.AuthConfig{
			CredentialsFile: cfg.Gmail.CredentialsFile,
			TokenFile:       cfg.Gmail.TokenFile,
			In:              os.Stdin,
			Out:             os.Stdout,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("using Gmail mailbox", "user", cfg.Gmail.User)
		return gmail.New(ctx, cfg.Gmail.User, option.WithHTTPClient(client))

	case config.MailboxGraph:
		if cfg.Graph.ClientSecret == "" {
			secret, err := promptSecret(os.Stdout, int(os.Stdin.Fd()), interactive, "Graph client secret: ")
			if err != nil {
				return nil, err
			}
			cfg.Graph.ClientSecret = secret
		}
		slog.Info("using Microsoft Graph mailbox", "mailbox", cfg.Graph.Mailbox)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Mailbox:      cfg.Graph.Mailbox,
		}), nil

	case config.MailboxIMAP:
		if cfg.IMAP.Password == "" {
			password, err := promptSecret(os.Stdout, int(os.Stdin.Fd()), interactive, "IMAP password: ")
			if err != nil {
				return nil, err
			}
			cfg.IMAP.Password = password
		}
		slog.Info("using IMAP mailbox", "address", cfg.IMAP.Address, "folder", cfg.IMAP.Folder)
		return imap.New(imap.Config{
			Address:  cfg.IMAP.Address,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Folder:   cfg.IMAP.Folder,
		}), nil

	case config.MailboxLocal:
		slog.Info("using local mailbox", "dir", cfg.Local.Dir)
		return local.New(cfg.Local.Dir), nil

	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", cfg.Mailbox.Provider)
	}
}

// selectReplies chooses how students are told about their submission.
// A nil provider disables replies.
func selectReplies(ctx context.Context, cfg *config.Config, mb mailbox.Mailbox) (provider.Provider, error) {
	switch cfg.Replies.Provider {
	case config.RepliesNone:
		return nil, nil

	case config.RepliesMailbox:
		p, ok := mb.(provider.Provider)
		if !ok {
			return nil, fmt.Errorf("mailbox %q cannot send replies", mb.Name())
		}
		return p, nil

	case config.RepliesSES:
		slog.Info("using AWS SES for replies",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})

	case config.RepliesStdout:
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown reply provider %q", cfg.Replies.Provider)
	}
}

// promptSecret asks for a secret on the terminal without echoing it.
func promptSecret(out io.Writer, fd int, interactive bool, label string) (string, error) {
	if !interactive {
		return "", errors.New("secret not configured and input is not a terminal")
	}
	fmt.Fprint(out, label)
	b, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", errors.New("empty secret")
	}
	return secret, nil
}
