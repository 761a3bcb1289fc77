package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// Scopes requested for the installed-app flow.
var Scopes = []string{gmailapi.GmailReadonlyScope, gmailapi.GmailSendScope}

// AuthConfig locates the OAuth client secrets and the cached user token.
type AuthConfig struct {
	CredentialsFile string
	TokenFile       string

	// In and Out are used for the one-time authorization prompt.
	In  io.Reader
	Out io.Writer
}

// NewHTTPClient returns a client authorized for the Gmail API. The token is
// read from TokenFile; when it is missing the user is asked to authorize
// the app in a browser and paste the code back. Refreshed tokens are
// written back to TokenFile.
func NewHTTPClient(ctx context.Context, cfg AuthConfig) (*http.Client, error) {
	secret, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client credentials: %w", err)
	}

	conf, err := google.ConfigFromJSON(secret, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credentials: %w", err)
	}

	tok, err := loadToken(cfg.TokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cached token unusable, authorizing again", "file", cfg.TokenFile, "error", err)
		}
		tok, err = authorize(ctx, conf, cfg.In, cfg.Out)
		if err != nil {
			return nil, err
		}
		if err := saveToken(cfg.TokenFile, tok); err != nil {
			return nil, err
		}
	}

	ts := &savingTokenSource{
		base: conf.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

// authorize runs the interactive part of the installed-app flow.
func authorize(ctx context.Context, conf *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser and paste the authorization code:\n%s\n> ", url)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && code == "" {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	tok, err := conf.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds no token")
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("failed to save token: %w", err)
	}
	return f.Close()
}

// savingTokenSource writes every newly issued token to path.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "error", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
