package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is how long before expiry a token stops being reused.
const tokenExpiryBuffer = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

// tokenURL is the Microsoft identity platform endpoint of tenantID.
func tokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// tokenSource hands out app-only Graph tokens from the client-credentials
// grant. Safe for concurrent use.
type tokenSource struct {
	conf       *clientcredentials.Config
	httpClient *http.Client

	mu  sync.Mutex
	tok *oauth2.Token
}

func newTokenSource(cfg Config, endpoint string, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		conf: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token returns the current access token, requesting a new one when
// there is none or it expires within tokenExpiryBuffer.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.fresh() {
		return ts.tok.AccessToken, nil
	}
	return ts.acquire(ctx)
}

// ForceRefresh discards the current token and requests a new one.
func (ts *tokenSource) ForceRefresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.tok = nil
	return ts.acquire(ctx)
}

func (ts *tokenSource) fresh() bool {
	if ts.tok == nil || ts.tok.AccessToken == "" {
		return false
	}
	return ts.tok.Expiry.IsZero() || time.Now().Add(tokenExpiryBuffer).Before(ts.tok.Expiry)
}

// acquire must be called with ts.mu held.
func (ts *tokenSource) acquire(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.httpClient)

	tok, err := ts.conf.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire Graph token: %w", err)
	}
	ts.tok = tok
	return tok.AccessToken, nil
}
