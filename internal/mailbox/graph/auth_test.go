package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// tokenResponse is what the identity platform returns for a token request.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

var testCreds = Config{ClientID: "cid", ClientSecret: "csecret"}

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}

		want := map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "test-client-id",
			"client_secret": "test-client-secret",
			"scope":         graphScope,
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("%s: got %q, want %q", k, got, v)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-access-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	tc := newTokenSource(Config{ClientID: "test-client-id", ClientSecret: "test-client-secret"}, server.URL, server.Client())

	token, err := tc.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token: got %q, want %q", token, "test-access-token")
	}
}

func TestTokenSource_Caching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresIn int64
		wantCalls int32
	}{
		{name: "valid token is reused", expiresIn: 3600, wantCalls: 1},
		{name: "token inside expiry buffer is refreshed", expiresIn: 1, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := tokenServer(t, &calls, tt.expiresIn)
			tc := newTokenSource(testCreds, srv.URL, srv.Client())

			for range 2 {
				if _, err := tc.Token(context.Background()); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("server call count: got %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestTokenSource_ForceRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 3600)
	tc := newTokenSource(testCreds, srv.URL, srv.Client())

	first, err := tc.Token(context.Background())
	if err != nil {
		t.Fatalf("first call error: %v", err)
	}

	second, err := tc.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("force refresh error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server call count: got %d, want 2", calls.Load())
	}
	if first == second {
		t.Errorf("force refresh returned the cached token %q", second)
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "concurrent-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	tc := newTokenSource(testCreds, server.URL, server.Client())

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tokens[idx], errs[idx] = tc.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Errorf("goroutine %d error: %v", i, errs[i])
		}
		if tokens[i] != "concurrent-token" {
			t.Errorf("goroutine %d token: got %q", i, tokens[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("server call count: got %d, want 1", calls.Load())
	}
}

func TestTokenSource_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error": "internal server error"}`))
			},
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tokenResponse{ExpiresIn: 3600})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			tc := newTokenSource(testCreds, server.URL, server.Client())
			if _, err := tc.Token(context.Background()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
