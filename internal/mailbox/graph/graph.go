// Package graph implements a mailbox on a Microsoft 365 account through the
// Microsoft Graph API, using OAuth2 client credentials. It lists and
// downloads submissions and answers them in their conversation.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/submission-triage/internal/email"
)

// Config holds the credentials and the mailbox to read.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Mailbox is the user principal name or ID of the mailbox.
	Mailbox string
}

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

const pageSize = 50

// Mailbox reads and answers submissions in one Microsoft 365 mailbox.
type Mailbox struct {
	baseURL    string
	httpClient *http.Client
	token      *tokenSource
}

// New creates a Mailbox for cfg.
func New(cfg Config) *Mailbox {
	baseURL := "https://graph.microsoft.com/v1.0/users/" + url.PathEscape(cfg.Mailbox)
	return newWithOverrides(cfg, baseURL, tokenURL(cfg.TenantID), &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides points the mailbox at test servers.
func newWithOverrides(cfg Config, baseURL, tokenEndpoint string, client *http.Client) *Mailbox {
	return &Mailbox{
		baseURL:    baseURL,
		httpClient: client,
		token:      newTokenSource(cfg, tokenEndpoint, client),
	}
}

// Name returns the mailbox name.
func (m *Mailbox) Name() string {
	return "msgraph"
}

// ListMessages returns the messages received inside w, following
// @odata.nextLink until the last page. Attachment metadata is expanded
// in the same request.
func (m *Mailbox) ListMessages(ctx context.Context, w email.Window) ([]*email.Message, error) {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
		w.After.UTC().Format(time.RFC3339), w.Before.UTC().Format(time.RFC3339)))
	q.Set("$select", "id,conversationId,internetMessageId,subject,from,receivedDateTime")
	q.Set("$expand", "attachments($select=id,name)")
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$top", strconv.Itoa(pageSize))

	next := m.baseURL + "/messages?" + q.Encode()

	var out []*email.Message
	for next != "" {
		var page messagePage
		if err := m.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, gm := range page.Value {
			out = append(out, toMessage(gm))
		}
		next = page.NextLink
	}

	slog.Info("messages listed", "mailbox", m.Name(), "count", len(out))
	return out, nil
}

// FetchAttachments downloads each referenced attachment by ID.
func (m *Mailbox) FetchAttachments(ctx context.Context, msg *email.Message) ([]email.Attachment, error) {
	out := make([]email.Attachment, 0, len(msg.Attachments))
	for _, ref := range msg.Attachments {
		if ref.ID == "" {
			continue
		}

		endpoint := fmt.Sprintf("%s/messages/%s/attachments/%s",
			m.baseURL, url.PathEscape(msg.ID), url.PathEscape(ref.ID))

		var ga graphAttachment
		if err := m.do(ctx, http.MethodGet, endpoint, nil, &ga); err != nil {
			return nil, fmt.Errorf("failed to fetch attachment %s: %w", ref.Filename, err)
		}

		content, err := base64.StdEncoding.DecodeString(ga.ContentBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment %s: %w", ref.Filename, err)
		}

		name := ga.Name
		if name == "" {
			name = ref.Filename
		}
		out = append(out, email.Attachment{
			Filename:    name,
			ContentType: ga.ContentType,
			Content:     content,
		})
	}
	return out, nil
}

// Send answers the source message of reply in its conversation. Graph
// takes care of the recipients, subject and threading headers.
func (m *Mailbox) Send(ctx context.Context, reply *email.Reply) error {
	if reply.SourceID == "" {
		return errors.New("reply has no source message")
	}

	body, err := json.Marshal(replyRequest{Comment: reply.Body})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/messages/%s/reply", m.baseURL, url.PathEscape(reply.SourceID))
	return m.do(ctx, http.MethodPost, endpoint, body, nil)
}

// do performs one Graph request with retry: exponential backoff for
// transient failures, Retry-After for HTTP 429 and a single forced token
// refresh for HTTP 401. A non-nil out receives the decoded JSON response.
func (m *Mailbox) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := m.doOnce(ctx, method, endpoint, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *requestError
		if !errors.As(err, &apiErr) {
			return err
		}

		switch {
		case apiErr.permanent:
			return apiErr
		case apiErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := m.token.ForceRefresh(ctx); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case apiErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(apiErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case apiErr.transient:
			delay := backoffDelay(attempt)
			slog.Info("transient Graph API error, retrying",
				"status", apiErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return apiErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

func (m *Mailbox) doOnce(ctx context.Context, method, endpoint string, body []byte, out any) error {
	token, err := m.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &requestError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &requestError{
			message:   fmt.Sprintf("failed to read response: %v", err),
			transient: true,
		}
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	var errResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error.Message != "" {
		return classifyError(resp.StatusCode, errResp.Error.Message, resp.Header.Get("Retry-After"))
	}
	return classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
}

// requestError is a failed Graph call classified for retry decisions.
type requestError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *requestError {
	err := &requestError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}
	return err
}

// retryAfterDelay honours a Retry-After value in seconds, falling back to
// exponential backoff.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(attempt)
}

// backoffDelay returns 1s, 2s, 4s for attempts 0, 1, 2.
func backoffDelay(attempt int) time.Duration {
	return baseRetryDelay << attempt
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
