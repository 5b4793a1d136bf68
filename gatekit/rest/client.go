// Package rest is the typed HTTP boundary to the Ticket API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenSource supplies the bearer credential per request. The realtime
// client's TokenProvider satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the Ticket API. Callers classify
// outcomes by Status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

// Client provides access to the Ticket API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a Ticket API client. baseURL is the API root, e.g.
// "https://host/api". tokens may be nil for unauthenticated use.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// GetCheckinInfo fetches the pre-commit snapshot for a scanned code. The
// code is the ticket ID. This call mutates nothing and is safe to retry.
func (c *Client) GetCheckinInfo(ctx context.Context, ticketID string) (*CheckinInfo, error) {
	var resp CheckinInfo
	path := fmt.Sprintf("/tickets/%s/checkin-info", url.PathEscape(ticketID))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Checkin commits the single-use admission transition for a ticket. The
// idempotency key identifies this scan so a network-level duplicate of the
// same commit is recognizable server-side; the server remains the final
// arbiter of the single-use invariant.
func (c *Client) Checkin(ctx context.Context, ticketID, idempotencyKey string) (*CheckinResult, error) {
	var resp CheckinResult
	path := fmt.Sprintf("/tickets/%s/checkin", url.PathEscape(ticketID))
	if err := c.post(ctx, path, nil, &resp, idempotencyKey); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRealtimeStats fetches aggregate check-in progress for an event.
func (c *Client) GetRealtimeStats(ctx context.Context, eventID string) (*CheckinStats, error) {
	var resp CheckinStats
	path := fmt.Sprintf("/tickets/event/%s/realtime-stats", url.PathEscape(eventID))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest any, idempotencyKey string) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			return fmt.Errorf("obtain token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
