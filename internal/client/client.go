// Package client talks to the coordinator over its HTTP+JSON binding.
// Submissions are single attempts bounded by a timeout; callers decide what
// to do on failure.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/web"
)

// DefaultTimeout bounds each request unless overridden.
const DefaultTimeout = 3 * time.Second

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is a coordinator client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a Client for the coordinator at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends a desired state and returns the value the coordinator accepted.
func (c *Client) Submit(ctx context.Context, desired logic.State, detected bool) (logic.State, error) {
	body, err := json.Marshal(web.SubmitRequestJSON{Desired: string(desired), Detected: detected})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	var resp web.SubmitResponseJSON
	if err := c.do(ctx, http.MethodPost, "/api/set_state", bytes.NewReader(body), &resp); err != nil {
		return "", fmt.Errorf("submit %s: %w", desired, err)
	}
	accepted, ok := logic.ParseState(resp.Desired)
	if !resp.OK || !ok {
		return "", fmt.Errorf("submit %s: unexpected response %+v", desired, resp)
	}
	return accepted, nil
}

// ReadDesired returns the coordinator's current desired state.
func (c *Client) ReadDesired(ctx context.Context) (logic.State, error) {
	var resp web.DesiredJSON
	if err := c.do(ctx, http.MethodGet, "/api/desired_state", nil, &resp); err != nil {
		return "", fmt.Errorf("read desired: %w", err)
	}
	state, ok := logic.ParseState(resp.Desired)
	if !ok {
		return "", fmt.Errorf("read desired: unknown value %q", resp.Desired)
	}
	return state, nil
}

// RecentEvents returns up to limit events, newest first.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]web.EventJSON, error) {
	path := "/api/events"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var events []web.EventJSON
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(web.RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b := string(data)
		if len(b) > 512 {
			b = b[:512]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: b}
	}
	return json.Unmarshal(data, dest)
}
