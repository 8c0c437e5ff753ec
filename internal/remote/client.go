// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package remote talks to the hosted backend: queued mutations are replayed
// through it and payment references are checked against it before insert.
// Callers must treat every error as either permanent (the remote understood
// and refused) or transient (worth retrying); IsPermanent makes the call.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
)

// Errors
var (
	// ErrMissingID is returned when a row update or delete has no id.
	ErrMissingID = errors.New("row operation requires an id")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

// IsPermanent reports whether err is a remote refusal that retrying cannot
// fix. Client errors are permanent except timeout (408) and rate limiting
// (429); everything else is transient.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// TokenFunc supplies the current bearer token per request.
type TokenFunc func() string

// Invoker is the backend contract the sync engine depends on.
type Invoker interface {
	// Replay re-issues one queued mutation against the backend and returns
	// the response body.
	Replay(ctx context.Context, item *models.QueueItem) ([]byte, error)

	// FindPaymentByRef reports whether the backend already holds a payment
	// with the given transaction ref for the tenant.
	FindPaymentByRef(ctx context.Context, tenantID, ref string) (bool, error)
}

// Client is the HTTP implementation of Invoker.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewClient creates a backend client. token may be nil for anonymous
// endpoints.
func NewClient(baseURL string, token TokenFunc, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Replay re-issues a queued mutation. The item URL is relative to the
// backend base URL; method and payload are used verbatim. Row updates and
// deletes must name an id in the query string. The queue item id is sent
// as the Idempotency-Key header so a crash-replayed item cannot create a
// duplicate remote record.
func (c *Client) Replay(ctx context.Context, item *models.QueueItem) ([]byte, error) {
	if err := validateItemURL(item); err != nil {
		return nil, err
	}

	var body io.Reader
	if item.Method != models.MethodDelete && len(item.Payload) > 0 {
		body = bytes.NewReader(item.Payload)
	}
	return c.do(ctx, string(item.Method), item.URL, body, map[string]string{
		"Idempotency-Key": item.ID,
	})
}

// validateItemURL rejects row mutations that cannot name their target row.
func validateItemURL(item *models.QueueItem) error {
	if !strings.HasPrefix(item.URL, "/tables/") {
		return nil
	}
	if item.Method != models.MethodPatch && item.Method != models.MethodPut && item.Method != models.MethodDelete {
		return nil
	}
	u, err := url.Parse(item.URL)
	if err != nil {
		return fmt.Errorf("parse item url: %w", err)
	}
	if u.Query().Get("id") == "" {
		return fmt.Errorf("replay %s %s: %w", item.Method, item.URL, ErrMissingID)
	}
	return nil
}

// CallFunction invokes a hosted edge function by name.
func (c *Client) CallFunction(ctx context.Context, name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode function payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/functions/v1/"+name, bytes.NewReader(raw), nil)
}

// CallRPC invokes a database procedure by name.
func (c *Client) CallRPC(ctx context.Context, name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode rpc payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/rpc/"+name, bytes.NewReader(raw), nil)
}

// FindPaymentByRef queries the payments table for an existing transaction
// ref. Used as the duplicate check before replaying an offline payment.
func (c *Client) FindPaymentByRef(ctx context.Context, tenantID, ref string) (bool, error) {
	q := url.Values{}
	q.Set("tenant_id", "eq."+tenantID)
	q.Set("transaction_ref", "eq."+ref)
	q.Set("select", "id")

	raw, err := c.do(ctx, http.MethodGet, "/tables/payments?"+q.Encode(), nil, nil)
	if err != nil {
		return false, err
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return false, fmt.Errorf("decode payment lookup: %w", err)
	}
	return len(rows) > 0, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Msg("remote call failed")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

var _ Invoker = (*Client)(nil)
