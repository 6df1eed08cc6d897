// Package api is the HTTP client for the recording sync service. The sync
// scheduler calls it once per attempt; heavier retry policy lives up there.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrSyncRejected wraps non-2xx responses from the sync service.
var ErrSyncRejected = errors.New("sync request rejected")

// SyncResult is the sync service's response body.
type SyncResult struct {
	Synced  int    `json:"synced"`
	Message string `json:"message,omitempty"`
}

// Client talks to the sync service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the service at baseURL with bearer auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// RequestSync asks the service to sync recording artifacts for one call
// record. A 429 is retried once after the advertised Retry-After; any other
// non-2xx status is an error.
func (c *Client) RequestSync(ctx context.Context, recordID string) (*SyncResult, error) {
	result, retryAfter, err := c.postSync(ctx, recordID)
	if retryAfter > 0 {
		if err := sleepWithContext(ctx, retryAfter); err != nil {
			return nil, err
		}
		result, _, err = c.postSync(ctx, recordID)
		return result, err
	}
	return result, err
}

// postSync performs one request. retryAfter is non-zero only for a 429 with
// a usable Retry-After header.
func (c *Client) postSync(ctx context.Context, recordID string) (*SyncResult, time.Duration, error) {
	body, err := json.Marshal(map[string]string{"record_id": recordID})
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recordings/sync", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sync request for %s: %w", recordID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := retryAfterDuration(resp.Header); ok {
			return nil, d, fmt.Errorf("%w: rate limited", ErrSyncRejected)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("%w: %s (%s)", ErrSyncRejected, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var result SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decoding sync response: %w", err)
	}
	return &result, 0, nil
}

// sleepWithContext waits for the duration or returns early on context cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfterDuration parses Retry-After header values (seconds or HTTP date).
func retryAfterDuration(h http.Header) (time.Duration, bool) {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
