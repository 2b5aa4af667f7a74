package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Destination receives push envelopes. Delivery must be idempotent on the
// receiving side; the pusher guarantees at-least-once, not exactly-once.
type Destination interface {
	Deliver(ctx context.Context, env Envelope) error
}

// HTTPDestination posts envelopes as JSON to a fixed URL.
type HTTPDestination struct {
	url    string
	client *http.Client
}

// NewHTTPDestination creates a destination for the given endpoint URL.
func NewHTTPDestination(url string, timeout time.Duration) *HTTPDestination {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDestination{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDestination) Deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push event %s: %w", env.EventID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push event %s: destination returned %s", env.EventID, resp.Status)
	}
	return nil
}

// NullDestination drops envelopes. Used when no push URL is configured.
type NullDestination struct{}

func (NullDestination) Deliver(context.Context, Envelope) error { return nil }
