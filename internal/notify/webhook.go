package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"arbwatch/internal/model"
)

// ErrWebhookRejected marks a non-2xx response the receiver will not accept on
// retry.
var ErrWebhookRejected = errors.New("webhook rejected")

// WebhookSink POSTs the alert payload as JSON to a fixed URL.
type WebhookSink struct {
	url     string
	client  *http.Client
	headers map[string]string
	retries int
	backoff time.Duration
}

// WebhookOption customises a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHeaders adds custom request headers. Content-Type is always JSON.
func WithHeaders(h map[string]string) WebhookOption {
	return func(w *WebhookSink) { w.headers = h }
}

// WithRetries sets how many extra attempts follow a transient failure.
func WithRetries(n int) WebhookOption {
	return func(w *WebhookSink) {
		if n >= 0 {
			w.retries = n
		}
	}
}

// WithBackoff sets the pause before the first retry. It doubles each time.
func WithBackoff(d time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.backoff = d }
}

// NewWebhookSink creates a WebhookSink. A zero timeout means 10 seconds.
func NewWebhookSink(url string, timeout time.Duration, opts ...WebhookOption) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookSink) Name() string { return "webhook" }

// Deliver posts the alert, retrying network errors, 429 and 5xx responses.
func (w *WebhookSink) Deliver(ctx context.Context, a model.Alert) error {
	body, err := json.Marshal(NewPayload(a))
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	backoff := w.backoff
	for attempt := 0; ; attempt++ {
		err = w.post(ctx, body)
		if err == nil || errors.Is(err, ErrWebhookRejected) || attempt >= w.retries {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w: %w", ErrWebhookRejected, err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return fmt.Errorf("webhook: %w: status %d: %s", ErrWebhookRejected, resp.StatusCode, string(respBody))
}
