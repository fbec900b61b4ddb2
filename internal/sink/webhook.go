package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/heapview/event"
)

// errPermanent marks responses that a retry cannot fix.
var errPermanent = errors.New("webhook: rejected")

// Webhook POSTs each event as JSON. Transport errors, 429 and 5xx are
// retried with doubling backoff; other 4xx fail at once. Receivers can
// deduplicate retries on the X-Heapview-Event-ID header.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithWebhookBackoff sets the first retry delay. Default: 1s, doubling up
// to 30s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.backoff = d
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, ev event.Event) error {
	body, err := json.Marshal(envelope{Type: string(ev.Kind), Data: ev})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	wait := w.backoff
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			wait = min(2*wait, w.maxBackoff)
		}

		retryAfter, err := w.post(ctx, ev, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) {
			return err
		}
		lastErr = err
		if retryAfter > 0 {
			wait = min(retryAfter, w.maxBackoff)
		}
		w.logger.Warn("webhook: delivery failed", "event", ev.ID, "kind", ev.Kind, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("webhook: %d attempts: %w", w.maxRetries+1, lastErr)
}

// post sends one attempt. It returns the server's Retry-After delay, if
// any, with a retryable error.
func (w *Webhook) post(ctx context.Context, ev event.Event, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: new request: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Heapview-Event-Kind", string(ev.Kind))
	if ev.ID != "" {
		req.Header.Set("X-Heapview-Event-ID", ev.ID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests || code >= 500:
		return parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook: status %d", code)
	default:
		return 0, fmt.Errorf("%w: status %d", errPermanent, code)
	}
}

// parseRetryAfter reads a delay-seconds Retry-After value.
func parseRetryAfter(v string) time.Duration {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (w *Webhook) Close() error { return nil }
