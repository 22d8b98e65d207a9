package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook POSTs a Slack-compatible payload with retry and exponential
// backoff.
type Webhook struct {
	url          string
	client       *http.Client
	maxRetries   int
	backoff      time.Duration
	allowPrivate bool
	logger       *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithRetries sets the maximum number of retries. Default: 3.
func WithRetries(n int) WebhookOption { return func(w *Webhook) { w.maxRetries = n } }

// WithBackoff sets the first retry delay; it doubles each attempt. Default: 1s.
func WithBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.backoff = d } }

// WithAllowPrivate accepts loopback and private targets.
func WithAllowPrivate() WebhookOption { return func(w *Webhook) { w.allowPrivate = true } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption { return func(w *Webhook) { w.client = c } }

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook validates url and creates the sink.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 5 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if !w.allowPrivate {
		if err := ValidateURL(url); err != nil {
			return nil, err
		}
	}
	return w, nil
}

type slackPayload struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(slackPayload{Text: ev.Text(), Event: ev})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			wait := w.backoff << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("notify: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("notify: webhook request failed", "attempt", attempt+1, "error", err)
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		w.logger.Warn("notify: webhook bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("notify: webhook retries exhausted: %w", lastErr)
}

func (w *Webhook) Close() error { return nil }
