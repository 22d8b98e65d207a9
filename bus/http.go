package bus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps what a remote transport reads back (1 MiB).
const maxResponseBody int64 = 1 << 20

type httpConfig struct {
	timeout  time.Duration
	user     string
	password string
	client   *http.Client
}

// HTTPOption configures HTTPHandler.
type HTTPOption func(*httpConfig)

// WithHTTPTimeout sets the per-call timeout. Default: 30s.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) { c.timeout = d }
}

// WithBasicAuth sets HTTP Basic credentials for the remote server.
func WithBasicAuth(user, password string) HTTPOption {
	return func(c *httpConfig) { c.user, c.password = user, password }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(cl *http.Client) HTTPOption {
	return func(c *httpConfig) { c.client = cl }
}

// HTTPHandler returns a Handler that POSTs the message JSON to endpoint
// (a quickcart server's /api/message) and returns the response body.
//
//	router.RegisterRemote(bus.ActionGetQuantity, bus.HTTPHandler("http://127.0.0.1:8086/api/message"))
func HTTPHandler(endpoint string, opts ...HTTPOption) Handler {
	cfg := httpConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("bus/http: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.user != "" {
			req.SetBasicAuth(cfg.user, cfg.password)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bus/http: do request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("bus/http: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &ErrRemoteStatus{Endpoint: endpoint, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		}
		return body, nil
	}
}
