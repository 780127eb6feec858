// Package httpextract implements [extract.Extractor] against a sidecar
// extraction service.
//
// The sidecar hosts the acoustic model (diarization + embedding) and
// exposes a single endpoint: POST {base_url}/v1/embed with a WAV body
// returns {"embedding": [ ... ]}. GET {base_url}/healthz reports liveness.
package httpextract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auricle-labs/timbre/pkg/extract"
)

// Compile-time interface check.
var _ extract.Extractor = (*Client)(nil)

const defaultTimeout = 10 * time.Second

// maxResponseBytes bounds how much of an embed response is read. A healthy
// sidecar response is a few kilobytes.
const maxResponseBytes = 1 << 20

// Option configures a [Client].
type Option func(*Client)

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely. Useful in
// tests with [net/http/httptest].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client is an HTTP [extract.Extractor]. Safe for concurrent use.
type Client struct {
	baseURL string
	dims    int
	http    *http.Client
}

// New creates a [Client] for the sidecar at baseURL producing vectors of
// the given dimensionality.
func New(baseURL string, dims int, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("httpextract: base URL must not be empty")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("httpextract: dimensions must be positive, got %d", dims)
	}
	c := &Client{
		baseURL: baseURL,
		dims:    dims,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// embedResponse is the sidecar's response body for /v1/embed.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Extract implements [extract.Extractor].
func (c *Client) Extract(ctx context.Context, audio []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("httpextract: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpextract: embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("httpextract: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpextract: sidecar returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("httpextract: decode response: %w", err)
	}
	if len(er.Embedding) != c.dims {
		return nil, fmt.Errorf("httpextract: sidecar returned %d dimensions, expected %d", len(er.Embedding), c.dims)
	}
	return er.Embedding, nil
}

// Dimensions implements [extract.Extractor].
func (c *Client) Dimensions() int { return c.dims }

// Healthy probes the sidecar's liveness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("httpextract: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpextract: health request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpextract: sidecar health returned %d", resp.StatusCode)
	}
	return nil
}

// truncate shortens b for inclusion in an error message.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
