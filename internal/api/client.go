// Package api is the HTTP client for the OPAL backend. It normalizes every
// non-2xx response into an *Error carrying the status and detail payload.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// defaultTimeout bounds a single HTTP round trip.
	defaultTimeout = 30 * time.Second
	// maxErrorBody caps how much of an error response is retained.
	maxErrorBody = 64 << 10
)

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	// Logger receives one line per outgoing request. Nil discards.
	Logger *log.Logger
	// Headers are attached to every request.
	Headers map[string]string
	// CacheSize and CacheTTL size the reference-data cache. A zero size
	// disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// Client talks to the OPAL backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
	headers map[string]string
	cache   *expirable.LRU[string, []byte]
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("api: base URL %q must be absolute", base)
	}

	c := &Client{
		baseURL: base,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
		headers: opts.Headers,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	if opts.CacheSize > 0 {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		c.cache = expirable.NewLRU[string, []byte](opts.CacheSize, nil, ttl)
	}
	return c, nil
}

// BaseURL returns the resolved API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Invalidate drops all cached reference data. Call after ingestion.
func (c *Client) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// RequestOption customizes a single request.
type RequestOption func(*requestOpts)

type requestOpts struct {
	headers   http.Header
	cacheable bool
}

// WithHeader adds or overrides a header on one request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOpts) {
		o.headers.Set(key, value)
	}
}

// cached marks a GET whose response may be served from the cache.
func cached() RequestOption {
	return func(o *requestOpts) {
		o.cacheable = true
	}
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out, opts...)
}

// doJSON marshals in (if non-nil) as the request body and decodes the
// response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, out, opts...)
}

// do performs the request. JSON headers are attached first so that options
// can override them.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any, opts ...RequestOption) error {
	ro := requestOpts{headers: http.Header{}}
	ro.headers.Set("Content-Type", "application/json")
	ro.headers.Set("Accept", "application/json")
	for k, v := range c.headers {
		ro.headers.Set(k, v)
	}
	for _, opt := range opts {
		opt(&ro)
	}

	useCache := ro.cacheable && method == http.MethodGet && c.cache != nil
	if useCache {
		if data, ok := c.cache.Get(path); ok {
			return decode(method, path, data, out)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header = ro.headers
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	c.logger.Printf("api: %s %s", method, path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newStatusError(resp.StatusCode, raw)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, path, err)
	}
	if useCache {
		c.cache.Add(path, data)
	}
	return decode(method, path, data, out)
}

func decode(method, path string, data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
