// Package httpclient is the outbound HTTP client shared by the tile provider
// and the inference proxy. It adds a default per-request timeout, a
// User-Agent and optional token bucket pacing on top of net/http.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout applies to requests whose context has no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultConnsPerHost matches the default batch download concurrency.
	DefaultConnsPerHost = 10

	defaultUserAgent = "tilesync"
)

// Config configures a Client. The zero value is usable.
type Config struct {
	DefaultTimeout time.Duration
	UserAgent      string

	// RequestsPerSecond paces requests across all goroutines; 0 disables pacing
	RequestsPerSecond float64
	// Burst is the bucket size for RequestsPerSecond, at least 1
	Burst int

	// ConnsPerHost sizes the idle pool so a full batch reuses connections
	ConnsPerHost int

	// Transport replaces the pooled transport, for tests
	Transport http.RoundTripper
}

// Client is safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	limiter        *rate.Limiter
}

// New builds a Client. A nil cfg selects the defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.ConnsPerHost <= 0 {
		c.ConnsPerHost = DefaultConnsPerHost
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          4 * c.ConnsPerHost,
			MaxIdleConnsPerHost:   c.ConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
		}
	}

	client := &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
	if c.RequestsPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), max(c.Burst, 1))
	}
	return client
}

// StdClient exposes the underlying client so tests can mock its transport.
func (c *Client) StdClient() *http.Client {
	return c.client
}

// Do sends req under ctx. Without a deadline on ctx the default timeout
// applies until the response body is closed, which the caller must do when
// err is nil. Pacing waits respect ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("waiting for request slot: %w", err)
		}
	}

	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: cancel}
	return resp, nil
}

type releaseOnClose struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *releaseOnClose) Close() error {
	defer b.release()
	return b.ReadCloser.Close()
}

// Get fetches url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.Do(ctx, req)
}

// PostJSON posts v encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, url string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
