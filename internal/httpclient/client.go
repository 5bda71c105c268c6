// Package httpclient provides the shared, tuned HTTP client used for
// all playlist, key, and segment fetches.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config holds HTTP client configuration.
type Config struct {
	// Timeout is the whole-request client timeout. Per-request deadlines
	// are layered on top by callers via context; zero leaves requests
	// unbounded at this level.
	Timeout         time.Duration
	MaxConnsPerHost int
	DisableHTTP2    bool
}

// DefaultConfig returns sensible defaults for media downloads.
func DefaultConfig() Config {
	return Config{
		Timeout:         0,
		MaxConnsPerHost: 100,
	}
}

// New creates an HTTP client tuned for many small segment fetches.
func New(cfg Config) *http.Client {
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true, // media segments are already compressed
		ForceAttemptHTTP2:  !cfg.DisableHTTP2,
		DialContext:        dialer.DialContext,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewWithRateLimit creates a client whose response bodies are throttled
// to bytesPerSec. Zero means unlimited.
func NewWithRateLimit(cfg Config, bytesPerSec int64) *http.Client {
	client := New(cfg)

	if bytesPerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(bytesPerSec), 64*1024)
		client.Transport = &rateLimitedTransport{
			base:    client.Transport,
			limiter: limiter,
		}
	}

	return client
}

// rateLimitedTransport wraps a transport with download rate limiting.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	resp.Body = &rateLimitedReader{
		r:       resp.Body,
		limiter: t.limiter,
		ctx:     req.Context(),
	}
	return resp, nil
}

type rateLimitedReader struct {
	r       io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > r.limiter.Burst() {
		p = p[:r.limiter.Burst()]
	}
	if err := r.limiter.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (r *rateLimitedReader) Close() error {
	return r.r.Close()
}
