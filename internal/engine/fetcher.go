package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher retrieves single segments with retry. An HTTP 404 is treated
// as permanent absence and returns immediately; all other failures retry
// with a linearly increasing backoff.
type Fetcher struct {
	client  *http.Client
	headers map[string]string

	// maxRetries is the number of additional attempts after the first.
	maxRetries int
	retryDelay time.Duration

	// reqTimeout bounds each individual attempt, zero disables it.
	reqTimeout time.Duration

	log zerolog.Logger
}

// NewFetcher creates a segment fetcher.
func NewFetcher(client *http.Client, headers map[string]string, maxRetries int, retryDelay, reqTimeout time.Duration, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:     client,
		headers:    headers,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		reqTimeout: reqTimeout,
		log:        log,
	}
}

// Fetch downloads one segment's bytes.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			// Backoff grows with the retry number: 1x, 2x, 3x.
			delay := f.retryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := f.doRequest(ctx, urlStr)
		if err == nil {
			return data, nil
		}
		if err == ErrSegmentGone {
			return nil, err
		}

		lastErr = err
		f.log.Debug().Str("url", urlStr).Int("attempt", attempt+1).Err(err).
			Msg("segment fetch attempt failed")
	}

	return nil, fmt.Errorf("after %d attempts: %w", f.maxRetries+1, lastErr)
}

// doRequest performs a single HTTP attempt.
func (f *Fetcher) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	if f.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.reqTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSegmentGone
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
