// Package slipstream downloads segmented media streams: it resolves an
// HLS playlist (or a single media URL) to its segments, fetches them
// under bounded concurrency with retry, decrypts AES-128 content, and
// reassembles everything in order into one artifact.
//
// Basic usage:
//
//	d, err := slipstream.New(
//		slipstream.WithOutputDir("videos"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = d.Download(ctx, slipstream.Request{
//		SourceURL: "https://example.com/video.m3u8",
//	}, func(p slipstream.Progress) {
//		fmt.Println(p.Message)
//	})
package slipstream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hadylab/slipstream/internal/config"
	"github.com/hadylab/slipstream/internal/engine"
	"github.com/hadylab/slipstream/internal/models"
)

// Downloader is the main API for running download jobs. It is safe for
// concurrent use; jobs share nothing but the HTTP client.
type Downloader struct {
	cfg *config.Config
	eng *engine.Engine
}

type settings struct {
	cfg    *config.Config
	sink   Sink
	logger zerolog.Logger
}

// Option configures the downloader.
type Option func(*settings)

// New creates a Downloader with the given options.
func New(opts ...Option) (*Downloader, error) {
	s := &settings{
		cfg:    config.New(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	var sink engine.Sink
	if s.sink != nil {
		sink = sinkAdapter{sink: s.sink}
	} else {
		sink = engine.NewFileSink(s.cfg.OutputDir)
	}

	return &Downloader{
		cfg: s.cfg,
		eng: engine.New(s.cfg, sink, s.logger),
	}, nil
}

// WithConcurrency sets how many segments download at once (default 8).
func WithConcurrency(n int) Option {
	return func(s *settings) { s.cfg.Concurrency = n }
}

// WithRetryAttempts sets how many times a failed segment fetch is
// retried after the first attempt (default 3).
func WithRetryAttempts(n int) Option {
	return func(s *settings) { s.cfg.RetryAttempts = n }
}

// WithRetryDelay sets the base retry backoff; the actual delay grows
// linearly with the retry number (default 1s).
func WithRetryDelay(d time.Duration) Option {
	return func(s *settings) { s.cfg.RetryDelay = d }
}

// WithRequestTimeout bounds each individual HTTP request (default 30s,
// 0 disables).
func WithRequestTimeout(d time.Duration) Option {
	return func(s *settings) { s.cfg.RequestTimeout = d }
}

// WithMaxBandwidth caps download speed in bytes per second (0 =
// unlimited, the default).
func WithMaxBandwidth(bytesPerSec int64) Option {
	return func(s *settings) { s.cfg.MaxBandwidth = bytesPerSec }
}

// WithHeaders sets custom HTTP headers applied to every request.
func WithHeaders(headers map[string]string) Option {
	return func(s *settings) {
		for k, v := range headers {
			s.cfg.Headers[k] = v
		}
	}
}

// WithHeader adds a single HTTP header.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.cfg.Headers[key] = value }
}

// WithOutputDir sets where the default file sink writes artifacts.
func WithOutputDir(dir string) Option {
	return func(s *settings) { s.cfg.OutputDir = dir }
}

// WithSink replaces the default file sink with a custom artifact
// consumer.
func WithSink(sink Sink) Option {
	return func(s *settings) { s.sink = sink }
}

// WithLogger sets the logger used by the engine.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// Download runs one job to completion. onProgress may be nil. The
// completed artifact is handed to the configured sink; fatal errors are
// returned after the terminal Failed event fires.
func (d *Downloader) Download(ctx context.Context, req Request, onProgress func(Progress)) error {
	if req.SourceURL == "" {
		return config.ErrMissingURL
	}

	return d.eng.Run(ctx, req.toInternal(), func(ev models.ProgressEvent) {
		if onProgress != nil {
			onProgress(fromInternalEvent(ev))
		}
	})
}

// DownloadURL is a convenience wrapper for simple downloads.
func DownloadURL(ctx context.Context, url string, opts ...Option) error {
	d, err := New(opts...)
	if err != nil {
		return err
	}
	return d.Download(ctx, Request{SourceURL: url}, nil)
}
