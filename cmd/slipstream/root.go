package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hadylab/slipstream"
	"github.com/hadylab/slipstream/internal/config"
	"github.com/hadylab/slipstream/internal/log"
	"github.com/hadylab/slipstream/internal/tui"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

type cliFlags struct {
	configPath string
	outputDir  string
	filename   string
	referer    string

	concurrency  int
	retries      int
	retryDelay   time.Duration
	timeout      time.Duration
	maxBandwidth int64
	headers      []string

	noProgress bool
	jsonLog    bool
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "slipstream <url>",
		Short: "Download segmented media streams into a single file",
		Long: `slipstream resolves an HLS playlist (or a plain media URL), downloads
all segments concurrently with retry, decrypts AES-128 content, and
reassembles everything in order into one output file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	f.StringVarP(&flags.outputDir, "output-dir", "o", ".", "directory for the output file")
	f.StringVar(&flags.filename, "filename", "", "output filename (derived from URL when omitted)")
	f.StringVar(&flags.referer, "referer", "", "Referer header to send with every request")
	f.IntVarP(&flags.concurrency, "concurrency", "n", config.DefaultConcurrency, "concurrent segment downloads")
	f.IntVar(&flags.retries, "retries", config.DefaultRetryAttempts, "retries per segment after the first attempt")
	f.DurationVar(&flags.retryDelay, "retry-delay", config.DefaultRetryDelay, "base retry backoff (grows linearly)")
	f.DurationVar(&flags.timeout, "timeout", config.DefaultRequestTimeout, "per-request timeout (0 disables)")
	f.Int64Var(&flags.maxBandwidth, "max-bandwidth", 0, "download speed cap in bytes/s (0 = unlimited)")
	f.StringArrayVarP(&flags.headers, "header", "H", nil, "custom header, 'Name: value' (repeatable)")
	f.BoolVar(&flags.noProgress, "no-progress", false, "disable the progress display")
	f.BoolVar(&flags.jsonLog, "json-log", false, "emit JSON logs")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("slipstream %s (%s)\n", version, commit)
		},
	})

	return cmd
}

func run(cmd *cobra.Command, flags *cliFlags, url string) error {
	cfg, err := buildConfig(cmd, flags)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := slipstream.New(
		slipstream.WithConcurrency(cfg.Concurrency),
		slipstream.WithRetryAttempts(cfg.RetryAttempts),
		slipstream.WithRetryDelay(cfg.RetryDelay),
		slipstream.WithRequestTimeout(cfg.RequestTimeout),
		slipstream.WithMaxBandwidth(cfg.MaxBandwidth),
		slipstream.WithHeaders(cfg.Headers),
		slipstream.WithOutputDir(cfg.OutputDir),
		slipstream.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	req := slipstream.Request{
		SourceURL:         url,
		PageContextURL:    flags.referer,
		SuggestedFilename: flags.filename,
	}

	if cfg.NoProgress {
		return d.Download(ctx, req, func(p slipstream.Progress) {
			ev := logger.Info().Str("state", p.State.String())
			if p.Percent != nil {
				ev = ev.Int("percent", *p.Percent)
			}
			ev.Msg(p.Message)
		})
	}

	return runWithTUI(ctx, d, req)
}

// runWithTUI drives the download while a bubbletea model renders the
// progress stream.
func runWithTUI(ctx context.Context, d *slipstream.Downloader, req slipstream.Request) error {
	progressCh := make(chan slipstream.Progress, 100)
	model := tui.NewModel(req.SourceURL, progressCh)
	p := tea.NewProgram(model)

	var downloadErr error
	go func() {
		err := d.Download(ctx, req, func(ev slipstream.Progress) {
			progressCh <- ev
		})
		if err != nil {
			downloadErr = err
			p.Send(tui.ErrorMsg{Err: err})
		} else {
			p.Send(tui.DoneMsg{})
		}
		close(progressCh)
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("progress display: %w", err)
	}
	return downloadErr
}

// buildConfig layers CLI flags over an optional config file.
func buildConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg := config.New()
	if flags.configPath != "" {
		loaded, err := config.LoadFile(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := cmd.Flags().Changed
	if set("output-dir") {
		cfg.OutputDir = flags.outputDir
	}
	if set("concurrency") {
		cfg.Concurrency = flags.concurrency
	}
	if set("retries") {
		cfg.RetryAttempts = flags.retries
	}
	if set("retry-delay") {
		cfg.RetryDelay = flags.retryDelay
	}
	if set("timeout") {
		cfg.RequestTimeout = flags.timeout
	}
	if set("max-bandwidth") {
		cfg.MaxBandwidth = flags.maxBandwidth
	}
	if set("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set("json-log") {
		cfg.LogJSON = flags.jsonLog
	}
	if set("no-progress") {
		cfg.NoProgress = flags.noProgress
	}

	for _, h := range flags.headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			cfg.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	// JSON logs imply no TUI; both write to the terminal otherwise.
	if cfg.LogJSON {
		cfg.NoProgress = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
