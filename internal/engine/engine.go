// Package engine drives segmented-media download jobs: manifest
// resolution, variant selection, keyed segment download under bounded
// concurrency, and ordered reassembly into one artifact.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/hadylab/slipstream/internal/config"
	"github.com/hadylab/slipstream/internal/decryptor"
	"github.com/hadylab/slipstream/internal/httpclient"
	"github.com/hadylab/slipstream/internal/models"
	"github.com/hadylab/slipstream/internal/parser"
)

// progressFunc receives progress events from every stage of a job.
type progressFunc func(models.ProgressEvent)

// Engine runs download jobs. It is safe for concurrent use: each job
// exclusively owns its results buffer and progress stream, so no state
// is shared between jobs.
type Engine struct {
	cfg    *config.Config
	client *http.Client
	parser *parser.HLSParser
	sink   Sink
	log    zerolog.Logger
}

// Job is the per-request unit of work. It is created when a request is
// accepted and discarded once a terminal state is reached.
type Job struct {
	Request  models.JobRequest
	Segments []string

	// Results has one slot per segment, fixed at parse time. A nil slot
	// is a permanently failed segment; index order is the sole ordering
	// authority for assembly.
	Results [][]byte

	State models.JobState

	headers map[string]string
	failed  atomic.Int64
}

// FailedCount returns how many segments permanently failed.
func (j *Job) FailedCount() int { return int(j.failed.Load()) }

// New creates an Engine. A nil sink disables the completion handoff,
// which is only useful in tests.
func New(cfg *config.Config, sink Sink, log zerolog.Logger) *Engine {
	var client *http.Client
	if cfg.MaxBandwidth > 0 {
		client = httpclient.NewWithRateLimit(httpclient.DefaultConfig(), cfg.MaxBandwidth)
	} else {
		client = httpclient.New(httpclient.DefaultConfig())
	}

	return &Engine{
		cfg:    cfg,
		client: client,
		parser: parser.NewHLSParser(client),
		sink:   sink,
		log:    log,
	}
}

// Run executes one job to a terminal state. Fatal errors surface both as
// the returned error and as a terminal "Error: ..." progress event with
// indeterminate percent. Per-segment failures never abort the job; they
// are reflected in the final warning message only.
func (e *Engine) Run(ctx context.Context, req models.JobRequest, onProgress progressFunc) error {
	job := &Job{
		Request: req,
		State:   models.StateIdle,
		headers: e.requestHeaders(req),
	}

	emit := func(ev models.ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	transition := func(state models.JobState, msg string, percent *int) {
		job.State = state
		emit(models.ProgressEvent{JobURL: req.SourceURL, State: state, Message: msg, Percent: percent})
	}
	fail := func(err error) error {
		job.State = models.StateFailed
		emit(models.ProgressEvent{
			JobURL:  req.SourceURL,
			State:   models.StateFailed,
			Message: "Error: " + err.Error(),
		})
		return err
	}

	if !models.LooksLikeManifest(req.SourceURL) {
		return e.runDirect(ctx, job, emit, transition, fail)
	}

	transition(models.StateFetchingManifest, "Fetching manifest", models.Pct(0))
	manifest, err := e.parser.FetchAndParse(ctx, req.SourceURL, job.headers)
	if err != nil {
		return fail(err)
	}

	if manifest.IsMaster {
		transition(models.StateSelectingVariant, "Selecting quality variant", nil)
		variant, err := SelectVariant(manifest.Variants)
		if err != nil {
			// A master with no usable variants has nothing to download.
			return fail(ErrManifestEmpty)
		}

		transition(models.StateFetchingManifest, variantMessage(variant), models.Pct(2))
		manifest, err = e.parser.FetchAndParse(ctx, variant.URL, job.headers)
		if err != nil {
			return fail(err)
		}
	}

	if len(manifest.Segments) == 0 {
		return fail(ErrManifestEmpty)
	}
	job.Segments = manifest.Segments
	job.Results = make([][]byte, len(manifest.Segments))

	var crypto *cryptoContext
	if enc := manifest.Encryption; enc != nil && enc.Method == models.EncryptionAES128 {
		transition(models.StateFetchingKey, "Fetching decryption key", models.Pct(4))

		dec := decryptor.New(e.client, job.headers)
		key, err := dec.FetchKey(ctx, enc.KeyURL)
		if err != nil {
			return fail(err)
		}

		crypto = &cryptoContext{key: key, mediaSequence: manifest.MediaSequence, log: e.log}
		if enc.IVHex != "" {
			iv, err := decryptor.ParseIV(enc.IVHex)
			if err != nil {
				e.log.Warn().Str("iv", enc.IVHex).Err(err).
					Msg("malformed IV attribute, falling back to sequence derivation")
			} else {
				crypto.explicitIV = iv
			}
		}
	}

	transition(models.StateDownloadingSegments, downloadStartMessage(len(job.Segments)), models.Pct(5))
	if err := e.downloadSegments(ctx, job, crypto, emit); err != nil {
		return fail(err)
	}

	var corrupted int
	if crypto != nil {
		corrupted = int(crypto.corrupted.Load())
	}
	return e.finish(ctx, job, corrupted, transition, fail)
}

// runDirect is the sibling pipeline for a single non-playlist media URL.
func (e *Engine) runDirect(ctx context.Context, job *Job, emit progressFunc,
	transition func(models.JobState, string, *int), fail func(error) error) error {

	transition(models.StateDownloadingSegments, "Downloading media", models.Pct(0))
	chunks, err := e.fetchDirect(ctx, job, emit)
	if err != nil {
		return fail(err)
	}

	job.Results = chunks
	return e.finish(ctx, job, 0, transition, fail)
}

// finish assembles the results, hands the artifact to the sink, and
// emits the terminal event.
func (e *Engine) finish(ctx context.Context, job *Job, corrupted int,
	transition func(models.JobState, string, *int), fail func(error) error) error {

	transition(models.StateAssembling, "Assembling output", models.Pct(downloadPercentCap))

	artifact, err := Assemble(job.Results, suggestedFilename(job.Request))
	if err != nil {
		return fail(err)
	}

	if e.sink != nil {
		if err := e.sink.Save(ctx, artifact); err != nil {
			return fail(err)
		}
	}

	transition(models.StateComplete, completionMessage(job, corrupted), models.Pct(100))
	return nil
}

// requestHeaders merges configured headers with the job's page context.
func (e *Engine) requestHeaders(req models.JobRequest) map[string]string {
	headers := make(map[string]string, len(e.cfg.Headers)+1)
	for k, v := range e.cfg.Headers {
		headers[k] = v
	}
	if req.PageContextURL != "" {
		headers["Referer"] = req.PageContextURL
	}
	return headers
}

func variantMessage(v models.Variant) string {
	if v.Resolution != "" {
		return fmt.Sprintf("Fetching media playlist (%s)", v.Resolution)
	}
	return "Fetching media playlist"
}

func downloadStartMessage(total int) string {
	if total == 1 {
		return "Downloading 1 segment"
	}
	return fmt.Sprintf("Downloading %d segments", total)
}

func completionMessage(job *Job, corrupted int) string {
	failed := job.FailedCount()
	if failed == 0 && corrupted == 0 {
		return "Download complete"
	}

	msg := "Download complete"
	if failed > 0 {
		msg += fmt.Sprintf(": %d/%d segments failed", failed, len(job.Segments))
	}
	if corrupted > 0 {
		msg += fmt.Sprintf(" (%d corrupted)", corrupted)
	}
	return msg
}

// suggestedFilename derives an output name when the request omits one.
func suggestedFilename(req models.JobRequest) string {
	if req.SuggestedFilename != "" {
		return req.SuggestedFilename
	}

	name := "download"
	if u, err := url.Parse(req.SourceURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}

	if models.LooksLikeManifest(req.SourceURL) {
		name = strings.TrimSuffix(name, ".m3u8") + ".ts"
	}
	return name
}
