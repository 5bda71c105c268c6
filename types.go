package slipstream

import (
	"context"

	"github.com/hadylab/slipstream/internal/engine"
	"github.com/hadylab/slipstream/internal/models"
)

// Request describes one download job.
type Request struct {
	// SourceURL is the playlist or media URL. It identifies the job.
	SourceURL string

	// PageContextURL is the page the media was discovered on; it is sent
	// as the Referer header on every request when set.
	PageContextURL string

	// SuggestedFilename overrides filename derivation when set.
	SuggestedFilename string
}

func (r Request) toInternal() models.JobRequest {
	return models.JobRequest{
		SourceURL:         r.SourceURL,
		PageContextURL:    r.PageContextURL,
		SuggestedFilename: r.SuggestedFilename,
	}
}

// State represents the lifecycle stage of a job.
type State int

const (
	StateIdle State = iota
	StateFetchingManifest
	StateSelectingVariant
	StateFetchingKey
	StateDownloadingSegments
	StateAssembling
	StateComplete
	StateFailed
)

func (s State) String() string {
	return models.JobState(s).String()
}

// Terminal reports whether the state is Complete or Failed.
func (s State) Terminal() bool {
	return models.JobState(s).Terminal()
}

// Progress is one progress event emitted while a job runs.
type Progress struct {
	JobURL  string
	State   State
	Message string

	// Percent is 0-100, nil when indeterminate.
	Percent *int
}

func fromInternalEvent(ev models.ProgressEvent) Progress {
	return Progress{
		JobURL:  ev.JobURL,
		State:   State(ev.State),
		Message: ev.Message,
		Percent: ev.Percent,
	}
}

// Artifact is a completed job's assembled output.
type Artifact struct {
	internal *engine.Artifact
}

// Filename returns the suggested output filename.
func (a *Artifact) Filename() string { return a.internal.Filename }

// Bytes returns the payload, or an error once released.
func (a *Artifact) Bytes() ([]byte, error) { return a.internal.Bytes() }

// Size returns the payload size in bytes, zero once released.
func (a *Artifact) Size() int64 { return a.internal.Size() }

// Release drops the payload buffer. Call it after persisting the
// artifact; an unreleased artifact is dropped automatically after a
// grace period.
func (a *Artifact) Release() { a.internal.Release() }

// Sink receives completed artifacts. The sink owns the artifact after
// Save returns and should Release it.
type Sink interface {
	Save(ctx context.Context, artifact *Artifact) error
}

// sinkAdapter bridges the public Sink to the engine's.
type sinkAdapter struct {
	sink Sink
}

func (a sinkAdapter) Save(ctx context.Context, artifact *engine.Artifact) error {
	return a.sink.Save(ctx, &Artifact{internal: artifact})
}
