package models

// JobState tracks a download job through its lifecycle. Transitions are
// strictly forward; Failed is reachable from any non-terminal state.
type JobState int

const (
	StateIdle JobState = iota
	StateFetchingManifest
	StateSelectingVariant
	StateFetchingKey
	StateDownloadingSegments
	StateAssembling
	StateComplete
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingManifest:
		return "fetching-manifest"
	case StateSelectingVariant:
		return "selecting-variant"
	case StateFetchingKey:
		return "fetching-key"
	case StateDownloadingSegments:
		return "downloading-segments"
	case StateAssembling:
		return "assembling"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is Complete or Failed.
func (s JobState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// JobRequest describes one user-initiated download.
type JobRequest struct {
	// SourceURL is the playlist or media URL and identifies the job.
	SourceURL string

	// PageContextURL is the page the media was found on, sent as the
	// Referer on every request when set.
	PageContextURL string

	// SuggestedFilename overrides filename derivation when set.
	SuggestedFilename string
}

// ProgressEvent is emitted repeatedly while a job runs.
type ProgressEvent struct {
	JobURL  string
	State   JobState
	Message string

	// Percent is 0-100, nil when progress is indeterminate.
	Percent *int
}

// Pct is a convenience for building ProgressEvent.Percent values.
func Pct(n int) *int {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return &n
}
