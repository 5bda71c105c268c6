package engine

import "errors"

// Fatal job errors. Any of these aborts the state machine and moves the
// job to Failed; per-segment fetch and decrypt failures never do.
var (
	// ErrManifestEmpty means the playlist yielded no segments after
	// variant resolution.
	ErrManifestEmpty = errors.New("playlist contains no segments")

	// ErrAllSegmentsFailed means not a single segment survived download.
	ErrAllSegmentsFailed = errors.New("all segments failed to download")

	// ErrEmptyAssembly means segments were present but concatenated to
	// zero bytes.
	ErrEmptyAssembly = errors.New("assembled artifact is empty")

	// ErrSegmentGone marks an HTTP 404 on a segment: permanent absence,
	// never retried. Per-segment and therefore non-fatal on its own.
	ErrSegmentGone = errors.New("segment not found")

	// ErrArtifactReleased is returned when reading an artifact whose
	// backing buffer has already been released.
	ErrArtifactReleased = errors.New("artifact already released")
)
