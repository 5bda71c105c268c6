package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ReleaseGrace is how long a completed artifact's buffer stays alive
// when the consumer never signals release. The explicit Release call is
// the real ownership handoff; the timer is a safety-net upper bound.
const ReleaseGrace = 30 * time.Second

// Artifact is the assembled output of a job, handed to the save
// collaborator together with a suggested filename.
type Artifact struct {
	Filename string

	mu       sync.Mutex
	data     []byte
	released bool
	timer    *time.Timer
}

func newArtifact(filename string, data []byte) *Artifact {
	a := &Artifact{Filename: filename, data: data}
	a.timer = time.AfterFunc(ReleaseGrace, a.Release)
	return a
}

// Bytes returns the artifact payload, or an error once released.
func (a *Artifact) Bytes() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, ErrArtifactReleased
	}
	return a.data, nil
}

// Size returns the payload size in bytes, zero once released.
func (a *Artifact) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.data))
}

// Release drops the backing buffer. Consumers call it once they have
// persisted the payload; calling it again is a no-op.
func (a *Artifact) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	a.data = nil
	if a.timer != nil {
		a.timer.Stop()
	}
}

// Assemble concatenates the present entries of results in ascending
// index order. Absent (failed) indices are omitted, not padded, so the
// output is shorter rather than corrupted by gaps.
func Assemble(results [][]byte, filename string) (*Artifact, error) {
	present := 0
	size := 0
	for _, r := range results {
		if r != nil {
			present++
			size += len(r)
		}
	}

	if present == 0 {
		return nil, ErrAllSegmentsFailed
	}
	if size == 0 {
		return nil, ErrEmptyAssembly
	}

	data := make([]byte, 0, size)
	for _, r := range results {
		if r != nil {
			data = append(data, r...)
		}
	}

	return newArtifact(filename, data), nil
}

// Sink receives completed artifacts. Implementations own the artifact
// after Save returns and are expected to Release it.
type Sink interface {
	Save(ctx context.Context, artifact *Artifact) error
}

// FileSink writes artifacts into a directory on the given filesystem.
type FileSink struct {
	FS  afero.Fs
	Dir string
}

// NewFileSink creates a sink writing to dir on the OS filesystem.
func NewFileSink(dir string) *FileSink {
	return &FileSink{FS: afero.NewOsFs(), Dir: dir}
}

// Save persists the artifact and releases it.
func (s *FileSink) Save(_ context.Context, artifact *Artifact) error {
	data, err := artifact.Bytes()
	if err != nil {
		return err
	}
	defer artifact.Release()

	if err := s.FS.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(s.Dir, artifact.Filename)
	if err := afero.WriteFile(s.FS, path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
