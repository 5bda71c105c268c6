package engine

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleOrdersByIndex(t *testing.T) {
	results := [][]byte{
		[]byte("aaa"),
		[]byte("bb"),
		[]byte("cccc"),
	}

	artifact, err := Assemble(results, "out.ts")
	require.NoError(t, err)

	data, err := artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("aaabbcccc"), data)
	assert.Equal(t, "out.ts", artifact.Filename)
	assert.EqualValues(t, 9, artifact.Size())
}

func TestAssembleOmitsFailedSlots(t *testing.T) {
	results := [][]byte{
		[]byte("aaa"),
		nil,
		[]byte("ccc"),
	}

	artifact, err := Assemble(results, "out.ts")
	require.NoError(t, err)

	data, err := artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaccc"), data, "gaps are omitted, never padded")
}

func TestAssembleAllFailed(t *testing.T) {
	_, err := Assemble(make([][]byte, 4), "out.ts")
	assert.ErrorIs(t, err, ErrAllSegmentsFailed)
}

func TestAssembleEmptyPayload(t *testing.T) {
	results := [][]byte{{}, {}}
	_, err := Assemble(results, "out.ts")
	assert.ErrorIs(t, err, ErrEmptyAssembly)
}

func TestArtifactRelease(t *testing.T) {
	artifact, err := Assemble([][]byte{[]byte("payload")}, "out.ts")
	require.NoError(t, err)

	artifact.Release()

	_, err = artifact.Bytes()
	assert.ErrorIs(t, err, ErrArtifactReleased)
	assert.EqualValues(t, 0, artifact.Size())

	// Repeated release is a no-op.
	artifact.Release()
}

func TestFileSinkSavesAndReleases(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := &FileSink{FS: fs, Dir: "videos"}

	artifact, err := Assemble([][]byte{[]byte("payload")}, "clip.ts")
	require.NoError(t, err)

	require.NoError(t, sink.Save(context.Background(), artifact))

	data, err := afero.ReadFile(fs, "videos/clip.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = artifact.Bytes()
	assert.ErrorIs(t, err, ErrArtifactReleased, "sink must release after saving")
}
