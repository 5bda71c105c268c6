package slipstream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunsQueuedJobs(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	var mu sync.Mutex
	sinks := make(map[string]*memorySink)

	m := NewManager(WithMaxConcurrent(2))
	m.Start()
	defer m.Stop()

	for _, id := range []string{"a", "b", "c"} {
		sink := &memorySink{}
		mu.Lock()
		sinks[id] = sink
		mu.Unlock()

		_, err := m.Enqueue(id, Request{SourceURL: srv.URL + "/index.m3u8"},
			WithSink(sink), WithRetryDelay(time.Millisecond))
		require.NoError(t, err)
	}

	m.WaitAll()

	stats := m.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 0, stats.Failed)

	for id, sink := range sinks {
		assert.Equalf(t, []byte("hello-world"), sink.data, "job %s payload", id)
	}

	jobs := m.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
	assert.Equal(t, "c", jobs[2].ID)
}

func TestManagerGeneratesIDs(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	m := NewManager()
	m.Start()
	defer m.Stop()

	job, err := m.Enqueue("", Request{SourceURL: srv.URL + "/index.m3u8"}, WithSink(&memorySink{}))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Same(t, job, m.Get(job.ID))

	m.WaitAll()
}

func TestManagerRejectsDuplicateIDs(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	m := NewManager()
	m.Start()
	defer m.Stop()

	_, err := m.Enqueue("dup", Request{SourceURL: srv.URL + "/index.m3u8"}, WithSink(&memorySink{}))
	require.NoError(t, err)

	_, err = m.Enqueue("dup", Request{SourceURL: srv.URL + "/index.m3u8"})
	assert.Error(t, err)

	m.WaitAll()
}

func TestManagerRequiresStart(t *testing.T) {
	m := NewManager()
	_, err := m.Enqueue("x", Request{SourceURL: "https://example.com/a.m3u8"})
	assert.Error(t, err)
}

func TestManagerCallbacks(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	done := make(chan string, 1)
	m := NewManager(WithOnComplete(func(j *ManagedJob) { done <- j.ID }))
	m.Start()
	defer m.Stop()

	_, err := m.Enqueue("cb", Request{SourceURL: srv.URL + "/index.m3u8"}, WithSink(&memorySink{}))
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, "cb", id)
	case <-time.After(10 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestManagerFailedJob(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	errCh := make(chan error, 1)
	m := NewManager(WithOnError(func(j *ManagedJob, err error) { errCh <- err }))
	m.Start()
	defer m.Stop()

	job, err := m.Enqueue("bad", Request{SourceURL: srv.URL + "/missing.m3u8"},
		WithSink(&memorySink{}), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	select {
	case gotErr := <-errCh:
		assert.Error(t, gotErr)
	case <-time.After(10 * time.Second):
		t.Fatal("error callback never fired")
	}
	m.WaitAll()

	state, _, jobErr := job.Snapshot()
	assert.Equal(t, StateFailed, state)
	assert.Error(t, jobErr)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Failed)
}

func TestManagerRemove(t *testing.T) {
	srv := playlistServer()
	defer srv.Close()

	m := NewManager()
	m.Start()
	defer m.Stop()

	job, err := m.Enqueue("rm", Request{SourceURL: srv.URL + "/index.m3u8"}, WithSink(&memorySink{}))
	require.NoError(t, err)

	m.WaitAll()

	require.NoError(t, m.Remove(job.ID))
	assert.Nil(t, m.Get(job.ID))
	assert.Error(t, m.Remove(job.ID), "second remove must fail")
}
