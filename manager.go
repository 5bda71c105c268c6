package slipstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ManagedJob is one queued download tracked by a Manager.
type ManagedJob struct {
	ID      string
	Request Request
	Options []Option

	State       State
	Err         error
	LastEvent   Progress
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	cancel context.CancelFunc
	mu     sync.RWMutex
}

// Snapshot returns the job's current state and error under the lock.
func (j *ManagedJob) Snapshot() (State, Progress, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State, j.LastEvent, j.Err
}

// Manager runs queued download jobs with bounded parallelism. Jobs share
// no mutable state; the manager only tracks their lifecycle.
type Manager struct {
	maxConcurrent  int
	defaultOptions []Option

	jobs     sync.Map // map[string]*ManagedJob
	jobOrder []string
	orderMu  sync.RWMutex

	queue   chan *ManagedJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	onStateChange func(*ManagedJob)
	onProgress    func(*ManagedJob, Progress)
	onComplete    func(*ManagedJob)
	onError       func(*ManagedJob, error)
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithMaxConcurrent sets how many jobs may run at once (default 3).
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.maxConcurrent = n
	}
}

// WithDefaultOptions sets downloader options applied to every job.
func WithDefaultOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.defaultOptions = opts }
}

// WithOnStateChange sets a callback for job state transitions.
func WithOnStateChange(fn func(*ManagedJob)) ManagerOption {
	return func(m *Manager) { m.onStateChange = fn }
}

// WithOnProgress sets a callback for job progress events.
func WithOnProgress(fn func(*ManagedJob, Progress)) ManagerOption {
	return func(m *Manager) { m.onProgress = fn }
}

// WithOnComplete sets a callback for successful completion.
func WithOnComplete(fn func(*ManagedJob)) ManagerOption {
	return func(m *Manager) { m.onComplete = fn }
}

// WithOnError sets a callback for failed jobs.
func WithOnError(fn func(*ManagedJob, error)) ManagerOption {
	return func(m *Manager) { m.onError = fn }
}

// NewManager creates a download manager.
func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		maxConcurrent: 3,
		queue:         make(chan *ManagedJob, 1000),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins processing the queue.
func (m *Manager) Start() {
	if m.running.Swap(true) {
		return
	}

	for i := 0; i < m.maxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels active jobs and waits for the workers to exit.
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}

	close(m.queue)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for job := range m.queue {
		select {
		case <-m.ctx.Done():
			return
		default:
			m.process(job)
		}
	}
}

// Enqueue adds a job to the queue and returns its handle. A fresh ID is
// generated when none is given.
func (m *Manager) Enqueue(id string, req Request, opts ...Option) (*ManagedJob, error) {
	if !m.running.Load() {
		return nil, fmt.Errorf("manager not started, call Start() first")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := m.jobs.Load(id); exists {
		return nil, fmt.Errorf("job %q already exists", id)
	}

	job := &ManagedJob{
		ID:        id,
		Request:   req,
		Options:   append(append([]Option{}, m.defaultOptions...), opts...),
		State:     StateIdle,
		CreatedAt: time.Now(),
	}

	m.jobs.Store(id, job)
	m.orderMu.Lock()
	m.jobOrder = append(m.jobOrder, id)
	m.orderMu.Unlock()

	select {
	case m.queue <- job:
	default:
		return nil, fmt.Errorf("queue is full")
	}

	return job, nil
}

// Get returns a job by ID, nil when unknown.
func (m *Manager) Get(id string) *ManagedJob {
	if j, ok := m.jobs.Load(id); ok {
		return j.(*ManagedJob)
	}
	return nil
}

// Jobs returns all jobs in enqueue order.
func (m *Manager) Jobs() []*ManagedJob {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	jobs := make([]*ManagedJob, 0, len(m.jobOrder))
	for _, id := range m.jobOrder {
		if j, ok := m.jobs.Load(id); ok {
			jobs = append(jobs, j.(*ManagedJob))
		}
	}
	return jobs
}

// Cancel aborts a running or pending job.
func (m *Manager) Cancel(id string) error {
	j, ok := m.jobs.Load(id)
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}

	job := j.(*ManagedJob)
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.State.Terminal() {
		return fmt.Errorf("job already finished")
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// Remove drops a finished job from the registry.
func (m *Manager) Remove(id string) error {
	j, ok := m.jobs.Load(id)
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}

	job := j.(*ManagedJob)
	job.mu.RLock()
	state := job.State
	job.mu.RUnlock()
	if !state.Terminal() && state != StateIdle {
		return fmt.Errorf("cannot remove active job")
	}

	m.jobs.Delete(id)

	m.orderMu.Lock()
	for i, jid := range m.jobOrder {
		if jid == id {
			m.jobOrder = append(m.jobOrder[:i], m.jobOrder[i+1:]...)
			break
		}
	}
	m.orderMu.Unlock()

	return nil
}

// Stats summarizes the registry.
type Stats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// Stats returns current counts by lifecycle stage.
func (m *Manager) Stats() Stats {
	var stats Stats
	m.jobs.Range(func(_, value any) bool {
		job := value.(*ManagedJob)
		job.mu.RLock()
		state := job.State
		job.mu.RUnlock()

		stats.Total++
		switch {
		case state == StateIdle:
			stats.Pending++
		case state == StateComplete:
			stats.Completed++
		case state == StateFailed:
			stats.Failed++
		default:
			stats.Active++
		}
		return true
	})
	return stats
}

// process runs one job to a terminal state.
func (m *Manager) process(job *ManagedJob) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	job.mu.Lock()
	job.cancel = cancel
	job.StartedAt = time.Now()
	job.mu.Unlock()

	d, err := New(job.Options...)
	if err != nil {
		m.fail(job, fmt.Errorf("create downloader: %w", err))
		return
	}

	err = d.Download(ctx, job.Request, func(p Progress) {
		job.mu.Lock()
		job.State = p.State
		job.LastEvent = p
		job.mu.Unlock()

		if m.onProgress != nil {
			m.onProgress(job, p)
		}
		if m.onStateChange != nil {
			m.onStateChange(job)
		}
	})

	if err != nil {
		m.fail(job, err)
		return
	}

	job.mu.Lock()
	job.State = StateComplete
	job.CompletedAt = time.Now()
	job.mu.Unlock()

	if m.onComplete != nil {
		m.onComplete(job)
	}
}

func (m *Manager) fail(job *ManagedJob, err error) {
	job.mu.Lock()
	job.State = StateFailed
	job.Err = err
	job.CompletedAt = time.Now()
	job.mu.Unlock()

	if m.onError != nil {
		m.onError(job, err)
	}
}

// WaitAll blocks until no job is pending or active.
func (m *Manager) WaitAll() {
	for {
		stats := m.Stats()
		if stats.Pending == 0 && stats.Active == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
