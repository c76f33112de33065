package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/alecthomas/errors"
	"github.com/google/uuid"

	"github.com/block/gitbridge/internal/logging"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already in a terminal state")
)

type Config struct {
	MaxConcurrent int           `json:"-"`
	Timeout       time.Duration `json:"-"`
	MaxEvents     int           `json:"-"`
	MaxHistory    int           `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Hour
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 2000
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 100
	}
	return c
}

// Runner is the work a job performs. It must return promptly once the
// context is cancelled; its error is absorbed into the job's terminal
// state, never propagated to the enqueuing request.
type Runner func(ctx context.Context, handle *Handle) error

// Handle is the runner's view of its job.
type Handle struct {
	job *Job
}

func (h *Handle) Stdout(line string) { h.job.emit(LogEvent{Stream: StreamStdout, Line: line}) }
func (h *Handle) Stderr(line string) { h.job.emit(LogEvent{Stream: StreamStderr, Line: line}) }

func (h *Handle) Progress(kind string, percent *float64, detail string) {
	h.job.emit(ProgressEvent{Kind: kind, Percent: percent, Detail: detail})
}

// SetCancel registers the hook invoked on cancellation or timeout,
// typically killing the child process tree.
func (h *Handle) SetCancel(fn func()) { h.job.setCancel(fn) }

// Cancelled reports whether the job has already reached a terminal state.
func (h *Handle) Cancelled() bool { return h.job.State().Terminal() }

type queuedJob struct {
	job    *Job
	runner Runner
}

// Manager owns the FIFO queue, the concurrency cap and the bounded job
// history.
type Manager struct {
	conf Config
	ctx  context.Context

	mu         sync.Mutex
	queue      []queuedJob
	running    int
	jobs       map[string]*Job
	history    []*Job
	onTerminal func(Snapshot)
}

func New(ctx context.Context, conf Config) *Manager {
	return &Manager{
		conf: conf.withDefaults(),
		ctx:  ctx,
		jobs: map[string]*Job{},
	}
}

// NotifyTerminal registers a hook called once per job on reaching a
// terminal state. Set during wiring, before any Enqueue.
func (m *Manager) NotifyTerminal(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = fn
}

// Enqueue registers a new queued job and starts it as soon as the
// concurrency cap allows, in FIFO order.
func (m *Manager) Enqueue(operation string, runner Runner) *Job {
	job := newJob(uuid.NewString(), operation, m.conf.MaxEvents)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID()] = job
	m.history = append(m.history, job)
	if len(m.history) > m.conf.MaxHistory {
		evicted := m.history[0]
		m.history = m.history[1:]
		delete(m.jobs, evicted.ID())
	}
	m.queue = append(m.queue, queuedJob{job: job, runner: runner})
	m.drainLocked()
	return job
}

func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// History returns snapshots of tracked jobs, newest first.
func (m *Manager) History() []Snapshot {
	m.mu.Lock()
	tracked := make([]*Job, len(m.history))
	copy(tracked, m.history)
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(tracked))
	for i := len(tracked) - 1; i >= 0; i-- {
		snaps = append(snaps, tracked[i].Snapshot())
	}
	return snaps
}

// Cancel stops a job. Queued jobs go straight to cancelled; running jobs
// get their cancel handle invoked after the terminal state is recorded, so
// the runner's eventual return cannot overwrite it.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		for i, pending := range m.queue {
			if pending.job == job {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return errors.WithStack(ErrJobNotFound)
	}
	if !job.transition(StateCancelled, "", nil) {
		return errors.WithStack(ErrJobTerminal)
	}
	job.invokeCancel()
	m.notifyTerminal(job)
	return nil
}

func (m *Manager) drainLocked() {
	for m.running < m.conf.MaxConcurrent && len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.running++
		go m.run(next.job, next.runner)
	}
}

func (m *Manager) run(job *Job, runner Runner) {
	defer func() {
		m.mu.Lock()
		m.running--
		m.drainLocked()
		m.mu.Unlock()
	}()

	// Cancelled while still queued, between dequeue and start.
	if !job.transition(StateRunning, "", nil) {
		return
	}

	logger := logging.FromContext(m.ctx).With("job", job.ID(), "operation", job.operation)
	ctx, cancel := context.WithCancel(logging.ContextWithLogger(m.ctx, logger))
	defer cancel()

	timer := time.AfterFunc(m.conf.Timeout, func() {
		job.invokeCancel()
		cancel()
		if job.transition(StateError, "Timed out", &ErrorInfo{Code: "timeout", Message: "Job timed out"}) {
			logger.WarnContext(ctx, "Job timed out", "timeout", m.conf.Timeout)
			m.notifyTerminal(job)
		}
	})
	defer timer.Stop()

	err := runRecovered(ctx, runner, &Handle{job: job})
	switch {
	case err != nil:
		if job.transition(StateError, err.Error(), &ErrorInfo{Code: "internal_error", Message: err.Error()}) {
			logger.WarnContext(ctx, "Job failed", "error", err)
			m.notifyTerminal(job)
		}
	default:
		if job.transition(StateDone, "", nil) {
			m.notifyTerminal(job)
		}
	}
}

// runRecovered absorbs runner panics into ordinary job errors.
func runRecovered(ctx context.Context, runner Runner, handle *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("runner panic: %v", r)
		}
	}()
	return runner(ctx, handle)
}

func (m *Manager) notifyTerminal(job *Job) {
	m.mu.Lock()
	fn := m.onTerminal
	m.mu.Unlock()
	if fn != nil {
		fn(job.Snapshot())
	}
}
