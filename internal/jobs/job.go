// Package jobs runs enqueued units of background work with a bounded FIFO
// queue, per-job event rings, live subscriber fan-out, cooperative
// cancellation and a hard wall-clock timeout.
package jobs

import (
	"sync"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Terminal states are absorbing: no transition or event emission follows.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateCancelled
}

// ErrorInfo is the stable error surface of a failed job.
type ErrorInfo struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

// Snapshot is the externally visible state of a job at a point in time.
type Snapshot struct {
	ID         string     `json:"id"`
	Operation  string     `json:"operation,omitempty"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// Job is one unit of background work. All fields behind mu; events are
// totally ordered per job and fan out to subscribers in that order.
type Job struct {
	id        string
	operation string
	createdAt time.Time

	mu         sync.Mutex
	state      State
	startedAt  *time.Time
	finishedAt *time.Time
	errInfo    *ErrorInfo
	ring       []Event
	maxEvents  int
	subs       map[int]chan Event
	nextSub    int
	cancelFn   func()
}

func newJob(id, operation string, maxEvents int) *Job {
	return &Job{
		id:        id,
		operation: operation,
		createdAt: time.Now(),
		state:     StateQueued,
		maxEvents: maxEvents,
		subs:      map[int]chan Event{},
	}
}

func (j *Job) ID() string { return j.id }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := Snapshot{
		ID:        j.id,
		Operation: j.operation,
		State:     j.state,
		CreatedAt: j.createdAt,
	}
	if j.startedAt != nil {
		t := *j.startedAt
		snap.StartedAt = &t
	}
	if j.finishedAt != nil {
		t := *j.finishedAt
		snap.FinishedAt = &t
	}
	if j.errInfo != nil {
		e := *j.errInfo
		snap.Error = &e
	}
	return snap
}

// subscriberBuffer bounds how far a slow subscriber may lag before events
// are dropped for it. Ring replay is never affected.
const subscriberBuffer = 2048

// Subscribe returns the ordered events so far plus a channel following the
// live tail. The channel is closed after a terminal event is delivered.
// Call the returned cancel to detach early.
func (j *Job) Subscribe() (replay []Event, live <-chan Event, cancel func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	replay = make([]Event, len(j.ring))
	copy(replay, j.ring)

	ch := make(chan Event, subscriberBuffer)
	if j.state.Terminal() {
		// The replay already ends with the terminal state event.
		close(ch)
		return replay, ch, func() {}
	}
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	return replay, ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(ch)
		}
	}
}

// emit appends to the ring and notifies subscribers. Emission onto a
// terminal job is dropped: late output from a dying process must not
// follow the terminal state event.
func (j *Job) emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.emitLocked(event)
}

func (j *Job) emitLocked(event Event) {
	if len(j.ring) >= j.maxEvents {
		j.ring = j.ring[1:]
	}
	j.ring = append(j.ring, event)
	for id, ch := range j.subs {
		select {
		case ch <- event:
		default: // Subscriber too far behind; drop for it.
		}
		if terminalEvent(event) {
			delete(j.subs, id)
			close(ch)
		}
	}
}

// transition moves the job to next and emits the matching state event.
// Returns false without side effects when the job is already terminal.
func (j *Job) transition(next State, message string, errInfo *ErrorInfo) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	now := time.Now()
	j.state = next
	switch {
	case next == StateRunning:
		j.startedAt = &now
	case next.Terminal():
		j.finishedAt = &now
	}
	if errInfo != nil {
		j.errInfo = errInfo
	}
	j.emitLocked(StateEvent{State: next, Message: message})
	return true
}

func (j *Job) setCancel(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelFn = fn
}

func (j *Job) invokeCancel() {
	j.mu.Lock()
	fn := j.cancelFn
	j.mu.Unlock()
	if fn != nil {
		fn()
	}
}
