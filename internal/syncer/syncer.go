// Package syncer runs the background loop that chases recording and
// transcript artifacts for completed calls. Each call record gets at most
// one in-flight request at a time and a bounded number of attempts; records
// that never settle go quiet instead of failing loudly.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elagerway/magpipe/internal/api"
	"github.com/elagerway/magpipe/internal/record"
)

const (
	DefaultMaxAttempts = 12
	DefaultRetryDelay  = 10 * time.Second
)

// State of one sync task.
type State string

const (
	StatePending   State = "pending"
	StateSyncing   State = "syncing"
	StateDone      State = "done"
	StateExhausted State = "exhausted"
)

// Task is a snapshot of one record's sync progress.
type Task struct {
	RecordID string
	Attempts int
	State    State
}

// Requester triggers one server-side sync pass.
type Requester interface {
	RequestSync(ctx context.Context, recordID string) (*api.SyncResult, error)
}

// Records fetches the refreshed call record after a sync pass.
type Records interface {
	CallRecord(ctx context.Context, id string) (*record.CallRecord, error)
}

// Apply pushes a refreshed record into the engine and reports whether
// artifacts are still outstanding.
type Apply func(rec record.CallRecord) (needsSync bool, err error)

type task struct {
	id       string
	attempts int
	state    State
	timer    *time.Timer
}

// Scheduler owns the task registry and retry timers.
type Scheduler struct {
	requester Requester
	records   Records
	apply     Apply
	logger    *slog.Logger

	maxAttempts int
	delay       time.Duration

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.delay = d
		}
	}
}

func New(requester Requester, records Records, apply Apply, logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		requester:   requester,
		records:     records,
		apply:       apply,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultRetryDelay,
		tasks:       make(map[string]*task),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue starts (or restarts) the sync loop for a record. A record that is
// already pending or in flight is left alone; a finished record starts a
// fresh cycle.
func (s *Scheduler) Enqueue(recordID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, ok := s.tasks[recordID]; ok && (t.state == StatePending || t.state == StateSyncing) {
		s.mu.Unlock()
		return
	}
	t := &task{id: recordID, state: StateSyncing}
	s.tasks[recordID] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.attempt(recordID)
	}()
}

// attempt runs one sync round and decides what happens next.
func (s *Scheduler) attempt(recordID string) {
	s.mu.Lock()
	t, ok := s.tasks[recordID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	t.state = StateSyncing
	t.attempts++
	attempts := t.attempts
	s.mu.Unlock()

	stillPending := true
	if _, err := s.requester.RequestSync(s.ctx, recordID); err != nil {
		if s.logger != nil {
			s.logger.Debug("sync request failed", "record", recordID, "attempt", attempts, "error", err)
		}
	} else if rec, err := s.records.CallRecord(s.ctx, recordID); err != nil {
		if s.logger != nil {
			s.logger.Debug("record refresh failed", "record", recordID, "error", err)
		}
	} else if needsSync, err := s.apply(*rec); err != nil {
		if s.logger != nil {
			s.logger.Debug("applying refreshed record failed", "record", recordID, "error", err)
		}
	} else {
		stillPending = needsSync
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	t, ok = s.tasks[recordID]
	if !ok {
		return
	}

	if !stillPending {
		t.state = StateDone
		t.timer = nil
		return
	}
	if t.attempts >= s.maxAttempts {
		// Exhaustion is deliberately quiet; the record simply stops
		// refreshing until new activity re-enqueues it.
		t.state = StateExhausted
		t.timer = nil
		if s.logger != nil {
			s.logger.Debug("sync attempts exhausted", "record", recordID, "attempts", t.attempts)
		}
		return
	}

	t.state = StatePending
	s.wg.Add(1)
	t.timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.attempt(recordID)
	})
}

// Cancel stops tracking a record and clears its retry timer.
func (s *Scheduler) Cancel(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[recordID]
	if !ok {
		return
	}
	if t.timer != nil && t.timer.Stop() {
		s.wg.Done()
	}
	delete(s.tasks, recordID)
}

// Tasks returns a snapshot of all tracked records.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, Task{RecordID: t.id, Attempts: t.attempts, State: t.state})
	}
	return out
}

// Task returns the snapshot for one record.
func (s *Scheduler) Task(recordID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[recordID]
	if !ok {
		return Task{}, false
	}
	return Task{RecordID: t.id, Attempts: t.attempts, State: t.state}, true
}

// Close stops all timers, cancels in-flight requests, and waits for
// attempts to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.tasks {
		if t.timer != nil && t.timer.Stop() {
			s.wg.Done()
		}
		t.timer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
