package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elagerway/magpipe/internal/api"
	"github.com/elagerway/magpipe/internal/record"
)

type fakeRequester struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{} // when non-nil, RequestSync blocks until closed
}

func (f *fakeRequester) RequestSync(ctx context.Context, recordID string) (*api.SyncResult, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.SyncResult{Synced: 1}, nil
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecords struct {
	rec record.CallRecord
	err error
}

func (f *fakeRecords) CallRecord(ctx context.Context, id string) (*record.CallRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := f.rec
	return &rec, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedulerFinishesWhenArtifactsSettle(t *testing.T) {
	req := &fakeRequester{}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}

	var applies int32
	apply := func(rec record.CallRecord) (bool, error) {
		// Artifacts settle on the third pass.
		return atomic.AddInt32(&applies, 1) < 3, nil
	}

	s := New(req, recs, apply, nil, WithRetryDelay(time.Millisecond))
	defer s.Close()

	s.Enqueue("c1")
	waitFor(t, func() bool {
		task, ok := s.Task("c1")
		return ok && task.State == StateDone
	})

	task, _ := s.Task("c1")
	if task.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", task.Attempts)
	}
	if req.count() != 3 {
		t.Errorf("requests = %d, want 3", req.count())
	}
}

func TestSchedulerExhaustsQuietly(t *testing.T) {
	req := &fakeRequester{}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}
	neverSettles := func(rec record.CallRecord) (bool, error) { return true, nil }

	s := New(req, recs, neverSettles, nil, WithRetryDelay(time.Millisecond), WithMaxAttempts(3))
	defer s.Close()

	s.Enqueue("c1")
	waitFor(t, func() bool {
		task, ok := s.Task("c1")
		return ok && task.State == StateExhausted
	})

	if req.count() != 3 {
		t.Errorf("requests = %d, want 3", req.count())
	}
}

func TestSchedulerRequestFailureCountsAsAttempt(t *testing.T) {
	req := &fakeRequester{err: errors.New("service down")}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}
	apply := func(rec record.CallRecord) (bool, error) {
		t.Error("apply should not run when the request fails")
		return false, nil
	}

	s := New(req, recs, apply, nil, WithRetryDelay(time.Millisecond), WithMaxAttempts(2))
	defer s.Close()

	s.Enqueue("c1")
	waitFor(t, func() bool {
		task, ok := s.Task("c1")
		return ok && task.State == StateExhausted
	})
	if req.count() != 2 {
		t.Errorf("requests = %d, want 2", req.count())
	}
}

func TestSchedulerSingleFlightPerRecord(t *testing.T) {
	release := make(chan struct{})
	req := &fakeRequester{release: release}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}
	settled := func(rec record.CallRecord) (bool, error) { return false, nil }

	s := New(req, recs, settled, nil, WithRetryDelay(time.Millisecond))
	defer s.Close()

	s.Enqueue("c1")
	waitFor(t, func() bool { return req.count() == 1 })
	s.Enqueue("c1")
	s.Enqueue("c1")

	// Only the original in-flight request exists.
	time.Sleep(20 * time.Millisecond)
	if got := req.count(); got != 1 {
		t.Errorf("requests while in flight = %d, want 1", got)
	}

	close(release)
	waitFor(t, func() bool {
		task, ok := s.Task("c1")
		return ok && task.State == StateDone
	})

	// A finished record may start a fresh cycle.
	s.Enqueue("c1")
	waitFor(t, func() bool { return req.count() == 2 })
}

func TestCancelClearsPendingTimer(t *testing.T) {
	req := &fakeRequester{}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}
	neverSettles := func(rec record.CallRecord) (bool, error) { return true, nil }

	// Long delay so the retry timer is pending when we cancel.
	s := New(req, recs, neverSettles, nil, WithRetryDelay(time.Hour))
	defer s.Close()

	s.Enqueue("c1")
	waitFor(t, func() bool {
		task, ok := s.Task("c1")
		return ok && task.State == StatePending
	})

	s.Cancel("c1")
	if _, ok := s.Task("c1"); ok {
		t.Error("cancelled task still tracked")
	}

	// Close must not hang on the cleared timer.
	done := make(chan struct{})
	go func() { s.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung after Cancel")
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	req := &fakeRequester{}
	recs := &fakeRecords{rec: record.CallRecord{ID: "c1"}}
	s := New(req, recs, func(record.CallRecord) (bool, error) { return false, nil }, nil)
	s.Close()

	s.Enqueue("c1")
	time.Sleep(20 * time.Millisecond)
	if req.count() != 0 {
		t.Errorf("requests after close = %d", req.count())
	}
}
