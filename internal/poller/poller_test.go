package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signalcraft-client/internal/analysis"
)

func fastPolicy() Policy {
	return Policy{Interval: time.Millisecond, Backoff: 1}
}

type scripted struct {
	mu       sync.Mutex
	statuses []analysis.TaskStatus
	calls    int
}

func (s *scripted) fetch(ctx context.Context, taskID string) (analysis.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	return analysis.Task{ID: taskID, Status: s.statuses[idx]}, nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRunStopsAtCompleted(t *testing.T) {
	src := &scripted{statuses: []analysis.TaskStatus{analysis.StatusPending, analysis.StatusProcessing, analysis.StatusCompleted, analysis.StatusCompleted}}
	var observed []analysis.TaskStatus

	task, err := New(fastPolicy()).Run(context.Background(), "abc123", src.fetch, func(t analysis.Task) {
		observed = append(observed, t.Status)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != analysis.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", task.Status)
	}
	if src.count() != 3 {
		t.Fatalf("expected 3 fetches, got %d", src.count())
	}
	time.Sleep(10 * time.Millisecond)
	if src.count() != 3 {
		t.Fatalf("expected no fetch after terminal status, got %d", src.count())
	}
	if len(observed) != 3 || observed[2] != analysis.StatusCompleted {
		t.Fatalf("unexpected observed sequence %v", observed)
	}
}

func TestRunStopsAtFailed(t *testing.T) {
	src := &scripted{statuses: []analysis.TaskStatus{analysis.StatusFailed}}
	task, err := New(fastPolicy()).Run(context.Background(), "abc123", src.fetch, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != analysis.StatusFailed || src.count() != 1 {
		t.Fatalf("expected one FAILED fetch, got %s after %d", task.Status, src.count())
	}
}

func TestRunErrorIsTerminal(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, taskID string) (analysis.Task, error) {
		atomic.AddInt32(&calls, 1)
		return analysis.Task{}, errors.New("connection reset")
	}
	_, err := New(fastPolicy()).Run(context.Background(), "abc123", fetch, nil)
	var pollErr *analysis.PollError
	if !errors.As(err, &pollErr) || pollErr.TaskID != "abc123" {
		t.Fatalf("expected PollError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected no retry after error, got %d calls", calls)
	}
}

func TestRunKeepsExistingPollError(t *testing.T) {
	orig := &analysis.PollError{TaskID: "abc123", StatusCode: 502, Err: errors.New("bad gateway")}
	fetch := func(ctx context.Context, taskID string) (analysis.Task, error) { return analysis.Task{}, orig }
	_, err := New(fastPolicy()).Run(context.Background(), "abc123", fetch, nil)
	var pollErr *analysis.PollError
	if !errors.As(err, &pollErr) || pollErr != orig {
		t.Fatalf("expected original PollError, got %v", err)
	}
}

func TestRunCancelDuringWaitSkipsFetch(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, taskID string) (analysis.Task, error) {
		atomic.AddInt32(&calls, 1)
		return analysis.Task{Status: analysis.StatusPending}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := New(Policy{Interval: time.Hour}).Run(ctx, "abc123", fetch, nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("poller did not stop after cancel")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no fetch after cancel, got %d", calls)
	}
}

func TestRunMaxAttempts(t *testing.T) {
	src := &scripted{statuses: []analysis.TaskStatus{analysis.StatusPending}}
	policy := fastPolicy()
	policy.MaxAttempts = 3
	task, err := New(policy).Run(context.Background(), "abc123", src.fetch, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	var pollErr *analysis.PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError wrapper, got %T", err)
	}
	if src.count() != 3 || task.Status != analysis.StatusPending {
		t.Fatalf("expected 3 fetches ending PENDING, got %d %s", src.count(), task.Status)
	}
}

func TestRunMaxDuration(t *testing.T) {
	src := &scripted{statuses: []analysis.TaskStatus{analysis.StatusProcessing}}
	policy := fastPolicy()
	policy.MaxDuration = 5 * time.Second
	p := New(policy)

	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}
	_, err := p.Run(context.Background(), "abc123", src.fetch, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if src.count() == 0 {
		t.Fatalf("expected at least one fetch before the cap")
	}
}

func TestRunTicksNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight, calls int32
	fetch := func(ctx context.Context, taskID string) (analysis.Task, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if atomic.AddInt32(&calls, 1) >= 4 {
			return analysis.Task{Status: analysis.StatusCompleted}, nil
		}
		return analysis.Task{Status: analysis.StatusProcessing}, nil
	}
	if _, err := New(fastPolicy()).Run(context.Background(), "abc123", fetch, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&maxInFlight) != 1 {
		t.Fatalf("expected sequential ticks, saw %d concurrent", maxInFlight)
	}
}

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{name: "default", policy: DefaultPolicy(), attempt: 5, want: 2 * time.Second},
		{name: "zero interval falls back", policy: Policy{}, attempt: 0, want: 2 * time.Second},
		{name: "backoff", policy: Policy{Interval: time.Second, Backoff: 2}, attempt: 3, want: 8 * time.Second},
		{name: "capped", policy: Policy{Interval: time.Second, Backoff: 2, MaxInterval: 5 * time.Second}, attempt: 10, want: 5 * time.Second},
		{name: "backoff below one ignored", policy: Policy{Interval: time.Second, Backoff: 0.5}, attempt: 4, want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Fatalf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}
