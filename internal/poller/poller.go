package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/metrics"
	"signalcraft-client/internal/shared/telemetry"
)

// ErrPollTimeout is wrapped in a PollError when a policy cap is reached.
var ErrPollTimeout = errors.New("poll limit reached")

const defaultInterval = 2 * time.Second

// Policy controls how a task is polled. Zero caps mean unbounded.
type Policy struct {
	Interval    time.Duration
	Backoff     float64
	MaxInterval time.Duration
	MaxDuration time.Duration
	MaxAttempts int
}

// DefaultPolicy polls every two seconds with no backoff and no cap.
func DefaultPolicy() Policy {
	return Policy{Interval: defaultInterval, Backoff: 1}
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = defaultInterval
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	if p.MaxInterval > 0 && p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.MaxDuration < 0 {
		p.MaxDuration = 0
	}
	return p
}

// Delay returns the wait before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Interval) * math.Pow(p.Backoff, float64(attempt))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// FetchFunc performs one status round-trip.
type FetchFunc func(ctx context.Context, taskID string) (analysis.Task, error)

// Poller runs one sequential poll loop per Run call.
type Poller struct {
	policy Policy
	now    func() time.Time
}

// New creates a poller for policy.
func New(policy Policy) *Poller {
	return &Poller{policy: policy.normalized(), now: time.Now}
}

// Policy returns the effective policy.
func (p *Poller) Policy() Policy {
	return p.policy
}

// Run waits, fetches, and repeats until the task is terminal. The next wait
// starts only after the previous fetch returns, so ticks never overlap.
// observe sees every fetched task in order. A fetch error ends the loop with
// a *analysis.PollError; cancelling ctx ends it with ctx.Err() and no
// further fetches.
func (p *Poller) Run(ctx context.Context, taskID string, fetch FetchFunc, observe func(analysis.Task)) (analysis.Task, error) {
	start := p.now()
	var last analysis.Task
	for attempt := 0; ; attempt++ {
		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			return last, p.fail(taskID, fmt.Errorf("%w: %d attempts", ErrPollTimeout, attempt))
		}
		wait := p.policy.Delay(attempt)
		if p.policy.MaxDuration > 0 && p.now().Add(wait).Sub(start) > p.policy.MaxDuration {
			return last, p.fail(taskID, fmt.Errorf("%w: exceeded %s", ErrPollTimeout, p.policy.MaxDuration))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}

		task, err := fetch(ctx, taskID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			return last, p.fail(taskID, err)
		}
		last = task
		telemetry.Info("poll.tick", map[string]any{
			"task_id": taskID,
			"status":  string(task.Status),
			"attempt": attempt + 1,
		})
		if observe != nil {
			observe(task)
		}
		if task.Status.Terminal() {
			return task, nil
		}
	}
}

func (p *Poller) fail(taskID string, err error) error {
	metrics.IncPollFailure()
	telemetry.Error("poll.failed", map[string]any{"task_id": taskID, "error": err})
	var pollErr *analysis.PollError
	if errors.As(err, &pollErr) {
		return err
	}
	return &analysis.PollError{TaskID: taskID, Err: err}
}
