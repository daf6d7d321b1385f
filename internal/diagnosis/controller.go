package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/capture"
	"signalcraft-client/internal/datasource"
	"signalcraft-client/internal/history"
	"signalcraft-client/internal/notify"
	"signalcraft-client/internal/poller"
	"signalcraft-client/internal/shared/metrics"
	"signalcraft-client/internal/shared/telemetry"
)

var (
	// ErrBusy is returned while a task is being analyzed or its report fetched.
	ErrBusy = errors.New("diagnosis in progress")
	// ErrInvalidState is returned for commands that do not apply to the
	// current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrNoArtifact is returned by Upload when nothing has been recorded.
	ErrNoArtifact = capture.ErrNoArtifact
	// ErrReset is returned by an Upload that was overtaken by Reset.
	ErrReset = errors.New("diagnosis was reset")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("diagnosis controller closed")
)

const outcomeTimeout = 5 * time.Second

// Recorder is the capture surface the lifecycle drives.
type Recorder interface {
	Start(ctx context.Context) (capture.Session, error)
	Pause() (capture.Session, error)
	Resume() (capture.Session, error)
	Stop(ctx context.Context) (capture.Session, error)
	Reset(ctx context.Context) error
	Handoff(ctx context.Context) (string, error)
	OpenArtifact(ctx context.Context) (io.ReadCloser, capture.Artifact, error)
	Snapshot() capture.Session
}

// UploadOptions overrides the configured upload metadata for one run.
type UploadOptions struct {
	ModelPreference string
	TargetModelID   string
}

// Options wires a Controller.
type Options struct {
	DeviceID string
	Recorder Recorder
	Source   datasource.Source
	Poller   *poller.Poller
	History  history.Repo
	Notifier notify.Notifier
	// Upload carries the defaults sent with every recording.
	Upload analysis.UploadRequest
}

// Controller runs the record → upload → poll → report lifecycle for one
// device. All methods are safe for concurrent use.
type Controller struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	state      State
	task       *analysis.Task
	report     *analysis.Report
	err        error
	gen        uint64
	updatedAt  time.Time
	modelID    string
	uploadedAt time.Time
	closed     bool

	cancel   context.CancelFunc
	pollDone chan struct{}
	outcomes sync.WaitGroup

	changed chan struct{}
	subs    map[int]chan Snapshot
	nextSub int
}

// NewController validates opts.
func NewController(opts Options) (*Controller, error) {
	if opts.Recorder == nil {
		return nil, errors.New("diagnosis: recorder is required")
	}
	if opts.Source == nil {
		return nil, errors.New("diagnosis: source is required")
	}
	if opts.Poller == nil {
		opts.Poller = poller.New(poller.DefaultPolicy())
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	opts.Upload.DeviceID = opts.DeviceID
	c := &Controller{
		opts:    opts,
		now:     time.Now,
		state:   StateIdle,
		changed: make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	c.updatedAt = c.now()
	return c, nil
}

// DeviceID returns the device this controller drives.
func (c *Controller) DeviceID() string {
	return c.opts.DeviceID
}

// Start begins a new recording. A previous result is discarded.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Snapshot{}, ErrClosed
	}
	switch c.state {
	case StateAnalyzing, StateFetchingReport:
		return c.snapshotLocked(), ErrBusy
	case StateRecording:
		return c.snapshotLocked(), capture.ErrAlreadyRecording
	}

	if _, err := c.opts.Recorder.Start(ctx); err != nil {
		// A failed start leaves a shown result untouched.
		if c.state != StateResult {
			c.err = err
			c.touchLocked()
		}
		return c.snapshotLocked(), err
	}
	if c.state == StateResult {
		c.gen++
		c.task, c.report = nil, nil
	}
	c.err = nil
	c.transitionLocked(StateRecording)
	return c.snapshotLocked(), nil
}

// Pause suspends the recording.
func (c *Controller) Pause() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return c.snapshotLocked(), ErrInvalidState
	}
	if _, err := c.opts.Recorder.Pause(); err != nil {
		return c.snapshotLocked(), err
	}
	c.touchLocked()
	return c.snapshotLocked(), nil
}

// Resume continues a paused recording.
func (c *Controller) Resume() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return c.snapshotLocked(), ErrInvalidState
	}
	if _, err := c.opts.Recorder.Resume(); err != nil {
		return c.snapshotLocked(), err
	}
	c.touchLocked()
	return c.snapshotLocked(), nil
}

// Stop finalizes the recording and returns to idle with the artifact kept.
func (c *Controller) Stop(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return c.snapshotLocked(), ErrInvalidState
	}
	_, err := c.opts.Recorder.Stop(ctx)
	c.err = err
	c.transitionLocked(StateIdle)
	return c.snapshotLocked(), err
}

// Upload sends the recorded artifact and starts polling the new task. It
// returns once the backend has accepted the upload; a failed upload leaves
// the controller idle with the artifact kept for a retry.
func (c *Controller) Upload(ctx context.Context, opts UploadOptions) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	switch c.state {
	case StateIdle:
	case StateAnalyzing, StateFetchingReport:
		c.mu.Unlock()
		return "", ErrBusy
	default:
		c.mu.Unlock()
		return "", ErrInvalidState
	}
	body, art, err := c.opts.Recorder.OpenArtifact(ctx)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	req := c.opts.Upload
	req.FileName = art.FileName
	req.SizeBytes = art.SizeBytes
	if opts.ModelPreference != "" {
		req.ModelPreference = opts.ModelPreference
	}
	if opts.TargetModelID != "" {
		req.TargetModelID = opts.TargetModelID
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gen := c.gen
	c.cancel = cancel
	c.err = nil
	c.task, c.report = nil, nil
	c.modelID = modelFor(req)
	c.uploadedAt = c.now()
	c.transitionLocked(StateAnalyzing)
	c.mu.Unlock()

	// The upload follows the caller's ctx and is also cut short by Reset.
	uploadCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(runCtx, stop)
	taskID, err := c.opts.Source.Upload(uploadCtx, req, body)
	unhook()
	body.Close()

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		cancel()
		return "", ErrReset
	}
	if err != nil {
		c.cancel = nil
		c.err = err
		c.transitionLocked(StateIdle)
		metrics.IncLifecycleResult(outcomeUploadFailed)
		out := c.outcomeLocked(outcomeUploadFailed, nil, err)
		c.outcomes.Add(1)
		c.mu.Unlock()
		cancel()

		defer c.outcomes.Done()
		c.record(out)
		return "", err
	}

	c.task = &analysis.Task{ID: taskID, Status: analysis.StatusPending, CreatedAt: c.now()}
	done := make(chan struct{})
	c.pollDone = done
	c.touchLocked()
	c.mu.Unlock()

	if key, herr := c.opts.Recorder.Handoff(runCtx); herr != nil {
		telemetry.Warn("diagnosis.handoff_failed", map[string]any{"device_id": c.opts.DeviceID, "error": herr})
	} else if key != "" {
		telemetry.Info("diagnosis.recording_archived", map[string]any{"device_id": c.opts.DeviceID, "archive_key": key})
	}

	go c.run(runCtx, gen, taskID, done)
	return taskID, nil
}

// run drives one task to its result, then records the outcome. done is closed
// before the outcome is written so Reset never waits on history or the
// notifier.
func (c *Controller) run(ctx context.Context, gen uint64, taskID string, done chan struct{}) {
	out, ok := c.analyze(ctx, gen, taskID)
	close(done)
	if ok {
		defer c.outcomes.Done()
		c.record(out)
	}
}

// analyze polls the task and fetches the report. Every state write checks gen
// so results from a reset run are dropped.
func (c *Controller) analyze(ctx context.Context, gen uint64, taskID string) (outcomeRecord, bool) {
	task, err := c.opts.Poller.Run(ctx, taskID, c.opts.Source.TaskStatus, func(t analysis.Task) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		tc := t
		c.task = &tc
		c.touchLocked()
	})
	if ctx.Err() != nil {
		return outcomeRecord{}, false
	}

	switch {
	case err != nil:
		return c.finish(ctx, gen, outcomePollError, nil, err)
	case task.Status == analysis.StatusFailed:
		return c.finish(ctx, gen, outcomeFailed, nil, &analysis.TaskFailedError{TaskID: taskID})
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return outcomeRecord{}, false
	}
	c.transitionLocked(StateFetchingReport)
	c.mu.Unlock()

	report, err := c.opts.Source.Report(ctx, c.opts.DeviceID)
	if ctx.Err() != nil {
		return outcomeRecord{}, false
	}
	if err != nil {
		return c.finish(ctx, gen, outcomeReportError, nil, err)
	}
	return c.finish(ctx, gen, outcomeCompleted, &report, nil)
}

// finish moves to result if gen is still current and returns the outcome to
// record.
func (c *Controller) finish(ctx context.Context, gen uint64, outcome string, report *analysis.Report, err error) (outcomeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || ctx.Err() != nil {
		return outcomeRecord{}, false
	}
	c.report = report
	c.err = err
	c.cancel = nil
	c.transitionLocked(StateResult)
	metrics.IncLifecycleResult(outcome)
	if !c.uploadedAt.IsZero() {
		metrics.ObserveAnalysisDurationMs(float64(c.now().Sub(c.uploadedAt).Milliseconds()))
	}
	c.outcomes.Add(1)
	return c.outcomeLocked(outcome, report, err), true
}

// Reset discards the task, report and recording, cancels any poll and waits
// for it to exit.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	cancel, done := c.cancel, c.pollDone
	c.cancel, c.pollDone = nil, nil
	c.task, c.report, c.err = nil, nil, nil
	resetErr := c.opts.Recorder.Reset(ctx)
	c.transitionLocked(StateIdle)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return resetErr
}

// Close resets the controller, waits for pending outcome writes and ends all
// subscriptions.
func (c *Controller) Close() error {
	err := c.Reset(context.Background())
	c.outcomes.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.changed)
	c.changed = make(chan struct{})
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	return err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe delivers snapshots on every change. Slow readers only see the
// latest one. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Wait blocks until the lifecycle reaches result or ctx ends.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		if c.state == StateResult {
			s := c.snapshotLocked()
			c.mu.Unlock()
			return s, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Snapshot{}, ErrClosed
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

func (c *Controller) transitionLocked(next State) {
	if c.state != next {
		telemetry.Info("diagnosis.transition", map[string]any{
			"device_id":         c.opts.DeviceID,
			"status_transition": fmt.Sprintf("%s->%s", c.state, next),
			"generation":        c.gen,
		})
	}
	c.state = next
	c.touchLocked()
}

// touchLocked publishes the current snapshot to subscribers and waiters.
func (c *Controller) touchLocked() {
	c.updatedAt = c.now()
	close(c.changed)
	c.changed = make(chan struct{})

	s := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		DeviceID:   c.opts.DeviceID,
		State:      c.state,
		Recording:  c.opts.Recorder.Snapshot(),
		ModelID:    c.modelID,
		ErrorCode:  analysis.ErrorCode(c.err),
		Error:      analysis.SanitizeError(c.err),
		Generation: c.gen,
		UpdatedAt:  c.updatedAt,
	}
	if c.task != nil {
		t := *c.task
		s.Task = &t
	}
	if c.report != nil {
		r := *c.report
		s.Report = &r
	}
	return s
}

type outcomeRecord struct {
	name      string
	entry     history.Entry
	rootCause string
}

func (c *Controller) outcomeLocked(outcome string, report *analysis.Report, err error) outcomeRecord {
	entry := history.Entry{
		DeviceID:     c.opts.DeviceID,
		ModelID:      c.modelID,
		StartedAt:    c.uploadedAt,
		FinishedAt:   c.now(),
		ErrorCode:    analysis.ErrorCode(err),
		ErrorMessage: analysis.SanitizeError(err),
	}
	if c.task != nil {
		entry.TaskID = c.task.ID
		entry.Status = string(c.task.Status)
	}
	switch outcome {
	case outcomeUploadFailed:
		entry.Status = history.StatusUploadFailed
	case outcomePollError:
		entry.Status = string(analysis.StatusFailed)
	}
	out := outcomeRecord{name: outcome, entry: entry}
	if report != nil {
		out.entry.Classification = string(report.Status.CurrentState)
		health := report.Status.HealthScore
		out.entry.HealthScore = &health
		out.rootCause = report.Diagnosis.RootCause
	}
	return out
}

// record writes the outcome to history and the notifier. It runs without the
// lock.
func (c *Controller) record(out outcomeRecord) {
	entry := out.entry
	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()
	if c.opts.History != nil {
		if herr := c.opts.History.Append(ctx, entry); herr != nil {
			telemetry.Error("diagnosis.history_failed", map[string]any{"device_id": c.opts.DeviceID, "error": herr})
		}
	}
	msg := notify.Outcome{
		DeviceID:       entry.DeviceID,
		TaskID:         entry.TaskID,
		ModelID:        entry.ModelID,
		Status:         entry.Status,
		Classification: entry.Classification,
		HealthScore:    entry.HealthScore,
		RootCause:      out.rootCause,
		ErrorCode:      entry.ErrorCode,
		ErrorMessage:   entry.ErrorMessage,
		FinishedAt:     entry.FinishedAt,
	}
	if nerr := c.opts.Notifier.Publish(ctx, msg); nerr != nil {
		telemetry.Error("diagnosis.notify_failed", map[string]any{"device_id": c.opts.DeviceID, "error": nerr})
	}
	telemetry.Info("diagnosis.finished", map[string]any{
		"device_id": c.opts.DeviceID,
		"task_id":   entry.TaskID,
		"outcome":   out.name,
		"status":    entry.Status,
	})
}

func modelFor(req analysis.UploadRequest) string {
	if req.TargetModelID != "" {
		return req.TargetModelID
	}
	if req.ModelPreference != "" {
		return req.ModelPreference
	}
	return analysis.ModelHybrid
}
