package diagnosis

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/capture"
	"signalcraft-client/internal/history"
	"signalcraft-client/internal/notify"
	"signalcraft-client/internal/poller"
)

type fakeRecorder struct {
	mu       sync.Mutex
	state    capture.State
	artifact *capture.Artifact
	startErr error
	handoffs int
	resets   int
}

func (r *fakeRecorder) session() capture.Session {
	s := capture.Session{State: r.state}
	if s.State == "" {
		s.State = capture.StateIdle
	}
	if r.artifact != nil {
		a := *r.artifact
		s.Artifact = &a
	}
	return s
}

func (r *fakeRecorder) Start(ctx context.Context) (capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return capture.Session{}, r.startErr
	}
	r.artifact = nil
	r.state = capture.StateRecording
	return r.session(), nil
}

func (r *fakeRecorder) Pause() (capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = capture.StatePaused
	return r.session(), nil
}

func (r *fakeRecorder) Resume() (capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = capture.StateRecording
	return r.session(), nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = capture.StateStopped
	r.artifact = &capture.Artifact{Key: "ns/rec.m4a", FileName: "rec.m4a", SizeBytes: int64(len("audio-bytes"))}
	return r.session(), nil
}

func (r *fakeRecorder) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.state = capture.StateIdle
	r.artifact = nil
	return nil
}

func (r *fakeRecorder) Handoff(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs++
	r.state = capture.StateIdle
	r.artifact = nil
	return "", nil
}

func (r *fakeRecorder) OpenArtifact(ctx context.Context) (io.ReadCloser, capture.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.artifact == nil {
		return nil, capture.Artifact{}, capture.ErrNoArtifact
	}
	return io.NopCloser(strings.NewReader("audio-bytes")), *r.artifact, nil
}

func (r *fakeRecorder) Snapshot() capture.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session()
}

func (r *fakeRecorder) handoffCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handoffs
}

func (r *fakeRecorder) hasArtifact() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact != nil
}

type fakeSource struct {
	upload      func(ctx context.Context, req analysis.UploadRequest) (string, error)
	taskStatus  func(ctx context.Context, taskID string) (analysis.Task, error)
	report      func(ctx context.Context, deviceID string) (analysis.Report, error)
	uploads     atomic.Int32
	reportCalls atomic.Int32
	lastUpload  atomic.Value
}

func (s *fakeSource) Upload(ctx context.Context, req analysis.UploadRequest, body io.Reader) (string, error) {
	s.uploads.Add(1)
	s.lastUpload.Store(req)
	if body != nil {
		io.Copy(io.Discard, body)
	}
	if s.upload != nil {
		return s.upload(ctx, req)
	}
	return "abc123", nil
}

func (s *fakeSource) TaskStatus(ctx context.Context, taskID string) (analysis.Task, error) {
	if s.taskStatus != nil {
		return s.taskStatus(ctx, taskID)
	}
	return analysis.Task{ID: taskID, Status: analysis.StatusCompleted}, nil
}

func (s *fakeSource) Report(ctx context.Context, deviceID string) (analysis.Report, error) {
	s.reportCalls.Add(1)
	if s.report != nil {
		return s.report(ctx, deviceID)
	}
	return sampleReport(), nil
}

func (s *fakeSource) Models(ctx context.Context, deviceType string) ([]analysis.ModelDescriptor, error) {
	return nil, nil
}

func (s *fakeSource) UpdateDeviceConfig(ctx context.Context, deviceID string, cfg analysis.DeviceConfig) (analysis.DeviceConfigResult, error) {
	return analysis.DeviceConfigResult{}, errors.New("not implemented")
}

func sampleReport() analysis.Report {
	return analysis.Report{
		EntityType: "RotatingMachine",
		Status:     analysis.StatusSummary{CurrentState: analysis.ClassCritical, HealthScore: 35.2, Label: "CRITICAL"},
		Diagnosis:  analysis.RootCause{RootCause: "Inner Race Bearing Fault", Confidence: 0.98, SeverityScore: 9},
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
	// block, when set, holds Publish until it is closed.
	block chan struct{}
}

func (n *recordingNotifier) Publish(ctx context.Context, o notify.Outcome) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) all() []notify.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Outcome(nil), n.outcomes...)
}

type harness struct {
	ctrl     *Controller
	recorder *fakeRecorder
	source   *fakeSource
	history  *history.MemoryRepo
	notifier *recordingNotifier
}

func newHarness(t *testing.T, source *fakeSource) *harness {
	t.Helper()
	h := &harness{
		recorder: &fakeRecorder{},
		source:   source,
		history:  history.NewMemoryRepo(),
		notifier: &recordingNotifier{},
	}
	ctrl, err := NewController(Options{
		DeviceID: "MOCK-001",
		Recorder: h.recorder,
		Source:   source,
		Poller:   poller.New(poller.Policy{Interval: 2 * time.Millisecond, Backoff: 1}),
		History:  h.history,
		Notifier: h.notifier,
		Upload:   analysis.UploadRequest{ModelPreference: analysis.ModelHybrid, AudioFormat: "m4a", SampleRate: 44100, Channels: 2},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	h.ctrl = ctrl
	return h
}

// record runs start → stop so an artifact is available.
func (h *harness) record(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.State != StateIdle || snap.Recording.Artifact == nil {
		t.Fatalf("expected idle with artifact, got %s", snap.State)
	}
}

func waitResult(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (state %s)", err, snap.State)
	}
	return snap
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
