package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signalcraft-client/internal/shared/storage/object"
	"signalcraft-client/internal/shared/telemetry"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no active recording")
	ErrNoArtifact       = errors.New("no recorded artifact")
)

// State is the recording session state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// Artifact references a finished recording in the local store.
type Artifact struct {
	Key       string    `json:"key"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a point-in-time view of the recording.
type Session struct {
	ID        string        `json:"id,omitempty"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Artifact  *Artifact     `json:"artifact,omitempty"`
}

// Options wires a Controller.
type Options struct {
	DeviceID    string
	Microphone  Microphone
	Permissions PermissionChecker
	Store       object.Store
	// Archive, when set, receives the recording on Handoff before the local
	// copy is removed.
	Archive object.Store
	Audio   AudioConfig
}

// Controller owns at most one recording session for a device.
type Controller struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	session *Session
	live    *recording
}

type recording struct {
	audio    AudioSession
	pauser   Pauser
	dropping *atomic.Bool
	fileName string
	done     chan struct{}
	info     object.Info
	err      error

	segmentStart time.Time
	accumulated  time.Duration
}

// NewController validates opts. A nil PermissionChecker grants capture.
func NewController(opts Options) (*Controller, error) {
	if opts.Microphone == nil {
		return nil, errors.New("capture: microphone is required")
	}
	if opts.Store == nil {
		return nil, errors.New("capture: store is required")
	}
	if opts.Permissions == nil {
		opts.Permissions = StaticPermission(true)
	}
	if opts.Audio.Format == "" {
		opts.Audio.Format = "m4a"
	}
	return &Controller{opts: opts, now: time.Now}, nil
}

// Start opens the microphone and begins writing a new recording. A previous
// stopped recording is discarded first.
func (c *Controller) Start(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		return Session{}, ErrAlreadyRecording
	}
	granted, err := c.opts.Permissions.MicrophoneGranted(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("check microphone permission: %w", err)
	}
	if !granted {
		return Session{}, ErrPermissionDenied
	}

	audio, err := c.opts.Microphone.Start(ctx, c.opts.Audio)
	if err != nil {
		return Session{}, err
	}
	c.discardLocked(ctx)

	now := c.now()
	rec := &recording{
		audio:        audio,
		dropping:     &atomic.Bool{},
		fileName:     c.fileName(now),
		done:         make(chan struct{}),
		segmentStart: now,
	}
	if p, ok := audio.(Pauser); ok {
		rec.pauser = p
	}
	c.live = rec
	c.session = &Session{ID: uuid.NewString(), State: StateRecording, StartedAt: now}

	// The recording outlives the caller's request.
	go func() {
		defer close(rec.done)
		rec.info, rec.err = c.opts.Store.Save(context.Background(), c.opts.DeviceID, rec.fileName, &gatedReader{r: audio, dropping: rec.dropping})
	}()

	telemetry.Info("capture.started", map[string]any{
		"device_id":  c.opts.DeviceID,
		"session_id": c.session.ID,
	})
	return c.snapshotLocked(), nil
}

// Pause suspends capture. Sources that cannot pause keep running and the
// audio produced meanwhile is dropped.
func (c *Controller) Pause() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil || c.session.State != StateRecording {
		return Session{}, ErrNotRecording
	}
	rec := c.live
	if rec.pauser != nil {
		if err := rec.pauser.Pause(); err != nil && !errors.Is(err, ErrPauseUnsupported) {
			return Session{}, fmt.Errorf("pause capture: %w", err)
		} else if err != nil {
			rec.dropping.Store(true)
		}
	} else {
		rec.dropping.Store(true)
	}
	rec.accumulated += c.now().Sub(rec.segmentStart)
	c.session.State = StatePaused
	return c.snapshotLocked(), nil
}

// Resume continues a paused recording.
func (c *Controller) Resume() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil || c.session.State != StatePaused {
		return Session{}, ErrNotRecording
	}
	rec := c.live
	if rec.pauser != nil && !rec.dropping.Load() {
		if err := rec.pauser.Resume(); err != nil {
			return Session{}, fmt.Errorf("resume capture: %w", err)
		}
	}
	rec.dropping.Store(false)
	rec.segmentStart = c.now()
	c.session.State = StateRecording
	return c.snapshotLocked(), nil
}

// Stop finalizes the recording and exposes the stored artifact.
func (c *Controller) Stop(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return Session{}, ErrNotRecording
	}
	rec := c.live
	if c.session.State == StateRecording {
		rec.accumulated += c.now().Sub(rec.segmentStart)
	}
	c.finishLocked(ctx, rec)
	c.live = nil

	if rec.err != nil {
		c.session = nil
		telemetry.Error("capture.save_failed", map[string]any{"device_id": c.opts.DeviceID, "error": rec.err})
		return Session{}, fmt.Errorf("save recording: %w", rec.err)
	}
	c.session.State = StateStopped
	c.session.Elapsed = rec.accumulated
	c.session.Artifact = &Artifact{
		Key:       rec.info.Key,
		FileName:  rec.fileName,
		MimeType:  rec.info.MimeType,
		SizeBytes: rec.info.SizeBytes,
		CreatedAt: c.now(),
	}
	telemetry.Info("capture.stopped", map[string]any{
		"device_id":  c.opts.DeviceID,
		"session_id": c.session.ID,
		"size_bytes": rec.info.SizeBytes,
		"elapsed_ms": rec.accumulated.Milliseconds(),
	})
	return c.snapshotLocked(), nil
}

// Reset stops any live capture and deletes the artifact.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec := c.live; rec != nil {
		c.finishLocked(ctx, rec)
		c.live = nil
		if rec.err == nil {
			c.deleteLocal(ctx, rec.info.Key)
		}
		c.session = nil
		return nil
	}
	c.discardLocked(ctx)
	return nil
}

// Handoff destroys the session after a successful upload. The recording is
// copied to the archive store when one is configured; the local copy is kept
// if archiving fails.
func (c *Controller) Handoff(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Artifact == nil {
		return "", ErrNoArtifact
	}
	art := *c.session.Artifact
	c.session = nil

	if c.opts.Archive == nil {
		c.deleteLocal(ctx, art.Key)
		return "", nil
	}
	key, err := c.archive(ctx, art)
	if err != nil {
		telemetry.Error("capture.archive_failed", map[string]any{
			"device_id": c.opts.DeviceID,
			"key":       art.Key,
			"error":     err,
		})
		return "", err
	}
	c.deleteLocal(ctx, art.Key)
	return key, nil
}

func (c *Controller) archive(ctx context.Context, art Artifact) (string, error) {
	rc, err := c.opts.Store.Open(ctx, art.Key)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer rc.Close()
	info, err := c.opts.Archive.Save(ctx, c.opts.DeviceID, art.FileName, rc)
	if err != nil {
		return "", fmt.Errorf("archive artifact: %w", err)
	}
	telemetry.Info("capture.archived", map[string]any{
		"device_id":   c.opts.DeviceID,
		"archive_key": info.Key,
	})
	return info.Key, nil
}

// OpenArtifact opens the stopped recording for reading.
func (c *Controller) OpenArtifact(ctx context.Context) (io.ReadCloser, Artifact, error) {
	c.mu.Lock()
	if c.session == nil || c.session.Artifact == nil {
		c.mu.Unlock()
		return nil, Artifact{}, ErrNoArtifact
	}
	art := *c.session.Artifact
	c.mu.Unlock()

	rc, err := c.opts.Store.Open(ctx, art.Key)
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	return rc, art, nil
}

// Snapshot returns the current session. The zero session is idle.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Session {
	if c.session == nil {
		return Session{State: StateIdle}
	}
	s := *c.session
	if c.session.Artifact != nil {
		art := *c.session.Artifact
		s.Artifact = &art
	}
	if rec := c.live; rec != nil {
		s.Elapsed = rec.accumulated
		if s.State == StateRecording {
			s.Elapsed += c.now().Sub(rec.segmentStart)
		}
	}
	return s
}

// finishLocked stops the source and waits for the writer. If ctx ends first
// the source is closed to unblock it.
func (c *Controller) finishLocked(ctx context.Context, rec *recording) {
	if rec.pauser != nil && c.session.State == StatePaused && !rec.dropping.Load() {
		rec.pauser.Resume()
	}
	rec.dropping.Store(false)
	if err := rec.audio.Stop(); err != nil {
		telemetry.Warn("capture.stop_signal_failed", map[string]any{"device_id": c.opts.DeviceID, "error": err})
	}
	select {
	case <-rec.done:
	case <-ctx.Done():
	case <-time.After(stopGrace):
	}
	closeErr := rec.audio.Close()
	<-rec.done
	if closeErr != nil {
		telemetry.Warn("capture.close_failed", map[string]any{"device_id": c.opts.DeviceID, "error": closeErr})
	}
}

func (c *Controller) discardLocked(ctx context.Context) {
	if c.session != nil && c.session.Artifact != nil {
		c.deleteLocal(ctx, c.session.Artifact.Key)
	}
	c.session = nil
}

func (c *Controller) deleteLocal(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.opts.Store.Delete(context.WithoutCancel(ctx), key); err != nil {
		telemetry.Warn("capture.delete_failed", map[string]any{
			"device_id": c.opts.DeviceID,
			"key":       key,
			"error":     err,
		})
	}
}

func (c *Controller) fileName(now time.Time) string {
	device := c.opts.DeviceID
	if device == "" {
		device = "recording"
	}
	return fmt.Sprintf("%s_%s.%s", device, now.UTC().Format("20060102T150405"), strings.TrimPrefix(c.opts.Audio.Format, "."))
}

// gatedReader drops audio while dropping is set.
type gatedReader struct {
	r        io.Reader
	dropping *atomic.Bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	for {
		n, err := g.r.Read(p)
		if n == 0 || !g.dropping.Load() {
			return n, err
		}
		if err != nil {
			return 0, err
		}
	}
}
