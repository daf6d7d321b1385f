package capture

import (
	"context"
	"errors"
	"io"
	"sync"

	"signalcraft-client/internal/analysis"
)

var (
	// ErrPermissionDenied is returned by Start when capture is not granted.
	ErrPermissionDenied = analysis.ErrPermissionDenied
	// ErrDeviceBusy is returned when another session holds the microphone.
	ErrDeviceBusy = errors.New("microphone in use by another session")
	// ErrPauseUnsupported is returned by sessions that cannot pause natively.
	ErrPauseUnsupported = errors.New("pause not supported by capture source")
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate int
	Channels   int
	Format     string
	Device     string
}

// AudioSession is a live capture. Stop ends capture; audio already produced
// stays readable until EOF. Close releases the device.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// Pauser is implemented by sessions that can suspend capture.
type Pauser interface {
	Pause() error
	Resume() error
}

// Microphone starts capture sessions.
type Microphone interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PermissionChecker reports whether microphone capture is granted.
type PermissionChecker interface {
	MicrophoneGranted(ctx context.Context) (bool, error)
}

// Exclusive lets only one session hold the wrapped microphone at a time.
type Exclusive struct {
	mic  Microphone
	mu   sync.Mutex
	held bool
}

// NewExclusive wraps mic.
func NewExclusive(mic Microphone) *Exclusive {
	return &Exclusive{mic: mic}
}

// Start fails with ErrDeviceBusy while another session is open.
func (e *Exclusive) Start(ctx context.Context, cfg AudioConfig) (AudioSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held {
		return nil, ErrDeviceBusy
	}
	sess, err := e.mic.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.held = true
	return &heldSession{AudioSession: sess, release: e.release}, nil
}

// Busy reports whether a session currently holds the microphone.
func (e *Exclusive) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type heldSession struct {
	AudioSession
	once    sync.Once
	release func()
}

func (h *heldSession) Close() error {
	err := h.AudioSession.Close()
	h.once.Do(h.release)
	return err
}

func (h *heldSession) Pause() error {
	if p, ok := h.AudioSession.(Pauser); ok {
		return p.Pause()
	}
	return ErrPauseUnsupported
}

func (h *heldSession) Resume() error {
	if p, ok := h.AudioSession.(Pauser); ok {
		return p.Resume()
	}
	return ErrPauseUnsupported
}

var _ Microphone = (*Exclusive)(nil)
