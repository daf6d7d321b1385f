package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileMicrophone replays a recorded file as a capture session. It backs the
// CLI and bench setups where audio is recorded by another tool.
type FileMicrophone struct {
	Path string
}

func (m FileMicrophone) Start(ctx context.Context, _ AudioConfig) (AudioSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	s := &fileSession{f: f}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

type fileSession struct {
	f       *os.File
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

func (s *fileSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	for s.paused && !s.stopped {
		s.cond.Wait()
	}
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return 0, io.EOF
	}
	return s.f.Read(p)
}

func (s *fileSession) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *fileSession) Resume() error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// Stop truncates the replay at the current offset.
func (s *fileSession) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

func (s *fileSession) Close() error {
	s.Stop()
	return s.f.Close()
}
