package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const stopGrace = 3 * time.Second

// CommandMicrophone records through an external tool that writes the encoded
// stream to stdout, e.g. "ffmpeg -f alsa -i {device} -f ipod -".
// Placeholders {device}, {rate} and {channels} are expanded from AudioConfig.
type CommandMicrophone struct {
	Command string
}

func (m CommandMicrophone) Start(ctx context.Context, cfg AudioConfig) (AudioSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := strings.Fields(expandCommand(m.Command, cfg))
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	// The recording outlives the request that started it, so the process is
	// not bound to ctx.
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}
	return &commandSession{cmd: cmd, stdout: stdout}, nil
}

func expandCommand(command string, cfg AudioConfig) string {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return strings.NewReplacer(
		"{device}", device,
		"{rate}", strconv.Itoa(cfg.SampleRate),
		"{channels}", strconv.Itoa(cfg.Channels),
	).Replace(command)
}

type commandSession struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stopOnce sync.Once
	waitOnce sync.Once
	waitErr  error
}

func (s *commandSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop asks the tool to finish so it can flush the container trailer.
func (s *commandSession) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		err = s.cmd.Process.Signal(os.Interrupt)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	})
	return err
}

func (s *commandSession) Close() error {
	s.Stop()
	s.waitOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case err := <-done:
			s.waitErr = err
		case <-time.After(stopGrace):
			s.cmd.Process.Kill()
			s.waitErr = <-done
		}
	})
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		// Interrupted tools usually exit non-zero after a clean flush.
		return nil
	}
	return s.waitErr
}
