package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// StaticPermission always answers with its own value.
type StaticPermission bool

func (p StaticPermission) MicrophoneGranted(context.Context) (bool, error) {
	return bool(p), nil
}

// DevicePermission grants capture when the device node can be opened for
// reading, e.g. /dev/snd/pcmC0D0c.
type DevicePermission struct {
	Path string
}

func (p DevicePermission) MicrophoneGranted(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.Path == "" {
		return true, nil
	}
	f, err := os.Open(p.Path)
	switch {
	case err == nil:
		f.Close()
		return true, nil
	case errors.Is(err, os.ErrPermission):
		return false, nil
	case errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("capture device %s not found", p.Path)
	default:
		return false, err
	}
}
