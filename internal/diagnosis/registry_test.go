package diagnosis

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"signalcraft-client/internal/shared/util"
)

func TestRegistryBuildsOncePerDevice(t *testing.T) {
	builds := 0
	reg := NewRegistry(func(deviceID string) (*Controller, error) {
		builds++
		return NewController(Options{DeviceID: deviceID, Recorder: &fakeRecorder{}, Source: &fakeSource{}})
	})
	defer reg.Close()

	a, err := reg.Get("PUMP-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, _ := reg.Get("PUMP-1")
	if a != b || builds != 1 {
		t.Fatalf("expected one controller per device, builds=%d", builds)
	}
	if a.DeviceID() != "PUMP-1" {
		t.Fatalf("expected PUMP-1, got %s", a.DeviceID())
	}
	reg.Get("MOCK-001")
	if got := reg.Devices(); !reflect.DeepEqual(got, []string{"MOCK-001", "PUMP-1"}) {
		t.Fatalf("unexpected devices %v", got)
	}
	if _, ok := reg.Lookup("PUMP-9"); ok {
		t.Fatalf("expected Lookup not to create controllers")
	}
}

func TestRegistryRejectsInvalidDeviceID(t *testing.T) {
	reg := NewRegistry(func(deviceID string) (*Controller, error) {
		t.Fatalf("factory should not run for %q", deviceID)
		return nil, nil
	})
	for _, id := range []string{"", "../etc", "pump 1", "a/b"} {
		if _, err := reg.Get(id); !errors.Is(err, util.ErrInvalidDeviceID) {
			t.Fatalf("expected ErrInvalidDeviceID for %q, got %v", id, err)
		}
	}
}

func TestRegistryClosed(t *testing.T) {
	reg := NewRegistry(func(deviceID string) (*Controller, error) {
		return NewController(Options{DeviceID: deviceID, Recorder: &fakeRecorder{}, Source: &fakeSource{}})
	})
	ctrl, _ := reg.Get("PUMP-1")
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := reg.Get("PUMP-2"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := ctrl.Upload(context.Background(), UploadOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed controller, got %v", err)
	}
}

func TestRegistryResetAll(t *testing.T) {
	reg := NewRegistry(func(deviceID string) (*Controller, error) {
		return NewController(Options{DeviceID: deviceID, Recorder: &fakeRecorder{}, Source: &fakeSource{}})
	})
	defer reg.Close()

	ctx := context.Background()
	for _, id := range []string{"PUMP-1", "PUMP-2"} {
		c, _ := reg.Get(id)
		if _, err := c.Start(ctx); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	if err := reg.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	for _, id := range reg.Devices() {
		c, _ := reg.Lookup(id)
		if snap := c.Snapshot(); snap.State != StateIdle || snap.Generation != 1 {
			t.Fatalf("expected %s reset to idle, got %s gen %d", id, snap.State, snap.Generation)
		}
	}
}
