package datasource

import (
	"context"
	"io"

	"signalcraft-client/internal/analysis"
)

// Source is everything the lifecycle needs from the analysis backend.
type Source interface {
	Upload(ctx context.Context, req analysis.UploadRequest, body io.Reader) (string, error)
	TaskStatus(ctx context.Context, taskID string) (analysis.Task, error)
	Report(ctx context.Context, deviceID string) (analysis.Report, error)
	Models(ctx context.Context, deviceType string) ([]analysis.ModelDescriptor, error)
	UpdateDeviceConfig(ctx context.Context, deviceID string, cfg analysis.DeviceConfig) (analysis.DeviceConfigResult, error)
}

// Select picks the source once at startup. With demo mode forced every call
// goes to demo; otherwise calls go to remote unless the active session is a
// demo login, as reported by isDemo.
func Select(demoMode bool, remote Source, demo *Demo, isDemo func() bool) Source {
	if demoMode || remote == nil {
		return demo
	}
	if isDemo == nil {
		return remote
	}
	return &Switch{Remote: remote, Demo: demo, UseDemo: isDemo}
}

// Switch routes each call by the session kind at call time.
type Switch struct {
	Remote  Source
	Demo    Source
	UseDemo func() bool
}

func (s *Switch) pick() Source {
	if s.UseDemo() {
		return s.Demo
	}
	return s.Remote
}

func (s *Switch) Upload(ctx context.Context, req analysis.UploadRequest, body io.Reader) (string, error) {
	return s.pick().Upload(ctx, req, body)
}

func (s *Switch) TaskStatus(ctx context.Context, taskID string) (analysis.Task, error) {
	return s.pick().TaskStatus(ctx, taskID)
}

func (s *Switch) Report(ctx context.Context, deviceID string) (analysis.Report, error) {
	return s.pick().Report(ctx, deviceID)
}

func (s *Switch) Models(ctx context.Context, deviceType string) ([]analysis.ModelDescriptor, error) {
	return s.pick().Models(ctx, deviceType)
}

func (s *Switch) UpdateDeviceConfig(ctx context.Context, deviceID string, cfg analysis.DeviceConfig) (analysis.DeviceConfigResult, error) {
	return s.pick().UpdateDeviceConfig(ctx, deviceID, cfg)
}
