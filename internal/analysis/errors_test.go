package analysis

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "permission", err: fmt.Errorf("start: %w", ErrPermissionDenied), want: ErrorCodePermissionDenied},
		{name: "upload", err: &UploadError{StatusCode: 500, Err: errors.New("boom")}, want: ErrorCodeUploadFailed},
		{name: "poll", err: &PollError{TaskID: "abc123", Err: errors.New("timeout")}, want: ErrorCodePollFailed},
		{name: "task failed", err: &TaskFailedError{TaskID: "abc123"}, want: ErrorCodeTaskFailed},
		{name: "report", err: &ReportFetchError{DeviceID: "MOCK-001", Err: errors.New("bad json")}, want: ErrorCodeReportFailed},
		{name: "401 wins over kind", err: &PollError{TaskID: "abc123", StatusCode: 401, Err: ErrUnauthorized}, want: ErrorCodeUnauthorized},
		{name: "validation", err: &ValidationError{Field: "x", Reason: "bad"}, want: ErrorCodeValidation},
		{name: "other", err: errors.New("unexpected"), want: ErrorCodeInternal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Fatalf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeErrorCapsLength(t *testing.T) {
	long := errors.New(strings.Repeat("x", 800) + "\nsecond line")
	got := SanitizeError(long)
	if len(got) != 500 {
		t.Fatalf("expected 500 chars, got %d", len(got))
	}
	if strings.Contains(SanitizeError(errors.New("a\nb")), "\n") {
		t.Fatalf("expected newlines flattened")
	}
}

func TestSanitizeErrorKeepsMultiByteRunesWhole(t *testing.T) {
	got := SanitizeError(errors.New("x" + strings.Repeat("분석", 300)))
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8, got tail %q", got[len(got)-3:])
	}
	if n := utf8.RuneCountInString(got); n != 500 {
		t.Fatalf("expected 500 characters, got %d", n)
	}
}

func TestDeviceConfigValidate(t *testing.T) {
	if err := (DeviceConfig{ThresholdMultiplier: 1.2, SensitivityLevel: SensitivityHigh}).Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	var vErr *ValidationError
	if err := (DeviceConfig{ThresholdMultiplier: 0, SensitivityLevel: SensitivityLow}).Validate(); !errors.As(err, &vErr) || vErr.Field != "threshold_multiplier" {
		t.Fatalf("expected threshold validation error, got %v", err)
	}
	if err := (DeviceConfig{ThresholdMultiplier: 1, SensitivityLevel: "EXTREME"}).Validate(); !errors.As(err, &vErr) || vErr.Field != "sensitivity_level" {
		t.Fatalf("expected sensitivity validation error, got %v", err)
	}
}

func TestReportValidate(t *testing.T) {
	r := Report{Status: StatusSummary{CurrentState: ClassWarning}}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid report, got %v", err)
	}
	r.Status.CurrentState = "BROKEN"
	if err := r.Validate(); err == nil {
		t.Fatalf("expected unknown classification to fail")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	for _, s := range []TaskStatus{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
	for _, s := range []TaskStatus{StatusPending, StatusProcessing} {
		if s.Terminal() {
			t.Fatalf("expected %s non-terminal", s)
		}
	}
}
