package analysis

import (
	"errors"
	"fmt"
	"strings"

	"signalcraft-client/internal/shared/util"
)

var (
	// ErrUnauthorized means the backend rejected or no longer accepts the session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied means microphone access has not been granted.
	ErrPermissionDenied = errors.New("microphone permission denied")
)

const (
	ErrorCodePermissionDenied = "permission_denied"
	ErrorCodeUploadFailed     = "upload_failed"
	ErrorCodePollFailed       = "poll_failed"
	ErrorCodeTaskFailed       = "task_failed"
	ErrorCodeReportFailed     = "report_fetch_failed"
	ErrorCodeUnauthorized     = "unauthorized"
	ErrorCodeValidation       = "validation_error"
	ErrorCodeInternal         = "internal"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// UploadError is returned when a recording could not be handed to the backend.
type UploadError struct {
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed: http status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PollError is returned when a task status check fails. It is terminal.
type PollError struct {
	TaskID     string
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("poll task %s: http status %d: %v", e.TaskID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("poll task %s: %v", e.TaskID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// ReportFetchError is returned when a report cannot be fetched or parsed.
type ReportFetchError struct {
	DeviceID   string
	StatusCode int
	Err        error
}

func (e *ReportFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch report for %s: http status %d: %v", e.DeviceID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch report for %s: %v", e.DeviceID, e.Err)
}

func (e *ReportFetchError) Unwrap() error { return e.Err }

// TaskFailedError records a task that the backend marked FAILED.
type TaskFailedError struct {
	TaskID string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("analysis task %s failed", e.TaskID)
}

// ErrorCode maps err onto a stable code for snapshots, history and HTTP bodies.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var (
		uploadErr     *UploadError
		pollErr       *PollError
		reportErr     *ReportFetchError
		taskFailedErr *TaskFailedError
		validationErr *ValidationError
	)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ErrorCodeUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.As(err, &uploadErr):
		return ErrorCodeUploadFailed
	case errors.As(err, &pollErr):
		return ErrorCodePollFailed
	case errors.As(err, &taskFailedErr):
		return ErrorCodeTaskFailed
	case errors.As(err, &reportErr):
		return ErrorCodeReportFailed
	case errors.As(err, &validationErr):
		return ErrorCodeValidation
	default:
		return ErrorCodeInternal
	}
}

// SanitizeError flattens err into a single line capped at 500 characters.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	return util.Truncate(msg, 500)
}
