package history

import (
	"errors"
	"time"
)

// StatusUploadFailed marks runs that never produced a task.
const StatusUploadFailed = "UPLOAD_FAILED"

const defaultListLimit = 20

// ErrNotFound is returned when no entry exists.
var ErrNotFound = errors.New("history entry not found")

// Entry records one finished diagnosis run.
type Entry struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	TaskID         string    `json:"task_id,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
	Status         string    `json:"status"`
	Classification string    `json:"classification,omitempty"`
	HealthScore    *float64  `json:"health_score,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}
