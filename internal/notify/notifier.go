package notify

import (
	"context"
	"strings"
	"time"
)

// Outcome is published once per finished diagnosis run.
type Outcome struct {
	DeviceID       string    `json:"device_id"`
	TaskID         string    `json:"task_id,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
	Status         string    `json:"status"`
	Classification string    `json:"classification,omitempty"`
	HealthScore    *float64  `json:"health_score,omitempty"`
	RootCause      string    `json:"root_cause,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Notifier publishes outcomes. Implementations must be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, outcome Outcome) error
	Close() error
}

// Noop discards outcomes.
type Noop struct{}

func (Noop) Publish(context.Context, Outcome) error { return nil }
func (Noop) Close() error                           { return nil }

// formatTopic replaces the {device_id} placeholder.
func formatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}

// subjectFor appends the device id as the last NATS token. Dots and
// wildcards in the id would split or widen the subject, so they are replaced.
func subjectFor(base, deviceID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, deviceID)
	base = strings.TrimSuffix(base, ".")
	if token == "" {
		return base
	}
	return base + "." + token
}
