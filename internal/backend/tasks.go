package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/metrics"
	"signalcraft-client/internal/shared/telemetry"
)

type taskResponse struct {
	TaskID    string           `json:"task_id"`
	Status    string           `json:"status"`
	Result    *analysis.Result `json:"result,omitempty"`
	CreatedAt string           `json:"created_at"`
}

type reportResponse struct {
	DataPackage *analysis.Report `json:"data_package"`
}

// TaskStatus fetches GET /api/mobile/result/{task_id}. Any failure is a
// *analysis.PollError.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (analysis.Task, error) {
	metrics.IncPollTick()
	var parsed taskResponse
	if err := c.getJSON(ctx, c.endpoint("api", "mobile", "result", taskID), &parsed); err != nil {
		return analysis.Task{}, &analysis.PollError{TaskID: taskID, StatusCode: statusCodeOf(err), Err: err}
	}
	status := analysis.TaskStatus(strings.ToUpper(strings.TrimSpace(parsed.Status)))
	if !status.Valid() {
		return analysis.Task{}, &analysis.PollError{TaskID: taskID, Err: fmt.Errorf("unknown task status %q", parsed.Status)}
	}
	id := parsed.TaskID
	if id == "" {
		id = taskID
	}
	return analysis.Task{
		ID:        id,
		Status:    status,
		CreatedAt: parseTime(parsed.CreatedAt),
		Result:    parsed.Result,
	}, nil
}

// Report fetches GET /api/mobile/report/{device_id}. Nothing is cached; each
// call re-fetches. Failures are *analysis.ReportFetchError.
func (c *Client) Report(ctx context.Context, deviceID string) (analysis.Report, error) {
	metrics.IncReportFetch()
	report, err := c.fetchReport(ctx, deviceID)
	if err != nil {
		metrics.IncReportFetchFailure()
		telemetry.Error("report.fetch_failed", map[string]any{"device_id": deviceID, "error": err})
		return analysis.Report{}, &analysis.ReportFetchError{DeviceID: deviceID, StatusCode: statusCodeOf(err), Err: err}
	}
	return report, nil
}

func (c *Client) fetchReport(ctx context.Context, deviceID string) (analysis.Report, error) {
	if strings.TrimSpace(deviceID) == "" {
		return analysis.Report{}, errors.New("device id is required")
	}
	var parsed reportResponse
	if err := c.getJSON(ctx, c.endpoint("api", "mobile", "report", deviceID), &parsed); err != nil {
		return analysis.Report{}, err
	}
	if parsed.DataPackage == nil {
		return analysis.Report{}, errors.New("response missing data_package")
	}
	if err := parsed.DataPackage.Validate(); err != nil {
		return analysis.Report{}, fmt.Errorf("invalid report: %w", err)
	}
	return *parsed.DataPackage, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC3339 and the zone-less ISO forms the backend emits,
// treating the latter as UTC. Unparseable values yield the zero time.
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
