package diagnosis

import (
	"time"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/capture"
)

// State is the lifecycle state of a device diagnosis.
type State string

const (
	StateIdle           State = "idle"
	StateRecording      State = "recording"
	StateAnalyzing      State = "analyzing"
	StateFetchingReport State = "fetching_report"
	StateResult         State = "result"
)

// Outcome labels for metrics and logs.
const (
	outcomeCompleted    = "completed"
	outcomeFailed       = "task_failed"
	outcomePollError    = "poll_error"
	outcomeReportError  = "report_error"
	outcomeUploadFailed = "upload_failed"
)

// Snapshot is an immutable view of a controller.
type Snapshot struct {
	DeviceID   string           `json:"device_id"`
	State      State            `json:"state"`
	Recording  capture.Session  `json:"recording"`
	Task       *analysis.Task   `json:"task,omitempty"`
	Report     *analysis.Report `json:"report,omitempty"`
	ModelID    string           `json:"model_id,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Generation uint64           `json:"generation"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
