package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/telemetry"
)

const defaultDemoDuration = 3 * time.Second

// Demo serves canned analyses without a backend. Scenarios are keyed on the
// device id: MOCK-001 is critical, MOCK-002 is a warning, anything else is
// normal.
type Demo struct {
	duration time.Duration
	now      func() time.Time

	mu    sync.Mutex
	tasks map[string]demoTask
}

type demoTask struct {
	deviceID  string
	createdAt time.Time
}

// NewDemo returns a demo source whose tasks complete after duration.
func NewDemo(duration time.Duration) *Demo {
	if duration <= 0 {
		duration = defaultDemoDuration
	}
	return &Demo{duration: duration, now: time.Now, tasks: make(map[string]demoTask)}
}

func (d *Demo) Upload(ctx context.Context, req analysis.UploadRequest, body io.Reader) (string, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", &analysis.UploadError{Err: errors.New("device id is required")}
	}
	if body != nil {
		if _, err := io.Copy(io.Discard, body); err != nil {
			return "", &analysis.UploadError{Err: fmt.Errorf("read recording: %w", err)}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", &analysis.UploadError{Err: err}
	}
	id := uuid.NewString()
	d.mu.Lock()
	d.tasks[id] = demoTask{deviceID: req.DeviceID, createdAt: d.now()}
	d.mu.Unlock()
	telemetry.Info("demo.upload", map[string]any{"device_id": req.DeviceID, "task_id": id})
	return id, nil
}

// TaskStatus reports PENDING, then PROCESSING, then COMPLETED as the
// configured duration elapses.
func (d *Demo) TaskStatus(ctx context.Context, taskID string) (analysis.Task, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Task{}, &analysis.PollError{TaskID: taskID, Err: err}
	}
	d.mu.Lock()
	task, ok := d.tasks[taskID]
	d.mu.Unlock()
	if !ok {
		return analysis.Task{}, &analysis.PollError{TaskID: taskID, StatusCode: http.StatusNotFound, Err: errors.New("task not found")}
	}

	elapsed := d.now().Sub(task.createdAt)
	out := analysis.Task{ID: taskID, CreatedAt: task.createdAt}
	switch {
	case elapsed < d.duration/3:
		out.Status = analysis.StatusPending
	case elapsed < d.duration:
		out.Status = analysis.StatusProcessing
	default:
		out.Status = analysis.StatusCompleted
		result := scenarioFor(task.deviceID).result()
		out.Result = &result
	}
	return out, nil
}

func (d *Demo) Report(ctx context.Context, deviceID string) (analysis.Report, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Report{}, &analysis.ReportFetchError{DeviceID: deviceID, Err: err}
	}
	if strings.TrimSpace(deviceID) == "" {
		return analysis.Report{}, &analysis.ReportFetchError{DeviceID: deviceID, Err: errors.New("device id is required")}
	}
	return scenarioFor(deviceID).report(d.now()), nil
}

func (d *Demo) Models(ctx context.Context, deviceType string) ([]analysis.ModelDescriptor, error) {
	return []analysis.ModelDescriptor{
		{
			ID:          analysis.ModelHybrid,
			Name:        "Hybrid ML",
			Type:        "hybrid",
			Description: "Rule features combined with a gradient-boosted classifier.",
			IsDefault:   true,
		},
		{
			ID:          analysis.ModelAutoencoder,
			Name:        "Autoencoder",
			Type:        "deep_learning",
			Description: "Reconstruction-error anomaly detector.",
		},
	}, nil
}

func (d *Demo) UpdateDeviceConfig(ctx context.Context, deviceID string, cfg analysis.DeviceConfig) (analysis.DeviceConfigResult, error) {
	if err := cfg.Validate(); err != nil {
		return analysis.DeviceConfigResult{}, err
	}
	return analysis.DeviceConfigResult{
		DeviceID:            deviceID,
		ThresholdMultiplier: cfg.ThresholdMultiplier,
		SensitivityLevel:    cfg.SensitivityLevel,
		UpdatedAt:           d.now().UTC(),
	}, nil
}

type scenario struct {
	state       analysis.Classification
	health      float64
	summary     string
	rootCause   string
	confidence  float64
	severity    float64
	action      string
	parts       []string
	downtime    string
	consensus   float64
	votes       map[string]analysis.Vote
	peaks       []analysis.Peak
	spectrum    string
	rulDays     float64
	resultScore float64
	trend       func(i int) float64
}

func scenarioFor(deviceID string) scenario {
	switch {
	case strings.HasPrefix(deviceID, "MOCK-001"):
		return criticalScenario
	case strings.HasPrefix(deviceID, "MOCK-002"):
		return warningScenario
	default:
		return normalScenario
	}
}

func (s scenario) result() analysis.Result {
	return analysis.Result{
		Label:   string(s.state),
		Score:   s.resultScore,
		Summary: s.summary,
		Details: analysis.ResultDetails{
			NoiseLevel: round2(60 + 40*s.resultScore),
			Frequency:  235,
		},
	}
}

func (s scenario) report(now time.Time) analysis.Report {
	today := now.UTC()
	history := make([]analysis.ScorePoint, 30)
	for i := range history {
		history[i] = analysis.ScorePoint{
			Date:  today.AddDate(0, 0, i-29).Format("2006-01-02"),
			Value: round2(s.trend(i)),
		}
	}
	votes := make(map[string]analysis.Vote, len(s.votes))
	for k, v := range s.votes {
		votes[k] = v
	}
	result := s.result()
	return analysis.Report{
		EntityType: "RotatingMachine",
		Status: analysis.StatusSummary{
			CurrentState: s.state,
			HealthScore:  s.health,
			Label:        string(s.state),
			Summary:      s.summary,
		},
		Diagnosis: analysis.RootCause{
			RootCause:     s.rootCause,
			Confidence:    s.confidence,
			SeverityScore: s.severity,
		},
		MaintenanceGuide: analysis.MaintenanceGuide{
			ImmediateAction:   s.action,
			RecommendedParts:  append([]string{}, s.parts...),
			EstimatedDowntime: s.downtime,
		},
		Ensemble: analysis.Ensemble{ConsensusScore: s.consensus, VotingResult: votes},
		Frequency: analysis.FrequencyProfile{
			BPFOFrequency: 235.4,
			DetectedPeaks: append([]analysis.Peak{}, s.peaks...),
			Diagnosis:     s.spectrum,
		},
		Predictive: analysis.Predictive{
			RULPredictionDays:   s.rulDays,
			AnomalyScoreHistory: history,
		},
		OriginalResult: &result,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var criticalScenario = scenario{
	state:      analysis.ClassCritical,
	health:     35.2,
	summary:    "Critical failure detected. Immediate action required.",
	rootCause:  "Inner Race Bearing Fault",
	confidence: 0.98,
	severity:   9,
	action:     "Stop the machine and replace the bearing unit.",
	parts:      []string{"Bearing Unit (SKF-6205)", "Seal Kit", "O-Ring Set"},
	downtime:   "4~6 Hours",
	consensus:  0.98,
	votes: map[string]analysis.Vote{
		"Autoencoder":  {Status: analysis.ClassCritical, Score: 0.99},
		"SVM":          {Status: analysis.ClassCritical, Score: 0.95},
		"CNN":          {Status: analysis.ClassCritical, Score: 0.98},
		"RandomForest": {Status: analysis.ClassWarning, Score: 0.75},
		"MIMII":        {Status: analysis.ClassCritical, Score: 0.92},
	},
	peaks: []analysis.Peak{
		{Hz: 60, Amp: 0.2, Label: "Power"},
		{Hz: 120, Amp: 0.1, Label: "Harmonic"},
		{Hz: 235, Amp: 0.85, Match: true, Label: "BPFO (Fault)"},
	},
	spectrum:    "Spectrum peak at 235Hz matches BPFO signature.",
	rulDays:     14,
	resultScore: 0.85,
	trend: func(i int) float64 {
		x := float64(i) / 29
		return 0.2 + 0.7*x*x
	},
}

var warningScenario = scenario{
	state:      analysis.ClassWarning,
	health:     68.4,
	summary:    "Abnormal vibration patterns detected.",
	rootCause:  "Shaft Misalignment",
	confidence: 0.75,
	severity:   5,
	action:     "Run laser alignment and top up lubricant at the next scheduled check.",
	parts:      []string{"Shim Kit (0.5mm)", "High-Temp Grease"},
	downtime:   "1~2 Hours",
	consensus:  0.72,
	votes: map[string]analysis.Vote{
		"Autoencoder":  {Status: analysis.ClassWarning, Score: 0.70},
		"SVM":          {Status: analysis.ClassNormal, Score: 0.45},
		"CNN":          {Status: analysis.ClassWarning, Score: 0.78},
		"RandomForest": {Status: analysis.ClassWarning, Score: 0.65},
		"MIMII":        {Status: analysis.ClassWarning, Score: 0.72},
	},
	peaks: []analysis.Peak{
		{Hz: 60, Amp: 0.3, Label: "Power"},
		{Hz: 120, Amp: 0.25, Label: "Harmonic"},
	},
	spectrum:    "Elevated harmonics detected. Possible looseness.",
	rulDays:     45,
	resultScore: 0.85,
	trend: func(i int) float64 {
		return 0.1 + 0.5*float64(i)/29
	},
}

var normalScenario = scenario{
	state:      analysis.ClassNormal,
	health:     98.5,
	summary:    "System operating within optimal parameters",
	rootCause:  "None",
	confidence: 0.99,
	severity:   0,
	action:     "No action required.",
	parts:      []string{},
	downtime:   "0 Hours",
	consensus:  0.12,
	votes: map[string]analysis.Vote{
		"Autoencoder":  {Status: analysis.ClassNormal, Score: 0.10},
		"SVM":          {Status: analysis.ClassNormal, Score: 0.05},
		"CNN":          {Status: analysis.ClassNormal, Score: 0.12},
		"RandomForest": {Status: analysis.ClassNormal, Score: 0.08},
		"MIMII":        {Status: analysis.ClassNormal, Score: 0.15},
	},
	peaks: []analysis.Peak{
		{Hz: 60, Amp: 0.15, Label: "Power"},
		{Hz: 120, Amp: 0.05, Label: "Harmonic"},
	},
	spectrum:    "No abnormal frequency patterns detected.",
	rulDays:     365,
	resultScore: 0.12,
	trend: func(i int) float64 {
		return 0.1 + 0.05*float64(i%3)/10
	},
}

var _ Source = (*Demo)(nil)
