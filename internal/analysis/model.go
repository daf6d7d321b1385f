package analysis

import (
	"fmt"
	"time"
)

// TaskStatus is the server-reported state of an analysis task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether no further transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Classification is the health bucket assigned to a device.
type Classification string

const (
	ClassNormal   Classification = "NORMAL"
	ClassWarning  Classification = "WARNING"
	ClassCritical Classification = "CRITICAL"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	return c == ClassNormal || c == ClassWarning || c == ClassCritical
}

// Task is one submitted analysis job.
type Task struct {
	ID        string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Result    *Result    `json:"result,omitempty"`
}

// Result is the summary payload attached to a finished task.
type Result struct {
	Label   string        `json:"label"`
	Score   float64       `json:"score"`
	Summary string        `json:"summary"`
	Details ResultDetails `json:"details"`
}

// ResultDetails carries the raw acoustic measurements behind a result.
type ResultDetails struct {
	NoiseLevel float64  `json:"noise_level"`
	Frequency  float64  `json:"frequency"`
	Vibration  *float64 `json:"vibration,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
}

// Report is the detailed diagnostic snapshot for a device.
type Report struct {
	EntityType       string           `json:"entity_type"`
	Status           StatusSummary    `json:"status"`
	Diagnosis        RootCause        `json:"diagnosis"`
	MaintenanceGuide MaintenanceGuide `json:"maintenance_guide"`
	Ensemble         Ensemble         `json:"ensemble_analysis"`
	Frequency        FrequencyProfile `json:"frequency_analysis"`
	Predictive       Predictive       `json:"predictive_insight"`
	OriginalResult   *Result          `json:"original_analysis_result,omitempty"`
}

type StatusSummary struct {
	CurrentState Classification `json:"current_state"`
	HealthScore  float64        `json:"health_score"`
	Label        string         `json:"label"`
	Summary      string         `json:"summary"`
}

type RootCause struct {
	RootCause     string  `json:"root_cause"`
	Confidence    float64 `json:"confidence"`
	SeverityScore float64 `json:"severity_score"`
}

type MaintenanceGuide struct {
	ImmediateAction   string   `json:"immediate_action"`
	RecommendedParts  []string `json:"recommended_parts"`
	EstimatedDowntime string   `json:"estimated_downtime"`
}

// Ensemble is the per-model vote bundle.
type Ensemble struct {
	ConsensusScore float64         `json:"consensus_score"`
	VotingResult   map[string]Vote `json:"voting_result"`
}

type Vote struct {
	Status Classification `json:"status"`
	Score  float64        `json:"score"`
}

type FrequencyProfile struct {
	BPFOFrequency float64 `json:"bpfo_frequency"`
	DetectedPeaks []Peak  `json:"detected_peaks"`
	Diagnosis     string  `json:"diagnosis"`
}

type Peak struct {
	Hz    float64 `json:"hz"`
	Amp   float64 `json:"amp"`
	Match bool    `json:"match"`
	Label string  `json:"label"`
}

type Predictive struct {
	RULPredictionDays   float64      `json:"rul_prediction_days"`
	AnomalyScoreHistory []ScorePoint `json:"anomaly_score_history"`
}

type ScorePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Validate checks the fields the client relies on.
func (r Report) Validate() error {
	if !r.Status.CurrentState.Valid() {
		return fmt.Errorf("unknown classification %q", r.Status.CurrentState)
	}
	for name, v := range r.Ensemble.VotingResult {
		if !v.Status.Valid() {
			return fmt.Errorf("model %s: unknown classification %q", name, v.Status)
		}
	}
	return nil
}

// Well-known model ids.
const (
	ModelHybrid      = "level1"
	ModelAutoencoder = "level2"
)

// ModelDescriptor describes an analysis model offered by the backend.
type ModelDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

// Sensitivity is the anomaly sensitivity level for a device.
type Sensitivity string

const (
	SensitivityHigh   Sensitivity = "HIGH"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityLow    Sensitivity = "LOW"
)

// DeviceConfig is the calibration update sent for a device.
type DeviceConfig struct {
	ThresholdMultiplier float64     `json:"threshold_multiplier"`
	SensitivityLevel    Sensitivity `json:"sensitivity_level"`
}

// Validate rejects values the backend would refuse.
func (c DeviceConfig) Validate() error {
	if c.ThresholdMultiplier <= 0 {
		return &ValidationError{Field: "threshold_multiplier", Reason: "must be greater than 0"}
	}
	switch c.SensitivityLevel {
	case SensitivityHigh, SensitivityMedium, SensitivityLow:
		return nil
	}
	return &ValidationError{Field: "sensitivity_level", Reason: "must be HIGH, MEDIUM or LOW"}
}

// DeviceConfigResult is the backend acknowledgement of a config update.
type DeviceConfigResult struct {
	DeviceID            string      `json:"device_id"`
	ThresholdMultiplier float64     `json:"threshold_multiplier"`
	SensitivityLevel    Sensitivity `json:"sensitivity_level"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// UploadRequest describes one recording submission.
type UploadRequest struct {
	DeviceID        string
	FileName        string
	SizeBytes       int64
	AudioFormat     string
	SampleRate      int
	Channels        int
	ModelPreference string
	TargetModelID   string
}

// LargeArtifactBytes is the size above which a recording is flagged for
// compression. Flagged recordings are still sent unmodified.
const LargeArtifactBytes = 5 << 20
