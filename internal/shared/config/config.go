package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Env             string   `yaml:"env"`
	Port            string   `yaml:"port"`
	CORSAllowOrigin []string `yaml:"cors_allow_origins"`

	APIBaseURL    string        `yaml:"api_base_url"`
	APITimeout    time.Duration `yaml:"api_timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	DemoMode         bool          `yaml:"demo_mode"`
	DemoTaskDuration time.Duration `yaml:"demo_task_duration"`

	Upload  UploadConfig  `yaml:"upload"`
	Poll    PollConfig    `yaml:"poll"`
	Capture CaptureConfig `yaml:"capture"`

	ArchiveStore string `yaml:"archive_store"`
	AWSRegion    string `yaml:"aws_region"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3Prefix     string `yaml:"s3_prefix"`
	SSEKMSKeyID  string `yaml:"sse_kms_key_id"`

	DatabaseURL string `yaml:"database_url"`

	TokenFile   string `yaml:"token_file"`
	TokenSecret string `yaml:"-"`

	Notifier NotifierConfig `yaml:"notifier"`

	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`
}

// UploadConfig carries the metadata sent with every recording.
type UploadConfig struct {
	ModelPreference string `yaml:"model_preference"`
	TargetModelID   string `yaml:"target_model_id"`
	AudioFormat     string `yaml:"audio_format"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

// PollConfig mirrors poller.Policy.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Backoff     float64       `yaml:"backoff"`
	MaxInterval time.Duration `yaml:"max_interval"`
	MaxDuration time.Duration `yaml:"max_duration"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// CaptureConfig selects the microphone implementation.
type CaptureConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	Command       string `yaml:"command"`
	Device        string `yaml:"device"`
	File          string `yaml:"file"`
}

// NotifierConfig selects where finished diagnoses are published.
type NotifierConfig struct {
	Kind         string `yaml:"kind"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"-"`
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
}

// DefaultConfig returns the built-in defaults before any overlay is applied.
func DefaultConfig() Config {
	return Config{
		Env:              "dev",
		Port:             "8090",
		CORSAllowOrigin:  []string{"http://localhost:8081"},
		APIBaseURL:       "http://localhost:8000",
		APITimeout:       10 * time.Second,
		UploadTimeout:    60 * time.Second,
		DemoTaskDuration: 3 * time.Second,
		Upload: UploadConfig{
			ModelPreference: "level1",
			AudioFormat:     "m4a",
			SampleRate:      44100,
			Channels:        2,
		},
		Poll: PollConfig{
			Interval: 2 * time.Second,
			Backoff:  1,
		},
		Capture: CaptureConfig{
			RecordingsDir: "./data/recordings",
		},
		TokenFile: "./data/session.tok",
		Notifier: NotifierConfig{
			MQTTClientID: "signalcraft-agent",
			MQTTTopic:    "signalcraft/devices/{device_id}/diagnosis",
			NATSSubject:  "signalcraft.diagnosis",
		},
		CommandRate:  1,
		CommandBurst: 5,
	}
}

// Load reads configuration from defaults, an optional YAML file named by
// SIGNALCRAFT_CONFIG, and finally environment variables.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("SIGNALCRAFT_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ArchiveStore = normalizeStoreType(cfg.ArchiveStore)
	cfg.Notifier.Kind = strings.ToLower(strings.TrimSpace(cfg.Notifier.Kind))

	if cfg.Env == "production" && cfg.TokenSecret == "" {
		log.Printf("TOKEN_SECRET is required in production")
	}
	return cfg
}

func loadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		// godotenv never overrides variables already present in the process.
		if err := godotenv.Load(p); err != nil {
			log.Printf("config: load %s: %v", p, err)
		}
	}
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.CORSAllowOrigin = splitAndTrim(raw)
	}

	cfg.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", cfg.APIBaseURL), "/")
	cfg.APITimeout = getEnvSeconds("API_TIMEOUT_SECONDS", cfg.APITimeout)
	cfg.UploadTimeout = getEnvSeconds("UPLOAD_TIMEOUT_SECONDS", cfg.UploadTimeout)

	cfg.DemoMode = getEnvBool("DEMO_MODE", cfg.DemoMode)
	cfg.DemoTaskDuration = getEnvDuration("DEMO_TASK_DURATION", cfg.DemoTaskDuration)

	cfg.Upload.ModelPreference = getEnv("MODEL_PREFERENCE", cfg.Upload.ModelPreference)
	cfg.Upload.TargetModelID = getEnv("TARGET_MODEL_ID", cfg.Upload.TargetModelID)
	cfg.Upload.AudioFormat = getEnv("AUDIO_FORMAT", cfg.Upload.AudioFormat)
	cfg.Upload.SampleRate = getEnvInt("SAMPLE_RATE", cfg.Upload.SampleRate)
	cfg.Upload.Channels = getEnvInt("CHANNELS", cfg.Upload.Channels)

	cfg.Poll.Interval = getEnvDuration("POLL_INTERVAL", cfg.Poll.Interval)
	cfg.Poll.Backoff = getEnvFloat("POLL_BACKOFF", cfg.Poll.Backoff)
	cfg.Poll.MaxInterval = getEnvDuration("POLL_MAX_INTERVAL", cfg.Poll.MaxInterval)
	cfg.Poll.MaxDuration = getEnvDuration("POLL_MAX_DURATION", cfg.Poll.MaxDuration)
	cfg.Poll.MaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", cfg.Poll.MaxAttempts)

	cfg.Capture.RecordingsDir = getEnv("RECORDINGS_DIR", cfg.Capture.RecordingsDir)
	cfg.Capture.Command = getEnv("CAPTURE_COMMAND", cfg.Capture.Command)
	cfg.Capture.Device = getEnv("CAPTURE_DEVICE", cfg.Capture.Device)
	cfg.Capture.File = getEnv("CAPTURE_FILE", cfg.Capture.File)

	cfg.ArchiveStore = getEnv("ARCHIVE_STORE", cfg.ArchiveStore)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.SSEKMSKeyID = getEnv("S3_SSE_KMS_KEY_ID", cfg.SSEKMSKeyID)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.TokenFile = getEnv("TOKEN_FILE", cfg.TokenFile)
	cfg.TokenSecret = getEnv("TOKEN_SECRET", cfg.TokenSecret)

	cfg.Notifier.Kind = getEnv("NOTIFIER", cfg.Notifier.Kind)
	cfg.Notifier.MQTTBroker = getEnv("MQTT_BROKER", cfg.Notifier.MQTTBroker)
	cfg.Notifier.MQTTClientID = getEnv("MQTT_CLIENT_ID", cfg.Notifier.MQTTClientID)
	cfg.Notifier.MQTTTopic = getEnv("MQTT_TOPIC", cfg.Notifier.MQTTTopic)
	cfg.Notifier.MQTTUsername = getEnv("MQTT_USERNAME", cfg.Notifier.MQTTUsername)
	cfg.Notifier.MQTTPassword = getEnv("MQTT_PASSWORD", cfg.Notifier.MQTTPassword)
	cfg.Notifier.NATSURL = getEnv("NATS_URL", cfg.Notifier.NATSURL)
	cfg.Notifier.NATSSubject = getEnv("NATS_SUBJECT", cfg.Notifier.NATSSubject)

	cfg.CommandRate = getEnvFloat("COMMAND_RATE", cfg.CommandRate)
	cfg.CommandBurst = getEnvInt("COMMAND_BURST", cfg.CommandBurst)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s invalid int: %v", key, err)
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config: %s invalid float: %v", key, err)
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: %s invalid bool: %v", key, err)
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config: %s invalid duration: %v", key, err)
		return def
	}
	return v
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("config: %s invalid seconds: %q", key, raw)
		return def
	}
	return time.Duration(v) * time.Second
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "local":
		return "local"
	default:
		return ""
	}
}
