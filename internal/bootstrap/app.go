package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/agentapi"
	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/backend"
	"signalcraft-client/internal/capture"
	"signalcraft-client/internal/datasource"
	"signalcraft-client/internal/diagnosis"
	"signalcraft-client/internal/history"
	"signalcraft-client/internal/notify"
	"signalcraft-client/internal/poller"
	"signalcraft-client/internal/session"
	"signalcraft-client/internal/shared/config"
	"signalcraft-client/internal/shared/server"
	"signalcraft-client/internal/shared/server/middleware"
	"signalcraft-client/internal/shared/storage/db"
	"signalcraft-client/internal/shared/storage/object"
	localstore "signalcraft-client/internal/shared/storage/object/local"
	s3store "signalcraft-client/internal/shared/storage/object/s3"
)

const logoutResetTimeout = 10 * time.Second

// App holds the agent's shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Session    *session.State
	Backend    *backend.Client
	Demo       *datasource.Demo
	Source     datasource.Source
	Recordings object.Store
	Archive    object.Store
	History    history.Repo
	Notifier   notify.Notifier
	Registry   *diagnosis.Registry
	Handler    *agentapi.Handler
}

// Build wires every component from cfg.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.Capture.RecordingsDir) == "" {
		cfg.Capture.RecordingsDir = config.DefaultConfig().Capture.RecordingsDir
	}
	ctx := context.Background()

	state, err := buildSession(cfg)
	if err != nil {
		return nil, err
	}

	client, err := buildBackend(cfg, state)
	if err != nil {
		return nil, err
	}

	demo := datasource.NewDemo(cfg.DemoTaskDuration)
	var source datasource.Source
	if client == nil {
		source = datasource.Select(true, nil, demo, nil)
	} else {
		source = datasource.Select(cfg.DemoMode, client, demo, state.IsDemo)
	}

	mic, err := buildMicrophone(cfg)
	if err != nil {
		return nil, err
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var historyRepo history.Repo
	if sqlDB != nil {
		historyRepo = &history.PGRepo{DB: sqlDB}
	} else {
		historyRepo = history.NewMemoryRepo()
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}

	app := &App{
		Config:     cfg,
		DB:         sqlDB,
		Session:    state,
		Backend:    client,
		Demo:       demo,
		Source:     source,
		Recordings: localstore.New(cfg.Capture.RecordingsDir),
		Archive:    archive,
		History:    historyRepo,
		Notifier:   notifier,
	}
	app.Registry = diagnosis.NewRegistry(app.controllerFactory(mic, buildPermissions(cfg)))
	state.OnLogout(app.resetOnLogout)

	var auth agentapi.Authenticator
	if client != nil {
		auth = client
	}
	app.Handler = agentapi.NewHandler(agentapi.Deps{
		Session:        state,
		Auth:           auth,
		Source:         source,
		Registry:       app.Registry,
		History:        historyRepo,
		DemoEnabled:    cfg.DemoMode || client == nil || isDevLike(cfg.Env),
		AllowedOrigins: cfg.CORSAllowOrigin,
		CommandLimit:   middleware.RateLimitRule{Rate: cfg.CommandRate, Burst: cfg.CommandBurst},
	})
	app.Router = server.NewRouter(cfg, app.Handler)

	if client != nil && state.IsAuthenticated() {
		loadProfile(ctx, cfg, client, state)
	}
	return app, nil
}

// resetOnLogout discards every device's diagnosis once the session ends.
// Logout can fire on a poll goroutine and Reset waits for that goroutine, so
// the reset runs on its own.
func (a *App) resetOnLogout(reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), logoutResetTimeout)
		defer cancel()
		if err := a.Registry.ResetAll(ctx); err != nil {
			log.Printf("bootstrap: reset after logout (%s): %v", reason, err)
		}
	}()
}

// Close stops every controller and releases external connections.
func (a *App) Close() error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.Notifier != nil {
		errs = append(errs, a.Notifier.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) controllerFactory(mic capture.Microphone, perms capture.PermissionChecker) diagnosis.Factory {
	cfg := a.Config
	policy := poller.Policy{
		Interval:    cfg.Poll.Interval,
		Backoff:     cfg.Poll.Backoff,
		MaxInterval: cfg.Poll.MaxInterval,
		MaxDuration: cfg.Poll.MaxDuration,
		MaxAttempts: cfg.Poll.MaxAttempts,
	}
	upload := analysis.UploadRequest{
		AudioFormat:     cfg.Upload.AudioFormat,
		SampleRate:      cfg.Upload.SampleRate,
		Channels:        cfg.Upload.Channels,
		ModelPreference: cfg.Upload.ModelPreference,
		TargetModelID:   cfg.Upload.TargetModelID,
	}
	return func(deviceID string) (*diagnosis.Controller, error) {
		rec, err := capture.NewController(capture.Options{
			DeviceID:    deviceID,
			Microphone:  mic,
			Permissions: perms,
			Store:       a.Recordings,
			Archive:     a.Archive,
			Audio: capture.AudioConfig{
				SampleRate: cfg.Upload.SampleRate,
				Channels:   cfg.Upload.Channels,
				Format:     cfg.Upload.AudioFormat,
				Device:     cfg.Capture.Device,
			},
		})
		if err != nil {
			return nil, err
		}
		req := upload
		req.DeviceID = deviceID
		return diagnosis.NewController(diagnosis.Options{
			DeviceID: deviceID,
			Recorder: rec,
			Source:   a.Source,
			Poller:   poller.New(policy),
			History:  a.History,
			Notifier: a.Notifier,
			Upload:   req,
		})
	}
}

func buildSession(cfg config.Config) (*session.State, error) {
	var vault session.Vault
	if strings.TrimSpace(cfg.TokenSecret) == "" || cfg.DemoMode {
		if !cfg.DemoMode {
			log.Printf("bootstrap: TOKEN_SECRET empty; session tokens are kept in memory only")
		}
		vault = session.NewMemoryVault()
	} else {
		fv, err := session.NewFileVault(cfg.TokenFile, cfg.TokenSecret)
		if err != nil {
			return nil, fmt.Errorf("token vault: %w", err)
		}
		vault = fv
	}
	state := session.New(vault)
	if err := state.Restore(); err != nil {
		// A vault that cannot be decrypted is treated as logged out.
		log.Printf("bootstrap: discarding stored session: %v", err)
		state.Logout(session.ReasonExpired)
	}
	return state, nil
}

func buildBackend(cfg config.Config, state *session.State) (*backend.Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		if cfg.DemoMode {
			return nil, nil
		}
		return nil, fmt.Errorf("API_BASE_URL is required unless DEMO_MODE is set")
	}
	client, err := backend.NewClient(backend.Options{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.APITimeout,
		UploadTimeout: cfg.UploadTimeout,
	}, state, func() {
		state.Logout(session.ReasonUnauthorized)
	})
	if err != nil {
		if cfg.DemoMode {
			log.Printf("bootstrap: backend disabled in demo mode: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildMicrophone(cfg config.Config) (*capture.Exclusive, error) {
	var mic capture.Microphone
	switch {
	case strings.TrimSpace(cfg.Capture.Command) != "":
		mic = capture.CommandMicrophone{Command: cfg.Capture.Command}
	case strings.TrimSpace(cfg.Capture.File) != "":
		mic = capture.FileMicrophone{Path: cfg.Capture.File}
	case cfg.DemoMode:
		// Demo recordings are empty; the demo source ignores the payload.
		mic = capture.FileMicrophone{Path: os.DevNull}
	default:
		return nil, fmt.Errorf("CAPTURE_COMMAND or CAPTURE_FILE is required")
	}
	return capture.NewExclusive(mic), nil
}

func buildPermissions(cfg config.Config) capture.PermissionChecker {
	if strings.HasPrefix(cfg.Capture.Device, "/dev/") {
		return capture.DevicePermission{Path: cfg.Capture.Device}
	}
	return capture.StaticPermission(true)
}

func buildArchive(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ArchiveStore {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "local":
		return localstore.New(filepath.Join(cfg.Capture.RecordingsDir, "archive")), nil
	default:
		return nil, nil
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("bootstrap: DATABASE_URL empty; using in-memory history")
		return nil, nil
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultAgentOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory history: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: migrations failed; using in-memory history: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildNotifier(cfg config.Config) (notify.Notifier, error) {
	n := cfg.Notifier
	switch n.Kind {
	case "mqtt":
		return notify.NewMQTT(notify.MQTTConfig{
			Broker:   n.MQTTBroker,
			ClientID: n.MQTTClientID,
			Username: n.MQTTUsername,
			Password: n.MQTTPassword,
			Topic:    n.MQTTTopic,
		})
	case "nats":
		return notify.NewNATS(n.NATSURL, n.NATSSubject)
	case "":
		return notify.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown NOTIFIER %q", n.Kind)
	}
}

func loadProfile(ctx context.Context, cfg config.Config, client *backend.Client, state *session.State) {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig().APITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	user, err := client.Me(ctx)
	if err != nil {
		// A 401 has already logged the session out.
		log.Printf("bootstrap: restore profile: %v", err)
		return
	}
	state.SetUser(user)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
