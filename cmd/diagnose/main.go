package main

// Record, upload and print the diagnosis report for one device:
//   go run ./cmd/diagnose -device PUMP-17 -file bench.wav -duration 10s

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"signalcraft-client/internal/bootstrap"
	"signalcraft-client/internal/diagnosis"
	"signalcraft-client/internal/shared/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Printf("diagnose: %v", err)
		os.Exit(1)
	}
}

type options struct {
	device   string
	file     string
	model    string
	target   string
	demo     bool
	duration time.Duration
	timeout  time.Duration
	username string
	password string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("diagnose", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.device, "device", "", "device id to diagnose")
	fs.StringVar(&opts.file, "file", "", "audio file replayed as the microphone")
	fs.StringVar(&opts.model, "model", "", "model preference (level1 or level2)")
	fs.StringVar(&opts.target, "target-model", "", "explicit model id")
	fs.BoolVar(&opts.demo, "demo", false, "use the built-in demo source")
	fs.DurationVar(&opts.duration, "duration", 5*time.Second, "recording length")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall analysis timeout")
	fs.StringVar(&opts.username, "username", os.Getenv("SIGNALCRAFT_USERNAME"), "backend username")
	fs.StringVar(&opts.password, "password", os.Getenv("SIGNALCRAFT_PASSWORD"), "backend password")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.device = strings.TrimSpace(opts.device)
	if opts.device == "" {
		return options{}, errors.New("-device is required")
	}
	if opts.duration <= 0 {
		return options{}, errors.New("-duration must be positive")
	}
	return opts, nil
}

// useFile replays path instead of the configured capture and reports its
// extension as the audio format.
func useFile(cfg *config.Config, path string) {
	cfg.Capture.Command = ""
	cfg.Capture.File = path
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext != "" {
		cfg.Upload.AudioFormat = ext
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if opts.demo {
		cfg.DemoMode = true
	}
	if opts.file != "" {
		useFile(&cfg, opts.file)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap build: %w", err)
	}
	defer app.Close()

	if err := login(ctx, app, opts); err != nil {
		return err
	}

	ctrl, err := app.Registry.Get(opts.device)
	if err != nil {
		return err
	}
	if _, err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	select {
	case <-time.After(opts.duration):
	case <-ctx.Done():
		ctrl.Reset(context.Background())
		return ctx.Err()
	}
	if _, err := ctrl.Stop(ctx); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}

	taskID, err := ctrl.Upload(ctx, diagnosis.UploadOptions{ModelPreference: opts.model, TargetModelID: opts.target})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Printf("diagnose: device=%s task=%s analyzing", opts.device, taskID)

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	snap, err := ctrl.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("wait for result: %w", err)
	}
	if snap.Error != "" {
		return fmt.Errorf("diagnosis failed (%s): %s", snap.ErrorCode, snap.Error)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Report)
}

func login(ctx context.Context, app *bootstrap.App, opts options) error {
	if app.Config.DemoMode || app.Backend == nil {
		app.Session.LoginDemo()
		return nil
	}
	if app.Session.IsAuthenticated() {
		return nil
	}
	if opts.username == "" || opts.password == "" {
		return errors.New("not logged in: pass -username and -password or set SIGNALCRAFT_USERNAME/SIGNALCRAFT_PASSWORD")
	}
	user, tok, err := app.Backend.Login(ctx, opts.username, opts.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return app.Session.Login(user, tok)
}
