package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/chat"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/orchestrator"
	"github.com/loqalabs/loqa-voice/internal/playback"
	"github.com/loqalabs/loqa-voice/internal/runtime"
	"github.com/loqalabs/loqa-voice/internal/speech"
)

var version = "0.1.0-dev"

const drainTimeout = 15 * time.Second

func main() {
	var (
		configPath  string
		showVersion bool
		muted       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults plus LOQA_* env when empty)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&muted, "mute", false, "Start with speech output muted")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// stdout carries the conversation; logs go to stderr.
	logger := runtime.NewLogger(os.Stderr, "info")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.RuntimeName == config.Default().RuntimeName {
		cfg.RuntimeName = "loqa-chat"
	}
	cfg.Telemetry.TraceStdout = false
	logger = runtime.NewLogger(os.Stderr, cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, muted, logger); err != nil {
		logger.Error("loqa-chat exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, muted bool, logger *slog.Logger) error {
	telemetry, err := runtime.SetupTelemetry(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()
	if telemetry.Metrics != nil {
		metricsServer := serveMetrics(cfg.Telemetry.PrometheusBind, telemetry.Metrics, logger)
		defer metricsServer.Close()
	}

	backend, err := chat.NewBackend(cfg.Chat, logger)
	if err != nil {
		return err
	}
	player, err := playback.NewPlayer(cfg.Playback)
	if err != nil {
		return err
	}

	var events orchestrator.EventPublisher
	if cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, cfg.Bus, cfg.RuntimeName, logger.With(slog.String("component", "bus")))
		if err != nil {
			logger.Warn("bus unavailable, continuing without events", slog.String("error", err.Error()))
		} else {
			defer client.Close()
			events = client
		}
	}

	sessionID := uuid.NewString()
	synth := speech.NewClient(cfg.Speech.BaseURL, cfg.Speech.Model, time.Duration(cfg.Speech.TimeoutMS)*time.Millisecond)
	dispatcher := orchestrator.NewDispatcher(ctx, synth, player, orchestrator.DispatcherOptions{
		SessionID:    sessionID,
		Timeout:      time.Duration(cfg.Speech.TimeoutMS) * time.Millisecond,
		CleanupDelay: time.Duration(cfg.Speech.CleanupDelayMS) * time.Millisecond,
		TempDir:      cfg.Speech.TempDir,
		Normalize:    cfg.Speech.NormalizeMarkup,
		Events:       events,
	}, logger)
	dispatcher.SetMuted(muted)

	r := newREPL(os.Stdin, os.Stdout, dispatcher)
	opts := orchestrator.OptionsFromConfig(cfg.Chat, cfg.Speech)
	opts.Progress = r.progress
	session := orchestrator.NewSession(sessionID, orchestrator.New(backend, dispatcher, opts, logger), events, logger)

	logger.Info("chat session started",
		slog.String("session_id", sessionID),
		slog.String("chat_mode", cfg.Chat.Mode),
		slog.String("model", cfg.Chat.Model),
		slog.String("speech_url", cfg.Speech.BaseURL))

	err = r.run(ctx, session)
	drain(dispatcher, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drain gives in-flight sentences a bounded chance to finish playing.
func drain(d *orchestrator.Dispatcher, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Warn("abandoning in-flight speech")
	}
	d.Close()
}

func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}
