// gamerecorder - match packet recorder for game hosts.
//
// gamerecorder receives packet notifications from game hosts over a local
// TCP connection, keeps a per-session packet log, and when a match ends
// encodes the logs of every participant (including sessions that left
// mid-match) into a compact replay blob that is archived to disk and
// SQLite. A REST API exposes capture statistics and archived replays, and
// optional MQTT telemetry reports replay and anomaly events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/gamerecorder/internal/api"
	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/db"
	"github.com/energizer-project/gamerecorder/internal/events"
	"github.com/energizer-project/gamerecorder/internal/network"
	"github.com/energizer-project/gamerecorder/internal/recorder"
	"github.com/energizer-project/gamerecorder/internal/scheduler"
	"github.com/energizer-project/gamerecorder/internal/storage"
	"github.com/energizer-project/gamerecorder/internal/telemetry"
	"github.com/energizer-project/gamerecorder/internal/util"
)

const (
	AppName    = "gamerecorder"
	AppVersion = "1.0.0"
	Banner     = `
  __ _  __ _ _ __ ___   ___ _ __ ___  ___ ___  _ __ __| | ___ _ __
 / _' |/ _' | '_ ' _ \ / _ \ '__/ _ \/ __/ _ \| '__/ _' |/ _ \ '__|
| (_| | (_| | | | | | |  __/ | |  __/ (_| (_) | | | (_| |  __/ |
 \__, |\__,_|_| |_| |_|\___|_|  \___|\___\___/|_|  \__,_|\___|_|
 |___/  v%s
 Match packet recorder
`
)

func main() {
	var configDir string

	root := &cobra.Command{
		Use:           AppName,
		Short:         "Record match packets from game hosts into replays",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configDir)
		},
	}
	root.Flags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "configuration directory")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	logCloser, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting gamerecorder")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app := cfg.GetApplicationData()
	rec := cfg.GetRecorderData()

	// Re-initialize logger with config-based settings
	logCloser.Close()
	logCloser, err = util.InitLogger(util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		MaxAgeDays: app.Logging.MaxAgeDays,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to reconfigure logger: %w", err)
	}
	defer logCloser.Close()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Capture state and the match-end coordinator
	rcd := recorder.New(eventBus, recorder.Options{
		EvictAfterEncode: rec.EvictAfterEncode,
		TombstoneTTL:     rec.LateCaptureTTLDuration(),
		TombstoneSize:    rec.LateCaptureCacheSize,
	})
	rcd.Register()

	// Replay sinks
	var (
		sinks    []storage.Sink
		replayDB *db.ReplayDatabase
		files    *storage.FileSink
	)
	if app.Storage.DatabaseEnabled {
		replayDB, err = db.NewReplayDatabase(app.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open replay database: %w", err)
		}
		defer replayDB.Close()
		log.Info().Str("path", replayDB.Path()).Msg("replay database opened")
		sinks = append(sinks, storage.NewDatabaseSink(replayDB))
	}
	if app.Storage.FileEnabled {
		files, err = storage.NewFileSink(app.Storage.ArchiveDir)
		if err != nil {
			return fmt.Errorf("failed to prepare archive directory: %w", err)
		}
		sinks = append(sinks, files)
	}

	archiver := storage.NewArchiver(eventBus, sinks...)
	archiver.Register()

	hosts := network.NewConnectionRegistry()
	tcpListener := network.NewTCPListener(rec, eventBus, hosts)

	apiDeps := api.Dependencies{
		Version:  AppVersion,
		Recorder: rcd,
		Hosts:    hosts,
		Archiver: archiver,
	}
	schedDeps := scheduler.Dependencies{Stats: rcd}
	if replayDB != nil {
		apiDeps.Replays = replayDB
		schedDeps.Database = replayDB
	}
	if files != nil {
		schedDeps.Files = files
		schedDeps.DiskPath = files.Dir()
	}

	apiServer := api.NewServer(cfg, apiDeps)
	sched := scheduler.NewScheduler(cfg, schedDeps)

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Capture listener: the recorder is useless without it
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", rec.CapturePort).Msg("starting capture listener")
		if err := startWithRetry(ctx, "capture listener", tcpListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("capture listener failed after retries")
			errCh <- fmt.Errorf("capture listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", rec.APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Announce the shutdown while telemetry is still connected
	if err := eventBus.EmitSync(ctx, events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	}); err != nil {
		log.Warn().Err(err).Msg("shutdown handlers reported errors")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Let in-flight replays reach their sinks before the database closes
	eventBus.Stop()

	stats := rcd.Stats()
	log.Info().
		Uint64("matches_encoded", stats.MatchesEncoded).
		Int("sessions_discarded", stats.Sessions).
		Uint64("late_captures", stats.LateCaptures).
		Msg("gamerecorder stopped")

	return runErr
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
