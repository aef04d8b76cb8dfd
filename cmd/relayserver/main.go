// relaybench relay server - emulates single-byte TCP relay devices.
//
// Each configured port owns one ON/OFF state cell. Clients connect, send one
// command byte (0x00 OFF, 0x01 ON, 0x03 GET) and the server applies it or
// replies with the current state. State can be observed through a read-only
// REST API, MQTT telemetry, a Redis mirror and a SQLite command journal.
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

	"github.com/relaybench/relaybench/internal/api"
	"github.com/relaybench/relaybench/internal/cli"
	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/db"
	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/mirror"
	"github.com/relaybench/relaybench/internal/scheduler"
	"github.com/relaybench/relaybench/internal/server"
	"github.com/relaybench/relaybench/internal/telemetry"
	"github.com/relaybench/relaybench/internal/util"
)

const (
	AppName    = "relaybench"
	AppVersion = "1.0.0"
	Banner     = `
           _             _                     _
  _ __ ___| | __ _ _   _| |__   ___ _ __   ___| |__
 | '__/ _ \ |/ _' | | | | '_ \ / _ \ '_ \ / __| '_ \
 | | |  __/ | (_| | |_| | |_) |  __/ | | | (__| | | |
 |_|  \___|_|\__,_|\__, |_.__/ \___|_| |_|\___|_| |_|
                   |___/  v%s
 Single-byte TCP relay emulator
`
	shutdownTimeout = 30 * time.Second
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the config file is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting relaybench")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxSizeMB:  appData.Logging.MaxSizeMB,
		MaxBackups: appData.Logging.MaxBackups,
		MaxAgeDays: appData.Logging.MaxAgeDays,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	hostInfo, err := util.CollectHostInfo(context.Background())
	if err != nil {
		log.Debug().Err(err).Msg("some host facts unavailable")
	}
	log.Info().
		Str("hostname", hostInfo.Hostname).
		Str("os", hostInfo.OS).
		Str("cpu", hostInfo.CPUModel).
		Int("cores", hostInfo.CPUCores).
		Uint64("memory_mb", hostInfo.MemoryMB).
		Msg("system information")

	endpoint := cfg.GetEndpoint()
	log.Info().
		Str("address", util.AdvertiseAddr(endpoint.Host)).
		Ints("ports", endpoint.Ports).
		Msg("point relay clients at this address")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	mgr, err := server.NewManager(cfg, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay manager")
	}

	// Optional sinks. None of them can stop the relay endpoints.
	var (
		journal       *db.Journal
		journalReader api.JournalReader
		journalPruner scheduler.Pruner
	)
	if appData.Journal.Enabled {
		journal, err = db.OpenJournal(appData.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open command journal, journaling disabled")
		} else {
			journal.Subscribe(eventBus)
			journalReader, journalPruner = journal, journal
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var redisMirror *mirror.Mirror
	if appData.Redis.Enabled {
		redisMirror = mirror.New(appData.Redis, eventBus)
	}

	sched := scheduler.NewScheduler(cfg, mgr, journalPruner)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	// Relay endpoints. A bind failure is fatal.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgr.Run(ctx); err != nil {
			errCh <- fmt.Errorf("relay endpoints: %w", err)
		}
	}()

	if appData.API.Enabled {
		apiServer := api.NewServer(cfg, mgr, journalReader, AppVersion)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("REST monitor API failed (non-fatal)")
			}
		}()
	}

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

	if redisMirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.WaitReady(ctx); err != nil {
				return
			}
			if err := redisMirror.Start(ctx, mgr.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("redis mirror failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	go func() {
		if err := mgr.WaitReady(ctx); err == nil {
			cli.RenderStatus(os.Stdout, mgr.Snapshot())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()

	if journal != nil {
		journal.Unsubscribe(eventBus)
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if redisMirror != nil {
		redisMirror.Close()
	}

	cli.RenderStatus(os.Stdout, mgr.Snapshot())
	log.Info().Msg("relaybench stopped")

	os.Exit(exitCode)
}
