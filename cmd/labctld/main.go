// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// labctld is the bench controller daemon: it discovers instruments,
// keeps one session per device, plays sequences, runs trigger scripts
// and serves the WebSocket/REST surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/labctl/internal/api"
	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/config"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/device/scpi"
	"github.com/ManuGH/labctl/internal/device/session"
	"github.com/ManuGH/labctl/internal/device/sim"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/sequence/library"
	seqmanager "github.com/ManuGH/labctl/internal/sequence/manager"
	"github.com/ManuGH/labctl/internal/telemetry"
	trgmanager "github.com/ManuGH/labctl/internal/trigger/manager"
	"github.com/ManuGH/labctl/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the effective config is loaded.
	log.Configure(log.Config{Level: "info", Service: "labctl", Version: version.Version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, *configPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "labctl", Version: version.Version})

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("daemon")

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "labctl",
		ServiceVersion: version.Version,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	dataDir, err := config.ResolveDataDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	logger.Info().Str(log.FieldPath, dataDir).Msg("using data directory")

	seqLib := library.New(dataDir)
	if err := seqLib.Load(); err != nil {
		return fmt.Errorf("load sequence library: %w", err)
	}
	trgLib := trgmanager.NewLibrary(dataDir)
	if err := trgLib.Load(); err != nil {
		return fmt.Errorf("load trigger script library: %w", err)
	}

	b := bus.New(cfg.BusWatermark)

	var enum ports.Enumerator
	if endpoints := cfg.Endpoints(); len(endpoints) > 0 {
		enum = scpi.NewEnumerator(endpoints)
	} else {
		logger.Info().Msg("no devices configured, using simulated bench")
		enum = sim.NewEnumerator()
	}

	devices := devmanager.New(enum, b, session.Config{
		PollInterval:   cfg.PollInterval,
		CommandTimeout: cfg.CommandTimeout,
		HistoryWindow:  cfg.HistoryWindow,
	})
	if err := devices.SyncDevices(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial device discovery incomplete")
	}

	sequences := seqmanager.New(seqLib, devices, b)
	triggers := trgmanager.New(trgLib, devices, sequences, b)

	srv := api.New(api.Config{
		Listen:       cfg.Listen,
		RateLimitRPS: cfg.RateLimitRPS,
		TracingService: func() string {
			if cfg.OTLPEndpoint != "" {
				return "labctl"
			}
			return ""
		}(),
	}, b, devices, sequences, triggers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.WatchLibraries {
		g.Go(func() error {
			return seqLib.Watch(gctx, sequences.BroadcastLibrary)
		})
		g.Go(func() error {
			return trgLib.Watch(gctx, triggers.BroadcastLibrary)
		})
	}

	srv.SetReady()
	logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("listen", cfg.Listen).
		Int("devices", len(devices.Sessions())).
		Msg("daemon ready")

	<-gctx.Done()

	// Stop order: scripts first so their actions stop arriving, then
	// playback, then the device sessions they command.
	triggers.Stop()
	sequences.Stop()
	devices.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
