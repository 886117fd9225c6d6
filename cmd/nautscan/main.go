// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command nautscan runs the continuous packet capture daemon: it decodes
// live traffic, keeps a bounded in-memory window, persists events to
// sqlite with retention-based expiry and serves the REST/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/nautscan/internal/api"
	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/capture"
	"grimm.is/nautscan/internal/config"
	"grimm.is/nautscan/internal/event"
	"grimm.is/nautscan/internal/heuristic"
	"grimm.is/nautscan/internal/logging"
	"grimm.is/nautscan/internal/metrics"
	"grimm.is/nautscan/internal/resolve"
	"grimm.is/nautscan/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to HCL or JSON config file")
	listen := flag.String("listen", "", "Listen address, overrides config")
	autostart := flag.Bool("autostart", false, "Start capturing immediately")
	flag.Parse()

	if err := run(*configPath, *listen, *autostart); err != nil {
		fmt.Fprintf(os.Stderr, "nautscan: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen string, autostart bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.API.Listen = listen
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel)})
	logger.Info("Starting nautscan", "config", cfg.String())

	retention, err := cfg.RetentionDuration()
	if err != nil {
		return err
	}
	housekeeping, err := cfg.HousekeepingDuration()
	if err != nil {
		return err
	}
	statsInterval, err := cfg.StatsInterval()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()

	store, err := storage.Open(cfg.DatabasePath, storage.WithRetention(retention))
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := storage.NewPipeline(store, logger, reg,
		storage.WithHousekeepingInterval(housekeeping))
	pipeline.Start()
	defer pipeline.Stop()

	hub := broadcast.NewHub(logger, reg)
	resolver := resolve.New(logger)
	detector := heuristic.NewDetector(cfg.HeuristicConfig())

	engine := capture.NewEngine(logger, reg, resolver, detector, hub,
		capture.WithPersister(pipeline))
	defer engine.Stop()

	if settings := cfg.CaptureSettings(); settings != event.DefaultCaptureSettings() {
		engine.UpdateSettings(settingsPatch(settings))
	}
	if autostart {
		if err := engine.Start(nil); err != nil {
			return err
		}
	}

	server := api.NewServer(api.ServerOptions{
		Config: cfg,
		Logger: logger,
		Engine: engine,
		Store:  store,
		Hub:    hub,
		Reg:    reg,
	})

	pusher := api.NewStatsPusher(logger, engine, hub, statsInterval)
	pusher.Start()
	defer pusher.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.API.Listen); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// settingsPatch turns full settings into a patch so the engine applies
// them through its normal update path.
func settingsPatch(s event.CaptureSettings) event.SettingsPatch {
	return event.SettingsPatch{
		Interface:       &s.Interface,
		Filter:          &s.Filter,
		Promiscuous:     &s.Promiscuous,
		Monitor:         &s.Monitor,
		EnableIPv6:      &s.EnableIPv6,
		MaxPackets:      &s.MaxPackets,
		CaptureLimit:    &s.CaptureLimit,
		StoreRawPackets: &s.StoreRawPackets,
		SaveToDatabase:  &s.SaveToDatabase,
	}
}
