// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/meshrelay/broker"
	"github.com/absmach/meshrelay/broker/webhook"
	"github.com/absmach/meshrelay/config"
	"github.com/absmach/meshrelay/ratelimit"
	"github.com/absmach/meshrelay/server/health"
	relayhttp "github.com/absmach/meshrelay/server/http"
	"github.com/absmach/meshrelay/server/otel"
	"github.com/absmach/meshrelay/server/websocket"
	"github.com/absmach/meshrelay/storage"
	"github.com/absmach/meshrelay/storage/badger"
	"github.com/absmach/meshrelay/storage/memory"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	instanceID := uuid.New().String()

	slog.Info("Starting relay",
		"instance_id", instanceID,
		"ws_listener", cfg.Server.WSAddr,
		"ws_path", cfg.Server.WSPath,
		"http_listener", cfg.Server.HTTPAddr,
		"health_enabled", cfg.Server.HealthEnabled,
		"storage", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New(cfg.Broker.AuditLimit)
		slog.Info("Using in-memory storage")
	case "badger":
		badgerStore, err := badger.New(badger.Config{
			Dir:        cfg.Storage.BadgerDir,
			SyncWrites: cfg.Storage.SyncWrites,
			MaxAudit:   cfg.Broker.AuditLimit,
		})
		if err != nil {
			slog.Error("Failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		defer store.Close()
		slog.Info("Using BadgerDB persistent storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	b := broker.New(broker.Config{
		RegistrationPolicy: broker.RegistrationPolicy(cfg.Broker.RegistrationPolicy),
		TaskTimeout:        cfg.Broker.TaskTimeout,
	}, store, logger)
	defer b.Close()

	if cfg.Webhook.Enabled {
		notifier, err := webhook.New(cfg.Webhook, instanceID, nil, logger)
		if err != nil {
			slog.Error("Failed to initialize webhooks", "error", err)
			os.Exit(1)
		}
		defer notifier.Close()
		b.SetPublisher(notifier)
		slog.Info("Webhooks enabled",
			"endpoints", len(cfg.Webhook.Endpoints),
			"workers", cfg.Webhook.Workers,
			"queue_size", cfg.Webhook.QueueSize)
	}

	var otelShutdown func(context.Context) error
	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(cfg.Server, instanceID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown

		metrics, err := otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		b.SetMetrics(metrics)
		slog.Info("OpenTelemetry metrics enabled", "endpoint", cfg.Server.OtelEndpoint)
	}

	var limiter *ratelimit.IPRateLimiter
	if cfg.Server.ConnRateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.ConnRateLimit, cfg.Server.ConnRateBurst, 10*time.Minute)
		defer limiter.Close()
		slog.Info("Connection rate limiting enabled",
			"rate", cfg.Server.ConnRateLimit,
			"burst", cfg.Server.ConnRateBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 3)

	wsServer := websocket.New(websocket.Config{
		Address:         cfg.Server.WSAddr,
		Path:            cfg.Server.WSPath,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		SendQueueSize:   cfg.Broker.SendQueueSize,
	}, b, limiter, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	mgmtServer := relayhttp.New(relayhttp.Config{
		Address:         cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, b, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, b, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("Relay started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	if otelShutdown != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}

	cancel()
	wg.Wait()
	slog.Info("Relay stopped")
}
