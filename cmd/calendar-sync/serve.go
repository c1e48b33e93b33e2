// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/platform"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider/caldav"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider/google"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/telemetry"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/webhook"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/utils"
)

const (
	telemetryBufferSize = 1024
	shutdownTimeout     = 25 * time.Second
)

func newServeCmd() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service",
		Long: `Run the sync service: NATS request/reply API and trigger subscriptions,
the reconciliation workers, the periodic passes and the HTTP server for
webhooks, health and metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringP("port", "p", "8080", "listen port")
	cmd.Flags().String("bind", "*", "interface to bind on")
	cmd.Flags().Int("workers", service.DefaultDispatcherWorkers, "concurrent reconciliations")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("bind", cmd.Flags().Lookup("bind"))
	_ = v.BindPFlag("workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runServe(parent context.Context, cfg *Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logging.InitStructureLogConfig()

	otelShutdown, err := utils.SetupOTelSDK(parent)
	if err != nil {
		return fmt.Errorf("setting up OpenTelemetry: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	gracefulCloseWG := sync.WaitGroup{}

	natsConn, err := setupNATS(ctx, cfg, &gracefulCloseWG, done)
	if err != nil {
		return err
	}

	repos, err := getKeyValueStores(ctx, natsConn)
	if err != nil {
		natsConn.Close()
		return err
	}

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		natsConn.Close()
		return err
	}
	locker := newAccountLocker(cfg, redisClient)
	notifications, asynqClient := newNotificationQueue(cfg, redisClient)

	reporter := telemetry.NewReporter(telemetryBufferSize)

	// Provider adapters
	attendeePolicy := provider.ParseAttendeePolicy(cfg.Sync.AttendeePolicy)
	registry := platform.NewRegistry(repos.Credentials)
	registry.RegisterFactory(models.ProviderCalDAV, caldav.NewFactory(caldav.Config{
		SafeSpan:       cfg.safeSpan(),
		AttendeePolicy: attendeePolicy,
	}, reporter))
	registry.RegisterFactory(models.ProviderGoogle, google.NewFactory(google.Config{
		ClientID:       cfg.Google.ClientID,
		ClientSecret:   cfg.Google.ClientSecret,
		SafeSpan:       cfg.safeSpan(),
		AttendeePolicy: attendeePolicy,
	}, reporter))

	// Services
	retry := cfg.retryConfig()
	messageBuilder := messaging.NewMessageBuilder(natsConn)
	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	seriesService := service.NewSeriesService(
		repos.Series,
		service.NewOccurrenceService(),
		messageBuilder,
		notifications,
		service.SeriesConfig{Horizon: time.Duration(cfg.Sync.HorizonDays) * 24 * time.Hour},
	)
	connectionService := service.NewConnectionService(
		repos.Connections,
		registry,
		notifications,
		reporter,
		retry,
	)
	availabilityService := service.NewAvailabilityService(
		repos.Connections,
		registry,
		reporter,
		service.AvailabilityConfig{
			FanOut:   cfg.Availability.FanOut,
			SafeSpan: cfg.safeSpan(),
			Retry:    retry,
		},
	)
	syncService := service.NewSyncService(
		seriesService,
		connectionService,
		locker,
		reporter,
		service.SyncConfig{
			WindowDays:     cfg.Sync.WindowDays,
			UIDDomain:      cfg.ICS.UIDDomain,
			CalendarFanOut: cfg.Sync.CalendarFanOut,
			Retry:          retry,
		},
	)
	scheduler := service.NewScheduler(repos.Connections, seriesService, dispatcher, service.SchedulerConfig{
		SyncSpec:       cfg.Sync.PeriodicCron,
		CompletionSpec: cfg.Sync.CompletionCron,
	})

	// Background workers
	var workersWG sync.WaitGroup
	workersWG.Add(3)
	go func() {
		defer workersWG.Done()
		reporter.Run(ctx)
	}()
	go func() {
		defer workersWG.Done()
		if err := dispatcher.Run(ctx, syncService); err != nil {
			slog.With(logging.ErrKey, err).Error("sync dispatcher failed")
		}
	}()
	go func() {
		defer workersWG.Done()
		if err := scheduler.Run(ctx); err != nil {
			slog.With(logging.ErrKey, err).Error("scheduler failed", logging.PriorityCritical())
			requestShutdown(done)
		}
	}()

	// Handlers
	triggerHandler := handlers.NewTriggerHandler(dispatcher, dispatcher.Ready)
	apiHandler := handlers.NewCalendarAPIHandler(seriesService, connectionService, availabilityService)

	webhooks := webhook.NewRegistry()
	webhooks.RegisterParser(models.ProviderGoogle, webhook.NewGoogleParser())
	webhooks.RegisterParser(models.ProviderCalDAV, webhook.NewCalDAVParser(webhook.NewSignatureValidator(cfg.Webhook.Secret)))
	httpHandler := handlers.NewHTTPHandler(messageBuilder, webhooks, map[string]handlers.ReadinessCheck{
		"nats":       natsConn.IsConnected,
		"dispatcher": dispatcher.Ready,
		"api":        apiHandler.HandlerReady,
	})

	e := newHTTPServer(httpHandler)
	startHTTPServer(e, cfg.listenAddr())

	// Create NATS subscriptions for the service.
	subs, err := messaging.Subscribe(ctx, natsConn, models.CalendarSyncQueue, triggerHandler,
		models.SyncTriggerSubject, models.WebhookTriggerSubject)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error creating NATS subscriptions")
		requestShutdown(done)
	}
	apiSubs, err := messaging.Subscribe(ctx, natsConn, models.CalendarSyncQueue, apiHandler, apiHandler.Subjects()...)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error creating NATS subscriptions")
		requestShutdown(done)
	}
	subs = append(subs, apiSubs...)

	slog.With("addr", cfg.listenAddr(), "version", version).Info("calendar sync service started")

	// This next line blocks until SIGINT or SIGTERM is received.
	select {
	case <-done:
	case <-parent.Done():
	}

	gracefulShutdown(e, natsConn, subs, cancel, &workersWG, &gracefulCloseWG)

	if err := registry.Close(); err != nil {
		slog.With(logging.ErrKey, err).Warn("error closing calendar providers")
	}
	if asynqClient != nil {
		if err := asynqClient.Close(); err != nil {
			slog.With(logging.ErrKey, err).Warn("error closing notification queue")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.With(logging.ErrKey, err).Warn("error closing Redis client")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.With(logging.ErrKey, err).Error("error shutting down OpenTelemetry")
	}
	slog.Info("graceful shutdown complete")
	return nil
}

// requestShutdown signals done without blocking when a shutdown is already pending.
func requestShutdown(done chan os.Signal) {
	select {
	case done <- os.Interrupt:
	default:
	}
}

// gracefulShutdown stops intake first, then the workers, then the NATS
// connection once nothing publishes on it anymore.
func gracefulShutdown(e *echo.Echo, natsConn *nats.Conn, subs []*nats.Subscription, cancel context.CancelFunc, workersWG, gracefulCloseWG *sync.WaitGroup) {
	slog.Info("graceful shutdown started")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.With(logging.ErrKey, err).Error("http shutdown error")
	}

	messaging.Drain(shutdownCtx, subs)

	cancel()
	workersWG.Wait()

	if err := natsConn.Drain(); err != nil {
		slog.With(logging.ErrKey, err).Error("error draining NATS connection")
		natsConn.Close()
	}

	// Wait for the NATS connection to close, or give up at the deadline.
	closed := make(chan struct{})
	go func() {
		gracefulCloseWG.Wait()
		close(closed)
	}()
	select {
	case <-closed:
	case <-shutdownCtx.Done():
		slog.Warn("graceful shutdown timed out")
	}
}
