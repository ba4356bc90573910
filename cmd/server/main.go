package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"aerospin-backend/internal/api"
	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/database"
	"aerospin-backend/internal/enrichment"
	"aerospin-backend/internal/logging"
	"aerospin-backend/internal/mqtt"
	"aerospin-backend/internal/report"
	"aerospin-backend/internal/retry"
	"aerospin-backend/internal/services"
	"aerospin-backend/pkg/config"
)

// Nominal accuracy of the IP geolocation providers, which report none
const (
	ipAPIAccuracyMeters  = 25_000
	ipInfoAccuracyMeters = 100_000
)

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.help {
		return
	}

	// Load configuration
	cfg := opts.loadConfig()

	logger, logCloser, err := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir})
	if err != nil {
		slog.Error("failed to set up logging", slog.Any("error", err))
		os.Exit(1)
	}

	os.Exit(finish(logger, logCloser, run(cfg, logger)))
}

// finish logs a run error and flushes the log file before the process exits,
// since os.Exit skips deferred calls.
func finish(logger *slog.Logger, logCloser io.Closer, runErr error) int {
	code := 0
	if runErr != nil {
		logger.Error("server exited with error", slog.Any("error", runErr))
		code = 1
	}
	if err := logCloser.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to close log file:", err)
	}
	return code
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting Aerospin dashboard backend", slog.String("port", cfg.Port))

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clk := clock.Real()
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// === Enrichment ===
	httpClient := &http.Client{Timeout: cfg.EnrichTimeout}
	policy := &retry.ExponentialBackoff{
		MaxAttempts: 2,
		MinInterval: 100 * time.Millisecond,
		MaxInterval: time.Second,
		Logger:      logger.With(slog.String("component", "retry")),
	}
	ipAPI := enrichment.NewIPAPIClient(cfg.GeoPreciseURL, ipAPIAccuracyMeters, httpClient, policy)
	ipInfo := enrichment.NewIPInfoClient(cfg.GeoFallbackURL, cfg.GeoFallbackToken, ipInfoAccuracyMeters, httpClient, policy)
	enricher := enrichment.NewAdapter(enrichment.Config{
		Precise:                 ipAPI,
		Fallback:                ipInfo,
		Signals:                 []enrichment.SignalProvider{ipAPI, ipInfo},
		AccuracyThresholdMeters: cfg.GeoAccuracyThresholdKM * 1000,
		CacheTTL:                cfg.EnrichCacheTTL,
		MaxCacheEntries:         cfg.EnrichCacheMax,
		Timeout:                 cfg.EnrichTimeout,
		Clock:                   clk,
		Logger:                  logger,
	})
	spawn(services.NewCachePurger(enricher, cfg.EnrichPurgeInterval, logger).Start)

	// === Dashboard ===
	dash := services.NewDashboard(services.Options{
		MaxHistory:     cfg.MaxHistory,
		AuthTimeout:    cfg.AuthTimeout,
		PermissivePush: cfg.PermissivePush,
		AutoRestart:    cfg.AutoRestart,
		ResetToReady:   cfg.ResetToReady,
		ObserverBuffer: cfg.ObserverBuffer,
	}, enricher, clk, logger)

	reports, err := report.NewStore(cfg.ReportDir, cfg.ReportRetention, clk, logger)
	if err != nil {
		return err
	}
	defer reports.Close()
	handler := api.NewHandler(dash, reports, clk, logger)

	// === Optional ClickHouse archive ===
	if cfg.ArchiveEnabled() {
		db, err := database.NewClickHouseDB(ctx, database.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		handler.AddDependency("clickhouse", db.Healthy)
		spawn(services.NewArchiveService(dash, db, logger).Start)
	}

	// === Optional MQTT bridge ===
	if cfg.MQTTEnabled() {
		var current atomic.Pointer[mqtt.Subscriber]
		mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			StatusTopic: cfg.MQTTTopicStatus,
			OnConnect: func() {
				// Restore subscriptions after a reconnect
				if sub := current.Load(); sub != nil {
					if err := sub.SubscribeAll(); err != nil {
						logger.Error("failed to resubscribe", slog.Any("error", err))
					}
				}
			},
		}, logger)
		if err != nil {
			return err
		}
		defer mqttClient.Close()
		handler.AddDependency("mqtt", mqttClient.IsConnected)

		native := mqttClient.GetNativeClient()
		subscriber := mqtt.NewSubscriber(native, mqtt.SubscriberConfig{DeviceEventsTopic: cfg.MQTTTopicDeviceEvents}, logger)
		if err := subscriber.SubscribeAll(); err != nil {
			return err
		}
		current.Store(subscriber)
		publisher := mqtt.NewPublisher(native, mqtt.PublisherConfig{
			StateTopic: cfg.MQTTTopicState,
			ReplyTopic: cfg.MQTTTopicDeviceReplies,
		}, dash.Subscribe("mqtt"), logger)
		spawn(publisher.Start)
		spawn(mqtt.NewBridge(dash, subscriber.EventChan, publisher, logger).Start)
	}

	// === HTTP server ===
	hub := api.NewHub(dash, logger)
	spawn(hub.Run)

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewEngine(logger, cfg.TrustedProxies)
	if err != nil {
		return err
	}
	api.SetupRoutes(router, handler, hub, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// === Wait for interrupt signal or server failure ===
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	case err := <-serveErr:
		if err != nil {
			cancel()
			return err
		}
	}

	// === Graceful shutdown ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.Any("error", err))
	}
	cancel()
	dash.Close()
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}
