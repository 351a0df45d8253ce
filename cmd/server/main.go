package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/disaster-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/disaster-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/disaster-alert-service/internal/adapter/openmeteo"
	"github.com/couchcryptid/disaster-alert-service/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/disaster-alert-service/internal/adapter/redis"
	"github.com/couchcryptid/disaster-alert-service/internal/adapter/sendgrid"
	"github.com/couchcryptid/disaster-alert-service/internal/alerting"
	"github.com/couchcryptid/disaster-alert-service/internal/config"
	"github.com/couchcryptid/disaster-alert-service/internal/monitor"
	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

type alertPublisher interface {
	alerting.Publisher
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	history := postgres.NewHistoryStore(pool, cfg.HistoryRetention, clock, logger)
	subscribers := postgres.NewSubscriberStore(pool, clock)

	weather := openmeteo.NewClient(openmeteo.Config{
		ForecastURL:  cfg.OpenMeteoForecastURL,
		GeocodingURL: cfg.OpenMeteoGeocodingURL,
		Timeout:      cfg.WeatherTimeout,
		RateLimit:    cfg.WeatherRateLimit,
	}, clock, metrics, logger)
	geocoder := openmeteo.NewCachedGeocoder(weather, cfg.GeocodeCacheSize, metrics)

	// Redis is optional; without it every request is evaluated live.
	var cache monitor.ReportCache
	if cfg.CacheEnabled() {
		rdb, err := redisadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, report cache disabled", "error", err)
		} else {
			defer rdb.Close()
			cache = redisadapter.NewCache[monitor.Report](rdb, cfg.AssessmentCacheTTL, metrics)
			logger.Info("report cache enabled", "ttl", cfg.AssessmentCacheTTL)
		}
	}

	var publisher alertPublisher = kafkaadapter.NoopPublisher{}
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		logger.Info("alert events enabled", "topic", cfg.KafkaAlertTopic, "brokers", cfg.KafkaBrokers)
	}

	var mailer alerting.Mailer
	sg, err := sendgrid.NewMailer(sendgrid.Config{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, clock, metrics, logger)
	switch {
	case errors.Is(err, sendgrid.ErrMailerDisabled):
		logger.Warn("SENDGRID_API_KEY not set, alert emails will only be logged")
		mailer = alerting.LogMailer{Logger: logger}
	case err != nil:
		logger.Error("failed to create mailer", "error", err)
		os.Exit(1)
	default:
		mailer = sg
	}

	notifier := alerting.NewNotifier(subscribers, mailer, publisher,
		alerting.NewCooldown(cfg.AlertCooldown, clock), cfg.NotifyConcurrency, clock, metrics, logger)

	svc := monitor.New(monitor.Config{
		MonitoredPlaces:           cfg.MonitoredPlaces,
		HistoryWindow:             cfg.HistoryRetention,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshInitialDelay:       cfg.RefreshInitialDelay,
		RefreshPlaceDelay:         cfg.RefreshPlaceDelay,
		BackgroundRefreshCooldown: cfg.BackgroundRefreshCooldown,
	}, monitor.Deps{
		Store:    history,
		Weather:  weather,
		Geocoder: geocoder,
		Notifier: notifier,
		Cache:    cache,
		Clock:    clock,
		Metrics:  metrics,
		Logger:   logger,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, cfg.AllowedOrigins, svc, subscribers, clock, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start refresh scheduler.
	go func() {
		if err := svc.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	svc.Close()
	if err := publisher.Close(); err != nil {
		logger.Error("kafka publisher close error", "error", err)
	}

	logger.Info("shutdown complete")
}
