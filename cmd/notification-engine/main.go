// cmd/notification-engine/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-engine/internal/analytics"
	"notification-engine/internal/api"
	"notification-engine/internal/channels"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/database"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/dispatch"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/quota"
	"notification-engine/internal/retry"
	"notification-engine/internal/schedule"
	"notification-engine/internal/store/postgres"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting notification engine",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected")

	// --- Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected")

	// --- Stores ---
	notifications := postgres.NewNotificationStore(pg.DB)
	templates := postgres.NewTemplateStore(pg.DB)
	preferences := postgres.NewPreferenceStore(pg.DB)
	settings := postgres.NewSettingsStore(pg.DB)
	attempts := postgres.NewAttemptStore(pg.DB)
	campaigns := postgres.NewCampaignStore(pg.DB)

	// --- Channel adapters ---
	registry := channels.NewRegistry()
	if cfg.Providers.AWS.SES.Enabled || cfg.Providers.AWS.SNS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Providers.AWS.Region))
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		if cfg.Providers.AWS.SES.Enabled {
			registry.Register(channels.NewSESAdapter(
				ses.NewFromConfig(awsCfg), cfg.Providers.AWS.SES.FromEmail, log))
		}
		if cfg.Providers.AWS.SNS.Enabled {
			snsClient := sns.NewFromConfig(awsCfg)
			registry.Register(channels.NewSNSSMSAdapter(
				snsClient, cfg.Providers.AWS.SNS.DefaultSMSSenderID, log))
			registry.Register(channels.NewSNSPushAdapter(snsClient, log))
		}
	}
	if cfg.Providers.SMTP.Enabled {
		registry.Register(channels.NewSMTPAdapter(cfg.Providers.SMTP, log))
	}
	registry.Register(channels.NewWebhookAdapter(cfg.Providers.Webhook, log))
	registry.Register(channels.NewInAppAdapter(log))

	// --- Engine components ---
	quotas := quota.NewRedisCounter(rdb.Client)
	resolver := eligibility.NewResolver(settings, preferences, quotas, log)
	aggregator := analytics.NewAggregator(rdb.Client, log)
	exporter := analytics.NewExporter(notifications, attempts)
	retries := retry.NewManager(notifications, log)

	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Notifications: notifications,
		Templates:     templates,
		Preferences:   preferences,
		Settings:      settings,
		Attempts:      attempts,
		Resolver:      resolver,
		Registry:      registry,
		Quotas:        quotas,
		Recorder:      aggregator,
		Logger:        log,
	}, cfg.Engine.AdapterTimeout)

	pool := dispatch.NewPool(dispatcher, notifications,
		cfg.Engine.Workers, cfg.Engine.DequeueBatchSize, cfg.Engine.PollInterval, log)

	scheduler := schedule.NewScheduler(notifications, campaigns, templates, nil,
		schedule.Options{Tick: cfg.Engine.SchedulerTick}, log)

	server := api.NewServer(api.ServerDeps{
		Notifications: notifications,
		Templates:     templates,
		Preferences:   preferences,
		Settings:      settings,
		Attempts:      attempts,
		Campaigns:     campaigns,
		Resolver:      resolver,
		Retries:       retries,
		Aggregator:    aggregator,
		Exporter:      exporter,
		Callbacks:     registry,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.Router(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddress,
		Handler: metricsMux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		zapLog.Info("http server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		zapLog.Info("metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			zapLog.Warn("metrics server shutdown", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		zapLog.Fatal("engine stopped", zap.Error(err))
	}
	zapLog.Info("shutdown complete")
}
