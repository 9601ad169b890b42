package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jobrelay/sms-relay/internal/config"
	"github.com/jobrelay/sms-relay/internal/directory"
	"github.com/jobrelay/sms-relay/internal/dispatch"
	"github.com/jobrelay/sms-relay/internal/gateway"
	"github.com/jobrelay/sms-relay/internal/handler"
	"github.com/jobrelay/sms-relay/internal/infra/postgresql"
	"github.com/jobrelay/sms-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/jobrelay/sms-relay/internal/infra/redis"
	"github.com/jobrelay/sms-relay/internal/observability"
	"github.com/jobrelay/sms-relay/internal/queue"
	"github.com/jobrelay/sms-relay/internal/repository"
	"github.com/jobrelay/sms-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SMSRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()
	publisher := queue.NewRabbitMQPublisher(broker)

	providerDirectory, err := directory.NewSheetsDirectory(cfg.SheetsBaseURL, cfg.SpreadsheetID, cfg.SheetsAPIKey)
	if err != nil {
		logger.Fatal("sheets directory initialization failed", zap.Error(err))
	}

	smsGateway, err := gateway.NewTextMagicGateway(cfg.TextMagicBaseURL, cfg.TextMagicUsername, cfg.TextMagicAPIKey, cfg.TextMagicFrom)
	if err != nil {
		logger.Fatal("sms gateway initialization failed", zap.Error(err))
	}

	orchestrator, err := dispatch.NewOrchestrator(
		dispatch.NewTracker(),
		providerDirectory,
		smsGateway,
		limiter,
		publisher,
		repository.NewGormJobRepo(db),
		repository.NewGormAttemptRepo(db),
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	orchestrator.SetMetrics(metrics)

	sweeper, err := dispatch.NewExpirySweeper(
		orchestrator,
		time.Duration(cfg.JobSweepIntervalSec)*time.Second,
		time.Duration(cfg.JobTTLHours)*time.Hour,
		logger,
	)
	if err != nil {
		logger.Fatal("expiry sweeper initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "sms-relay",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterWebhookRoutes(app, orchestrator, cfg.WebhookSecret); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("sms-relay api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		return sweeper.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", zap.Error(err))
	}
}
