package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/disbursement-engine/internal/config"
	"github.com/kursadbilgin/disbursement-engine/internal/handler"
	"github.com/kursadbilgin/disbursement-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/disbursement-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/disbursement-engine/internal/infra/redis"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"github.com/kursadbilgin/disbursement-engine/internal/service"
	"github.com/kursadbilgin/disbursement-engine/internal/transport"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "disbursement-api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
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

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	tx := repository.NewGormTransactor(db)
	batches := repository.NewGormBatchRepo(db)
	steps := repository.NewGormStepRepo(db)
	events := repository.NewGormProcessedEventRepo(db)
	deadLetterRepo := repository.NewGormDeadLetterRepo(db)

	idempotency, err := service.NewIdempotencyService(events, metrics)
	if err != nil {
		logger.Fatal("idempotency service initialization failed", zap.Error(err))
	}
	intake, err := service.NewIntakeService(tx, batches, steps, publisher, logger)
	if err != nil {
		logger.Fatal("intake service initialization failed", zap.Error(err))
	}
	reconciler, err := service.NewReconcilerService(tx, idempotency, batches, steps, logger, metrics)
	if err != nil {
		logger.Fatal("reconciler service initialization failed", zap.Error(err))
	}
	deadLetters, err := service.NewDeadLetterService(deadLetterRepo, logger)
	if err != nil {
		logger.Fatal("dead letter service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "disbursement-api",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(handler.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterRoutes(app, handler.Services{
		Disbursements: intake,
		Reconciler:    reconciler,
		Publisher:     publisher,
		DeadLetters:   deadLetters,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api", zap.Duration("timeout", cfg.ShutdownTimeout))
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("disbursement api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Error("api server stopped", zap.Error(err))
	}
}
