package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/disbursement-engine/internal/channel"
	"github.com/kursadbilgin/disbursement-engine/internal/config"
	"github.com/kursadbilgin/disbursement-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/disbursement-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/disbursement-engine/internal/infra/redis"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/provider"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"github.com/kursadbilgin/disbursement-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "disbursement-worker")
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

	publisherClient, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq publisher initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(publisherClient)
	defer publisher.Close()

	consumerClient, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq consumer initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(consumerClient, cfg.ConsumerPrefetch, logger)
	defer consumer.Close()

	metrics := observability.NewMetrics()

	tx := repository.NewGormTransactor(db)
	batches := repository.NewGormBatchRepo(db)
	steps := repository.NewGormStepRepo(db)
	events := repository.NewGormProcessedEventRepo(db)
	deadLetterRepo := repository.NewGormDeadLetterRepo(db)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, nil)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	pixProvider, err := settlementProvider(cfg.PixProviderURL)
	if err != nil {
		logger.Fatal("pix provider initialization failed", zap.Error(err))
	}
	tedProvider, err := settlementProvider(cfg.TedProviderURL)
	if err != nil {
		logger.Fatal("ted provider initialization failed", zap.Error(err))
	}

	pix, err := channel.NewPixAdapter(pixProvider, limiter, steps, logger, metrics)
	if err != nil {
		logger.Fatal("pix adapter initialization failed", zap.Error(err))
	}
	ted, err := channel.NewTedAdapter(tedProvider, limiter, steps, logger, metrics)
	if err != nil {
		logger.Fatal("ted adapter initialization failed", zap.Error(err))
	}
	registry, err := channel.NewRegistry(pix, ted)
	if err != nil {
		logger.Fatal("channel registry initialization failed", zap.Error(err))
	}

	idempotency, err := service.NewIdempotencyService(events, metrics)
	if err != nil {
		logger.Fatal("idempotency service initialization failed", zap.Error(err))
	}
	processing, err := service.NewProcessingService(tx, idempotency, batches, steps, registry, logger)
	if err != nil {
		logger.Fatal("processing service initialization failed", zap.Error(err))
	}
	reconciler, err := service.NewReconcilerService(tx, idempotency, batches, steps, logger, metrics)
	if err != nil {
		logger.Fatal("reconciler service initialization failed", zap.Error(err))
	}
	deadLetters, err := service.NewDeadLetterService(deadLetterRepo, logger)
	if err != nil {
		logger.Fatal("dead letter service initialization failed", zap.Error(err))
	}

	retry := queue.NewRetryHandler(publisher, queue.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  float64(cfg.RetryMultiplier),
	}, logger, metrics)

	worker, err := service.NewWorkerService(consumer, retry, processing, reconciler, deadLetters, cfg.WorkerConcurrency, logger, metrics)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	scheduler, err := service.NewScheduler(tx, batches, steps, idempotency, publisher, service.SchedulerOptions{
		Interval: cfg.SchedulerInterval,
		Location: cfg.SchedulerLocation,
	}, logger, metrics)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })

	logger.Info("disbursement worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("scheduler_interval", cfg.SchedulerInterval),
		zap.String("scheduler_timezone", cfg.SchedulerTimezone),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("disbursement worker stopped")
}

// settlementProvider targets the given endpoint, falling back to the
// in-process simulator when none is configured.
func settlementProvider(endpoint string) (provider.SettlementProvider, error) {
	if endpoint == "" {
		return provider.NewSimulatedProvider(), nil
	}
	return provider.NewHTTPProvider(endpoint)
}
