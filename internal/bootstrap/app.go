package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/esusu/internal/application/cycle"
	appwebhook "github.com/cassiomorais/esusu/internal/application/webhook"
	"github.com/cassiomorais/esusu/internal/config"
	"github.com/cassiomorais/esusu/internal/gateway"
	"github.com/cassiomorais/esusu/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/esusu/internal/infrastructure/redis"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/notifier"
	"github.com/cassiomorais/esusu/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the shared process infrastructure.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// New loads config and connects the shared infrastructure.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

// Close releases the shared infrastructure.
func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

// Services is the wired application layer, shared by the API, the worker
// and the control CLI.
type Services struct {
	TxManager       *postgres.TxManager
	Groups          *postgres.GroupRepository
	Payments        *postgres.PaymentRepository
	Payouts         *postgres.PayoutRepository
	Events          *postgres.WebhookEventRepository
	JobLog          *postgres.JobLogRepository
	IdempotencyRepo *postgres.IdempotencyRepository

	Queue     *jobs.Queue
	Gateway   gateway.Gateway
	Notifier  notifier.Notifier
	Scheduler *cycle.Scheduler
	Pauser    *cycle.Pauser
	Processor *cycle.Processor
	Retrier   *cycle.RetryProcessor
	Admin     *cycle.AdminService
	Ingestor  *appwebhook.Ingestor
}

// BuildServices wires repositories, the queue and the processors on top of
// the App's infrastructure. The mock gateway stands in until a real
// provider adapter is configured; the circuit breaker wraps either.
func BuildServices(a *App) *Services {
	cfg := a.Config

	txManager := postgres.NewTxManager(a.Pool)
	groups := postgres.NewGroupRepository(a.Pool)
	payments := postgres.NewPaymentRepository(a.Pool)
	payouts := postgres.NewPayoutRepository(a.Pool)
	events := postgres.NewWebhookEventRepository(a.Pool)
	jobLog := postgres.NewJobLogRepository(a.Pool)
	idemRepo := postgres.NewIdempotencyRepository(a.Pool)

	queue := jobs.NewQueue(a.Redis, jobs.Config{
		ConsumerGroup:      cfg.Queue.ConsumerGroup,
		Consumer:           cfg.InstanceID,
		BatchSize:          cfg.Queue.BatchSize,
		BlockDuration:      cfg.Queue.BlockDuration,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		StallTimeout:       cfg.Queue.StallTimeout,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	})

	var gw gateway.Gateway = gateway.WithBreaker(gateway.NewMockGateway(), gateway.BreakerSettings{
		Threshold: cfg.Gateway.BreakerThreshold,
		Timeout:   cfg.Gateway.BreakerTimeout,
	})

	notify := notifier.NewLogNotifier(a.Logger)
	fees := cycle.FeeScheduleFromConfig(&cfg.Savings)

	scheduler := cycle.NewScheduler(txManager, groups, queue, jobLog, notify, a.Logger)
	pauser := cycle.NewPauser(txManager, groups, notify, a.Logger, a.Metrics)

	processor := cycle.NewProcessor(cycle.ProcessorParams{
		Tx:                  txManager,
		Groups:              groups,
		Payments:            payments,
		Payouts:             payouts,
		Gateway:             gw,
		Queue:               queue,
		JobLog:              jobLog,
		Notifier:            notify,
		Fees:                fees,
		Logger:              a.Logger,
		Metrics:             a.Metrics,
		MaxRetries:          cfg.Savings.MaxPaymentRetries,
		RetryDelay:          cfg.Savings.RetryDelay,
		GatewayPerGroupRate: cfg.Savings.GatewayPerGroupRate,
	})

	retrier := cycle.NewRetryProcessor(
		txManager, groups, payments, gw, notify, fees,
		a.Logger, a.Metrics, cfg.Savings.MaxPaymentRetries,
	)

	ingestor := appwebhook.NewIngestor(appwebhook.IngestorParams{
		Tx:         txManager,
		Groups:     groups,
		Payments:   payments,
		Payouts:    payouts,
		Events:     events,
		Gateway:    gw,
		Scheduler:  scheduler,
		Queue:      queue,
		JobLog:     jobLog,
		Notifier:   notify,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
		MaxRetries: cfg.Savings.MaxPaymentRetries,
		RetryDelay: cfg.Savings.RetryDelay,
	})

	admin := cycle.NewAdminService(scheduler, pauser, groups, payouts)

	return &Services{
		TxManager:       txManager,
		Groups:          groups,
		Payments:        payments,
		Payouts:         payouts,
		Events:          events,
		JobLog:          jobLog,
		IdempotencyRepo: idemRepo,
		Queue:           queue,
		Gateway:         gw,
		Notifier:        notify,
		Scheduler:       scheduler,
		Pauser:          pauser,
		Processor:       processor,
		Retrier:         retrier,
		Admin:           admin,
		Ingestor:        ingestor,
	}
}
