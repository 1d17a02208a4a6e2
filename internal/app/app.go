// Package app wires configuration into a running terminal core: the ledger
// store, attempt tracker, hasher, limit policy, telemetry sinks and the
// recovery flow. The binaries under cmd/ share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"atm-terminal/backend/internal/attempt"
	"atm-terminal/backend/internal/config"
	"atm-terminal/backend/internal/db"
	"atm-terminal/backend/internal/db/migrate"
	"atm-terminal/backend/internal/health"
	"atm-terminal/backend/internal/ledger"
	"atm-terminal/backend/internal/policy"
	"atm-terminal/backend/internal/recovery"
	"atm-terminal/backend/internal/security"
	"atm-terminal/backend/internal/session"
	"atm-terminal/backend/internal/store"
	"atm-terminal/backend/internal/store/memory"
	"atm-terminal/backend/internal/store/sqlstore"
	"atm-terminal/backend/internal/telemetry"
	"atm-terminal/backend/internal/telemetry/loki"
	oteltelemetry "atm-terminal/backend/internal/telemetry/otel"
	"atm-terminal/backend/internal/telemetry/producer"
	"atm-terminal/backend/internal/telemetry/rabbitmq"
)

const serviceName = "atm-terminal"

// App is the assembled core. Close releases everything New opened.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Ledger    *ledger.Service
	Recovery  *recovery.Flow
	Deliverer *recovery.DisplayDeliverer
	Health    *health.Checker

	closers []func(context.Context) error
}

// New builds the App from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{Config: cfg, Logger: logger, Health: &health.Checker{Sinks: map[string]health.Pinger{}}}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	tracker, err := a.openTracker(ctx)
	if err != nil {
		return err
	}

	withdrawCap, err := cfg.WithdrawalLimit()
	if err != nil {
		return fmt.Errorf("withdrawal limit: %w", err)
	}
	depositCap, err := cfg.DepositLimit()
	if err != nil {
		return fmt.Errorf("deposit limit: %w", err)
	}
	module, err := policy.LoadModule(cfg.LimitPolicyFile)
	if err != nil {
		return err
	}
	evaluator, err := policy.NewOPAEvaluator(ctx, module, policy.Limits{MaxWithdrawal: withdrawCap, MaxDeposit: depositCap})
	if err != nil {
		return err
	}
	a.Health.Policy = evaluator

	emitter, err := a.openTelemetry(ctx)
	if err != nil {
		return err
	}

	a.Ledger = ledger.NewService(st, security.NewHasher(cfg.PBKDF2Iterations), tracker,
		ledger.WithPolicy(evaluator),
		ledger.WithEmitter(emitter),
		ledger.WithLogger(a.Logger),
	)

	var deliver recovery.Deliverer
	if cfg.RecoveryCodeDisplay {
		a.Deliverer = &recovery.DisplayDeliverer{}
		deliver = a.Deliverer
	}
	a.Recovery = recovery.NewFlow(a.Ledger, deliver, cfg.RecoveryTTL(), a.Logger)
	return nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config
	if cfg.StoreDriver == config.StoreMemory {
		a.Logger.Warn("using in-memory ledger store; nothing survives a restart")
		return memory.New(), nil
	}
	conn, err := db.Open(ctx, cfg.StoreDriver, cfg.StoreDSN())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	if err := migrate.Up(conn, cfg.StoreDriver); err != nil {
		return nil, err
	}
	a.Health.DB = conn
	return sqlstore.New(conn, cfg.StoreDriver)
}

func (a *App) openTracker(ctx context.Context) (*attempt.Tracker, error) {
	cfg := a.Config
	if cfg.AttemptStore != config.AttemptRedis {
		return attempt.NewTracker(attempt.NewMemoryStore(), cfg.MaxLoginAttempts), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.Health.Sinks["redis"] = health.PingerFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return attempt.NewTracker(attempt.NewRedisStore(client, "", cfg.LockoutExpiry()), cfg.MaxLoginAttempts), nil
}

func (a *App) openTelemetry(ctx context.Context) (telemetry.EventEmitter, error) {
	cfg := a.Config
	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure, a.Logger)
	if err != nil {
		return nil, err
	}
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)

	var sinks []telemetry.EventEmitter
	if cfg.OTLPEndpoint != "" {
		sinks = append(sinks, oteltelemetry.NewEventEmitter(providers.LoggerProvider))
	}
	if p := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic, serviceName); p != nil {
		sinks = append(sinks, p)
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
	}
	mq, err := rabbitmq.Dial(cfg.AuditAMQPURL, cfg.AuditAMQPExchange, serviceName)
	if err != nil {
		return nil, err
	}
	if mq != nil {
		sinks = append(sinks, mq)
		a.closers = append(a.closers, func(context.Context) error { return mq.Close() })
	}
	if l := loki.NewEmitter(cfg.LokiURL, serviceName, nil); l != nil {
		sinks = append(sinks, l)
		a.Health.Sinks["loki"] = health.PingerFunc(l.Ping)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	// Runs first on Close: in-flight async emits finish before sinks shut down.
	a.closers = append(a.closers, func(ctx context.Context) error {
		select {
		case <-time.After(telemetry.ShutdownDrainDuration):
		case <-ctx.Done():
		}
		return nil
	})
	return telemetry.Multi(sinks...), nil
}

// NewSession returns a session controller over the App's ledger and recovery flow.
func (a *App) NewSession(onExpire func()) (*session.Controller, error) {
	return session.New(session.Config{
		Ledger:       a.Ledger,
		Recovery:     a.Recovery,
		Timeout:      a.Config.Inactivity(),
		Logger:       a.Logger,
		DisplayCodes: a.Config.RecoveryCodeDisplay,
		OnExpire:     onExpire,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
