package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"vidcall-platform/internal/audit"
	"vidcall-platform/internal/billing"
	"vidcall-platform/internal/calls"
	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/config"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/payments"
	"vidcall-platform/internal/reporting"
	"vidcall-platform/internal/routing"
	"vidcall-platform/internal/settlement"
	"vidcall-platform/internal/signaling"
	"vidcall-platform/internal/transport"
	"vidcall-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	// outgoingSlotTTL bounds how long a crashed instance can hold a caller's outgoing slot.
	outgoingSlotTTL = 2 * time.Hour
	startupPing     = 5 * time.Second
)

// app holds the process-wide services. Nothing here is a global.
type app struct {
	DB    *sql.DB
	Redis *redis.Client

	Hub           *transport.Hub
	WebhookSecret string

	Ledger    *ledger.Service
	Reporting *reporting.Service
	Calls     *calls.Service
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	var (
		store     ledger.Store
		auditRepo audit.Repository
	)
	if cfg.HasPostgres() {
		pool := utils.PostgresPool{
			MaxConns:        cfg.DB.MaxConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		}
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), pool, startupPing)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.DB = db
		if err := utils.Migrate(ctx, db, ledger.Migrations, audit.Migrations); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		store = ledger.NewPostgresStore(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set; using in-memory ledger")
		store = ledger.NewMemoryStore()
		auditRepo = audit.NewMemoryRepo()
	}

	var (
		sig     signaling.Signaling
		limiter calls.Limiter
	)
	if cfg.HasRedis() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisOptions{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.Redis.Password,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			IOTimeout:   cfg.Redis.IOTimeout,
		}, startupPing)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		sig = signaling.NewRedis(rdb, cfg.Signaling.CallEndTTL, log)
		limiter = calls.NewRedisLimiter(rdb, 1, outgoingSlotTTL)
	} else {
		log.Warn("REDIS_HOST not set; using in-process signaling")
		sig = signaling.NewMemory().WithCallEndTTL(cfg.Signaling.CallEndTTL)
		limiter = calls.NewMemoryLimiter(1)
	}

	var gateway ledger.PaymentGateway
	if cfg.Payments.BaseURL != "" {
		gateway = payments.HTTPGateway{BaseURL: cfg.Payments.BaseURL, APIKey: cfg.Payments.APIKey}
	} else {
		log.Warn("PAYMENTS_BASE_URL not set; using sandbox payment gateway")
		gateway = payments.NewSandbox()
	}

	auditSvc := audit.NewService(auditRepo)
	a.Hub = transport.NewHub(log)
	a.WebhookSecret = cfg.Transport.WebhookSecret
	if a.WebhookSecret == "" {
		log.Warn("TRANSPORT_WEBHOOK_SECRET not set; transport callbacks are unauthenticated")
	}
	a.Ledger = ledger.NewService(store, gateway, log).WithAudit(auditSvc)
	a.Reporting = reporting.NewService(store)
	a.Calls = calls.NewService(calls.Deps{
		Accounts:   store,
		Settler:    settlement.NewService(store, cfg.Billing.ProviderShare, auditSvc, log),
		Admission:  routing.NewEngine(store, routing.AuditAdapter{Audit: auditSvc}).WithLogger(log),
		Signaling:  sig,
		Transports: a.Hub.Factory(),
		Clocks:     clock.NewFactory(clock.Options{Interval: cfg.Billing.TickInterval}),
		Billing:    billing.NewEngine(cfg.Billing.LowBalanceThreshold),
		Limiter:    limiter,
		Log:        log,
	})
	return a, nil
}

func (a *app) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
