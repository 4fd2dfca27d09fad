package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/observability"
	"github.com/odyssey-erp/coopledger/internal/platform/cache"
	"github.com/odyssey-erp/coopledger/internal/platform/db"
	"github.com/odyssey-erp/coopledger/internal/platform/messaging"
	"github.com/odyssey-erp/coopledger/internal/shared"
)

// Infra holds process-wide connections.
type Infra struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Publisher   *messaging.LedgerPublisher
	Idempotency *shared.IdempotencyStore
	Audit       *shared.AuditLogger
	logger      *slog.Logger
}

// OpenInfra dials Postgres, Redis and, when brokers are configured, Kafka.
func OpenInfra(ctx context.Context, cfg *Config, logger *slog.Logger) (*Infra, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	infra := &Infra{
		Pool:        pool,
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       shared.NewAuditLogger(pool, logger),
		logger:      logger,
	}

	infra.Redis, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}

	if brokers := messaging.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		infra.Publisher, err = messaging.NewLedgerPublisher(logger, messaging.Config{
			Brokers:      brokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.KafkaWriteLimit,
		})
		if err != nil {
			_ = infra.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
	}
	return infra, nil
}

// Ledger wires the ledger services on top of the opened connections.
func (i *Infra) Ledger(cfg *Config, metrics *observability.Metrics) *Ledger {
	deps := LedgerDeps{
		Store:   accounting.NewRepository(i.Pool),
		Config:  cfg,
		Logger:  i.logger,
		Redis:   i.Redis,
		Audit:   i.Audit,
		Deduper: i.Idempotency,
		Metrics: metrics,
	}
	if i.Publisher != nil {
		deps.Events = i.Publisher
	}
	return NewLedger(deps)
}

// Close releases every connection, returning the joined errors.
func (i *Infra) Close() error {
	var errs []error
	if i.Publisher != nil {
		errs = append(errs, i.Publisher.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	return errors.Join(errs...)
}
