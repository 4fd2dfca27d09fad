package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/accounts"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
	"github.com/odyssey-erp/coopledger/internal/accounting/mappings"
	"github.com/odyssey-erp/coopledger/internal/accounting/periods"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/close"
	"github.com/odyssey-erp/coopledger/internal/integration"
	"github.com/odyssey-erp/coopledger/internal/observability"
	"github.com/odyssey-erp/coopledger/internal/shared"
)

// AuditRecorder persists audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LedgerDeps are the infrastructure handles a Ledger is assembled from.
// Only Store and Config are required.
type LedgerDeps struct {
	Store   accounting.Store
	Config  *Config
	Logger  *slog.Logger
	Redis   redis.UniversalClient
	Audit   AuditRecorder
	Deduper integration.Deduper
	Events  journals.EventPublisher
	Metrics *observability.Metrics
}

// Ledger is the wired set of ledger services shared by the API, worker and admin CLI.
type Ledger struct {
	Store    accounting.Store
	Accounts *accounts.Service
	Periods  *periods.Service
	Journals *journals.Service
	Mappings *mappings.Resolver
	Reports  *reports.Generator
	Cache    *reports.Cache
	Close    *close.Service
	Hooks    *integration.Hooks
}

// NewLedger wires services together. Without Redis the report cache and close lock are disabled.
func NewLedger(deps LedgerDeps) *Ledger {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}

	var (
		journalAudit journals.AuditPort
		periodAudit  periods.AuditPort
		accountAudit accounts.AuditPort
	)
	if deps.Audit != nil {
		journalAudit, periodAudit, accountAudit = deps.Audit, deps.Audit, deps.Audit
	}

	l := &Ledger{
		Store:    deps.Store,
		Accounts: accounts.NewService(deps.Store, accountAudit, logger),
		Periods:  periods.NewService(deps.Store, periodAudit, logger),
		Mappings: mappings.NewResolver(cfg.WellKnownAccounts()),
	}
	l.Journals = journals.NewService(deps.Store, balances.NewEngine(logger), nil, journalAudit, logger)
	if cfg.PostMaxRetries > 0 {
		l.Journals.WithMaxRetries(cfg.PostMaxRetries)
	}
	if deps.Metrics != nil {
		l.Journals.WithMetrics(deps.Metrics)
	}
	if deps.Events != nil {
		l.Journals.WithEvents(deps.Events)
	}

	if deps.Redis != nil {
		l.Cache = reports.NewCache(deps.Redis, cfg.ReportCacheTTL)
		if deps.Metrics != nil {
			l.Cache.WithObserver(deps.Metrics)
		}
		l.Journals.WithCache(l.Cache)
	}
	l.Reports = reports.NewGenerator(deps.Store, l.Cache, logger)

	l.Close = close.NewService(deps.Store, l.Journals, l.Periods, l.Mappings, logger)
	if deps.Redis != nil {
		l.Close.WithLocker(shared.NewLocker(deps.Redis, cfg.CloseLockTTL))
	}
	if deps.Audit != nil {
		l.Close.WithAudit(deps.Audit)
	}
	l.Journals.WithGuard(l.Close)

	l.Hooks = integration.NewHooks(l.Journals, deps.Store, l.Mappings, logger)
	if deps.Deduper != nil {
		l.Hooks.WithDeduper(deps.Deduper)
	}
	return l
}
