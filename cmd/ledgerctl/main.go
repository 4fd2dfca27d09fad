package main

import (
	"context"
	"errors"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/coopledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/coopledger/internal/app"
	"github.com/odyssey-erp/coopledger/internal/platform/db"
)

func main() {
	root := cli.NewRootCommand(open)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ledger := infra.Ledger(cfg, nil)
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.IdempotencyRetention)

	return &cli.Runtime{
		Store:    ledger.Store,
		Accounts: ledger.Mappings,
		Chart:    ledger.Accounts,
		Periods:  ledger.Periods,
		Reports:  ledger.Reports,
		Closer:   ledger.Close,
		Jobs:     jobsCLI,
		Migrate: func(steps int) error {
			return db.Migrate(cfg.PGDSN, cfg.MigrationsPath, steps)
		},
		Release: func() error {
			return errors.Join(jobsCLI.Close(), infra.Close())
		},
	}, nil
}
