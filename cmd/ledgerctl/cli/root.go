package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/accounts"
	"github.com/odyssey-erp/coopledger/internal/accounting/mappings"
	"github.com/odyssey-erp/coopledger/internal/accounting/periods"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/close"
)

// Closer runs the period close workflow.
type Closer interface {
	Close(ctx context.Context, periodID, actorID int64) (close.Result, error)
	Rollback(ctx context.Context, periodID, actorID int64) (close.Result, error)
}

// Enqueuer hands ledger jobs to the asynq worker.
type Enqueuer interface {
	Trigger(ctx context.Context, name string, periodID int64) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Runtime bundles what the admin commands act on. Unset fields disable the commands that need them.
type Runtime struct {
	Store    accounting.Store
	Accounts *mappings.Resolver
	Chart    *accounts.Service
	Periods  *periods.Service
	Reports  *reports.Generator
	Closer   Closer
	Jobs     Enqueuer
	Migrate  func(steps int) error
	Release  func() error
}

// Opener builds a Runtime on first use so --help never dials a database.
type Opener func(ctx context.Context) (*Runtime, error)

var errNotConfigured = errors.New("ledgerctl: runtime not configured")

type session struct {
	open Opener
	rt   *Runtime
}

func (s *session) runtime(ctx context.Context) (*Runtime, error) {
	if s.rt != nil {
		return s.rt, nil
	}
	if s.open == nil {
		return nil, errNotConfigured
	}
	rt, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.rt = rt
	return rt, nil
}

func (s *session) release() error {
	if s.rt == nil || s.rt.Release == nil {
		return nil
	}
	return s.rt.Release()
}

// NewRootCommand creates the ledgerctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	s := &session{open: open}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Administer the cooperative ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.release()
		},
	}

	root.AddCommand(
		newMigrateCommand(s),
		newSeedCommand(s),
		newVerifyMappingsCommand(s),
		newTrialBalanceCommand(s),
		newClosePeriodCommand(s),
		newRollbackCloseCommand(s),
		newJobsCommand(s),
	)
	return root
}
