package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/coopledger/internal/jobs"
)

// Integrity checks reported by the GL integrity job.
const (
	CheckEntryBalance   = "entry_balance"
	CheckAccountBalance = "account_balance"
	CheckPeriodBalance  = "period_balance"
)

// GLIntegrityPayload narrows the check to one period. Zero checks the whole ledger.
type GLIntegrityPayload struct {
	PeriodID int64 `json:"period_id,omitempty"`
}

// IntegrityFinding describes one ledger inconsistency.
type IntegrityFinding struct {
	Check    string `json:"check"`
	PeriodID int64  `json:"period_id,omitempty"`
	EntityID int64  `json:"entity_id"`
	Detail   string `json:"detail"`
}

// IntegrityReport summarises a GL integrity run.
type IntegrityReport struct {
	Accounts int                `json:"accounts"`
	Entries  int                `json:"entries"`
	Periods  int                `json:"periods"`
	Findings []IntegrityFinding `json:"findings"`
}

// NewGLIntegrityTask builds the asynq task for the GL integrity check.
func NewGLIntegrityTask(periodID int64) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data, asynq.Queue(QueueFor(TaskGLIntegrity))), nil
}

// GLIntegrityJob verifies that posted entries balance, that stored account balances equal the
// sum of their posted lines, and that every period trial balance is in balance.
type GLIntegrityJob struct {
	store   accounting.Store
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	workers int
}

// NewGLIntegrityJob constructs the job. workers bounds the account fan-out.
func NewGLIntegrityJob(store accounting.Store, logger *slog.Logger, metrics *jobmetrics.Metrics, workers int) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &GLIntegrityJob{store: store, logger: logger, metrics: metrics, workers: workers}
}

// Handle executes the job from an asynq task.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.store == nil {
		return errors.New("gl integrity: job not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.PeriodID)
	return err
}

// Run performs the check and records findings as metrics and warnings.
func (j *GLIntegrityJob) Run(ctx context.Context, periodID int64) (IntegrityReport, error) {
	tracker := j.metrics.Track(TaskGLIntegrity)
	start := time.Now()
	logger := j.logger.With(slog.String("job", "gl_integrity"), slog.Int64("period_id", periodID))

	snap, err := j.load(ctx, periodID)
	if err != nil {
		logger.Error("load ledger snapshot", slog.Any("error", err))
		return IntegrityReport{}, tracker.End(err)
	}
	findings, err := j.inspect(ctx, snap, periodID)
	if err != nil {
		logger.Error("inspect ledger", slog.Any("error", err))
		return IntegrityReport{}, tracker.End(err)
	}

	report := IntegrityReport{
		Accounts: len(snap.accounts),
		Entries:  len(snap.entryLines),
		Periods:  len(snap.worksheets),
		Findings: findings,
	}
	counts := make(map[string]map[int64]int)
	for _, f := range findings {
		logger.Warn("ledger integrity finding",
			slog.String("check", f.Check),
			slog.Int64("entity_id", f.EntityID),
			slog.String("detail", f.Detail),
		)
		if counts[f.Check] == nil {
			counts[f.Check] = make(map[int64]int)
		}
		counts[f.Check][f.PeriodID]++
	}
	for check, byPeriod := range counts {
		for period, n := range byPeriod {
			j.metrics.AddFindings(check, period, n)
		}
	}
	logger.Info("GL integrity check executed",
		slog.Int("accounts", report.Accounts),
		slog.Int("entries", report.Entries),
		slog.Int("findings", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, tracker.End(nil)
}

type ledgerSnapshot struct {
	accounts     []accounting.Account
	accountLines map[int64][]accounting.PostedLine
	entryLines   map[int64][]accounting.PostedLine
	worksheets   []reports.AdjustedTrialBalance
}

// load reads everything inside one snapshot. Readers are not shared across goroutines.
func (j *GLIntegrityJob) load(ctx context.Context, periodID int64) (ledgerSnapshot, error) {
	snap := ledgerSnapshot{
		accountLines: make(map[int64][]accounting.PostedLine),
		entryLines:   make(map[int64][]accounting.PostedLine),
	}
	err := j.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		if snap.accounts, err = r.ListAccounts(ctx); err != nil {
			return err
		}
		lines, err := r.ListPostedLines(ctx, accounting.LineFilter{IncludeCarryForward: true})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if periodID == 0 || line.PeriodID == periodID {
				snap.entryLines[line.EntryID] = append(snap.entryLines[line.EntryID], line)
			}
			if !line.CarryForward {
				snap.accountLines[line.AccountID] = append(snap.accountLines[line.AccountID], line)
			}
		}
		periodIDs, err := j.periodIDs(ctx, r, periodID)
		if err != nil {
			return err
		}
		for _, id := range periodIDs {
			ws, err := reports.Worksheet(ctx, r, id, reports.Options{})
			if err != nil {
				return err
			}
			snap.worksheets = append(snap.worksheets, ws)
		}
		return nil
	})
	return snap, err
}

func (j *GLIntegrityJob) periodIDs(ctx context.Context, r accounting.Reader, periodID int64) ([]int64, error) {
	if periodID != 0 {
		return []int64{periodID}, nil
	}
	years, err := r.ListFiscalYears(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, fy := range years {
		periods, err := r.ListPeriods(ctx, fy.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range periods {
			if p.Status != accounting.PeriodStatusPlanned {
				ids = append(ids, p.ID)
			}
		}
	}
	return ids, nil
}

func (j *GLIntegrityJob) inspect(ctx context.Context, snap ledgerSnapshot, periodID int64) ([]IntegrityFinding, error) {
	var (
		mu       sync.Mutex
		findings []IntegrityFinding
	)
	add := func(f IntegrityFinding) {
		mu.Lock()
		findings = append(findings, f)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for entryID, lines := range snap.entryLines {
			debit, credit := decimal.Zero, decimal.Zero
			for _, line := range lines {
				if line.Side == accounting.SideDebit {
					debit = debit.Add(line.Amount)
				} else {
					credit = credit.Add(line.Amount)
				}
			}
			if !debit.Equal(credit) {
				add(IntegrityFinding{
					Check: CheckEntryBalance, PeriodID: lines[0].PeriodID, EntityID: entryID,
					Detail: fmt.Sprintf("entry %s debits %s credits %s", lines[0].EntryNumber, debit.StringFixed(2), credit.StringFixed(2)),
				})
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, ws := range snap.worksheets {
			if !ws.IsBalanced {
				add(IntegrityFinding{
					Check: CheckPeriodBalance, PeriodID: ws.PeriodID, EntityID: ws.PeriodID,
					Detail: fmt.Sprintf("trial balance debits %s credits %s", ws.Adjusted.Debit.StringFixed(2), ws.Adjusted.Credit.StringFixed(2)),
				})
			}
		}
		return nil
	})
	if periodID == 0 {
		g.Go(func() error { return j.checkAccounts(gctx, snap, add) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(findings, func(a, b int) bool {
		if findings[a].Check != findings[b].Check {
			return findings[a].Check < findings[b].Check
		}
		return findings[a].EntityID < findings[b].EntityID
	})
	return findings, nil
}

// checkAccounts compares stored balances with the movement of posted lines on a bounded pool.
func (j *GLIntegrityJob) checkAccounts(ctx context.Context, snap ledgerSnapshot, add func(IntegrityFinding)) error {
	pool, err := ants.NewPool(j.workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, acc := range snap.accounts {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			expected := balances.Movement(acc.NormalSide, snap.accountLines[acc.ID])
			if !expected.Equal(acc.Balance) {
				add(IntegrityFinding{
					Check: CheckAccountBalance, EntityID: acc.ID,
					Detail: fmt.Sprintf("account %s stored %s posted %s", acc.Number, acc.Balance.StringFixed(2), expected.StringFixed(2)),
				})
			}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}
