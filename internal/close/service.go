package close

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
	"github.com/odyssey-erp/coopledger/internal/accounting/mappings"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// Poster posts generated entries inside a caller's transaction and announces them once committed.
type Poster interface {
	PostGenerated(ctx context.Context, tx accounting.Tx, in journals.GeneratedInput) (accounting.JournalEntry, error)
	Notify(ctx context.Context, eventType string, actorID int64, entries ...accounting.JournalEntry)
}

// PeriodCloser flips a period to CLOSED and opens its successor.
type PeriodCloser interface {
	MarkClosed(ctx context.Context, tx accounting.Tx, period accounting.Period, actorID int64) (accounting.Period, *accounting.Period, error)
}

// Service orchestrates the period close workflow.
type Service struct {
	store    accounting.Store
	poster   Poster
	periods  PeriodCloser
	accounts *mappings.Resolver
	engine   *balances.Engine
	locker   *internalShared.Locker
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(store accounting.Store, poster Poster, periods PeriodCloser, accounts *mappings.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		poster:   poster,
		periods:  periods,
		accounts: accounts,
		engine:   balances.NewEngine(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// WithLocker serialises close steps per period across processes.
func (s *Service) WithLocker(locker *internalShared.Locker) { s.locker = locker }

// WithAudit records every close step.
func (s *Service) WithAudit(audit AuditPort) { s.audit = audit }

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type stepFunc func(ctx context.Context, periodID, actorID int64) (Result, error)

func (s *Service) steps() []struct {
	name Step
	fn   stepFunc
} {
	return []struct {
		name Step
		fn   stepFunc
	}{
		{StepInitiate, s.initiate},
		{StepValidate, s.validate},
		{StepPostClosingEntries, s.postClosingEntries},
		{StepComplete, s.complete},
	}
}

// Initiate starts closing an open period that has no entry awaiting posting.
func (s *Service) Initiate(ctx context.Context, periodID, actorID int64) (Result, error) {
	return s.run(ctx, periodID, actorID, StepInitiate, s.initiate)
}

// Validate recomputes the period trial balance and records any findings on the period.
func (s *Service) Validate(ctx context.Context, periodID, actorID int64) (Result, error) {
	return s.run(ctx, periodID, actorID, StepValidate, s.validate)
}

// PostClosingEntries zeroes revenue and expense accounts into retained earnings.
func (s *Service) PostClosingEntries(ctx context.Context, periodID, actorID int64) (Result, error) {
	return s.run(ctx, periodID, actorID, StepPostClosingEntries, s.postClosingEntries)
}

// Complete carries permanent balances into the next period and closes the period.
func (s *Service) Complete(ctx context.Context, periodID, actorID int64) (Result, error) {
	return s.run(ctx, periodID, actorID, StepComplete, s.complete)
}

// Rollback undoes an unfinished close, removing the closing entries posted by the current run.
func (s *Service) Rollback(ctx context.Context, periodID, actorID int64) (Result, error) {
	return s.run(ctx, periodID, actorID, StepRollback, s.rollback)
}

// Close runs every step in order and stops at the first failure.
func (s *Service) Close(ctx context.Context, periodID, actorID int64) (Result, error) {
	var out Result
	err := s.locked(ctx, periodID, func(ctx context.Context) error {
		for _, step := range s.steps() {
			res, err := step.fn(ctx, periodID, actorID)
			if res.Period.ID != 0 {
				out.Period = res.Period
			}
			out.Entries = append(out.Entries, res.Entries...)
			if res.Next != nil {
				out.Next = res.Next
			}
			s.record(ctx, actorID, step.name, periodID, res, err)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// EnsurePeriodOpenForPosting rejects postings into periods that are closed or being closed.
func (s *Service) EnsurePeriodOpenForPosting(ctx context.Context, periodID int64) error {
	held, err := s.locker.Held(ctx, internalShared.FinanceLockKey(periodID))
	if err != nil {
		s.logger.Warn("check close lock", slog.Int64("period_id", periodID), slog.Any("error", err))
	} else if held {
		return shared.State("financial_period", periodID, "period close in progress", shared.ErrPeriodLocked)
	}
	var period accounting.Period
	if err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		period, err = r.GetPeriod(ctx, periodID)
		return err
	}); err != nil {
		return err
	}
	return journals.CheckPostable(period)
}

func (s *Service) run(ctx context.Context, periodID, actorID int64, name Step, fn stepFunc) (Result, error) {
	var res Result
	err := s.locked(ctx, periodID, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx, periodID, actorID)
		s.record(ctx, actorID, name, periodID, res, err)
		return err
	})
	return res, err
}

func (s *Service) locked(ctx context.Context, periodID int64, fn func(context.Context) error) error {
	release, err := s.locker.Acquire(ctx, internalShared.FinanceLockKey(periodID))
	if err != nil {
		if errors.Is(err, internalShared.ErrLockHeld) {
			return shared.Concurrency("financial_period", periodID, err)
		}
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release close lock", slog.Int64("period_id", periodID), slog.Any("error", err))
		}
	}()
	return fn(ctx)
}

func (s *Service) initiate(ctx context.Context, periodID, _ int64) (Result, error) {
	var res Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status != accounting.PeriodStatusOpen {
			return shared.State("financial_period", period.ID, fmt.Sprintf("cannot close a %s period", period.Status), shared.ErrInvalidStatus)
		}
		if err := expect(period, accounting.ClosingInitiated); err != nil {
			return err
		}
		if err := requireEarlierClosed(ctx, tx, period); err != nil {
			return err
		}
		unposted, err := tx.CountUnposted(ctx, period.ID)
		if err != nil {
			return err
		}
		if unposted > 0 {
			return shared.State("financial_period", period.ID, unpostedMessage(unposted), shared.ErrUnpostedEntries)
		}
		period.ClosingStatus = accounting.ClosingInitiated
		period.ValidationErrors = nil
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		res.Period = period
		return nil
	})
	return res, err
}

func (s *Service) validate(ctx context.Context, periodID, _ int64) (Result, error) {
	var (
		res      Result
		findings []string
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if err := expect(period, accounting.ClosingValidated); err != nil {
			return err
		}
		findings, err = s.findings(ctx, tx, period)
		if err != nil {
			return err
		}
		if len(findings) > 0 {
			period.ClosingStatus = accounting.ClosingFailed
			period.ValidationErrors = findings
		} else {
			period.ClosingStatus = accounting.ClosingValidated
			period.ValidationErrors = nil
		}
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		res.Period = period
		return nil
	})
	if err != nil {
		return res, err
	}
	if len(findings) > 0 {
		s.logger.Warn("period failed closing validation", slog.Int64("period_id", periodID), slog.Any("findings", findings))
		return res, shared.Consistency("financial_period", periodID, strings.Join(findings, "; "), shared.ErrClosingValidation)
	}
	return res, nil
}

func (s *Service) findings(ctx context.Context, tx accounting.Tx, period accounting.Period) ([]string, error) {
	var out []string
	unposted, err := tx.CountUnposted(ctx, period.ID)
	if err != nil {
		return nil, err
	}
	if unposted > 0 {
		out = append(out, unpostedMessage(unposted)+" remain")
	}
	ws, err := reports.Worksheet(ctx, tx, period.ID, reports.Options{})
	if err != nil {
		return nil, err
	}
	tb := ws.UnadjustedTrialBalance()
	if !tb.IsBalanced {
		out = append(out, fmt.Sprintf("trial balance out of balance: debits %s, credits %s",
			tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2)))
	}
	for _, row := range tb.Rows() {
		if row.Abnormal() {
			out = append(out, fmt.Sprintf("account %s %s has an abnormal %s balance of %s",
				row.Number, row.Name, row.NormalSide.Opposite(), row.Balance.Abs().StringFixed(2)))
		}
	}
	return out, nil
}

func (s *Service) postClosingEntries(ctx context.Context, periodID, actorID int64) (Result, error) {
	var res Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		res = Result{}
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if err := expect(period, accounting.ClosingEntriesPosted); err != nil {
			return err
		}
		retained, err := s.accounts.Get(ctx, tx, mappings.RoleRetainedEarnings)
		if err != nil {
			return err
		}
		if retained.Account.Type != accounting.AccountTypeEquity {
			return shared.Validation("account_mapping", string(mappings.RoleRetainedEarnings),
				fmt.Sprintf("account %s is %s, retained earnings must be EQUITY", retained.Number, retained.Account.Type), shared.ErrInvalidAccount)
		}
		period.ClosingRun++
		ref := closingReference(period.ID, period.ClosingRun)
		ws, err := reports.Worksheet(ctx, tx, period.ID, reports.Options{})
		if err != nil {
			return err
		}
		adjusted := ws.AdjustedBalances()
		for _, typ := range []accounting.AccountType{accounting.AccountTypeRevenue, accounting.AccountTypeExpense} {
			lines := closingLines(adjusted, typ, retained.Account.ID)
			if len(lines) == 0 {
				continue
			}
			entry, err := s.poster.PostGenerated(ctx, tx, journals.GeneratedInput{
				PeriodID:    period.ID,
				Date:        period.EndDate,
				Description: fmt.Sprintf("Close %s accounts of %s to retained earnings", strings.ToLower(string(typ)), period.Name),
				Reference:   ref,
				Type:        accounting.EntryTypeYearEndClosing,
				ActorID:     actorID,
				Lines:       lines,
			})
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entry)
		}
		period.ClosingStatus = accounting.ClosingEntriesPosted
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		res.Period = period
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.poster.Notify(ctx, journals.EventPosted, actorID, res.Entries...)
	return res, nil
}

// closingLines zeroes every account of typ and books the net into retained earnings. Each line
// uses the account's own normal side; the net is taken on the type's normal side.
func closingLines(rows []reports.AccountBalance, typ accounting.AccountType, retainedID int64) []accounting.JournalLine {
	var lines []accounting.JournalLine
	total := decimal.Zero
	for _, row := range rows {
		if row.Type != typ || row.Balance.IsZero() {
			continue
		}
		side := row.NormalSide.Opposite()
		if row.Balance.IsNegative() {
			side = row.NormalSide
		}
		lines = append(lines, accounting.JournalLine{
			AccountID:   row.AccountID,
			Amount:      row.Balance.Abs(),
			Side:        side,
			Description: "Close " + row.Number,
		})
		total = total.Add(row.TypeBalance())
	}
	if len(lines) == 0 || total.IsZero() {
		return lines
	}
	side := typ.NormalSide()
	if total.IsNegative() {
		side = side.Opposite()
	}
	return append(lines, accounting.JournalLine{
		AccountID:   retainedID,
		Amount:      total.Abs(),
		Side:        side,
		Description: "Retained earnings",
	})
}

func (s *Service) complete(ctx context.Context, periodID, actorID int64) (Result, error) {
	var res Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		res = Result{}
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if err := expect(period, accounting.ClosingClosed); err != nil {
			return err
		}
		next, err := tx.NextPeriodAfter(ctx, period.EndDate)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.State("financial_period", period.ID, "next period must exist before the close completes", shared.ErrNextPeriodMissing)
		}
		if err != nil {
			return err
		}
		if next.Status == accounting.PeriodStatusClosed {
			return shared.State("financial_period", next.ID,
				fmt.Sprintf("next period %s is closed and cannot take the carry-forward of %s", next.Name, period.Name), shared.ErrPeriodLocked)
		}
		ref := carryForwardReference(period.ID)
		if err := dropCarryForward(ctx, tx, next.ID, ref); err != nil {
			return err
		}
		ws, err := reports.Worksheet(ctx, tx, period.ID, reports.Options{})
		if err != nil {
			return err
		}
		lines := carryForwardLines(ws.AdjustedBalances())
		debit, credit := accounting.LineTotals(lines)
		if !debit.Equal(credit) {
			return shared.Consistency("financial_period", period.ID,
				fmt.Sprintf("carry-forward entry unbalanced: debits %s, credits %s", debit.StringFixed(2), credit.StringFixed(2)), shared.ErrUnbalanced)
		}
		if len(lines) > 0 {
			entry, err := s.poster.PostGenerated(ctx, tx, journals.GeneratedInput{
				PeriodID:     next.ID,
				Date:         next.StartDate,
				Description:  "Opening balances carried forward from " + period.Name,
				Reference:    ref,
				Type:         accounting.EntryTypeSystemGenerated,
				CarryForward: true,
				ActorID:      actorID,
				Lines:        lines,
			})
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entry)
		}
		closed, opened, err := s.periods.MarkClosed(ctx, tx, period, actorID)
		if err != nil {
			return err
		}
		res.Period = closed
		res.Next = opened
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.poster.Notify(ctx, journals.EventPosted, actorID, res.Entries...)
	return res, nil
}

// requireEarlierClosed rejects closing a period while any period that starts before it is not CLOSED.
func requireEarlierClosed(ctx context.Context, r accounting.Reader, period accounting.Period) error {
	years, err := r.ListFiscalYears(ctx)
	if err != nil {
		return err
	}
	start := accounting.CalendarDay(period.StartDate)
	for _, fy := range years {
		if !accounting.CalendarDay(fy.StartDate).Before(start) {
			continue
		}
		ps, err := r.ListPeriods(ctx, fy.ID)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.ID == period.ID || !accounting.CalendarDay(p.StartDate).Before(start) {
				continue
			}
			if p.Status != accounting.PeriodStatusClosed {
				return shared.State("financial_period", period.ID,
					fmt.Sprintf("period %s is %s and must be closed first", p.Name, p.Status), shared.ErrCloseOrder)
			}
		}
	}
	return nil
}

// carryForwardLines restates the closed period's adjusted permanent balances on each account's
// normal side, abnormal balances on the opposite side.
func carryForwardLines(rows []reports.AccountBalance) []accounting.JournalLine {
	var lines []accounting.JournalLine
	for _, row := range rows {
		if row.Type.Temporary() || row.Balance.IsZero() {
			continue
		}
		side := row.NormalSide
		if row.Balance.IsNegative() {
			side = side.Opposite()
		}
		lines = append(lines, accounting.JournalLine{
			AccountID:   row.AccountID,
			Amount:      row.Balance.Abs(),
			Side:        side,
			Description: "Opening balance " + row.Number,
		})
	}
	return lines
}

// dropCarryForward removes the entry a previous close of the same period left in the next one.
// Carry-forward entries never moved balances, so nothing is reverted.
func dropCarryForward(ctx context.Context, tx accounting.Tx, periodID int64, ref string) error {
	entries, err := tx.ListJournalEntries(ctx, accounting.EntryFilter{
		PeriodID: periodID,
		Types:    []accounting.EntryType{accounting.EntryTypeSystemGenerated},
	})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.CarryForward && entry.Reference == ref {
			if err := tx.DeleteJournalEntry(ctx, entry.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) rollback(ctx context.Context, periodID, actorID int64) (Result, error) {
	var (
		res     Result
		removed []accounting.JournalEntry
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		removed = nil
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status == accounting.PeriodStatusClosed || !period.ClosingStatus.RollbackAllowed() {
			return shared.State("financial_period", period.ID,
				fmt.Sprintf("cannot roll back a %s period whose closing is %s", period.Status, period.ClosingStatus), shared.ErrInvalidStatus)
		}
		entries, err := tx.ListJournalEntries(ctx, accounting.EntryFilter{
			PeriodID: period.ID,
			Types:    []accounting.EntryType{accounting.EntryTypeYearEndClosing},
		})
		if err != nil {
			return err
		}
		// Only a run that reached ENTRIES_POSTED has entries of its own.
		ref := ""
		if period.ClosingStatus == accounting.ClosingEntriesPosted {
			ref = closingReference(period.ID, period.ClosingRun)
		}
		for _, e := range entries {
			if ref == "" || e.Reference != ref {
				continue
			}
			entry, err := tx.GetJournalEntryForUpdate(ctx, e.ID)
			if err != nil {
				return err
			}
			if entry.Status.Effective() {
				if _, err := s.engine.Revert(ctx, tx, entry); err != nil {
					return err
				}
			}
			if err := tx.DeleteJournalEntry(ctx, entry.ID); err != nil {
				return err
			}
			removed = append(removed, entry)
		}
		period.ClosingStatus = accounting.ClosingNotStarted
		period.ValidationErrors = nil
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		res.Period = period
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Entries = removed
	s.poster.Notify(ctx, journals.EventDeleted, actorID, removed...)
	return res, nil
}

func expect(period accounting.Period, target accounting.ClosingStatus) error {
	if !period.ClosingStatus.CanTransition(target) {
		return shared.State("financial_period", period.ID,
			fmt.Sprintf("closing cannot move from %s to %s", period.ClosingStatus, target), shared.ErrInvalidStatus)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, step Step, periodID int64, res Result, stepErr error) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"entries": len(res.Entries)}
	if res.Period.ID != 0 {
		meta["closing_status"] = string(res.Period.ClosingStatus)
	}
	if stepErr != nil {
		meta["error"] = stepErr.Error()
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   "period.close." + string(step),
		Entity:   "financial_period",
		EntityID: strconv.FormatInt(periodID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("step", string(step)), slog.Any("error", err))
	}
}
