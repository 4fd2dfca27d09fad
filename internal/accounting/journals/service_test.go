package journals

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/memory"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, log internalShared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (e *recordingEvents) Publish(_ context.Context, event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

type countingCache struct {
	mu    sync.Mutex
	count int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

type guardFunc func(ctx context.Context, periodID int64) error

func (f guardFunc) EnsurePeriodOpenForPosting(ctx context.Context, periodID int64) error {
	return f(ctx, periodID)
}

type ledger struct {
	store   *memory.Store
	service *Service
	audit   *recordingAudit
	events  *recordingEvents
	cache   *countingCache
	period  accounting.Period
	next    accounting.Period
	cash    accounting.Account
	revenue accounting.Account
	a       accounting.Account
	b       accounting.Account
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	l := &ledger{store: memory.New(), audit: &recordingAudit{}, events: &recordingEvents{}, cache: &countingCache{}}
	ctx := context.Background()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.InsertFiscalYear(ctx, accounting.FiscalYear{Year: 2026, Code: "FY2026", Name: "Fiscal 2026", StartDate: day(2026, 1, 1), EndDate: day(2026, 12, 31), Status: accounting.FiscalYearOpen})
		if err != nil {
			return err
		}
		if l.period, err = tx.InsertPeriod(ctx, accounting.Period{FiscalYearID: fy.ID, Name: "Jan 2026", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 31), Status: accounting.PeriodStatusOpen}); err != nil {
			return err
		}
		if l.next, err = tx.InsertPeriod(ctx, accounting.Period{FiscalYearID: fy.ID, Name: "Feb 2026", StartDate: day(2026, 2, 1), EndDate: day(2026, 2, 28)}); err != nil {
			return err
		}
		accounts := []*accounting.Account{&l.cash, &l.revenue, &l.a, &l.b}
		specs := []accounting.Account{
			{Number: "1000", Name: "Cash", Type: accounting.AccountTypeAsset},
			{Number: "4100", Name: "Interest income", Type: accounting.AccountTypeRevenue},
			{Number: "1300", Name: "Member receivables", Type: accounting.AccountTypeAsset},
			{Number: "2100", Name: "Customer deposits", Type: accounting.AccountTypeLiability},
		}
		for i, spec := range specs {
			spec.NormalSide = spec.Type.NormalSide()
			spec.Currency = "KES"
			spec.IsActive = true
			spec.AllowManual = true
			if *accounts[i], err = tx.InsertAccount(ctx, spec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	l.service = NewService(l.store, nil, nil, l.audit, nil)
	l.service.WithEvents(l.events)
	l.service.WithCache(l.cache)
	l.service.WithNow(func() time.Time { return time.Date(2026, 1, 20, 9, 30, 0, 0, time.UTC) })
	return l
}

func (l *ledger) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, l.store.View(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		acc, err := r.GetAccount(ctx, id)
		bal = acc.Balance
		return err
	}))
	return bal
}

func (l *ledger) input(date time.Time, debit, credit int64, amount string) CreateInput {
	return CreateInput{
		PeriodID:    l.period.ID,
		Date:        date,
		Description: "member transaction",
		CreatedBy:   7,
		Lines: []LineInput{
			{AccountID: debit, Amount: d(amount), Side: accounting.SideDebit},
			{AccountID: credit, Amount: d(amount), Side: accounting.SideCredit},
		},
	}
}

// approveAndPost drives a draft through the happy path.
func (l *ledger) approveAndPost(t *testing.T, in CreateInput) accounting.JournalEntry {
	t.Helper()
	ctx := context.Background()
	entry, err := l.service.Create(ctx, in)
	require.NoError(t, err)
	_, err = l.service.Submit(ctx, entry.ID, 7)
	require.NoError(t, err)
	_, err = l.service.Approve(ctx, entry.ID, 8)
	require.NoError(t, err)
	posted, err := l.service.Post(ctx, entry.ID, 8)
	require.NoError(t, err)
	return posted
}

func TestPostMovesBalancesOnNormalSides(t *testing.T) {
	l := newLedger(t)
	posted := l.approveAndPost(t, l.input(day(2026, 1, 15), l.cash.ID, l.revenue.ID, "1000"))

	assert.Equal(t, accounting.EntryStatusPosted, posted.Status)
	assert.Equal(t, "STD-000001", posted.Number)
	require.NotNil(t, posted.PostedAt)
	assert.True(t, l.balance(t, l.cash.ID).Equal(d("1000")))
	assert.True(t, l.balance(t, l.revenue.ID).Equal(d("1000")))

	require.Len(t, l.events.events, 1)
	assert.Equal(t, EventPosted, l.events.events[0].Type)
	assert.True(t, l.events.events[0].TotalDebit.Equal(d("1000")))
	assert.Equal(t, 1, l.cache.count)
	assert.Equal(t, []string{"journal.create", "journal.submit", "journal.approve", "journal.post"}, l.audit.actions)
}

func TestCreateRejectsDateAfterPeriodEnd(t *testing.T) {
	l := newLedger(t)
	_, err := l.service.Create(context.Background(), l.input(day(2026, 2, 1), l.cash.ID, l.revenue.ID, "10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.ErrorIs(t, err, shared.ErrDateOutOfRange)

	entries, err := l.service.List(context.Background(), accounting.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateValidation(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*CreateInput)
		rule   error
	}{
		"unbalanced":       {func(in *CreateInput) { in.Lines[1].Amount = d("9.99") }, shared.ErrUnbalanced},
		"no lines":         {func(in *CreateInput) { in.Lines = nil }, shared.ErrTooFewLines},
		"blank":            {func(in *CreateInput) { in.Description = "  " }, shared.ErrDescriptionRequired},
		"negative":         {func(in *CreateInput) { in.Lines[0].Amount = d("-10"); in.Lines[1].Amount = d("-10") }, shared.ErrNonPositiveAmount},
		"bad side":         {func(in *CreateInput) { in.Lines[0].Side = "LEFT" }, shared.ErrInvalidSide},
		"reserved type":    {func(in *CreateInput) { in.Type = accounting.EntryTypeReversal }, shared.ErrReservedEntryType},
		"unknown account":  {func(in *CreateInput) { in.Lines[0].AccountID = 999 }, shared.ErrAccountNotFound},
		"unknown period":   {func(in *CreateInput) { in.PeriodID = 999 }, shared.ErrPeriodNotFound},
		"date before open": {func(in *CreateInput) { in.Date = day(2025, 12, 31) }, shared.ErrDateOutOfRange},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := l.input(day(2026, 1, 10), l.cash.ID, l.revenue.ID, "10")
			tc.mutate(&in)
			_, err := l.service.Create(ctx, in)
			assert.ErrorIs(t, err, tc.rule)
		})
	}
}

func TestCreateRejectsInactiveManualAndCurrency(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	var inactive, locked, usd accounting.Account
	require.NoError(t, l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		if inactive, err = tx.InsertAccount(ctx, accounting.Account{Number: "1900", Name: "Old", Type: accounting.AccountTypeAsset, NormalSide: accounting.SideDebit, Currency: "KES", AllowManual: true}); err != nil {
			return err
		}
		if locked, err = tx.InsertAccount(ctx, accounting.Account{Number: "1910", Name: "Control", Type: accounting.AccountTypeAsset, NormalSide: accounting.SideDebit, Currency: "KES", IsActive: true}); err != nil {
			return err
		}
		usd, err = tx.InsertAccount(ctx, accounting.Account{Number: "1920", Name: "USD cash", Type: accounting.AccountTypeAsset, NormalSide: accounting.SideDebit, Currency: "USD", IsActive: true, AllowManual: true})
		return err
	}))

	_, err := l.service.Create(ctx, l.input(day(2026, 1, 10), inactive.ID, l.revenue.ID, "5"))
	assert.ErrorIs(t, err, shared.ErrAccountInactive)
	_, err = l.service.Create(ctx, l.input(day(2026, 1, 10), locked.ID, l.revenue.ID, "5"))
	assert.ErrorIs(t, err, shared.ErrManualNotAllowed)
	_, err = l.service.Create(ctx, l.input(day(2026, 1, 10), usd.ID, l.revenue.ID, "5"))
	assert.ErrorIs(t, err, shared.ErrCurrencyMismatch)
}

func TestLifecycleGuards(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 10), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)

	_, err = l.service.Post(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)
	_, err = l.service.Approve(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, shared.ErrState)
	_, err = l.service.Reverse(ctx, ReverseInput{EntryID: entry.ID, ActorID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)

	_, err = l.service.Reject(ctx, entry.ID, 1, "")
	assert.ErrorIs(t, err, shared.ErrReasonRequired)
	_, err = l.service.Get(ctx, 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, l.balance(t, l.cash.ID).IsZero())
}

func TestRejectThenReviseReturnsToDraft(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 10), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	_, err = l.service.Submit(ctx, entry.ID, 7)
	require.NoError(t, err)
	rejected, err := l.service.Reject(ctx, entry.ID, 8, "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusRejected, rejected.Status)
	assert.Equal(t, "wrong amount", rejected.RejectionReason)

	revised, err := l.service.Revise(ctx, ReviseInput{
		EntryID:     entry.ID,
		ActorID:     7,
		Date:        day(2026, 1, 11),
		Description: "corrected",
		Lines: []LineInput{
			{AccountID: l.cash.ID, Amount: d("12.50"), Side: accounting.SideDebit},
			{AccountID: l.revenue.ID, Amount: d("12.50"), Side: accounting.SideCredit},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusDraft, revised.Status)
	assert.Empty(t, revised.RejectionReason)
	assert.Equal(t, entry.Number, revised.Number)
	require.Len(t, revised.Lines, 2)
	assert.True(t, revised.Lines[0].Amount.Equal(d("12.50")))

	_, err = l.service.Revise(ctx, ReviseInput{EntryID: entry.ID, Date: day(2026, 1, 11), Description: "again", Lines: []LineInput{}})
	assert.ErrorIs(t, err, shared.ErrTooFewLines)
}

func TestReverseRestoresBalances(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	original := l.approveAndPost(t, l.input(day(2026, 1, 5), l.a.ID, l.b.ID, "500"))
	require.True(t, l.balance(t, l.a.ID).Equal(d("500")))

	reversal, err := l.service.Reverse(ctx, ReverseInput{EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryTypeReversal, reversal.Type)
	assert.Equal(t, accounting.EntryStatusPosted, reversal.Status)
	assert.Equal(t, "REV-000001", reversal.Number)
	assert.Equal(t, day(2026, 1, 20), reversal.Date)
	assert.Equal(t, l.period.ID, reversal.PeriodID)
	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, original.ID, *reversal.ReversesID)
	require.Len(t, reversal.Lines, 2)
	assert.Equal(t, l.a.ID, reversal.Lines[0].AccountID)
	assert.Equal(t, accounting.SideCredit, reversal.Lines[0].Side)
	assert.Equal(t, accounting.SideDebit, reversal.Lines[1].Side)

	assert.True(t, l.balance(t, l.a.ID).IsZero())
	assert.True(t, l.balance(t, l.b.ID).IsZero())

	reloaded, err := l.service.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusReversed, reloaded.Status)
	require.NotNil(t, reloaded.ReversedByID)
	assert.Equal(t, reversal.ID, *reloaded.ReversedByID)

	_, err = l.service.Reverse(ctx, ReverseInput{EntryID: reversal.ID, ActorID: 9})
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)
	_, err = l.service.Reverse(ctx, ReverseInput{EntryID: original.ID, ActorID: 9})
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)

	require.Len(t, l.events.events, 2)
	assert.Equal(t, EventReversed, l.events.events[1].Type)
}

func TestReverseIntoOpenPeriodWhenOriginalClosed(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	original := l.approveAndPost(t, l.input(day(2026, 1, 5), l.a.ID, l.b.ID, "40"))
	require.NoError(t, l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		p, err := tx.GetPeriodForUpdate(ctx, l.period.ID)
		if err != nil {
			return err
		}
		p.Status = accounting.PeriodStatusClosed
		if err := tx.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		next, err := tx.GetPeriodForUpdate(ctx, l.next.ID)
		if err != nil {
			return err
		}
		next.Status = accounting.PeriodStatusOpen
		return tx.UpdatePeriod(ctx, next)
	}))

	l.service.WithNow(func() time.Time { return time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC) })
	reversal, err := l.service.Reverse(ctx, ReverseInput{EntryID: original.ID, ActorID: 9})
	require.NoError(t, err)
	assert.Equal(t, l.next.ID, reversal.PeriodID)
	assert.Equal(t, day(2026, 2, 3), reversal.Date)

	l.service.WithNow(func() time.Time { return time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC) })
	second := l.approveAndPost(t, CreateInput{PeriodID: l.next.ID, Date: day(2026, 2, 4), Description: "feb", Lines: []LineInput{
		{AccountID: l.a.ID, Amount: d("1"), Side: accounting.SideDebit},
		{AccountID: l.b.ID, Amount: d("1"), Side: accounting.SideCredit},
	}})
	require.NoError(t, l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		p, err := tx.GetPeriodForUpdate(ctx, l.next.ID)
		if err != nil {
			return err
		}
		p.Status = accounting.PeriodStatusClosed
		return tx.UpdatePeriod(ctx, p)
	}))
	_, err = l.service.Reverse(ctx, ReverseInput{EntryID: second.ID, ActorID: 9})
	assert.ErrorIs(t, err, shared.ErrState)
	assert.ErrorIs(t, err, shared.ErrInvalidPeriod)
}

func TestPostRejectedForClosedPeriodButAllowedAfterEndDate(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	// The clock is past the period end; status still OPEN, so posting goes through.
	l.service.WithNow(func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) })
	l.approveAndPost(t, l.input(day(2026, 1, 31), l.cash.ID, l.revenue.ID, "10"))

	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 30), l.cash.ID, l.revenue.ID, "20"))
	require.NoError(t, err)
	_, err = l.service.Submit(ctx, entry.ID, 1)
	require.NoError(t, err)
	_, err = l.service.Approve(ctx, entry.ID, 1)
	require.NoError(t, err)
	require.NoError(t, l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		p, err := tx.GetPeriodForUpdate(ctx, l.period.ID)
		if err != nil {
			return err
		}
		p.Status = accounting.PeriodStatusClosed
		return tx.UpdatePeriod(ctx, p)
	}))
	_, err = l.service.Post(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)
	assert.True(t, l.balance(t, l.cash.ID).Equal(d("10")))

	still, err := l.service.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusApproved, still.Status)
}

func TestPostBlockedWhileClosingInProgress(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	_, _ = l.service.Submit(ctx, entry.ID, 1)
	_, _ = l.service.Approve(ctx, entry.ID, 1)
	require.NoError(t, l.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		p, err := tx.GetPeriodForUpdate(ctx, l.period.ID)
		if err != nil {
			return err
		}
		p.ClosingStatus = accounting.ClosingValidated
		return tx.UpdatePeriod(ctx, p)
	}))
	_, err = l.service.Post(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)
}

func TestPostConsultsGuard(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	blocked := errors.New("period close running")
	var seen int64
	l.service.guard = guardFunc(func(_ context.Context, periodID int64) error {
		seen = periodID
		return blocked
	})
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	_, _ = l.service.Submit(ctx, entry.ID, 1)
	_, _ = l.service.Approve(ctx, entry.ID, 1)

	_, err = l.service.Post(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, blocked)
	assert.Equal(t, l.period.ID, seen)
	assert.True(t, l.balance(t, l.cash.ID).IsZero())
}

// flakyStore fails the first n write transactions with a concurrency conflict.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return shared.Concurrency("account", 1, shared.ErrVersionConflict)
	}
	return f.Store.WithTx(ctx, fn)
}

type countingMetrics struct {
	postings int
	failures int
	retries  int
}

func (m *countingMetrics) ObservePosting(_ accounting.EntryType, err error) {
	m.postings++
	if err != nil {
		m.failures++
	}
}

func (m *countingMetrics) ObserveRetry(string) { m.retries++ }

func TestPostRetriesConcurrencyConflicts(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	_, _ = l.service.Submit(ctx, entry.ID, 1)
	_, _ = l.service.Approve(ctx, entry.ID, 1)

	flaky := &flakyStore{Store: l.store, failures: 2}
	metrics := &countingMetrics{}
	svc := NewService(flaky, nil, nil, nil, nil)
	svc.WithMetrics(metrics)
	posted, err := svc.Post(ctx, entry.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusPosted, posted.Status)
	assert.Equal(t, 3, flaky.attempts)
	assert.Equal(t, 2, metrics.retries)
	assert.True(t, l.balance(t, l.cash.ID).Equal(d("10")))
}

func TestPostGivesUpAfterMaxRetries(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	_, _ = l.service.Submit(ctx, entry.ID, 1)
	_, _ = l.service.Approve(ctx, entry.ID, 1)

	flaky := &flakyStore{Store: l.store, failures: 100}
	metrics := &countingMetrics{}
	svc := NewService(flaky, nil, nil, nil, nil)
	svc.WithMetrics(metrics)
	_, err = svc.Post(ctx, entry.ID, 1)
	assert.ErrorIs(t, err, shared.ErrConcurrency)
	assert.Equal(t, DefaultMaxRetries+1, flaky.attempts)
	assert.Equal(t, 1, metrics.failures)
	assert.True(t, l.balance(t, l.cash.ID).IsZero())
}

// sequenceConflictStore fails NextEntryNumber the way a serialization failure on
// entry_sequences surfaces from Postgres.
type sequenceConflictStore struct {
	*memory.Store
	conflicts int
	attempts  int
}

type sequenceConflictTx struct {
	accounting.Tx
	store *sequenceConflictStore
}

func (f *sequenceConflictStore) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		return fn(ctx, sequenceConflictTx{Tx: tx, store: f})
	})
}

func (c sequenceConflictTx) NextEntryNumber(ctx context.Context, entryType accounting.EntryType) (string, error) {
	c.store.attempts++
	if c.store.conflicts > 0 {
		c.store.conflicts--
		return "", shared.Concurrency("entry_sequence", string(entryType), shared.ErrVersionConflict)
	}
	return c.Tx.NextEntryNumber(ctx, entryType)
}

func TestCreateRetriesSequenceConflicts(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	store := &sequenceConflictStore{Store: l.store, conflicts: 1}
	metrics := &countingMetrics{}
	svc := NewService(store, nil, nil, nil, nil)
	svc.WithMetrics(metrics)

	entry, err := svc.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusDraft, entry.Status)
	assert.NotEmpty(t, entry.Number)
	assert.Equal(t, 2, store.attempts)
	assert.Equal(t, 1, metrics.retries)

	entries, err := svc.List(ctx, accounting.EntryFilter{PeriodID: l.period.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTransitionsRetryConcurrencyConflicts(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Create(ctx, l.input(day(2026, 1, 3), l.cash.ID, l.revenue.ID, "10"))
	require.NoError(t, err)

	flaky := &flakyStore{Store: l.store, failures: 1}
	metrics := &countingMetrics{}
	svc := NewService(flaky, nil, nil, nil, nil)
	svc.WithMetrics(metrics)
	submitted, err := svc.Submit(ctx, entry.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusSubmitted, submitted.Status)
	assert.Equal(t, 2, flaky.attempts)

	rejected, err := svc.Reject(ctx, entry.ID, 8, "wrong member")
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusRejected, rejected.Status)

	flaky.mu.Lock()
	flaky.failures = 1
	flaky.mu.Unlock()
	revised, err := svc.Revise(ctx, ReviseInput{
		EntryID:     entry.ID,
		ActorID:     7,
		Date:        day(2026, 1, 4),
		Description: "member transaction",
		Lines: []LineInput{
			{AccountID: l.cash.ID, Amount: d("12"), Side: accounting.SideDebit},
			{AccountID: l.revenue.ID, Amount: d("12"), Side: accounting.SideCredit},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusDraft, revised.Status)
	assert.Equal(t, 2, metrics.retries)
}

func TestConcurrentPostingToOneAccount(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	const n = 25
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		entry, err := l.service.Create(ctx, l.input(day(2026, 1, 10), l.cash.ID, l.revenue.ID, "4.20"))
		require.NoError(t, err)
		_, err = l.service.Submit(ctx, entry.ID, 1)
		require.NoError(t, err)
		_, err = l.service.Approve(ctx, entry.ID, 1)
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for _, id := range ids {
		// Each entry is posted twice; exactly one attempt may win.
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := l.service.Post(ctx, id, 1)
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, shared.ErrInvalidStatus)
	}
	assert.Equal(t, n, succeeded)
	assert.True(t, l.balance(t, l.cash.ID).Equal(d("105")))
	assert.True(t, l.balance(t, l.revenue.ID).Equal(d("105")))
}

func TestRandomPostingsKeepAccountsConsistent(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	accounts := []accounting.Account{l.cash, l.revenue, l.a, l.b}
	expected := make(map[int64]decimal.Decimal)

	var posted []accounting.JournalEntry
	for i := 0; i < 40; i++ {
		var lines []LineInput
		total := decimal.Zero
		debits := 1 + rng.Intn(3)
		for j := 0; j < debits; j++ {
			amount := decimal.New(int64(1+rng.Intn(100000)), -2)
			acc := accounts[rng.Intn(len(accounts))]
			lines = append(lines, LineInput{AccountID: acc.ID, Amount: amount, Side: accounting.SideDebit})
			total = total.Add(amount)
		}
		credit := accounts[rng.Intn(len(accounts))]
		lines = append(lines, LineInput{AccountID: credit.ID, Amount: total, Side: accounting.SideCredit})
		entry := l.approveAndPost(t, CreateInput{PeriodID: l.period.ID, Date: day(2026, 1, 1+rng.Intn(31)), Description: fmt.Sprintf("txn %d", i), Lines: lines})
		debit, creditTotal := entry.Totals()
		require.True(t, debit.Equal(creditTotal))
		posted = append(posted, entry)
		for _, line := range entry.Lines {
			acc := accountByID(accounts, line.AccountID)
			signed := line.Amount
			if line.Side != acc.NormalSide {
				signed = signed.Neg()
			}
			expected[acc.ID] = expected[acc.ID].Add(signed)
		}
	}
	for _, acc := range accounts {
		assert.True(t, l.balance(t, acc.ID).Equal(expected[acc.ID]), "account %s", acc.Number)
	}

	for _, entry := range posted[:10] {
		_, err := l.service.Reverse(ctx, ReverseInput{EntryID: entry.ID, ActorID: 1})
		require.NoError(t, err)
		for _, line := range entry.Lines {
			acc := accountByID(accounts, line.AccountID)
			signed := line.Amount
			if line.Side != acc.NormalSide {
				signed = signed.Neg()
			}
			expected[acc.ID] = expected[acc.ID].Sub(signed)
		}
	}
	for _, acc := range accounts {
		assert.True(t, l.balance(t, acc.ID).Equal(expected[acc.ID]), "account %s after reversals", acc.Number)
	}
}

func accountByID(list []accounting.Account, id int64) accounting.Account {
	for _, acc := range list {
		if acc.ID == id {
			return acc
		}
	}
	return accounting.Account{}
}

func TestRecordResolvesOpenPeriod(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	entry, err := l.service.Record(ctx, GeneratedInput{
		Date:        day(2026, 1, 12),
		Description: "loan disbursement",
		Reference:   "LN-1",
		ActorID:     3,
		Lines: []accounting.JournalLine{
			{AccountID: l.a.ID, Amount: d("300"), Side: accounting.SideDebit},
			{AccountID: l.cash.ID, Amount: d("300"), Side: accounting.SideCredit},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryTypeSystemGenerated, entry.Type)
	assert.Equal(t, "SYS-000001", entry.Number)
	assert.Equal(t, l.period.ID, entry.PeriodID)
	assert.True(t, l.balance(t, l.a.ID).Equal(d("300")))
	assert.True(t, l.balance(t, l.cash.ID).Equal(d("-300")))

	_, err = l.service.Record(ctx, GeneratedInput{
		Date:        day(2026, 2, 12),
		Description: "outside",
		Lines: []accounting.JournalLine{
			{AccountID: l.a.ID, Amount: d("1"), Side: accounting.SideDebit},
			{AccountID: l.cash.ID, Amount: d("1"), Side: accounting.SideCredit},
		},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidPeriod)
}

func TestNotifyToleratesPublisherFailure(t *testing.T) {
	l := newLedger(t)
	l.events.err = errors.New("broker down")
	posted := l.approveAndPost(t, l.input(day(2026, 1, 15), l.cash.ID, l.revenue.ID, "1"))
	assert.Equal(t, accounting.EntryStatusPosted, posted.Status)
	assert.Len(t, l.events.events, 1)
}
