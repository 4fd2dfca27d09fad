package close

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
	"github.com/odyssey-erp/coopledger/internal/accounting/mappings"
	"github.com/odyssey-erp/coopledger/internal/accounting/memory"
	"github.com/odyssey-erp/coopledger/internal/accounting/periods"
	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

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

type fixture struct {
	store    *memory.Store
	journals *journals.Service
	periods  *periods.Service
	closer   *Service
	audit    *recordingAudit
	jan      accounting.Period
	feb      accounting.Period
	ids      map[string]int64
}

func newFixture(t *testing.T, withFebruary bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), audit: &recordingAudit{}, ids: map[string]int64{}}
	f.periods = periods.NewService(f.store, nil, nil)
	fy, err := f.periods.CreateFiscalYear(ctx, periods.FiscalYearInput{Year: 2026, StartDate: day(1, 1), EndDate: day(12, 31)})
	require.NoError(t, err)
	f.jan, err = f.periods.CreatePeriod(ctx, periods.PeriodInput{FiscalYearID: fy.ID, Name: "Jan 2026", StartDate: day(1, 1), EndDate: day(1, 31)})
	require.NoError(t, err)
	if withFebruary {
		f.feb, err = f.periods.CreatePeriod(ctx, periods.PeriodInput{FiscalYearID: fy.ID, Name: "Feb 2026", StartDate: day(2, 1), EndDate: day(2, 28)})
		require.NoError(t, err)
	}
	_, err = f.periods.OpenFiscalYear(ctx, fy.ID, 1)
	require.NoError(t, err)

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		for _, spec := range []accounting.Account{
			{Number: "1000", Name: "Cash", Type: accounting.AccountTypeAsset},
			{Number: "1200", Name: "Loans receivable", Type: accounting.AccountTypeAsset},
			{Number: "2100", Name: "Customer deposits", Type: accounting.AccountTypeLiability},
			{Number: "3100", Name: "Retained earnings", Type: accounting.AccountTypeEquity},
			{Number: "4100", Name: "Interest income", Type: accounting.AccountTypeRevenue},
			{Number: "5100", Name: "Operating expense", Type: accounting.AccountTypeExpense},
		} {
			spec.NormalSide = spec.Type.NormalSide()
			spec.Currency = "KES"
			spec.IsActive = true
			spec.AllowManual = true
			spec.Balance = decimal.Zero
			acc, err := tx.InsertAccount(ctx, spec)
			if err != nil {
				return err
			}
			f.ids[spec.Number] = acc.ID
		}
		return nil
	}))

	f.journals = journals.NewService(f.store, nil, nil, nil, nil)
	resolver := mappings.NewResolver(accounting.WellKnownAccounts{
		Cash:             "1000",
		LoansReceivable:  "1200",
		CustomerDeposits: "2100",
		RetainedEarnings: "3100",
		InterestIncome:   "4100",
	})
	f.closer = NewService(f.store, f.journals, f.periods, resolver, nil)
	f.closer.WithAudit(f.audit)
	f.journals.WithGuard(f.closer)
	return f
}

func (f *fixture) draft(t *testing.T, date time.Time, debit, credit, amount string) accounting.JournalEntry {
	t.Helper()
	entry, err := f.journals.Create(context.Background(), journals.CreateInput{
		PeriodID:    f.jan.ID,
		Date:        date,
		Description: "test posting",
		CreatedBy:   7,
		Lines: []journals.LineInput{
			{AccountID: f.ids[debit], Amount: dec(amount), Side: accounting.SideDebit},
			{AccountID: f.ids[credit], Amount: dec(amount), Side: accounting.SideCredit},
		},
	})
	require.NoError(t, err)
	return entry
}

func (f *fixture) post(t *testing.T, date time.Time, debit, credit, amount string) accounting.JournalEntry {
	t.Helper()
	ctx := context.Background()
	entry := f.draft(t, date, debit, credit, amount)
	_, err := f.journals.Submit(ctx, entry.ID, 7)
	require.NoError(t, err)
	_, err = f.journals.Approve(ctx, entry.ID, 8)
	require.NoError(t, err)
	posted, err := f.journals.Post(ctx, entry.ID, 8)
	require.NoError(t, err)
	return posted
}

// january leaves cash 1180, deposits 1000, interest 300 and expense 120.
func (f *fixture) january(t *testing.T) {
	t.Helper()
	f.post(t, day(1, 5), "1000", "2100", "1000")
	f.post(t, day(1, 10), "1000", "4100", "300")
	f.post(t, day(1, 15), "5100", "1000", "120")
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	var out decimal.Decimal
	require.NoError(t, f.store.View(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		acc, err := r.GetAccount(ctx, f.ids[number])
		out = acc.Balance
		return err
	}))
	return out
}

func (f *fixture) period(t *testing.T, id int64) accounting.Period {
	t.Helper()
	p, err := f.periods.GetPeriod(context.Background(), id)
	require.NoError(t, err)
	return p
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s got %s", msg, want, got)
}

func TestInitiateReportsUnpostedCount(t *testing.T) {
	f := newFixture(t, true)
	f.january(t)
	f.draft(t, day(1, 20), "1000", "2100", "50")

	_, err := f.closer.Initiate(context.Background(), f.jan.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrState)
	assert.ErrorIs(t, err, shared.ErrUnpostedEntries)
	assert.Contains(t, err.Error(), "1 unposted entry")
	assert.Equal(t, accounting.ClosingNotStarted, f.period(t, f.jan.ID).ClosingStatus)
}

func TestCloseCompletesFullWorkflow(t *testing.T) {
	f := newFixture(t, true)
	f.january(t)
	ctx := context.Background()

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, accounting.PeriodStatusClosed, res.Period.Status)
	assert.Equal(t, accounting.ClosingClosed, res.Period.ClosingStatus)
	require.NotNil(t, res.Next)
	assert.Equal(t, f.feb.ID, res.Next.ID)
	assert.Equal(t, accounting.PeriodStatusOpen, f.period(t, f.feb.ID).Status)
	require.Len(t, res.Entries, 3)

	for _, entry := range res.Entries[:2] {
		assert.Equal(t, accounting.EntryTypeYearEndClosing, entry.Type)
		assert.Equal(t, accounting.EntryStatusPosted, entry.Status)
		assert.True(t, entry.Balanced())
		assert.True(t, day(1, 31).Equal(entry.Date))
	}
	assertDec(t, "0", f.balance(t, "4100"), "interest")
	assertDec(t, "0", f.balance(t, "5100"), "expense")
	assertDec(t, "180", f.balance(t, "3100"), "retained earnings")
	assertDec(t, "1180", f.balance(t, "1000"), "cash")

	cf := res.Entries[2]
	assert.True(t, cf.CarryForward)
	assert.Equal(t, accounting.EntryTypeSystemGenerated, cf.Type)
	assert.Equal(t, f.feb.ID, cf.PeriodID)
	assert.True(t, day(2, 1).Equal(cf.Date))
	assert.True(t, cf.Balanced())
	debit, _ := cf.Totals()
	assertDec(t, "1180", debit, "carry-forward debits")
	sides := map[int64]accounting.Side{}
	for _, line := range cf.Lines {
		sides[line.AccountID] = line.Side
	}
	assert.Equal(t, accounting.SideDebit, sides[f.ids["1000"]])
	assert.Equal(t, accounting.SideCredit, sides[f.ids["2100"]])
	assert.Equal(t, accounting.SideCredit, sides[f.ids["3100"]])
	assert.NotContains(t, sides, f.ids["4100"])

	assert.Equal(t, []string{
		"period.close.initiate",
		"period.close.validate",
		"period.close.post_closing_entries",
		"period.close.complete",
	}, f.audit.actions)

	_, err = f.closer.Initiate(ctx, f.jan.ID, 1)
	assert.ErrorIs(t, err, shared.ErrState)

	late := f.draft(t, day(1, 30), "1000", "2100", "10")
	_, err = f.journals.Submit(ctx, late.ID, 7)
	require.NoError(t, err)
	_, err = f.journals.Approve(ctx, late.ID, 8)
	require.NoError(t, err)
	_, err = f.journals.Post(ctx, late.ID, 8)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)
}

func TestCompleteRequiresNextPeriod(t *testing.T) {
	f := newFixture(t, false)
	f.january(t)
	ctx := context.Background()

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNextPeriodMissing)
	assert.Equal(t, accounting.ClosingEntriesPosted, res.Period.ClosingStatus)
	assert.Equal(t, accounting.PeriodStatusOpen, f.period(t, f.jan.ID).Status)
}

func TestValidateFailsOnAbnormalBalance(t *testing.T) {
	f := newFixture(t, true)
	f.post(t, day(1, 5), "5100", "1000", "75")
	ctx := context.Background()

	_, err := f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	res, err := f.closer.Validate(ctx, f.jan.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConsistency)
	assert.Equal(t, accounting.ClosingFailed, res.Period.ClosingStatus)

	stored := f.period(t, f.jan.ID)
	assert.Equal(t, accounting.ClosingFailed, stored.ClosingStatus)
	require.Len(t, stored.ValidationErrors, 1)
	assert.Contains(t, stored.ValidationErrors[0], "account 1000 Cash has an abnormal CREDIT balance of 75.00")

	_, err = f.closer.PostClosingEntries(ctx, f.jan.ID, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)

	_, err = f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err, "a failed close may be initiated again")
}

func TestRollbackRemovesClosingEntries(t *testing.T) {
	f := newFixture(t, true)
	f.january(t)
	ctx := context.Background()

	_, err := f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Validate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	posted, err := f.closer.PostClosingEntries(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.Len(t, posted.Entries, 2)
	assertDec(t, "180", f.balance(t, "3100"), "retained earnings after closing entries")

	res, err := f.closer.Rollback(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, accounting.ClosingNotStarted, res.Period.ClosingStatus)
	assert.Empty(t, res.Period.ValidationErrors)
	assert.Len(t, res.Entries, 2)
	assertDec(t, "300", f.balance(t, "4100"), "interest restored")
	assertDec(t, "120", f.balance(t, "5100"), "expense restored")
	assertDec(t, "0", f.balance(t, "3100"), "retained earnings restored")

	left, err := f.journals.List(ctx, accounting.EntryFilter{PeriodID: f.jan.ID, Types: []accounting.EntryType{accounting.EntryTypeYearEndClosing}})
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = f.closer.Rollback(ctx, f.jan.ID, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidStatus, "nothing to roll back")

	_, err = f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Rollback(ctx, f.jan.ID, 1)
	assert.ErrorIs(t, err, shared.ErrInvalidStatus, "a closed period is reopened, not rolled back")
}

func TestReopenAndCloseAgainClosesOnlyTheDelta(t *testing.T) {
	f := newFixture(t, true)
	f.january(t)
	ctx := context.Background()

	_, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.periods.OpenPeriod(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	f.post(t, day(1, 28), "1000", "4100", "20")

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2, "one revenue closing entry and one carry-forward")
	debit, _ := res.Entries[0].Totals()
	assertDec(t, "20", debit, "revenue delta")
	assertDec(t, "0", f.balance(t, "4100"), "interest")
	assertDec(t, "200", f.balance(t, "3100"), "retained earnings")
	assert.Nil(t, res.Next, "february is already open")

	carried, err := f.journals.List(ctx, accounting.EntryFilter{PeriodID: f.feb.ID})
	require.NoError(t, err)
	require.Len(t, carried, 1, "the earlier carry-forward is replaced")
	cf, err := f.journals.Get(ctx, carried[0].ID)
	require.NoError(t, err)
	total, _ := cf.Totals()
	assertDec(t, "1200", total, "carry-forward debits")
}

func TestCloseStepsSerialiseThroughLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, true)
	f.closer.WithLocker(internalShared.NewLocker(client, time.Minute))
	ctx := context.Background()

	require.NoError(t, f.closer.EnsurePeriodOpenForPosting(ctx, f.jan.ID))

	require.NoError(t, mr.Set(internalShared.FinanceLockKey(f.jan.ID), "other-worker"))
	_, err := f.closer.Initiate(ctx, f.jan.ID, 1)
	assert.ErrorIs(t, err, shared.ErrConcurrency)
	assert.ErrorIs(t, err, internalShared.ErrLockHeld)
	err = f.closer.EnsurePeriodOpenForPosting(ctx, f.jan.ID)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)

	mr.Del(internalShared.FinanceLockKey(f.jan.ID))
	_, err = f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	assert.False(t, mr.Exists(internalShared.FinanceLockKey(f.jan.ID)), "lock released after the step")

	err = f.closer.EnsurePeriodOpenForPosting(ctx, f.jan.ID)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked, "posting is blocked mid-closing")
}

func TestClosingLinesNetIntoRetainedEarnings(t *testing.T) {
	rows := []reports.AccountBalance{
		{AccountID: 1, Number: "4100", Type: accounting.AccountTypeRevenue, NormalSide: accounting.SideCredit, Balance: dec("300")},
		{AccountID: 2, Number: "4200", Type: accounting.AccountTypeRevenue, NormalSide: accounting.SideCredit, Balance: dec("-40")},
		{AccountID: 3, Number: "5100", Type: accounting.AccountTypeExpense, NormalSide: accounting.SideDebit, Balance: dec("90")},
	}
	lines := closingLines(rows, accounting.AccountTypeRevenue, 9)
	require.Len(t, lines, 3)
	assert.Equal(t, accounting.SideDebit, lines[0].Side)
	assert.Equal(t, accounting.SideCredit, lines[1].Side)
	assert.Equal(t, int64(9), lines[2].AccountID)
	assert.Equal(t, accounting.SideCredit, lines[2].Side)
	assertDec(t, "260", lines[2].Amount, "net income")
	debit, credit := accounting.LineTotals(lines)
	assert.True(t, debit.Equal(credit))

	expense := closingLines(rows, accounting.AccountTypeExpense, 9)
	require.Len(t, expense, 2)
	assert.Equal(t, accounting.SideCredit, expense[0].Side)
	assert.Equal(t, accounting.SideDebit, expense[1].Side)

	assert.Empty(t, closingLines(nil, accounting.AccountTypeExpense, 9))

	contra := []reports.AccountBalance{
		{AccountID: 1, Number: "4100", Type: accounting.AccountTypeRevenue, NormalSide: accounting.SideCredit, Balance: dec("300")},
		{AccountID: 4, Number: "4200", Type: accounting.AccountTypeRevenue, NormalSide: accounting.SideDebit, Balance: dec("20")},
	}
	lines = closingLines(contra, accounting.AccountTypeRevenue, 9)
	require.Len(t, lines, 3)
	assert.Equal(t, accounting.SideCredit, lines[1].Side, "a debit-normal revenue closes with a credit")
	assert.Equal(t, accounting.SideCredit, lines[2].Side)
	assertDec(t, "280", lines[2].Amount, "net of the contra account")
	debit, credit = accounting.LineTotals(lines)
	assert.True(t, debit.Equal(credit))
}

func (f *fixture) entries(t *testing.T, periodID int64, types ...accounting.EntryType) []accounting.JournalEntry {
	t.Helper()
	list, err := f.journals.List(context.Background(), accounting.EntryFilter{PeriodID: periodID, Types: types})
	require.NoError(t, err)
	return list
}

func (f *fixture) worksheet(t *testing.T, periodID int64) reports.AdjustedTrialBalance {
	t.Helper()
	var ws reports.AdjustedTrialBalance
	require.NoError(t, f.store.View(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		var err error
		ws, err = reports.Worksheet(ctx, r, periodID, reports.Options{})
		return err
	}))
	return ws
}

func unadjusted(ws reports.AdjustedTrialBalance, accountID int64) decimal.Decimal {
	for _, row := range ws.Rows {
		if row.AccountID == accountID {
			return row.UnadjustedBalance
		}
	}
	return decimal.Zero
}

func TestCloseCarriesForwardReversalDatedAfterPeriodEnd(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	original := f.post(t, day(1, 10), "1000", "2100", "500")

	f.journals.WithNow(func() time.Time { return time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC) })
	reversal, err := f.journals.Reverse(ctx, journals.ReverseInput{EntryID: original.ID, ActorID: 8})
	require.NoError(t, err)
	assert.Equal(t, f.jan.ID, reversal.PeriodID, "january is still open")
	assert.True(t, day(2, 5).Equal(reversal.Date))

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Entries, "nothing to close and nothing to carry")
	assertDec(t, "0", f.balance(t, "1000"), "cash")
	assertDec(t, "0", f.balance(t, "2100"), "deposits")

	assert.Empty(t, f.entries(t, f.feb.ID))
	ws := f.worksheet(t, f.feb.ID)
	assertDec(t, "0", unadjusted(ws, f.ids["1000"]), "february opening cash")
	assertDec(t, "0", unadjusted(ws, f.ids["2100"]), "february opening deposits")
}

func TestCloseRequiresEarlierPeriodsClosed(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.periods.OpenPeriod(ctx, f.feb.ID, 1)
	require.NoError(t, err)

	_, err = f.closer.Close(ctx, f.feb.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrState)
	assert.ErrorIs(t, err, shared.ErrCloseOrder)
	assert.Contains(t, err.Error(), "Jan 2026 is OPEN")
	assert.Equal(t, accounting.ClosingNotStarted, f.period(t, f.feb.ID).ClosingStatus)
	assert.Equal(t, accounting.PeriodStatusOpen, f.period(t, f.feb.ID).Status)

	f.january(t)
	_, err = f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Initiate(ctx, f.feb.ID, 1)
	assert.NoError(t, err, "february may close once january is closed")
}

func TestCompleteRefusesClosedNextPeriod(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.periods.CreatePeriod(ctx, periods.PeriodInput{FiscalYearID: f.jan.FiscalYearID, Name: "Mar 2026", StartDate: day(3, 1), EndDate: day(3, 31)})
	require.NoError(t, err)
	f.january(t)

	_, err = f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Close(ctx, f.feb.ID, 1)
	require.NoError(t, err)
	require.Len(t, f.entries(t, f.feb.ID), 1, "january carry-forward")

	_, err = f.periods.OpenPeriod(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	f.post(t, day(1, 28), "1000", "4100", "20")

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPeriodLocked)
	assert.Contains(t, err.Error(), "Feb 2026 is closed")
	assert.Equal(t, accounting.ClosingEntriesPosted, res.Period.ClosingStatus)
	assert.Equal(t, accounting.PeriodStatusOpen, f.period(t, f.jan.ID).Status)
	assert.Equal(t, accounting.PeriodStatusClosed, f.period(t, f.feb.ID).Status)
	assert.Len(t, f.entries(t, f.feb.ID), 1, "no entry lands in the closed period")
}

func TestCloseNetsContraRevenueIntoRetainedEarnings(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		acc, err := tx.InsertAccount(ctx, accounting.Account{
			Number:      "4200",
			Name:        "Interest rebates",
			Type:        accounting.AccountTypeRevenue,
			NormalSide:  accounting.SideDebit,
			Currency:    "KES",
			IsActive:    true,
			AllowManual: true,
			Balance:     decimal.Zero,
		})
		f.ids["4200"] = acc.ID
		return err
	}))
	f.post(t, day(1, 10), "1000", "4100", "300")
	f.post(t, day(1, 12), "4200", "1000", "20")

	res, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.Entries)
	revenue := res.Entries[0]
	assert.Equal(t, accounting.EntryTypeYearEndClosing, revenue.Type)
	assert.True(t, revenue.Balanced())
	debit, credit := revenue.Totals()
	assertDec(t, "300", debit, "closing debits")
	assertDec(t, "300", credit, "closing credits")

	assertDec(t, "0", f.balance(t, "4100"), "interest")
	assertDec(t, "0", f.balance(t, "4200"), "rebates")
	assertDec(t, "280", f.balance(t, "3100"), "retained earnings")
}

func TestRollbackAfterReopenKeepsEarlierClose(t *testing.T) {
	f := newFixture(t, true)
	f.january(t)
	ctx := context.Background()

	first, err := f.closer.Close(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.Equal(t, closingReference(f.jan.ID, 1), first.Entries[0].Reference)

	_, err = f.periods.OpenPeriod(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	res, err := f.closer.Rollback(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Entries, "the run posted nothing yet")
	assert.Len(t, f.entries(t, f.jan.ID, accounting.EntryTypeYearEndClosing), 2)
	assertDec(t, "180", f.balance(t, "3100"), "retained earnings")

	f.post(t, day(1, 28), "1000", "4100", "20")
	_, err = f.closer.Initiate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	_, err = f.closer.Validate(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	second, err := f.closer.PostClosingEntries(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, closingReference(f.jan.ID, 2), second.Entries[0].Reference)
	assertDec(t, "200", f.balance(t, "3100"), "retained earnings with the delta")

	res, err = f.closer.Rollback(ctx, f.jan.ID, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, second.Entries[0].ID, res.Entries[0].ID)
	assertDec(t, "180", f.balance(t, "3100"), "first close kept")
	assertDec(t, "20", f.balance(t, "4100"), "delta reopened")
	assertDec(t, "0", f.balance(t, "5100"), "expense stays closed")

	left := f.entries(t, f.jan.ID, accounting.EntryTypeYearEndClosing)
	require.Len(t, left, 2)
	for _, entry := range left {
		assert.Equal(t, closingReference(f.jan.ID, 1), entry.Reference)
	}
}
