package accounts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/memory"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

func day(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

var entrySeq int

func post(t *testing.T, store *memory.Store, date time.Time, debit, credit int64, amount string, carryForward bool) {
	t.Helper()
	engine := balances.NewEngine(nil)
	entrySeq++
	number := fmt.Sprintf("STD-%06d", entrySeq)
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		entry, err := tx.InsertJournalEntry(ctx, accounting.JournalEntry{
			Number:       number,
			PeriodID:     1,
			Date:         date,
			Type:         accounting.EntryTypeStandard,
			Status:       accounting.EntryStatusPosted,
			CarryForward: carryForward,
			Lines: []accounting.JournalLine{
				{AccountID: debit, Amount: decimal.RequireFromString(amount), Side: accounting.SideDebit},
				{AccountID: credit, Amount: decimal.RequireFromString(amount), Side: accounting.SideCredit},
			},
		})
		if err != nil {
			return err
		}
		_, err = engine.Apply(ctx, tx, entry)
		return err
	}))
}

func TestCreateDefaultsNormalSide(t *testing.T) {
	svc := NewService(memory.New(), nil, nil)
	ctx := context.Background()

	acc, err := svc.Create(ctx, CreateInput{Number: "2100", Name: "Customer deposits", Type: "liability", Currency: "kes"})
	require.NoError(t, err)
	assert.Equal(t, accounting.SideCredit, acc.NormalSide)
	assert.Equal(t, "KES", acc.Currency)
	assert.True(t, acc.IsActive)
	assert.True(t, acc.Balance.IsZero())

	_, err = svc.Create(ctx, CreateInput{Number: "2100", Name: "Again", Type: "LIABILITY", Currency: "KES"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)
	_, err = svc.Create(ctx, CreateInput{Number: "9", Name: "Bad", Type: "INCOME", Currency: "KES"})
	assert.ErrorIs(t, err, shared.ErrInvalidAccount)

	byNumber, err := svc.GetByNumber(ctx, "2100")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byNumber.ID)
}

func TestBalanceAsOfUnwindsLaterPostings(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	cash, err := svc.Create(ctx, CreateInput{Number: "1000", Name: "Cash", Type: "ASSET", Currency: "KES"})
	require.NoError(t, err)
	income, err := svc.Create(ctx, CreateInput{Number: "4100", Name: "Interest", Type: "REVENUE", Currency: "KES"})
	require.NoError(t, err)

	post(t, store, day(1, 5), cash.ID, income.ID, "100", false)
	post(t, store, day(1, 10), cash.ID, income.ID, "50", false)
	post(t, store, day(1, 20), income.ID, cash.ID, "30", false)
	post(t, store, day(2, 1), cash.ID, income.ID, "999", true)

	current, err := svc.Balance(ctx, cash.ID, nil)
	require.NoError(t, err)
	assert.True(t, current.Equal(decimal.NewFromInt(120)))

	asOf := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	bal, err := svc.Balance(ctx, cash.ID, &asOf)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(150)), bal.String())

	early := day(1, 1)
	bal, err = svc.Balance(ctx, income.ID, &early)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	_, err = svc.Balance(ctx, 404, nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestActivityRunningBalance(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	cash, err := svc.Create(ctx, CreateInput{Number: "1000", Name: "Cash", Type: "ASSET", Currency: "KES"})
	require.NoError(t, err)
	deposits, err := svc.Create(ctx, CreateInput{Number: "2100", Name: "Deposits", Type: "LIABILITY", Currency: "KES"})
	require.NoError(t, err)

	post(t, store, day(1, 2), cash.ID, deposits.ID, "200", false)
	post(t, store, day(1, 15), cash.ID, deposits.ID, "75.50", false)
	post(t, store, day(1, 16), deposits.ID, cash.ID, "25.50", false)
	post(t, store, day(2, 3), cash.ID, deposits.ID, "10", false)

	activity, err := svc.Activity(ctx, cash.ID, day(1, 10), day(1, 31))
	require.NoError(t, err)
	assert.True(t, activity.Opening.Equal(decimal.NewFromInt(200)))
	require.Len(t, activity.Lines, 2)
	assert.True(t, activity.Lines[0].Running.Equal(decimal.RequireFromString("275.50")))
	assert.True(t, activity.Lines[1].Running.Equal(decimal.NewFromInt(250)))
	assert.True(t, activity.TotalDebit.Equal(decimal.RequireFromString("75.50")))
	assert.True(t, activity.TotalCredit.Equal(decimal.RequireFromString("25.50")))
	assert.True(t, activity.Closing.Equal(decimal.NewFromInt(250)))

	_, err = svc.Activity(ctx, cash.ID, day(2, 1), day(1, 1))
	assert.ErrorIs(t, err, shared.ErrDateOutOfRange)
}
