package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/memory"
	"github.com/odyssey-erp/coopledger/internal/app"
)

func TestSeedCreatesChartAndYear(t *testing.T) {
	l := app.NewLedger(app.LedgerDeps{Store: memory.New(), Config: ledgerConfig()})
	rt := &Runtime{Store: l.Store, Accounts: l.Mappings, Chart: l.Accounts, Periods: l.Periods}

	out, err := run(t, rt, "seed", "--year", "2027")
	require.NoError(t, err)
	assert.Contains(t, out, "accounts created=12 skipped=0")
	assert.Contains(t, out, "fiscal year FY2027 created with 12 periods (OPEN)")

	ctx := context.Background()
	require.NoError(t, l.Mappings.Verify(ctx, l.Store))

	years, err := l.Periods.ListFiscalYears(ctx)
	require.NoError(t, err)
	require.Len(t, years, 1)
	ps, err := l.Periods.ListPeriods(ctx, years[0].ID)
	require.NoError(t, err)
	require.Len(t, ps, 12)
	assert.Equal(t, "Jan 2027", ps[0].Name)
	assert.Equal(t, accounting.PeriodStatusOpen, ps[0].Status)
	assert.Equal(t, accounting.PeriodStatusPlanned, ps[1].Status)
	assert.Equal(t, 28, ps[1].EndDate.Day())

	loans, err := l.Accounts.GetByNumber(ctx, "1200")
	require.NoError(t, err)
	assert.False(t, loans.AllowManual)
	assert.Equal(t, "KES", loans.Currency)
}

func TestSeedIsRepeatable(t *testing.T) {
	l := app.NewLedger(app.LedgerDeps{Store: memory.New(), Config: ledgerConfig()})
	rt := &Runtime{Chart: l.Accounts, Periods: l.Periods}

	_, err := run(t, rt, "seed", "--year", "2027")
	require.NoError(t, err)
	out, err := run(t, rt, "seed", "--year", "2027")
	require.NoError(t, err)
	assert.Contains(t, out, "accounts created=0 skipped=12")
	assert.Contains(t, out, "fiscal year FY2027 already exists")
}

func TestSeedRequiresServices(t *testing.T) {
	_, err := run(t, &Runtime{}, "seed")
	assert.ErrorIs(t, err, errNotConfigured)

	_, err = run(t, &Runtime{}, "seed", "--year", "0")
	assert.Error(t, err)
}
