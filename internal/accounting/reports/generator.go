package reports

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
)

// Options narrows a trial balance.
type Options struct {
	IncludeZero bool
	Currency    string
}

// TrialBalanceQuery selects an as-of trial balance. A nil AsOf means current balances.
type TrialBalanceQuery struct {
	AsOf        *time.Time
	IncludeZero bool
	Currency    string
}

// Generator builds trial balances and statements from read-only snapshots.
type Generator struct {
	store  accounting.Store
	cache  *Cache
	logger *slog.Logger
}

// NewGenerator constructs a Generator. cache may be nil.
func NewGenerator(store accounting.Store, cache *Cache, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, cache: cache, logger: logger}
}

// AsOf returns the trial balance at the end of the as-of day.
func (g *Generator) AsOf(ctx context.Context, q TrialBalanceQuery) (TrialBalance, error) {
	opts := Options{IncludeZero: q.IncludeZero, Currency: q.Currency}
	var asOf *time.Time
	stamp := "current"
	if q.AsOf != nil {
		day := accounting.CalendarDay(*q.AsOf)
		asOf = &day
		stamp = day.Format("2006-01-02")
	}
	var out TrialBalance
	err := g.cached(ctx, "trial_balance", &out, func(ctx context.Context) (any, error) {
		var tb TrialBalance
		err := g.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
			rows, err := SnapshotAsOf(ctx, r, asOf, opts)
			if err != nil {
				return err
			}
			tb = BuildTrialBalance(rows)
			tb.AsOf = asOf
			return nil
		})
		return tb, err
	}, "tb", "asof", stamp, optionKey(opts))
	if err != nil {
		return TrialBalance{}, err
	}
	return out, nil
}

// Unadjusted returns the period trial balance before closing entries.
func (g *Generator) Unadjusted(ctx context.Context, periodID int64, opts Options) (TrialBalance, error) {
	ws, err := g.Adjusted(ctx, periodID, opts)
	if err != nil {
		return TrialBalance{}, err
	}
	return ws.UnadjustedTrialBalance(), nil
}

// Adjusted returns the three-column worksheet of the period.
func (g *Generator) Adjusted(ctx context.Context, periodID int64, opts Options) (AdjustedTrialBalance, error) {
	var out AdjustedTrialBalance
	err := g.cached(ctx, "adjusted_trial_balance", &out, func(ctx context.Context) (any, error) {
		var ws AdjustedTrialBalance
		err := g.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
			var err error
			ws, err = Worksheet(ctx, r, periodID, opts)
			return err
		})
		return ws, err
	}, "tb", "period", strconv.FormatInt(periodID, 10), optionKey(opts))
	if err != nil {
		return AdjustedTrialBalance{}, err
	}
	return out, nil
}

// ProfitAndLoss reports the period's revenue and expense before closing entries zero them.
func (g *Generator) ProfitAndLoss(ctx context.Context, periodID int64) (ProfitAndLoss, error) {
	var out ProfitAndLoss
	err := g.cached(ctx, "profit_loss", &out, func(ctx context.Context) (any, error) {
		var pl ProfitAndLoss
		err := g.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
			ws, err := Worksheet(ctx, r, periodID, Options{})
			if err != nil {
				return err
			}
			pl = BuildProfitAndLoss(ws.UnadjustedTrialBalance().balances())
			pl.PeriodID = periodID
			return nil
		})
		return pl, err
	}, "pl", strconv.FormatInt(periodID, 10))
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return out, nil
}

// BalanceSheet reports the financial position at the end of the as-of day.
func (g *Generator) BalanceSheet(ctx context.Context, asOf *time.Time) (BalanceSheet, error) {
	var day *time.Time
	stamp := "current"
	if asOf != nil {
		d := accounting.CalendarDay(*asOf)
		day = &d
		stamp = d.Format("2006-01-02")
	}
	var out BalanceSheet
	err := g.cached(ctx, "balance_sheet", &out, func(ctx context.Context) (any, error) {
		var bs BalanceSheet
		err := g.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
			rows, err := SnapshotAsOf(ctx, r, day, Options{})
			if err != nil {
				return err
			}
			bs = BuildBalanceSheet(rows)
			bs.AsOf = day
			return nil
		})
		return bs, err
	}, "bs", stamp)
	if err != nil {
		return BalanceSheet{}, err
	}
	return out, nil
}

func (g *Generator) cached(ctx context.Context, report string, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := g.cache.BuildKey(ctx, append([]string{"ledger", "reports"}, parts...)...)
	if err != nil {
		g.logger.Warn("report cache unavailable", slog.String("report", report), slog.Any("error", err))
		return (*Cache)(nil).FetchJSON(ctx, report, key, dest, loader)
	}
	return g.cache.FetchJSON(ctx, report, key, dest, loader)
}

func optionKey(opts Options) string {
	cur := strings.ToUpper(opts.Currency)
	if cur == "" {
		cur = "all"
	}
	return cur + ":" + strconv.FormatBool(opts.IncludeZero)
}

func (tb TrialBalance) balances() []AccountBalance {
	rows := tb.Rows()
	out := make([]AccountBalance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.AccountBalance)
	}
	return out
}

// SnapshotAsOf computes account balances at the end of the as-of day by unwinding lines posted
// after it from current balances. Inactive accounts appear only while they carry a balance.
func SnapshotAsOf(ctx context.Context, r accounting.Reader, asOf *time.Time, opts Options) ([]AccountBalance, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	later := map[int64][]accounting.PostedLine{}
	if asOf != nil {
		after := accounting.CalendarDay(*asOf)
		lines, err := r.ListPostedLines(ctx, accounting.LineFilter{After: &after})
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			later[line.AccountID] = append(later[line.AccountID], line)
		}
	}
	out := make([]AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		if !matchesCurrency(acc, opts.Currency) {
			continue
		}
		balance := acc.Balance.Sub(balances.Movement(acc.NormalSide, later[acc.ID]))
		if balance.IsZero() && (!opts.IncludeZero || !acc.IsActive) {
			continue
		}
		out = append(out, balanceOf(acc, balance))
	}
	return out, nil
}

// Worksheet computes the adjusted trial balance of a period from its posted lines. Carry-forward
// lines count as the period's opening position; YEAR_END_CLOSING lines form the adjustment column.
func Worksheet(ctx context.Context, r accounting.Reader, periodID int64, opts Options) (AdjustedTrialBalance, error) {
	if _, err := r.GetPeriod(ctx, periodID); err != nil {
		return AdjustedTrialBalance{}, err
	}
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return AdjustedTrialBalance{}, err
	}
	lines, err := r.ListPostedLines(ctx, accounting.LineFilter{PeriodID: periodID, IncludeCarryForward: true})
	if err != nil {
		return AdjustedTrialBalance{}, err
	}
	regular := map[int64][]accounting.PostedLine{}
	closing := map[int64][]accounting.PostedLine{}
	for _, line := range lines {
		if line.EntryType == accounting.EntryTypeYearEndClosing {
			closing[line.AccountID] = append(closing[line.AccountID], line)
			continue
		}
		regular[line.AccountID] = append(regular[line.AccountID], line)
	}

	unadjusted := make(map[int64]decimal.Decimal, len(accounts))
	adjustment := make(map[int64]decimal.Decimal, len(accounts))
	selected := make([]accounting.Account, 0, len(accounts))
	for _, acc := range accounts {
		if !matchesCurrency(acc, opts.Currency) {
			continue
		}
		u := balances.Movement(acc.NormalSide, regular[acc.ID])
		a := balances.Movement(acc.NormalSide, closing[acc.ID])
		if !acc.IsActive && u.IsZero() && a.IsZero() {
			continue
		}
		unadjusted[acc.ID] = u
		adjustment[acc.ID] = a
		selected = append(selected, acc)
	}
	return BuildAdjusted(periodID, selected, unadjusted, adjustment, opts.IncludeZero), nil
}

func matchesCurrency(acc accounting.Account, currency string) bool {
	return currency == "" || strings.EqualFold(acc.Currency, currency)
}
