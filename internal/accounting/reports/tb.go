package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
)

// Tolerance is the largest debit/credit gap a trial balance may carry and still balance.
var Tolerance = decimal.New(1, -2)

// Columns splits an amount into debit and credit presentation.
type Columns struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// ColumnsFor places a signed balance in the normal-side column; negative balances mirror
// to the opposite column.
func ColumnsFor(normal accounting.Side, balance decimal.Decimal) Columns {
	cols := Columns{Debit: decimal.Zero, Credit: decimal.Zero}
	side := normal
	if balance.IsNegative() {
		side = normal.Opposite()
	}
	if side == accounting.SideDebit {
		cols.Debit = balance.Abs()
	} else {
		cols.Credit = balance.Abs()
	}
	return cols
}

func (c Columns) add(o Columns) Columns {
	return Columns{Debit: c.Debit.Add(o.Debit), Credit: c.Credit.Add(o.Credit)}
}

// Balanced reports whether the columns agree within Tolerance.
func (c Columns) Balanced() bool {
	return c.Debit.Sub(c.Credit).Abs().LessThanOrEqual(Tolerance)
}

// AccountBalance is an account with its balance expressed on its normal side.
type AccountBalance struct {
	AccountID  int64                  `json:"account_id"`
	Number     string                 `json:"number"`
	Name       string                 `json:"name"`
	Type       accounting.AccountType `json:"type"`
	NormalSide accounting.Side        `json:"normal_side"`
	Balance    decimal.Decimal        `json:"balance"`
}

func balanceOf(acc accounting.Account, balance decimal.Decimal) AccountBalance {
	return AccountBalance{
		AccountID:  acc.ID,
		Number:     acc.Number,
		Name:       acc.Name,
		Type:       acc.Type,
		NormalSide: acc.NormalSide,
		Balance:    balance,
	}
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Number, "."); idx > 0 {
		return a.Number[:idx]
	}
	if len(a.Number) >= 2 {
		return a.Number[:2]
	}
	return a.Number
}

// TypeBalance restates Balance on the normal side of the account type, so a contra account
// nets against the other accounts of its type.
func (a AccountBalance) TypeBalance() decimal.Decimal {
	return balances.Signed(a.Type.NormalSide(), a.NormalSide, a.Balance)
}

// Abnormal reports a balance sitting on the side opposite to the account's normal side.
func (a AccountBalance) Abnormal() bool { return a.Balance.IsNegative() }

// TrialBalanceRow represents a row inside a trial balance group.
type TrialBalanceRow struct {
	AccountBalance
	Columns
}

// TrialBalanceGroup aggregates rows for presentation.
type TrialBalanceGroup struct {
	Key  string            `json:"key"`
	Rows []TrialBalanceRow `json:"rows"`
	Columns
}

// TrialBalance is a single-column trial balance, either as of a date or for a period.
type TrialBalance struct {
	AsOf        *time.Time          `json:"as_of,omitempty"`
	PeriodID    int64               `json:"period_id,omitempty"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	IsBalanced  bool                `json:"is_balanced"`
}

// Rows flattens the groups in account number order.
func (tb TrialBalance) Rows() []TrialBalanceRow {
	var out []TrialBalanceRow
	for _, g := range tb.Groups {
		out = append(out, g.Rows...)
	}
	return out
}

// Row returns the row of accountID, if present.
func (tb TrialBalance) Row(accountID int64) (TrialBalanceRow, bool) {
	for _, g := range tb.Groups {
		for _, r := range g.Rows {
			if r.AccountID == accountID {
				return r, true
			}
		}
	}
	return TrialBalanceRow{}, false
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, Columns: Columns{Debit: decimal.Zero, Credit: decimal.Zero}}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceRow{AccountBalance: acc, Columns: ColumnsFor(acc.NormalSide, acc.Balance)}
		grp.Rows = append(grp.Rows, row)
		grp.Columns = grp.Columns.add(row.Columns)
	}

	sort.Strings(keys)
	result := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].Number < grp.Rows[j].Number
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	result.IsBalanced = Columns{Debit: result.TotalDebit, Credit: result.TotalCredit}.Balanced()
	return result
}

// AdjustedRow carries the unadjusted, adjustment and adjusted columns of an account.
type AdjustedRow struct {
	AccountBalance
	UnadjustedBalance decimal.Decimal `json:"unadjusted_balance"`
	AdjustmentBalance decimal.Decimal `json:"adjustment_balance"`
	Unadjusted        Columns         `json:"unadjusted"`
	Adjustment        Columns         `json:"adjustment"`
	Adjusted          Columns         `json:"adjusted"`
}

// AdjustedTrialBalance is the three-column worksheet of a period.
type AdjustedTrialBalance struct {
	PeriodID   int64         `json:"period_id"`
	Rows       []AdjustedRow `json:"rows"`
	Unadjusted Columns       `json:"unadjusted_total"`
	Adjustment Columns       `json:"adjustment_total"`
	Adjusted   Columns       `json:"adjusted_total"`
	IsBalanced bool          `json:"is_balanced"`
}

// UnadjustedTrialBalance projects the worksheet onto its first column.
func (a AdjustedTrialBalance) UnadjustedTrialBalance() TrialBalance {
	balances := make([]AccountBalance, 0, len(a.Rows))
	for _, r := range a.Rows {
		b := r.AccountBalance
		b.Balance = r.UnadjustedBalance
		balances = append(balances, b)
	}
	tb := BuildTrialBalance(balances)
	tb.PeriodID = a.PeriodID
	return tb
}

// AdjustedBalances returns the final column as account balances.
func (a AdjustedTrialBalance) AdjustedBalances() []AccountBalance {
	out := make([]AccountBalance, 0, len(a.Rows))
	for _, r := range a.Rows {
		out = append(out, r.AccountBalance)
	}
	return out
}

// BuildAdjusted overlays adjustments on unadjusted balances. Both maps are keyed by account id
// and hold signed normal-side balances.
func BuildAdjusted(periodID int64, accounts []accounting.Account, unadjusted, adjustment map[int64]decimal.Decimal, includeZero bool) AdjustedTrialBalance {
	zero := Columns{Debit: decimal.Zero, Credit: decimal.Zero}
	out := AdjustedTrialBalance{PeriodID: periodID, Unadjusted: zero, Adjustment: zero, Adjusted: zero}
	for _, acc := range accounts {
		u, a := unadjusted[acc.ID], adjustment[acc.ID]
		total := u.Add(a)
		if !includeZero && u.IsZero() && a.IsZero() {
			continue
		}
		row := AdjustedRow{
			AccountBalance:    balanceOf(acc, total),
			UnadjustedBalance: u,
			AdjustmentBalance: a,
			Unadjusted:        ColumnsFor(acc.NormalSide, u),
			Adjustment:        ColumnsFor(acc.NormalSide, a),
			Adjusted:          ColumnsFor(acc.NormalSide, total),
		}
		out.Rows = append(out.Rows, row)
		out.Unadjusted = out.Unadjusted.add(row.Unadjusted)
		out.Adjustment = out.Adjustment.add(row.Adjustment)
		out.Adjusted = out.Adjusted.add(row.Adjusted)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].Number < out.Rows[j].Number })
	out.IsBalanced = out.Adjusted.Balanced()
	return out
}
