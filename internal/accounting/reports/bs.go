package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Number  string          `json:"number"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report. Unclosed revenue and
// expense balances are shown as current earnings inside equity.
type BalanceSheet struct {
	AsOf                      *time.Time          `json:"as_of,omitempty"`
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	CurrentEarnings           decimal.Decimal     `json:"current_earnings"`
	TotalLiabilitiesAndEquity decimal.Decimal     `json:"total_liabilities_and_equity"`
}

// Balanced reports whether assets equal liabilities plus equity within Tolerance.
func (bs BalanceSheet) Balanced() bool {
	return bs.Assets.Total.Sub(bs.TotalLiabilitiesAndEquity).Abs().LessThanOrEqual(Tolerance)
}

// BuildBalanceSheet aggregates balances into assets, liabilities, and equity sections.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Total: decimal.Zero}
	liabilities := BalanceSheetSection{Label: "Liabilities", Total: decimal.Zero}
	equity := BalanceSheetSection{Label: "Equity", Total: decimal.Zero}
	earnings := decimal.Zero

	for _, acc := range accounts {
		row := BalanceSheetAccount{Number: acc.Number, Name: acc.Name, Balance: acc.TypeBalance()}
		switch acc.Type {
		case accounting.AccountTypeAsset:
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(row.Balance)
		case accounting.AccountTypeLiability:
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(row.Balance)
		case accounting.AccountTypeEquity:
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(row.Balance)
		case accounting.AccountTypeRevenue:
			earnings = earnings.Add(acc.TypeBalance())
		case accounting.AccountTypeExpense:
			earnings = earnings.Sub(acc.TypeBalance())
		}
	}
	equity.Total = equity.Total.Add(earnings)

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Number < assets.Accounts[j].Number })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Number < liabilities.Accounts[j].Number })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Number < equity.Accounts[j].Number })

	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		CurrentEarnings:           earnings,
		TotalLiabilitiesAndEquity: liabilities.Total.Add(equity.Total),
	}
}
