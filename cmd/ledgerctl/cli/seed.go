package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/accounts"
	"github.com/odyssey-erp/coopledger/internal/accounting/periods"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

type chartAccount struct {
	number string
	name   string
	typ    accounting.AccountType
	manual bool
}

// chartOfAccounts is the starter chart for a savings and credit cooperative.
// Numbers match the default LEDGER_*_ACCOUNT mappings.
var chartOfAccounts = []chartAccount{
	// Assets
	{"1000", "Cash", accounting.AccountTypeAsset, true},
	{"1010", "Bank", accounting.AccountTypeAsset, true},
	{"1200", "Loans receivable", accounting.AccountTypeAsset, false},
	// Liabilities
	{"2100", "Member deposits", accounting.AccountTypeLiability, false},
	{"2200", "Accrued expenses", accounting.AccountTypeLiability, true},
	// Equity
	{"3000", "Member share capital", accounting.AccountTypeEquity, true},
	{"3100", "Retained earnings", accounting.AccountTypeEquity, false},
	// Revenue
	{"4100", "Interest income", accounting.AccountTypeRevenue, false},
	{"4200", "Fee income", accounting.AccountTypeRevenue, true},
	// Expenses
	{"5100", "Interest expense", accounting.AccountTypeExpense, true},
	{"5200", "Operating expenses", accounting.AccountTypeExpense, true},
	{"5300", "Loan loss provision", accounting.AccountTypeExpense, true},
}

// SeedResult counts what a seed run created. Existing rows are left untouched.
type SeedResult struct {
	AccountsCreated int
	AccountsSkipped int
	FiscalYear      accounting.FiscalYear
	YearCreated     bool
	Periods         int
}

// Seed creates the starter chart and a fiscal year of twelve monthly periods, opening the year.
func Seed(ctx context.Context, chart *accounts.Service, cal *periods.Service, year int, currency string, actorID int64) (SeedResult, error) {
	var res SeedResult
	for _, a := range chartOfAccounts {
		_, err := chart.GetByNumber(ctx, a.number)
		if err == nil {
			res.AccountsSkipped++
			continue
		}
		if shared.KindOf(err) != shared.KindNotFound {
			return res, fmt.Errorf("lookup account %s: %w", a.number, err)
		}
		if _, err := chart.Create(ctx, accounts.CreateInput{
			Number:      a.number,
			Name:        a.name,
			Type:        string(a.typ),
			Currency:    currency,
			AllowManual: a.manual,
			ActorID:     actorID,
		}); err != nil {
			return res, fmt.Errorf("create account %s: %w", a.number, err)
		}
		res.AccountsCreated++
	}

	years, err := cal.ListFiscalYears(ctx)
	if err != nil {
		return res, err
	}
	for _, fy := range years {
		if fy.Year == year {
			res.FiscalYear = fy
			return res, nil
		}
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	fy, err := cal.CreateFiscalYear(ctx, periods.FiscalYearInput{
		Year:      year,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
		ActorID:   actorID,
	})
	if err != nil {
		return res, fmt.Errorf("create fiscal year %d: %w", year, err)
	}
	for m := 0; m < 12; m++ {
		from := start.AddDate(0, m, 0)
		if _, err := cal.CreatePeriod(ctx, periods.PeriodInput{
			FiscalYearID: fy.ID,
			Name:         from.Format("Jan 2006"),
			StartDate:    from,
			EndDate:      from.AddDate(0, 1, -1),
			ActorID:      actorID,
		}); err != nil {
			return res, fmt.Errorf("create period %s: %w", from.Format("2006-01"), err)
		}
		res.Periods++
	}
	if fy, err = cal.OpenFiscalYear(ctx, fy.ID, actorID); err != nil {
		return res, fmt.Errorf("open fiscal year %d: %w", year, err)
	}
	res.FiscalYear = fy
	res.YearCreated = true
	return res, nil
}

func newSeedCommand(s *session) *cobra.Command {
	var (
		year     int
		currency string
		actorID  int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the starter chart of accounts and an open fiscal year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if year <= 0 {
				return errors.New("--year must be positive")
			}
			rt, err := s.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Chart == nil || rt.Periods == nil {
				return errNotConfigured
			}
			res, err := Seed(cmd.Context(), rt.Chart, rt.Periods, year, currency, actorID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accounts created=%d skipped=%d\n", res.AccountsCreated, res.AccountsSkipped)
			if res.YearCreated {
				fmt.Fprintf(out, "fiscal year %s created with %d periods (%s)\n", res.FiscalYear.Code, res.Periods, res.FiscalYear.Status)
			} else {
				fmt.Fprintf(out, "fiscal year %s already exists (%s)\n", res.FiscalYear.Code, res.FiscalYear.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().UTC().Year(), "fiscal year to create")
	cmd.Flags().StringVar(&currency, "currency", "KES", "ISO currency for seeded accounts")
	cmd.Flags().Int64Var(&actorID, "actor", 1, "actor recorded in the audit trail")
	return cmd
}
