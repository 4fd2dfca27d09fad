package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/coopledger/internal/accounting/reports"
	"github.com/odyssey-erp/coopledger/internal/close"
)

func newMigrateCommand(s *session) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := s.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Migrate == nil {
				return fmt.Errorf("migrate: %w", errNotConfigured)
			}
			if err := rt.Migrate(steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, negative rolls back (0 applies all)")
	return cmd
}

func newVerifyMappingsCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-mappings",
		Short: "Check that every well-known account exists and is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := s.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Accounts == nil || rt.Store == nil {
				return fmt.Errorf("verify-mappings: %w", errNotConfigured)
			}
			if err := rt.Accounts.Verify(cmd.Context(), rt.Store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "account mappings ok")
			return nil
		},
	}
}

func newTrialBalanceCommand(s *session) *cobra.Command {
	var (
		periodID    int64
		asOf        string
		includeZero bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print a trial balance as of a date or for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := s.runtime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Reports == nil {
				return fmt.Errorf("trial-balance: %w", errNotConfigured)
			}
			var tb reports.TrialBalance
			if periodID > 0 {
				tb, err = rt.Reports.Unadjusted(cmd.Context(), periodID, reports.Options{IncludeZero: includeZero})
			} else {
				q := reports.TrialBalanceQuery{IncludeZero: includeZero}
				if asOf != "" {
					day, perr := time.Parse(time.DateOnly, asOf)
					if perr != nil {
						return fmt.Errorf("trial-balance: --as-of must be YYYY-MM-DD: %w", perr)
					}
					q.AsOf = &day
				}
				tb, err = rt.Reports.AsOf(cmd.Context(), q)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tb)
			}
			return printTrialBalance(cmd.OutOrStdout(), tb)
		},
	}
	cmd.Flags().Int64Var(&periodID, "period", 0, "period id (unadjusted trial balance)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "as-of date YYYY-MM-DD (defaults to current balances)")
	cmd.Flags().BoolVar(&includeZero, "include-zero", false, "include accounts with zero balance")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.MarkFlagsMutuallyExclusive("period", "as-of")
	return cmd
}

func printTrialBalance(w io.Writer, tb reports.TrialBalance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tDEBIT\tCREDIT\t")
	for _, row := range tb.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Number, row.Name, row.Debit.StringFixed(2), row.Credit.StringFixed(2))
	}
	fmt.Fprintf(tw, "TOTAL\t\t%s\t%s\t\n", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}
	if !tb.IsBalanced {
		fmt.Fprintln(w, "WARNING: trial balance is out of balance")
	}
	return nil
}

func newClosePeriodCommand(s *session) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "close-period <period-id>",
		Short: "Run every remaining close step for a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseStep(cmd, s, args[0], actorID, "closed", func(c Closer, id int64) (close.Result, error) {
				return c.Close(cmd.Context(), id, actorID)
			})
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "user id recorded on closing entries (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newRollbackCloseCommand(s *session) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "rollback-close <period-id>",
		Short: "Reverse closing entries of a period that is not yet closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloseStep(cmd, s, args[0], actorID, "rolled back", func(c Closer, id int64) (close.Result, error) {
				return c.Rollback(cmd.Context(), id, actorID)
			})
		},
	}
	cmd.Flags().Int64Var(&actorID, "actor", 0, "user id recorded on reversals (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func runCloseStep(cmd *cobra.Command, s *session, rawID string, actorID int64, verb string, step func(Closer, int64) (close.Result, error)) error {
	periodID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || periodID <= 0 {
		return fmt.Errorf("invalid period id %q", rawID)
	}
	if actorID <= 0 {
		return fmt.Errorf("--actor must be a positive user id")
	}
	rt, err := s.runtime(cmd.Context())
	if err != nil {
		return err
	}
	if rt.Closer == nil {
		return errNotConfigured
	}
	res, err := step(rt.Closer, periodID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "period %s %s (status %s, closing %s)\n", res.Period.Name, verb, res.Period.Status, res.Period.ClosingStatus)
	for _, e := range res.Entries {
		fmt.Fprintf(out, "  %s %s %s\n", e.Number, e.Type, e.Status)
	}
	if res.Next != nil {
		fmt.Fprintf(out, "next period %s is %s\n", res.Next.Name, res.Next.Status)
	}
	return nil
}
