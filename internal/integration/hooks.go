package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
	"github.com/odyssey-erp/coopledger/internal/accounting/mappings"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// Source modules recorded against idempotency keys.
const (
	ModuleLoanDisbursement = "LOAN.DISBURSEMENT"
	ModuleLoanRepayment    = "LOAN.REPAYMENT"
	ModuleDeposit          = "DEPOSIT.TRANSACTION"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	Record(ctx context.Context, in journals.GeneratedInput) (accounting.JournalEntry, error)
}

// Deduper remembers processed collaborator requests.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// LoanDisbursement is sent by the loan module once funds leave the cooperative.
type LoanDisbursement struct {
	LoanRef        string
	Amount         decimal.Decimal
	Date           time.Time
	ActorID        int64
	IdempotencyKey string
}

// LoanRepayment splits a member repayment into principal and interest.
type LoanRepayment struct {
	LoanRef        string
	Principal      decimal.Decimal
	Interest       decimal.Decimal
	Date           time.Time
	ActorID        int64
	IdempotencyKey string
}

// DepositTransaction is a member deposit or, when IsDeposit is false, a withdrawal.
type DepositTransaction struct {
	DepositRef     string
	Amount         decimal.Decimal
	IsDeposit      bool
	Date           time.Time
	ActorID        int64
	IdempotencyKey string
}

// Hooks turns loan and deposit notifications into balanced ledger postings.
type Hooks struct {
	ledger   Ledger
	store    accounting.Store
	accounts *mappings.Resolver
	dedup    Deduper
	logger   *slog.Logger
	now      func() time.Time
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, store accounting.Store, accounts *mappings.Resolver, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, store: store, accounts: accounts, logger: logger, now: time.Now}
}

// WithDeduper enables idempotency keys. Requests without a key are always posted.
func (h *Hooks) WithDeduper(dedup Deduper) { h.dedup = dedup }

// WithNow overrides the clock used when a request carries no date.
func (h *Hooks) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// PostLoanDisbursement debits loans receivable and credits cash.
func (h *Hooks) PostLoanDisbursement(ctx context.Context, in LoanDisbursement) (accounting.JournalEntry, error) {
	if err := requireRef("loan", in.LoanRef); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return accounting.JournalEntry{}, err
	}
	accounts, err := h.resolve(ctx, mappings.RoleLoansReceivable, mappings.RoleCash)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	memo := fmt.Sprintf("Loan disbursement %s", in.LoanRef)
	return h.post(ctx, ModuleLoanDisbursement, in.IdempotencyKey, journals.GeneratedInput{
		Date:        in.Date,
		Description: memo,
		Reference:   in.LoanRef,
		ActorID:     in.ActorID,
		Lines: []accounting.JournalLine{
			debit(accounts[mappings.RoleLoansReceivable], in.Amount, memo),
			credit(accounts[mappings.RoleCash], in.Amount, memo),
		},
	})
}

// PostLoanRepayment debits cash for the full repayment and credits loans receivable with the
// principal and interest income with the interest. A zero part produces no line.
func (h *Hooks) PostLoanRepayment(ctx context.Context, in LoanRepayment) (accounting.JournalEntry, error) {
	if err := requireRef("loan", in.LoanRef); err != nil {
		return accounting.JournalEntry{}, err
	}
	if in.Principal.IsNegative() || in.Interest.IsNegative() {
		return accounting.JournalEntry{}, shared.Validation("loan_repayment", in.LoanRef, "principal and interest cannot be negative", shared.ErrNonPositiveAmount)
	}
	total := in.Principal.Add(in.Interest)
	if err := requirePositive("repayment", total); err != nil {
		return accounting.JournalEntry{}, err
	}
	accounts, err := h.resolve(ctx, mappings.RoleCash, mappings.RoleLoansReceivable, mappings.RoleInterestIncome)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	memo := fmt.Sprintf("Loan repayment %s", in.LoanRef)
	lines := []accounting.JournalLine{debit(accounts[mappings.RoleCash], total, memo)}
	if in.Principal.IsPositive() {
		lines = append(lines, credit(accounts[mappings.RoleLoansReceivable], in.Principal, "principal"))
	}
	if in.Interest.IsPositive() {
		lines = append(lines, credit(accounts[mappings.RoleInterestIncome], in.Interest, "interest"))
	}
	return h.post(ctx, ModuleLoanRepayment, in.IdempotencyKey, journals.GeneratedInput{
		Date:        in.Date,
		Description: memo,
		Reference:   in.LoanRef,
		ActorID:     in.ActorID,
		Lines:       lines,
	})
}

// PostDepositTransaction moves cash against customer deposits in the direction of the transaction.
func (h *Hooks) PostDepositTransaction(ctx context.Context, in DepositTransaction) (accounting.JournalEntry, error) {
	if err := requireRef("deposit", in.DepositRef); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return accounting.JournalEntry{}, err
	}
	accounts, err := h.resolve(ctx, mappings.RoleCash, mappings.RoleCustomerDeposits)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	cash, deposits := accounts[mappings.RoleCash], accounts[mappings.RoleCustomerDeposits]
	var (
		memo  string
		lines []accounting.JournalLine
	)
	if in.IsDeposit {
		memo = fmt.Sprintf("Member deposit %s", in.DepositRef)
		lines = []accounting.JournalLine{debit(cash, in.Amount, memo), credit(deposits, in.Amount, memo)}
	} else {
		memo = fmt.Sprintf("Member withdrawal %s", in.DepositRef)
		lines = []accounting.JournalLine{debit(deposits, in.Amount, memo), credit(cash, in.Amount, memo)}
	}
	return h.post(ctx, ModuleDeposit, in.IdempotencyKey, journals.GeneratedInput{
		Date:        in.Date,
		Description: memo,
		Reference:   in.DepositRef,
		ActorID:     in.ActorID,
		Lines:       lines,
	})
}

func (h *Hooks) resolve(ctx context.Context, roles ...mappings.Role) (map[mappings.Role]int64, error) {
	out := make(map[mappings.Role]int64, len(roles))
	err := h.store.View(ctx, func(ctx context.Context, reader accounting.Reader) error {
		for _, role := range roles {
			mapping, err := h.accounts.Get(ctx, reader, role)
			if err != nil {
				return err
			}
			out[role] = mapping.Account.ID
		}
		return nil
	})
	return out, err
}

func (h *Hooks) post(ctx context.Context, module, key string, in journals.GeneratedInput) (accounting.JournalEntry, error) {
	if in.Date.IsZero() {
		in.Date = h.now()
	}
	in.Type = accounting.EntryTypeSystemGenerated
	if key != "" && h.dedup != nil {
		if err := h.dedup.CheckAndInsert(ctx, key, module); err != nil {
			if errors.Is(err, internalShared.ErrIdempotencyConflict) {
				h.logger.Info("skip duplicate ledger request", slog.String("module", module), slog.String("key", key))
				return accounting.JournalEntry{}, shared.Validation("integration", key, "request already processed", shared.ErrDuplicate)
			}
			return accounting.JournalEntry{}, err
		}
	}
	entry, err := h.ledger.Record(ctx, in)
	if err != nil {
		if key != "" && h.dedup != nil {
			if delErr := h.dedup.Delete(context.WithoutCancel(ctx), key, module); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("module", module), slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return accounting.JournalEntry{}, err
	}
	return entry, nil
}

func requireRef(kind, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return shared.Validation(kind, nil, kind+" reference required", shared.ErrValidation)
	}
	return nil
}

func requirePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.Validation("journal_line", nil, field+" must be positive", shared.ErrNonPositiveAmount)
	}
	return nil
}
