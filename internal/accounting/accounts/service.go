package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// AuditPort records account changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Service struct {
	store  accounting.Store
	audit  AuditPort
	logger *slog.Logger
}

func NewService(store accounting.Store, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// Create registers an active account with a zero balance.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.Account, error) {
	acc := accounting.Account{
		Number:      strings.TrimSpace(in.Number),
		Name:        strings.TrimSpace(in.Name),
		Type:        accounting.AccountType(strings.ToUpper(in.Type)),
		NormalSide:  accounting.Side(strings.ToUpper(in.NormalSide)),
		Currency:    strings.ToUpper(strings.TrimSpace(in.Currency)),
		IsActive:    true,
		AllowManual: in.AllowManual,
	}
	if acc.Number == "" || acc.Name == "" {
		return accounting.Account{}, shared.Validation("account", nil, "number and name required", shared.ErrInvalidAccount)
	}
	if !acc.Type.Valid() {
		return accounting.Account{}, shared.Validation("account", acc.Number, fmt.Sprintf("unknown account type %q", in.Type), shared.ErrInvalidAccount)
	}
	if acc.NormalSide == "" {
		acc.NormalSide = acc.Type.NormalSide()
	}
	if !acc.NormalSide.Valid() {
		return accounting.Account{}, shared.Validation("account", acc.Number, fmt.Sprintf("normal side %q must be DEBIT or CREDIT", in.NormalSide), shared.ErrInvalidSide)
	}
	if len(acc.Currency) != 3 {
		return accounting.Account{}, shared.Validation("account", acc.Number, "currency must be an ISO code", shared.ErrInvalidAccount)
	}
	var created accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		created, err = tx.InsertAccount(ctx, acc)
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, internalShared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "account.create",
			Entity:   "account",
			EntityID: fmt.Sprintf("%d", created.ID),
			Meta:     map[string]any{"number": created.Number, "type": string(created.Type)},
		}); err != nil {
			s.logger.Warn("record audit", slog.String("action", "account.create"), slog.Any("error", err))
		}
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (accounting.Account, error) {
	var acc accounting.Account
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		acc, err = r.GetAccount(ctx, id)
		return err
	})
	return acc, err
}

func (s *Service) GetByNumber(ctx context.Context, number string) (accounting.Account, error) {
	var acc accounting.Account
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		acc, err = r.GetAccountByNumber(ctx, number)
		return err
	})
	return acc, err
}

func (s *Service) List(ctx context.Context) ([]accounting.Account, error) {
	var out []accounting.Account
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		out, err = r.ListAccounts(ctx)
		return err
	})
	return out, err
}

// Balance returns the balance at the end of the asOf calendar day, or the current balance when
// asOf is nil. Later postings are unwound from the current balance.
func (s *Service) Balance(ctx context.Context, id int64, asOf *time.Time) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		acc, err := r.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		bal, err = balanceAt(ctx, r, acc, asOf)
		return err
	})
	return bal, err
}

// Activity lists posted lines of the account dated within [from, to] with running balances.
func (s *Service) Activity(ctx context.Context, id int64, from, to time.Time) (Activity, error) {
	from, to = accounting.CalendarDay(from), accounting.CalendarDay(to)
	if to.Before(from) {
		return Activity{}, shared.Validation("account", id, "activity range ends before it starts", shared.ErrDateOutOfRange)
	}
	var out Activity
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		acc, err := r.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		dayBefore := from.AddDate(0, 0, -1)
		opening, err := balanceAt(ctx, r, acc, &dayBefore)
		if err != nil {
			return err
		}
		lines, err := r.ListPostedLines(ctx, accounting.LineFilter{AccountID: id, From: &from, To: &to})
		if err != nil {
			return err
		}
		out = Activity{Account: acc, From: from, To: to, Opening: opening, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
		running := opening
		for _, line := range lines {
			running = running.Add(balances.Signed(acc.NormalSide, line.Side, line.Amount))
			if line.Side == accounting.SideDebit {
				out.TotalDebit = out.TotalDebit.Add(line.Amount)
			} else {
				out.TotalCredit = out.TotalCredit.Add(line.Amount)
			}
			out.Lines = append(out.Lines, ActivityLine{PostedLine: line, Running: running})
		}
		out.Closing = running
		return nil
	})
	return out, err
}

func balanceAt(ctx context.Context, r accounting.Reader, acc accounting.Account, asOf *time.Time) (decimal.Decimal, error) {
	if asOf == nil {
		return acc.Balance, nil
	}
	cutoff := accounting.CalendarDay(*asOf)
	later, err := r.ListPostedLines(ctx, accounting.LineFilter{AccountID: acc.ID, After: &cutoff})
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance.Sub(balances.Movement(acc.NormalSide, later)), nil
}
