// Package balances applies posted journal entries to account balances.
package balances

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
)

// Effect is the net movement of one account produced by an entry.
type Effect struct {
	AccountID int64
	Side      accounting.Side
	Amount    decimal.Decimal
}

// Net groups lines by account and nets opposite sides against each other. The larger side wins
// and equal amounts cancel; zero effects are dropped. Effects are ordered by account id.
func Net(lines []accounting.JournalLine) []Effect {
	debits := make(map[int64]decimal.Decimal)
	credits := make(map[int64]decimal.Decimal)
	seen := make(map[int64]struct{})
	for _, line := range lines {
		seen[line.AccountID] = struct{}{}
		if line.Side == accounting.SideDebit {
			debits[line.AccountID] = debits[line.AccountID].Add(line.Amount)
		} else {
			credits[line.AccountID] = credits[line.AccountID].Add(line.Amount)
		}
	}
	out := make([]Effect, 0, len(seen))
	for id := range seen {
		diff := debits[id].Sub(credits[id])
		switch diff.Sign() {
		case 1:
			out = append(out, Effect{AccountID: id, Side: accounting.SideDebit, Amount: diff})
		case -1:
			out = append(out, Effect{AccountID: id, Side: accounting.SideCredit, Amount: diff.Neg()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Signed returns amount as a change to a balance whose normal side is normal.
func Signed(normal, side accounting.Side, amount decimal.Decimal) decimal.Decimal {
	if side == normal {
		return amount
	}
	return amount.Neg()
}

// Movement sums posted lines as a change to a balance whose normal side is normal.
func Movement(normal accounting.Side, lines []accounting.PostedLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(Signed(normal, line.Side, line.Amount))
	}
	return total
}

// Engine writes net effects of entries to the chart of accounts.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Apply locks every account the entry touches and moves its balance by the net effect.
// Carry-forward entries restate balances in the next period and are never applied.
// Callers guarantee a single invocation per posted entry.
func (e *Engine) Apply(ctx context.Context, tx accounting.Tx, entry accounting.JournalEntry) ([]accounting.Account, error) {
	if entry.CarryForward {
		return nil, nil
	}
	return e.write(ctx, tx, entry, Net(entry.Lines))
}

// Revert undoes the effect Apply had for entry.
func (e *Engine) Revert(ctx context.Context, tx accounting.Tx, entry accounting.JournalEntry) ([]accounting.Account, error) {
	if entry.CarryForward {
		return nil, nil
	}
	effects := Net(entry.Lines)
	for i := range effects {
		effects[i].Side = effects[i].Side.Opposite()
	}
	return e.write(ctx, tx, entry, effects)
}

func (e *Engine) write(ctx context.Context, tx accounting.Tx, entry accounting.JournalEntry, effects []Effect) ([]accounting.Account, error) {
	if len(effects) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(effects))
	for _, eff := range effects {
		ids = append(ids, eff.AccountID)
	}
	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	updated := make([]accounting.Account, 0, len(effects))
	for _, eff := range effects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acc := locked[eff.AccountID]
		next := acc.Apply(eff.Side, eff.Amount)
		if err := tx.UpdateAccountBalance(ctx, acc.ID, next, acc.Version); err != nil {
			return nil, err
		}
		e.logger.Debug("account balance updated",
			slog.Int64("entry_id", entry.ID),
			slog.Int64("account_id", acc.ID),
			slog.String("side", string(eff.Side)),
			slog.String("amount", eff.Amount.String()),
			slog.String("balance", next.String()))
		acc.Balance = next
		acc.Version++
		updated = append(updated, acc)
	}
	return updated, nil
}
