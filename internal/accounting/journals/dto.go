package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

// LineInput describes a journal line of a create or revise request.
type LineInput struct {
	AccountID   int64
	Amount      decimal.Decimal
	Side        accounting.Side
	Description string
}

// CreateInput groups fields required to create a journal entry.
type CreateInput struct {
	PeriodID    int64
	Date        time.Time
	Description string
	Reference   string
	Type        accounting.EntryType
	CreatedBy   int64
	Lines       []LineInput
}

// Validate ensures create input meets minimum criteria before any store access.
func (in CreateInput) Validate() error {
	if in.PeriodID == 0 {
		return shared.Validation("journal_entry", nil, "period required", shared.ErrInvalidPeriod)
	}
	if in.Date.IsZero() {
		return shared.Validation("journal_entry", nil, "entry date required", shared.ErrDateOutOfRange)
	}
	switch in.Type {
	case "", accounting.EntryTypeStandard, accounting.EntryTypeSystemGenerated:
	default:
		return shared.Validation("journal_entry", nil, fmt.Sprintf("entry type %s is reserved", in.Type), shared.ErrReservedEntryType)
	}
	return validateBody(in.Description, in.Lines)
}

// ReviseInput replaces the body of a rejected entry before it returns to draft.
type ReviseInput struct {
	EntryID     int64
	ActorID     int64
	Date        time.Time
	Description string
	Reference   string
	Lines       []LineInput
}

// Validate ensures revise input meets minimum criteria.
func (in ReviseInput) Validate() error {
	if in.EntryID == 0 {
		return shared.Validation("journal_entry", nil, "entry id required", shared.ErrJournalNotFound)
	}
	if in.Date.IsZero() {
		return shared.Validation("journal_entry", in.EntryID, "entry date required", shared.ErrDateOutOfRange)
	}
	return validateBody(in.Description, in.Lines)
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID     int64
	ActorID     int64
	Description string
}

// GeneratedInput describes a system entry posted without the approval flow.
type GeneratedInput struct {
	PeriodID     int64
	Date         time.Time
	Description  string
	Reference    string
	Type         accounting.EntryType
	CarryForward bool
	ActorID      int64
	Lines        []accounting.JournalLine
}

func (in GeneratedInput) validate() error {
	if in.Type != accounting.EntryTypeYearEndClosing && in.Type != accounting.EntryTypeSystemGenerated {
		return shared.Validation("journal_entry", nil, fmt.Sprintf("entry type %s cannot be generated", in.Type), shared.ErrReservedEntryType)
	}
	if strings.TrimSpace(in.Description) == "" {
		return shared.Validation("journal_entry", nil, "description required", shared.ErrDescriptionRequired)
	}
	if len(in.Lines) == 0 {
		return shared.Validation("journal_entry", nil, "at least one line required", shared.ErrTooFewLines)
	}
	for idx, line := range in.Lines {
		if line.Amount.Sign() <= 0 {
			return shared.Validation("journal_line", idx+1, "amount must be positive", shared.ErrNonPositiveAmount)
		}
	}
	return checkBalanced(in.Lines)
}

func validateBody(description string, lines []LineInput) error {
	if strings.TrimSpace(description) == "" {
		return shared.Validation("journal_entry", nil, "description required", shared.ErrDescriptionRequired)
	}
	if len(lines) == 0 {
		return shared.Validation("journal_entry", nil, "at least one line required", shared.ErrTooFewLines)
	}
	for idx, line := range lines {
		if line.AccountID == 0 {
			return shared.Validation("journal_line", idx+1, "account required", shared.ErrAccountNotFound)
		}
		if !line.Side.Valid() {
			return shared.Validation("journal_line", idx+1, fmt.Sprintf("side %q must be DEBIT or CREDIT", line.Side), shared.ErrInvalidSide)
		}
		if line.Amount.Sign() <= 0 {
			return shared.Validation("journal_line", idx+1, "amount must be positive", shared.ErrNonPositiveAmount)
		}
	}
	return checkBalanced(toLines(lines))
}

func checkBalanced(lines []accounting.JournalLine) error {
	debit, credit := accounting.LineTotals(lines)
	if !debit.Equal(credit) {
		return shared.Validation("journal_entry", nil, fmt.Sprintf("debits %s != credits %s", debit, credit), shared.ErrUnbalanced)
	}
	return nil
}

func toLines(in []LineInput) []accounting.JournalLine {
	out := make([]accounting.JournalLine, 0, len(in))
	for _, line := range in {
		out = append(out, accounting.JournalLine{
			AccountID:   line.AccountID,
			Amount:      line.Amount,
			Side:        line.Side,
			Description: strings.TrimSpace(line.Description),
		})
	}
	return out
}
