package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies ledger failures so callers can decide how to react.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindState       Kind = "state"
	KindNotFound    Kind = "not_found"
	KindConcurrency Kind = "concurrency"
	KindConsistency Kind = "consistency"
)

// Kind sentinels. errors.Is(err, ErrValidation) holds for every *Error of that kind.
var (
	ErrValidation  = errors.New("accounting: validation failed")
	ErrState       = errors.New("accounting: illegal state transition")
	ErrNotFound    = errors.New("accounting: not found")
	ErrConcurrency = errors.New("accounting: concurrent modification")
	ErrConsistency = errors.New("accounting: ledger inconsistency")
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates an entry without lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least one line")
	// ErrInvalidPeriod indicates missing or non-open period.
	ErrInvalidPeriod = errors.New("accounting: period is not open")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrPeriodNotFound indicates missing financial period.
	ErrPeriodNotFound = errors.New("accounting: financial period not found")
	// ErrFiscalYearNotFound indicates missing fiscal year.
	ErrFiscalYearNotFound = errors.New("accounting: fiscal year not found")
	// ErrPeriodLocked indicates the period is closed or being closed.
	ErrPeriodLocked = errors.New("accounting: period locked")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = errors.New("accounting: date outside period")
	// ErrAccountInactive indicates an inactive account was referenced.
	ErrAccountInactive = errors.New("accounting: account inactive")
	// ErrManualNotAllowed indicates an account that only accepts system postings.
	ErrManualNotAllowed = errors.New("accounting: account does not allow manual entries")
	// ErrCurrencyMismatch indicates lines across more than one currency.
	ErrCurrencyMismatch = errors.New("accounting: accounts in one entry must share a currency")
	// ErrNonPositiveAmount indicates a zero or negative line amount.
	ErrNonPositiveAmount = errors.New("accounting: line amount must be positive")
	// ErrReasonRequired indicates a rejection without reason.
	ErrReasonRequired = errors.New("accounting: rejection reason required")
	// ErrDescriptionRequired indicates an entry without description.
	ErrDescriptionRequired = errors.New("accounting: description required")
	// ErrVersionConflict indicates an optimistic concurrency miss on an account row.
	ErrVersionConflict = errors.New("accounting: account version conflict")
	// ErrInvalidSide indicates a line side other than DEBIT or CREDIT.
	ErrInvalidSide = errors.New("accounting: invalid line side")
	// ErrReservedEntryType indicates an entry type only the ledger itself may create.
	ErrReservedEntryType = errors.New("accounting: entry type reserved")
	// ErrNextPeriodMissing indicates a close without a following period.
	ErrNextPeriodMissing = errors.New("accounting: next period does not exist")
	// ErrCloseOrder indicates a close attempted while an earlier period is still open.
	ErrCloseOrder = errors.New("accounting: earlier period is not closed")
	// ErrUnpostedEntries indicates a close attempted with entries awaiting posting.
	ErrUnpostedEntries = errors.New("accounting: period has unposted entries")
	// ErrInvalidAccount indicates an account definition missing required attributes.
	ErrInvalidAccount = errors.New("accounting: invalid account definition")
	// ErrMappingNotFound indicates a well-known account role without a bound account.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
	// ErrClosingValidation indicates a period that failed pre-close validation.
	ErrClosingValidation = errors.New("accounting: period failed closing validation")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("accounting: duplicate entry")
)

// Error carries the offending entity and violated rule.
type Error struct {
	Kind     Kind
	Entity   string
	EntityID string
	Rule     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.EntityID != "" {
			b.WriteString(" ")
			b.WriteString(e.EntityID)
		}
	}
	if e.Rule != "" {
		b.WriteString(": ")
		b.WriteString(e.Rule)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel for this error.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrState:
		return e.Kind == KindState
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConcurrency:
		return e.Kind == KindConcurrency
	case ErrConsistency:
		return e.Kind == KindConsistency
	}
	return false
}

func newError(kind Kind, entity string, id any, rule string, err error) *Error {
	e := &Error{Kind: kind, Entity: entity, Rule: rule, Err: err}
	if id != nil {
		e.EntityID = fmt.Sprint(id)
	}
	return e
}

// Validation builds a ValidationError.
func Validation(entity string, id any, rule string, err error) error {
	return newError(KindValidation, entity, id, rule, err)
}

// State builds a StateError.
func State(entity string, id any, rule string, err error) error {
	return newError(KindState, entity, id, rule, err)
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id any, err error) error {
	return newError(KindNotFound, entity, id, "", err)
}

// Concurrency builds a ConcurrencyError.
func Concurrency(entity string, id any, err error) error {
	return newError(KindConcurrency, entity, id, "", err)
}

// Consistency builds a ConsistencyError.
func Consistency(entity string, id any, rule string, err error) error {
	return newError(KindConsistency, entity, id, rule, err)
}

// KindOf reports the kind of err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err may be retried from a fresh read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
