package accounting

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "DRAFT"
	EntryStatusSubmitted EntryStatus = "SUBMITTED"
	EntryStatusApproved  EntryStatus = "APPROVED"
	EntryStatusPosted    EntryStatus = "POSTED"
	EntryStatusReversed  EntryStatus = "REVERSED"
	EntryStatusRejected  EntryStatus = "REJECTED"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusDraft:     {EntryStatusSubmitted, EntryStatusRejected},
	EntryStatusSubmitted: {EntryStatusApproved, EntryStatusRejected},
	EntryStatusApproved:  {EntryStatusPosted},
	EntryStatusPosted:    {EntryStatusReversed},
	EntryStatusRejected:  {EntryStatusDraft},
}

// CanTransition reports whether the entry may move to target.
func (s EntryStatus) CanTransition(target EntryStatus) bool {
	return allowed(entryTransitions, s, target)
}

// Unposted reports whether an entry in this status still awaits posting.
func (s EntryStatus) Unposted() bool {
	return s == EntryStatusDraft || s == EntryStatusSubmitted || s == EntryStatusApproved
}

// Effective reports whether the entry's lines have hit the balances.
func (s EntryStatus) Effective() bool {
	return s == EntryStatusPosted || s == EntryStatusReversed
}

// FiscalYearStatus enumerates fiscal year states.
type FiscalYearStatus string

const (
	FiscalYearPlanned FiscalYearStatus = "PLANNED"
	FiscalYearOpen    FiscalYearStatus = "OPEN"
	FiscalYearActive  FiscalYearStatus = "ACTIVE"
	FiscalYearClosed  FiscalYearStatus = "CLOSED"
)

var fiscalYearTransitions = map[FiscalYearStatus][]FiscalYearStatus{
	FiscalYearPlanned: {FiscalYearOpen},
	FiscalYearOpen:    {FiscalYearActive},
	FiscalYearActive:  {FiscalYearClosed},
}

// CanTransition reports whether the fiscal year may move to target.
func (s FiscalYearStatus) CanTransition(target FiscalYearStatus) bool {
	return allowed(fiscalYearTransitions, s, target)
}

// AcceptsPeriods reports whether periods of the year may be opened.
func (s FiscalYearStatus) AcceptsPeriods() bool {
	return s == FiscalYearOpen || s == FiscalYearActive
}

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusPlanned PeriodStatus = "PLANNED"
	PeriodStatusOpen    PeriodStatus = "OPEN"
	PeriodStatusClosed  PeriodStatus = "CLOSED"
)

var periodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodStatusPlanned: {PeriodStatusOpen},
	PeriodStatusOpen:    {PeriodStatusClosed},
	PeriodStatusClosed:  {PeriodStatusOpen},
}

// CanTransition reports whether the period may move to target.
func (s PeriodStatus) CanTransition(target PeriodStatus) bool {
	return allowed(periodTransitions, s, target)
}

// ClosingStatus tracks progress of the period close workflow.
type ClosingStatus string

const (
	ClosingNotStarted    ClosingStatus = "NOT_STARTED"
	ClosingInitiated     ClosingStatus = "INITIATED"
	ClosingValidated     ClosingStatus = "VALIDATED"
	ClosingEntriesPosted ClosingStatus = "CLOSING_ENTRIES_POSTED"
	ClosingClosed        ClosingStatus = "CLOSED"
	ClosingFailed        ClosingStatus = "FAILED"
)

var closingTransitions = map[ClosingStatus][]ClosingStatus{
	ClosingNotStarted:    {ClosingInitiated},
	ClosingInitiated:     {ClosingValidated, ClosingFailed, ClosingNotStarted},
	ClosingValidated:     {ClosingEntriesPosted, ClosingFailed, ClosingNotStarted},
	ClosingEntriesPosted: {ClosingClosed, ClosingNotStarted},
	ClosingFailed:        {ClosingInitiated, ClosingNotStarted},
	ClosingClosed:        {ClosingNotStarted},
}

// CanTransition reports whether the closing workflow may move to target.
// CLOSED → NOT_STARTED is only reachable through a period reopen.
func (s ClosingStatus) CanTransition(target ClosingStatus) bool {
	return allowed(closingTransitions, s, target)
}

// InProgress reports whether a close has started and not yet finished or failed.
func (s ClosingStatus) InProgress() bool {
	return s == ClosingInitiated || s == ClosingValidated || s == ClosingEntriesPosted
}

// RollbackAllowed reports whether RollbackClosing may run from this state.
func (s ClosingStatus) RollbackAllowed() bool {
	return s != ClosingNotStarted && s != ClosingClosed && s != ""
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
