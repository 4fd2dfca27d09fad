package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known classification.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which balances of this type grow.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Temporary reports whether the account is zeroed at period close.
func (t AccountType) Temporary() bool {
	return t == AccountTypeRevenue || t == AccountTypeExpense
}

// Side is the debit/credit direction of a line.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Valid reports whether s is DEBIT or CREDIT.
func (s Side) Valid() bool { return s == SideDebit || s == SideCredit }

// Opposite flips the side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// EntryType scopes numbering and reporting of journal entries.
type EntryType string

const (
	EntryTypeStandard        EntryType = "STANDARD"
	EntryTypeReversal        EntryType = "REVERSAL"
	EntryTypeYearEndClosing  EntryType = "YEAR_END_CLOSING"
	EntryTypeSystemGenerated EntryType = "SYSTEM_GENERATED"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeStandard, EntryTypeReversal, EntryTypeYearEndClosing, EntryTypeSystemGenerated:
		return true
	}
	return false
}

// NumberPrefix returns the prefix of entry numbers of this type.
func (t EntryType) NumberPrefix() string {
	switch t {
	case EntryTypeReversal:
		return "REV"
	case EntryTypeYearEndClosing:
		return "YEC"
	case EntryTypeSystemGenerated:
		return "SYS"
	default:
		return "STD"
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID          int64
	Number      string
	Name        string
	Type        AccountType
	NormalSide  Side
	Balance     decimal.Decimal
	Currency    string
	IsActive    bool
	AllowManual bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Apply returns the balance after applying amount on side.
func (a Account) Apply(side Side, amount decimal.Decimal) decimal.Decimal {
	if side == a.NormalSide {
		return a.Balance.Add(amount)
	}
	return a.Balance.Sub(amount)
}

// Abnormal reports whether the current balance sits on the wrong side for the account type.
func (a Account) Abnormal() bool {
	return a.Balance.IsNegative()
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID              int64
	Number          string
	PeriodID        int64
	Date            time.Time
	Description     string
	Reference       string
	Type            EntryType
	Status          EntryStatus
	CarryForward    bool
	CreatedBy       int64
	SubmittedBy     *int64
	ApprovedBy      *int64
	PostedBy        *int64
	PostedAt        *time.Time
	RejectedBy      *int64
	RejectionReason string
	ReversedByID    *int64
	ReversesID      *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []JournalLine
}

// Totals returns the debit and credit sums of the entry lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	return LineTotals(e.Lines)
}

// Balanced reports exact debit/credit equality.
func (e JournalEntry) Balanced() bool {
	d, c := e.Totals()
	return d.Equal(c)
}

// AccountIDs lists distinct accounts referenced by the entry in line order.
func (e JournalEntry) AccountIDs() []int64 {
	seen := make(map[int64]struct{}, len(e.Lines))
	out := make([]int64, 0, len(e.Lines))
	for _, line := range e.Lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		out = append(out, line.AccountID)
	}
	return out
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID          int64
	EntryID     int64
	LineNo      int
	AccountID   int64
	Amount      decimal.Decimal
	Side        Side
	Description string
}

// LineTotals sums lines per side.
func LineTotals(lines []JournalLine) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		if line.Side == SideDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// FlipLines returns a copy of lines with every side inverted.
func FlipLines(lines []JournalLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		flipped := line
		flipped.ID = 0
		flipped.EntryID = 0
		flipped.Side = line.Side.Opposite()
		out = append(out, flipped)
	}
	return out
}

// PostedLine is a journal line joined with its entry header, used for reporting.
type PostedLine struct {
	JournalLine
	EntryNumber  string
	EntryDate    time.Time
	EntryType    EntryType
	PeriodID     int64
	CarryForward bool
}

// FiscalYear groups financial periods.
type FiscalYear struct {
	ID        int64
	Year      int
	Code      string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    FiscalYearStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Periods   []Period
}

// Period represents a financial period window.
type Period struct {
	ID               int64
	FiscalYearID     int64
	Name             string
	StartDate        time.Time
	EndDate          time.Time
	Status           PeriodStatus
	ClosingStatus    ClosingStatus
	ValidationErrors []string
	ClosingRun       int // closing runs that reached ENTRIES_POSTED, completed or not
	ClosedBy         *int64
	ClosedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Contains reports whether date falls inside the period, by calendar day.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// CalendarDay normalises t to midnight UTC of its calendar date. Entry and period dates are
// stored this way so day comparisons behave the same in every store.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of the calendar day of t.
func EndOfDay(t time.Time) time.Time {
	return truncateDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WellKnownAccounts binds account numbers used by integrations and closing.
type WellKnownAccounts struct {
	Cash             string
	LoansReceivable  string
	InterestIncome   string
	CustomerDeposits string
	RetainedEarnings string
}
