package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store abstracts transactional persistence of the ledger.
type Store interface {
	// WithTx runs fn in a read-write unit of work. fn's writes commit together or not at all.
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(context.Context, Reader) error) error
}

// EntryFilter narrows journal entry listings. Zero values mean "any".
type EntryFilter struct {
	PeriodID int64
	Statuses []EntryStatus
	Types    []EntryType
	Limit    int
}

// LineFilter narrows posted line listings. Only lines of POSTED or REVERSED entries are returned.
type LineFilter struct {
	AccountID           int64
	PeriodID            int64
	From                *time.Time
	To                  *time.Time
	After               *time.Time
	Types               []EntryType
	ExcludeTypes        []EntryType
	IncludeCarryForward bool
}

// Reader exposes read operations shared by snapshots and transactions.
type Reader interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByNumber(ctx context.Context, number string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
	CountUnposted(ctx context.Context, periodID int64) (int, error)
	ListPostedLines(ctx context.Context, filter LineFilter) ([]PostedLine, error)

	GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error)
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	GetPeriod(ctx context.Context, id int64) (Period, error)
	ListPeriods(ctx context.Context, fiscalYearID int64) ([]Period, error)
	NextPeriodAfter(ctx context.Context, date time.Time) (Period, error)
	FindOpenPeriodByDate(ctx context.Context, date time.Time) (Period, error)
}

// Tx exposes transactional operations. Lock methods take row locks until the unit of work ends.
type Tx interface {
	Reader

	InsertAccount(ctx context.Context, acc Account) (Account, error)
	LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error

	NextEntryNumber(ctx context.Context, entryType EntryType) (string, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	GetJournalEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	UpdateJournalEntry(ctx context.Context, entry JournalEntry) error
	ReplaceJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
	DeleteJournalEntry(ctx context.Context, id int64) error

	InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error)
	UpdateFiscalYearStatus(ctx context.Context, id int64, status FiscalYearStatus) error
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	UpdatePeriod(ctx context.Context, p Period) error
}
