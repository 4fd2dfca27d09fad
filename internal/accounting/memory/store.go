// Package memory provides an in-process accounting.Store used by tests and local runs.
//
// Write transactions are serialised and operate on a cloned state that replaces the committed
// state only when the unit of work returns nil, so a failed posting leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

type state struct {
	accounts   map[int64]accounting.Account
	entries    map[int64]accounting.JournalEntry
	years      map[int64]accounting.FiscalYear
	periods    map[int64]accounting.Period
	numbers    map[accounting.EntryType]int64
	accountSeq int64
	entrySeq   int64
	lineSeq    int64
	yearSeq    int64
	periodSeq  int64
}

func newState() *state {
	return &state{
		accounts: make(map[int64]accounting.Account),
		entries:  make(map[int64]accounting.JournalEntry),
		years:    make(map[int64]accounting.FiscalYear),
		periods:  make(map[int64]accounting.Period),
		numbers:  make(map[accounting.EntryType]int64),
	}
}

func (s *state) clone() *state {
	out := &state{
		accounts:   make(map[int64]accounting.Account, len(s.accounts)),
		entries:    make(map[int64]accounting.JournalEntry, len(s.entries)),
		years:      make(map[int64]accounting.FiscalYear, len(s.years)),
		periods:    make(map[int64]accounting.Period, len(s.periods)),
		numbers:    make(map[accounting.EntryType]int64, len(s.numbers)),
		accountSeq: s.accountSeq,
		entrySeq:   s.entrySeq,
		lineSeq:    s.lineSeq,
		yearSeq:    s.yearSeq,
		periodSeq:  s.periodSeq,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = copyEntry(v)
	}
	for k, v := range s.years {
		out.years[k] = v
	}
	for k, v := range s.periods {
		out.periods[k] = copyPeriod(v)
	}
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	return out
}

// Store is a mutex-guarded accounting.Store.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithTx implements accounting.Store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &tx{view: view{st: work}, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View implements accounting.Store.
func (s *Store) View(ctx context.Context, fn func(context.Context, accounting.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, view{st: s.st})
}

type view struct {
	st *state
}

func (v view) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	acc, ok := v.st.accounts[id]
	if !ok {
		return accounting.Account{}, shared.NotFound("account", id, shared.ErrAccountNotFound)
	}
	return acc, nil
}

func (v view) GetAccountByNumber(_ context.Context, number string) (accounting.Account, error) {
	for _, acc := range v.st.accounts {
		if acc.Number == number {
			return acc, nil
		}
	}
	return accounting.Account{}, shared.NotFound("account", number, shared.ErrAccountNotFound)
}

func (v view) ListAccounts(_ context.Context) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(v.st.accounts))
	for _, acc := range v.st.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (v view) GetJournalEntry(_ context.Context, id int64) (accounting.JournalEntry, error) {
	entry, ok := v.st.entries[id]
	if !ok {
		return accounting.JournalEntry{}, shared.NotFound("journal_entry", id, shared.ErrJournalNotFound)
	}
	return copyEntry(entry), nil
}

func (v view) ListJournalEntries(_ context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	out := make([]accounting.JournalEntry, 0)
	for _, entry := range v.sortedEntries() {
		if filter.PeriodID != 0 && entry.PeriodID != filter.PeriodID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, entry.Status) {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, entry.Type) {
			continue
		}
		out = append(out, copyEntry(entry))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (v view) CountUnposted(_ context.Context, periodID int64) (int, error) {
	count := 0
	for _, entry := range v.st.entries {
		if entry.PeriodID == periodID && entry.Status.Unposted() {
			count++
		}
	}
	return count, nil
}

func (v view) ListPostedLines(_ context.Context, filter accounting.LineFilter) ([]accounting.PostedLine, error) {
	out := make([]accounting.PostedLine, 0)
	for _, entry := range v.sortedEntries() {
		if !entry.Status.Effective() {
			continue
		}
		if entry.CarryForward && !filter.IncludeCarryForward {
			continue
		}
		if filter.PeriodID != 0 && entry.PeriodID != filter.PeriodID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, entry.Type) {
			continue
		}
		if len(filter.ExcludeTypes) > 0 && containsType(filter.ExcludeTypes, entry.Type) {
			continue
		}
		if filter.From != nil && entry.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.Date.After(*filter.To) {
			continue
		}
		if filter.After != nil && !entry.Date.After(*filter.After) {
			continue
		}
		for _, line := range entry.Lines {
			if filter.AccountID != 0 && line.AccountID != filter.AccountID {
				continue
			}
			out = append(out, accounting.PostedLine{
				JournalLine:  line,
				EntryNumber:  entry.Number,
				EntryDate:    entry.Date,
				EntryType:    entry.Type,
				PeriodID:     entry.PeriodID,
				CarryForward: entry.CarryForward,
			})
		}
	}
	return out, nil
}

func (v view) GetFiscalYear(_ context.Context, id int64) (accounting.FiscalYear, error) {
	fy, ok := v.st.years[id]
	if !ok {
		return accounting.FiscalYear{}, shared.NotFound("fiscal_year", id, shared.ErrFiscalYearNotFound)
	}
	fy.Periods = v.periodsOf(id)
	return fy, nil
}

func (v view) ListFiscalYears(ctx context.Context) ([]accounting.FiscalYear, error) {
	out := make([]accounting.FiscalYear, 0, len(v.st.years))
	for id := range v.st.years {
		fy, _ := v.GetFiscalYear(ctx, id)
		out = append(out, fy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (v view) GetPeriod(_ context.Context, id int64) (accounting.Period, error) {
	p, ok := v.st.periods[id]
	if !ok {
		return accounting.Period{}, shared.NotFound("financial_period", id, shared.ErrPeriodNotFound)
	}
	return copyPeriod(p), nil
}

func (v view) ListPeriods(_ context.Context, fiscalYearID int64) ([]accounting.Period, error) {
	if fiscalYearID != 0 {
		return v.periodsOf(fiscalYearID), nil
	}
	return v.sortedPeriods(), nil
}

func (v view) NextPeriodAfter(_ context.Context, date time.Time) (accounting.Period, error) {
	for _, p := range v.sortedPeriods() {
		if p.StartDate.After(date) {
			return p, nil
		}
	}
	return accounting.Period{}, shared.NotFound("financial_period", "after "+date.Format(time.DateOnly), shared.ErrPeriodNotFound)
}

func (v view) FindOpenPeriodByDate(_ context.Context, date time.Time) (accounting.Period, error) {
	for _, p := range v.sortedPeriods() {
		if p.Status == accounting.PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return accounting.Period{}, shared.NotFound("financial_period", "open on "+date.Format(time.DateOnly), shared.ErrInvalidPeriod)
}

func (v view) sortedEntries() []accounting.JournalEntry {
	out := make([]accounting.JournalEntry, 0, len(v.st.entries))
	for _, e := range v.st.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v view) sortedPeriods() []accounting.Period {
	out := make([]accounting.Period, 0, len(v.st.periods))
	for _, p := range v.st.periods {
		out = append(out, copyPeriod(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v view) periodsOf(fiscalYearID int64) []accounting.Period {
	out := make([]accounting.Period, 0)
	for _, p := range v.sortedPeriods() {
		if p.FiscalYearID == fiscalYearID {
			out = append(out, p)
		}
	}
	return out
}

type tx struct {
	view
	now func() time.Time
}

func (t *tx) InsertAccount(_ context.Context, acc accounting.Account) (accounting.Account, error) {
	for _, existing := range t.st.accounts {
		if existing.Number == acc.Number {
			return accounting.Account{}, shared.Validation("account", acc.Number, "account number must be unique", shared.ErrDuplicate)
		}
	}
	t.st.accountSeq++
	now := t.now()
	acc.ID = t.st.accountSeq
	acc.Version = 1
	acc.CreatedAt = now
	acc.UpdatedAt = now
	t.st.accounts[acc.ID] = acc
	return acc, nil
}

func (t *tx) LockAccounts(_ context.Context, ids []int64) (map[int64]accounting.Account, error) {
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range ids {
		acc, ok := t.st.accounts[id]
		if !ok {
			return nil, shared.NotFound("account", id, shared.ErrAccountNotFound)
		}
		out[id] = acc
	}
	return out, nil
}

func (t *tx) UpdateAccountBalance(_ context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error {
	acc, ok := t.st.accounts[id]
	if !ok {
		return shared.NotFound("account", id, shared.ErrAccountNotFound)
	}
	if acc.Version != expectedVersion {
		return shared.Concurrency("account", id, shared.ErrVersionConflict)
	}
	acc.Balance = balance
	acc.Version++
	acc.UpdatedAt = t.now()
	t.st.accounts[id] = acc
	return nil
}

func (t *tx) NextEntryNumber(_ context.Context, entryType accounting.EntryType) (string, error) {
	t.st.numbers[entryType]++
	return fmt.Sprintf("%s-%06d", entryType.NumberPrefix(), t.st.numbers[entryType]), nil
}

func (t *tx) InsertJournalEntry(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	for _, existing := range t.st.entries {
		if existing.Number == entry.Number {
			return accounting.JournalEntry{}, shared.Validation("journal_entry", entry.Number, "entry number must be unique", shared.ErrDuplicate)
		}
	}
	t.st.entrySeq++
	now := t.now()
	entry.ID = t.st.entrySeq
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.Lines = t.numberLines(entry.ID, entry.Lines)
	t.st.entries[entry.ID] = copyEntry(entry)
	return copyEntry(entry), nil
}

func (t *tx) GetJournalEntryForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.GetJournalEntry(ctx, id)
}

func (t *tx) UpdateJournalEntry(_ context.Context, entry accounting.JournalEntry) error {
	current, ok := t.st.entries[entry.ID]
	if !ok {
		return shared.NotFound("journal_entry", entry.ID, shared.ErrJournalNotFound)
	}
	entry.Lines = current.Lines
	entry.UpdatedAt = t.now()
	t.st.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (t *tx) ReplaceJournalLines(_ context.Context, entryID int64, lines []accounting.JournalLine) error {
	current, ok := t.st.entries[entryID]
	if !ok {
		return shared.NotFound("journal_entry", entryID, shared.ErrJournalNotFound)
	}
	current.Lines = t.numberLines(entryID, lines)
	t.st.entries[entryID] = current
	return nil
}

func (t *tx) DeleteJournalEntry(_ context.Context, id int64) error {
	if _, ok := t.st.entries[id]; !ok {
		return shared.NotFound("journal_entry", id, shared.ErrJournalNotFound)
	}
	delete(t.st.entries, id)
	return nil
}

func (t *tx) InsertFiscalYear(_ context.Context, fy accounting.FiscalYear) (accounting.FiscalYear, error) {
	for _, existing := range t.st.years {
		if existing.Year == fy.Year {
			return accounting.FiscalYear{}, shared.Validation("fiscal_year", fy.Year, "year must be unique", shared.ErrDuplicate)
		}
	}
	t.st.yearSeq++
	now := t.now()
	fy.ID = t.st.yearSeq
	fy.Periods = nil
	fy.CreatedAt = now
	fy.UpdatedAt = now
	t.st.years[fy.ID] = fy
	return fy, nil
}

func (t *tx) GetFiscalYearForUpdate(ctx context.Context, id int64) (accounting.FiscalYear, error) {
	return t.GetFiscalYear(ctx, id)
}

func (t *tx) UpdateFiscalYearStatus(_ context.Context, id int64, status accounting.FiscalYearStatus) error {
	fy, ok := t.st.years[id]
	if !ok {
		return shared.NotFound("fiscal_year", id, shared.ErrFiscalYearNotFound)
	}
	fy.Status = status
	fy.UpdatedAt = t.now()
	t.st.years[id] = fy
	return nil
}

func (t *tx) InsertPeriod(_ context.Context, p accounting.Period) (accounting.Period, error) {
	if _, ok := t.st.years[p.FiscalYearID]; !ok {
		return accounting.Period{}, shared.NotFound("fiscal_year", p.FiscalYearID, shared.ErrFiscalYearNotFound)
	}
	t.st.periodSeq++
	now := t.now()
	p.ID = t.st.periodSeq
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = accounting.PeriodStatusPlanned
	}
	if p.ClosingStatus == "" {
		p.ClosingStatus = accounting.ClosingNotStarted
	}
	t.st.periods[p.ID] = copyPeriod(p)
	return copyPeriod(p), nil
}

func (t *tx) GetPeriodForUpdate(ctx context.Context, id int64) (accounting.Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) UpdatePeriod(_ context.Context, p accounting.Period) error {
	if _, ok := t.st.periods[p.ID]; !ok {
		return shared.NotFound("financial_period", p.ID, shared.ErrPeriodNotFound)
	}
	p.UpdatedAt = t.now()
	t.st.periods[p.ID] = copyPeriod(p)
	return nil
}

func (t *tx) numberLines(entryID int64, lines []accounting.JournalLine) []accounting.JournalLine {
	out := make([]accounting.JournalLine, 0, len(lines))
	for idx, line := range lines {
		t.st.lineSeq++
		line.ID = t.st.lineSeq
		line.EntryID = entryID
		line.LineNo = idx + 1
		out = append(out, line)
	}
	return out
}

func copyEntry(e accounting.JournalEntry) accounting.JournalEntry {
	lines := make([]accounting.JournalLine, len(e.Lines))
	copy(lines, e.Lines)
	e.Lines = lines
	return e
}

func copyPeriod(p accounting.Period) accounting.Period {
	if p.ValidationErrors != nil {
		errs := make([]string, len(p.ValidationErrors))
		copy(errs, p.ValidationErrors)
		p.ValidationErrors = errs
	}
	return p
}

func containsStatus(list []accounting.EntryStatus, s accounting.EntryStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsType(list []accounting.EntryType, t accounting.EntryType) bool {
	for _, item := range list {
		if item == t {
			return true
		}
	}
	return false
}

var _ accounting.Store = (*Store)(nil)
