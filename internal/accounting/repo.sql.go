package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

// querier supports statements for both pool connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ querier  = (*pgxpool.Pool)(nil)
	_ querier  = (pgx.Tx)(nil)
	_ beginner = (*pgxpool.Pool)(nil)
)

// Repository persists accounting entities in PostgreSQL.
type Repository struct {
	db beginner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

type txRepository struct {
	tx querier
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(ctx context.Context, tx *txRepository) error {
		return fn(ctx, tx)
	})
}

// View executes fn within a read-only repeatable-read transaction.
func (r *Repository) View(ctx context.Context, fn func(context.Context, Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return r.run(ctx, opts, func(ctx context.Context, tx *txRepository) error {
		return fn(ctx, tx)
	})
}

func (r *Repository) run(ctx context.Context, opts pgx.TxOptions, fn func(context.Context, *txRepository) error) error {
	if r == nil || r.db == nil {
		return errors.New("accounting repository not initialised")
	}
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return mapPgError("transaction", nil, err)
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return mapPgError("transaction", nil, err)
	}
	// Once fn has succeeded the commit must not be abandoned by a caller cancelling.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return mapPgError("transaction", nil, err)
	}
	return nil
}

// mapPgError turns serialization failures and deadlocks into retryable concurrency errors.
func mapPgError(entity string, id any, err error) error {
	if shared.KindOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return shared.Concurrency(entity, id, err)
	case "23505":
		return shared.Validation(entity, id, pgErr.ConstraintName, fmt.Errorf("%w: %v", shared.ErrDuplicate, err))
	}
	return err
}

const accountColumns = `id, number, name, type, normal_side, balance, currency, is_active, allow_manual, version, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Number, &a.Name, &a.Type, &a.NormalSide, &a.Balance, &a.Currency, &a.IsActive, &a.AllowManual, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("account", id, shared.ErrAccountNotFound)
		}
		return Account{}, err
	}
	return acc, nil
}

func (r *txRepository) GetAccountByNumber(ctx context.Context, number string) (Account, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number=$1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("account", number, shared.ErrAccountNotFound)
		}
		return Account{}, err
	}
	return acc, nil
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (number, name, type, normal_side, balance, currency, is_active, allow_manual, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1) RETURNING id, version, created_at, updated_at`,
		acc.Number, acc.Name, acc.Type, acc.NormalSide, acc.Balance, acc.Currency, acc.IsActive, acc.AllowManual)
	if err := row.Scan(&acc.ID, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return Account{}, mapPgError("account", acc.Number, err)
	}
	return acc, nil
}

// LockAccounts takes row locks in ascending id order so concurrent postings cannot deadlock.
func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, mapPgError("account", nil, err)
	}
	defer rows.Close()
	out := make(map[int64]Account, len(sorted))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("account", nil, err)
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, shared.NotFound("account", id, shared.ErrAccountNotFound)
		}
	}
	return out, nil
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$3`, id, balance, expectedVersion)
	if err != nil {
		return mapPgError("account", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.Concurrency("account", id, shared.ErrVersionConflict)
	}
	return nil
}

func (r *txRepository) NextEntryNumber(ctx context.Context, entryType EntryType) (string, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO entry_sequences (entry_type, last_value) VALUES ($1, 1)
ON CONFLICT (entry_type) DO UPDATE SET last_value = entry_sequences.last_value + 1 RETURNING last_value`, entryType).Scan(&seq)
	if err != nil {
		return "", mapPgError("entry_sequence", entryType, err)
	}
	return fmt.Sprintf("%s-%06d", entryType.NumberPrefix(), seq), nil
}

const entryColumns = `id, number, period_id, entry_date, description, reference, entry_type, status, carry_forward, created_by,
submitted_by, approved_by, posted_by, posted_at, rejected_by, rejection_reason, reversed_by_id, reverses_id, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.PeriodID, &e.Date, &e.Description, &e.Reference, &e.Type, &e.Status, &e.CarryForward, &e.CreatedBy,
		&e.SubmittedBy, &e.ApprovedBy, &e.PostedBy, &e.PostedAt, &e.RejectedBy, &e.RejectionReason, &e.ReversedByID, &e.ReversesID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *txRepository) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id)
}

func (r *txRepository) GetJournalEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) getEntry(ctx context.Context, query string, id int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.NotFound("journal_entry", id, shared.ErrJournalNotFound)
		}
		return JournalEntry{}, mapPgError("journal_entry", id, err)
	}
	lines, err := r.linesFor(ctx, []int64{id})
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines[id]
	return entry, nil
}

func (r *txRepository) linesFor(ctx context.Context, entryIDs []int64) (map[int64][]JournalLine, error) {
	out := make(map[int64][]JournalLine, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, line_no, account_id, amount, side, description
FROM journal_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.Amount, &line.Side, &line.Description); err != nil {
			return nil, err
		}
		out[line.EntryID] = append(out[line.EntryID], line)
	}
	return out, rows.Err()
}

func (r *txRepository) ListJournalEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.PeriodID != 0 {
		args = append(args, filter.PeriodID)
		where = append(where, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, toStrings(filter.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Types) > 0 {
		args = append(args, toStrings(filter.Types))
		where = append(where, fmt.Sprintf("entry_type = ANY($%d)", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		entries []JournalEntry
		ids     []int64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (r *txRepository) CountUnposted(ctx context.Context, periodID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE period_id=$1 AND status IN ('DRAFT','SUBMITTED','APPROVED')`, periodID).Scan(&count)
	return count, err
}

func (r *txRepository) ListPostedLines(ctx context.Context, filter LineFilter) ([]PostedLine, error) {
	where := []string{"e.status IN ('POSTED','REVERSED')"}
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filter.IncludeCarryForward {
		where = append(where, "NOT e.carry_forward")
	}
	if filter.AccountID != 0 {
		add("l.account_id=$%d", filter.AccountID)
	}
	if filter.PeriodID != 0 {
		add("e.period_id=$%d", filter.PeriodID)
	}
	if filter.From != nil {
		add("e.entry_date >= $%d::date", *filter.From)
	}
	if filter.To != nil {
		add("e.entry_date <= $%d::date", *filter.To)
	}
	if filter.After != nil {
		add("e.entry_date > $%d::date", *filter.After)
	}
	if len(filter.Types) > 0 {
		add("e.entry_type = ANY($%d)", toStrings(filter.Types))
	}
	if len(filter.ExcludeTypes) > 0 {
		add("NOT (e.entry_type = ANY($%d))", toStrings(filter.ExcludeTypes))
	}
	query := `SELECT l.id, l.entry_id, l.line_no, l.account_id, l.amount, l.side, l.description,
e.number, e.entry_date, e.entry_type, e.period_id, e.carry_forward
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY e.entry_date, e.id, l.line_no`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostedLine
	for rows.Next() {
		var pl PostedLine
		if err := rows.Scan(&pl.ID, &pl.EntryID, &pl.LineNo, &pl.AccountID, &pl.Amount, &pl.Side, &pl.Description,
			&pl.EntryNumber, &pl.EntryDate, &pl.EntryType, &pl.PeriodID, &pl.CarryForward); err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, period_id, entry_date, description, reference, entry_type, status, carry_forward,
created_by, submitted_by, approved_by, posted_by, posted_at, reverses_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id, created_at, updated_at`,
		entry.Number, entry.PeriodID, entry.Date, entry.Description, entry.Reference, entry.Type, entry.Status, entry.CarryForward,
		entry.CreatedBy, entry.SubmittedBy, entry.ApprovedBy, entry.PostedBy, entry.PostedAt, entry.ReversesID)
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, mapPgError("journal_entry", entry.Number, err)
	}
	lines, err := r.insertLines(ctx, entry.ID, entry.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *txRepository) insertLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for idx, line := range lines {
		line.EntryID = entryID
		line.LineNo = idx + 1
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, amount, side, description)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, entryID, line.LineNo, line.AccountID, line.Amount, line.Side, line.Description).Scan(&line.ID)
		if err != nil {
			return nil, mapPgError("journal_line", entryID, err)
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) UpdateJournalEntry(ctx context.Context, entry JournalEntry) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET period_id=$2, entry_date=$3, description=$4, reference=$5, status=$6,
submitted_by=$7, approved_by=$8, posted_by=$9, posted_at=$10, rejected_by=$11, rejection_reason=$12, reversed_by_id=$13, updated_at=NOW()
WHERE id=$1`, entry.ID, entry.PeriodID, entry.Date, entry.Description, entry.Reference, entry.Status,
		entry.SubmittedBy, entry.ApprovedBy, entry.PostedBy, entry.PostedAt, entry.RejectedBy, entry.RejectionReason, entry.ReversedByID)
	if err != nil {
		return mapPgError("journal_entry", entry.ID, err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFound("journal_entry", entry.ID, shared.ErrJournalNotFound)
	}
	return nil
}

func (r *txRepository) ReplaceJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return mapPgError("journal_entry", entryID, err)
	}
	_, err := r.insertLines(ctx, entryID, lines)
	return err
}

func (r *txRepository) DeleteJournalEntry(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, id); err != nil {
		return mapPgError("journal_entry", id, err)
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, id)
	if err != nil {
		return mapPgError("journal_entry", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFound("journal_entry", id, shared.ErrJournalNotFound)
	}
	return nil
}

const fiscalYearColumns = `id, year, code, name, start_date, end_date, status, created_at, updated_at`

func scanFiscalYear(row pgx.Row) (FiscalYear, error) {
	var fy FiscalYear
	err := row.Scan(&fy.ID, &fy.Year, &fy.Code, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Status, &fy.CreatedAt, &fy.UpdatedAt)
	return fy, err
}

func (r *txRepository) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	return r.getFiscalYear(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id=$1`, id)
}

func (r *txRepository) GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error) {
	return r.getFiscalYear(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) getFiscalYear(ctx context.Context, query string, id int64) (FiscalYear, error) {
	fy, err := scanFiscalYear(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, shared.NotFound("fiscal_year", id, shared.ErrFiscalYearNotFound)
		}
		return FiscalYear{}, mapPgError("fiscal_year", id, err)
	}
	periods, err := r.ListPeriods(ctx, id)
	if err != nil {
		return FiscalYear{}, err
	}
	fy.Periods = periods
	return fy, nil
}

func (r *txRepository) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years ORDER BY year`)
	if err != nil {
		return nil, err
	}
	var years []FiscalYear
	for rows.Next() {
		fy, err := scanFiscalYear(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		years = append(years, fy)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range years {
		periods, err := r.ListPeriods(ctx, years[i].ID)
		if err != nil {
			return nil, err
		}
		years[i].Periods = periods
	}
	return years, nil
}

func (r *txRepository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (year, code, name, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`, fy.Year, fy.Code, fy.Name, fy.StartDate, fy.EndDate, fy.Status)
	if err := row.Scan(&fy.ID, &fy.CreatedAt, &fy.UpdatedAt); err != nil {
		return FiscalYear{}, mapPgError("fiscal_year", fy.Year, err)
	}
	return fy, nil
}

func (r *txRepository) UpdateFiscalYearStatus(ctx context.Context, id int64, status FiscalYearStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return mapPgError("fiscal_year", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFound("fiscal_year", id, shared.ErrFiscalYearNotFound)
	}
	return nil
}

const periodColumns = `id, fiscal_year_id, name, start_date, end_date, status, closing_status, validation_errors, closing_run, closed_by, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.FiscalYearID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.ClosingStatus, &p.ValidationErrors, &p.ClosingRun, &p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *txRepository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	return r.getPeriod(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1`, id)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return r.getPeriod(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) getPeriod(ctx context.Context, query string, args ...any) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.NotFound("financial_period", args[0], shared.ErrPeriodNotFound)
		}
		return Period{}, mapPgError("financial_period", args[0], err)
	}
	return p, nil
}

func (r *txRepository) ListPeriods(ctx context.Context, fiscalYearID int64) ([]Period, error) {
	query := `SELECT ` + periodColumns + ` FROM financial_periods`
	var args []any
	if fiscalYearID != 0 {
		query += ` WHERE fiscal_year_id=$1`
		args = append(args, fiscalYearID)
	}
	query += ` ORDER BY start_date, id`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) NextPeriodAfter(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods
WHERE start_date > $1::date ORDER BY start_date, id LIMIT 1`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.NotFound("financial_period", "after "+date.Format(time.DateOnly), shared.ErrPeriodNotFound)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) FindOpenPeriodByDate(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods
WHERE status='OPEN' AND $1::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.NotFound("financial_period", "open on "+date.Format(time.DateOnly), shared.ErrInvalidPeriod)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	if p.Status == "" {
		p.Status = PeriodStatusPlanned
	}
	if p.ClosingStatus == "" {
		p.ClosingStatus = ClosingNotStarted
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO financial_periods (fiscal_year_id, name, start_date, end_date, status, closing_status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`, p.FiscalYearID, p.Name, p.StartDate, p.EndDate, p.Status, p.ClosingStatus)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, mapPgError("financial_period", p.Name, err)
	}
	return p, nil
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE financial_periods SET name=$2, status=$3, closing_status=$4, validation_errors=$5, closed_by=$6, closed_at=$7, closing_run=$8, updated_at=NOW()
WHERE id=$1`, p.ID, p.Name, p.Status, p.ClosingStatus, p.ValidationErrors, p.ClosedBy, p.ClosedAt, p.ClosingRun)
	if err != nil {
		return mapPgError("financial_period", p.ID, err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFound("financial_period", p.ID, shared.ErrPeriodNotFound)
	}
	return nil
}

func toStrings[S ~string](in []S) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, string(v))
	}
	return out
}

var (
	_ Store = (*Repository)(nil)
	_ Tx    = (*txRepository)(nil)
)
