package accounting

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

var rwOpts = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

func TestRepositoryUpdateAccountBalanceVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	mock.ExpectBeginTx(rwOpts)
	mock.ExpectExec(`UPDATE accounts SET balance`).
		WithArgs(int64(7), pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateAccountBalance(ctx, 7, decimal.NewFromInt(150), 3)
	})
	assert.ErrorIs(t, err, shared.ErrConcurrency)
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.True(t, shared.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySerializationFailureOnCommitIsRetryable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	mock.ExpectBeginTx(rwOpts)
	mock.ExpectExec(`UPDATE accounts SET balance`).
		WithArgs(int64(1), pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateAccountBalance(ctx, 1, decimal.NewFromInt(10), 1)
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindConcurrency, shared.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryNextEntryNumberFormatsPerType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	mock.ExpectBeginTx(rwOpts)
	mock.ExpectQuery(`INSERT INTO entry_sequences`).
		WithArgs(EntryTypeReversal).
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(int64(7)))
	mock.ExpectCommit()

	var number string
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		number, err = tx.NextEntryNumber(ctx, EntryTypeReversal)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "REV-000007", number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLockAccountsReportsMissingAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	cols := []string{"id", "number", "name", "type", "normal_side", "balance", "currency", "is_active", "allow_manual", "version", "created_at", "updated_at"}
	mock.ExpectBeginTx(rwOpts)
	mock.ExpectQuery(`FROM accounts WHERE id = ANY\(\$1\) ORDER BY id FOR UPDATE`).
		WithArgs([]int64{2, 9}).
		WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectRollback()

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockAccounts(ctx, []int64{9, 2})
		return err
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDeadlockMapsToConcurrency(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	mock.ExpectBeginTx(rwOpts)
	mock.ExpectExec(`DELETE FROM journal_lines`).
		WithArgs(int64(4)).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.DeleteJournalEntry(ctx, 4)
	})
	assert.ErrorIs(t, err, shared.ErrConcurrency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryPropagatesBeginFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repository{db: mock}

	boom := errors.New("connection refused")
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}).WillReturnError(boom)

	err = repo.View(context.Background(), func(context.Context, Reader) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
