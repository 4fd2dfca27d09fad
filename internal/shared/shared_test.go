package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreDetectsDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewIdempotencyStore(mock)

	mock.ExpectExec(`INSERT INTO idempotency_keys`).
		WithArgs("req-1", "LOAN.DISBURSEMENT", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO idempotency_keys`).
		WithArgs("req-1", "LOAN.DISBURSEMENT", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.NoError(t, store.CheckAndInsert(context.Background(), "req-1", "LOAN.DISBURSEMENT"))
	assert.ErrorIs(t, store.CheckAndInsert(context.Background(), "req-1", "LOAN.DISBURSEMENT"), ErrIdempotencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStoreRequiresKeyAndModule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewIdempotencyStore(mock)

	assert.Error(t, store.CheckAndInsert(context.Background(), "", "DEPOSIT.TRANSACTION"))
	assert.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStoreCleanup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewIdempotencyStore(mock)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE created_at`).
		WithArgs(now.Add(-48 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.Cleanup(context.Background(), 48*time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLoggerRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	logger := NewAuditLogger(mock, nil)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(int64(9), "period.close.complete", "financial_period", "4", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, logger.Record(context.Background(), AuditLog{
		ActorID: 9, Action: "period.close.complete", Entity: "financial_period", EntityID: "4",
		Meta: map[string]any{"next_period_id": 5},
	}))
	assert.Error(t, logger.Record(context.Background(), AuditLog{Action: "period.close.complete"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerAcquireRelease(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()
	key := FinanceLockKey(12)
	assert.Equal(t, "finance:period:12:lock", key)

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	held, err := locker.Held(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)

	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	held, err = locker.Held(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestLockerExpiredReleaseKeepsNewOwner(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	locker := NewLocker(client, time.Second)
	ctx := context.Background()
	key := FinanceLockKey(3)

	stale, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	srv.FastForward(2 * time.Second)

	_, err = locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, stale(ctx))

	held, err := locker.Held(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
	held, err := locker.Held(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestActorContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), 77)
	assert.Equal(t, int64(77), ActorFromContext(ctx))
	assert.Zero(t, ActorFromContext(context.Background()))
}
