package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueLedger carries the integrity and close checks.
	QueueLedger = "ledger"
	// QueueDefault carries housekeeping.
	QueueDefault = "default"
	// TaskGLIntegrity verifies ledger balances against posted lines.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskCloseCheck reports periods whose end date passed without a completed close.
	TaskCloseCheck = "ledger:close_check"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// QueueFor names the queue a task type is routed to.
func QueueFor(taskType string) string {
	switch taskType {
	case TaskGLIntegrity, TaskCloseCheck:
		return QueueLedger
	default:
		return QueueDefault
	}
}

// DefaultQueues weights ledger checks over housekeeping.
func DefaultQueues() map[string]int {
	return map[string]int{QueueLedger: 6, QueueDefault: 1}
}

// IdempotencyCleaner removes processed request keys past retention.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueFor(TaskIdempotencyCleanup))), nil
}

// IdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(cleaner IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: %v: %w", err, asynq.SkipRetry)
		}
		if payload.Retention <= 0 {
			payload.Retention = 30 * 24 * time.Hour
		}
		if err := cleaner.Cleanup(ctx, payload.Retention); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("purged idempotency keys", slog.String("job", "idempotency_cleanup"), slog.Duration("retention", payload.Retention))
		}
		return nil
	}
}
