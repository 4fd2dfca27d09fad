package journals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// Event types published after a ledger mutation commits.
const (
	EventPosted   = "journal.posted"
	EventReversed = "journal.reversed"
	EventDeleted  = "journal.deleted"
)

// Event describes a committed posting for downstream consumers.
type Event struct {
	ID          uuid.UUID            `json:"id"`
	Type        string               `json:"type"`
	EntryID     int64                `json:"entry_id"`
	Number      string               `json:"number"`
	EntryType   accounting.EntryType `json:"entry_type"`
	PeriodID    int64                `json:"period_id"`
	Date        time.Time            `json:"date"`
	TotalDebit  decimal.Decimal      `json:"total_debit"`
	TotalCredit decimal.Decimal      `json:"total_credit"`
	ReversesID  *int64               `json:"reverses_id,omitempty"`
	ActorID     int64                `json:"actor_id"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// PeriodGuard blocks postings into periods that are closed or being closed.
type PeriodGuard interface {
	EnsurePeriodOpenForPosting(ctx context.Context, periodID int64) error
}

// EventPublisher ships committed postings to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// CacheInvalidator drops cached report snapshots after balances move.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Metrics observes posting outcomes.
type Metrics interface {
	ObservePosting(entryType accounting.EntryType, err error)
	ObserveRetry(operation string)
}
