package journals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/balances"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// DefaultMaxRetries bounds automatic retries of a posting after a concurrency conflict.
const DefaultMaxRetries = 3

// Service coordinates the journal entry lifecycle and posting.
type Service struct {
	store      accounting.Store
	engine     *balances.Engine
	guard      PeriodGuard
	audit      AuditPort
	events     EventPublisher
	cache      CacheInvalidator
	metrics    Metrics
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
}

// NewService constructs the journal service.
func NewService(store accounting.Store, engine *balances.Engine, guard PeriodGuard, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = balances.NewEngine(logger)
	}
	return &Service{
		store:      store,
		engine:     engine,
		guard:      guard,
		audit:      audit,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithEvents attaches a publisher notified after postings commit.
func (s *Service) WithEvents(events EventPublisher) { s.events = events }

// WithGuard replaces the posting guard.
func (s *Service) WithGuard(guard PeriodGuard) { s.guard = guard }

// WithCache attaches the report cache invalidated after postings commit.
func (s *Service) WithCache(cache CacheInvalidator) { s.cache = cache }

// WithMetrics attaches posting metrics.
func (s *Service) WithMetrics(metrics Metrics) { s.metrics = metrics }

// WithMaxRetries overrides the bounded retry count; negative values disable retries.
func (s *Service) WithMaxRetries(n int) {
	if n < 0 {
		n = 0
	}
	s.maxRetries = n
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		entry, err = r.GetJournalEntry(ctx, id)
		return err
	})
	return entry, err
}

// List returns entries matching filter.
func (s *Service) List(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var entries []accounting.JournalEntry
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		entries, err = r.ListJournalEntries(ctx, filter)
		return err
	})
	return entries, err
}

// Create validates and persists a new draft entry.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	entryType := in.Type
	if entryType == "" {
		entryType = accounting.EntryTypeStandard
	}
	var entry accounting.JournalEntry
	err := s.withRetry(ctx, "journal.create", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			period, err := tx.GetPeriod(ctx, in.PeriodID)
			if err != nil {
				return err
			}
			date := accounting.CalendarDay(in.Date)
			if err := checkDate(period, date); err != nil {
				return err
			}
			lines := toLines(in.Lines)
			if err := checkAccounts(ctx, tx, lines, true); err != nil {
				return err
			}
			// entry_sequences is one row per type, so concurrent creates of a type can conflict.
			number, err := tx.NextEntryNumber(ctx, entryType)
			if err != nil {
				return err
			}
			entry, err = tx.InsertJournalEntry(ctx, accounting.JournalEntry{
				Number:      number,
				PeriodID:    period.ID,
				Date:        date,
				Description: strings.TrimSpace(in.Description),
				Reference:   in.Reference,
				Type:        entryType,
				Status:      accounting.EntryStatusDraft,
				CreatedBy:   in.CreatedBy,
				Lines:       lines,
			})
			return err
		})
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.CreatedBy, "journal.create", entry, nil)
	return entry, nil
}

// Submit moves a draft to SUBMITTED.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.EntryStatusSubmitted, "journal.submit", func(e *accounting.JournalEntry) {
		e.SubmittedBy = &actorID
	})
}

// Approve moves a submitted entry to APPROVED.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (accounting.JournalEntry, error) {
	return s.transition(ctx, id, actorID, accounting.EntryStatusApproved, "journal.approve", func(e *accounting.JournalEntry) {
		e.ApprovedBy = &actorID
	})
}

// Reject moves a draft or submitted entry to REJECTED.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (accounting.JournalEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return accounting.JournalEntry{}, shared.Validation("journal_entry", id, "rejection reason required", shared.ErrReasonRequired)
	}
	return s.transition(ctx, id, actorID, accounting.EntryStatusRejected, "journal.reject", func(e *accounting.JournalEntry) {
		e.RejectedBy = &actorID
		e.RejectionReason = reason
	})
}

func (s *Service) transition(ctx context.Context, id, actorID int64, target accounting.EntryStatus, action string, mutate func(*accounting.JournalEntry)) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.withRetry(ctx, action, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			current, err := tx.GetJournalEntryForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !current.Status.CanTransition(target) {
				return invalidTransition(current, target)
			}
			current.Status = target
			mutate(&current)
			if err := tx.UpdateJournalEntry(ctx, current); err != nil {
				return err
			}
			entry = current
			return nil
		})
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, actorID, action, entry, nil)
	return entry, nil
}

// Revise edits a rejected entry and returns it to DRAFT.
func (s *Service) Revise(ctx context.Context, in ReviseInput) (accounting.JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	var entry accounting.JournalEntry
	err := s.withRetry(ctx, "journal.revise", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			current, err := tx.GetJournalEntryForUpdate(ctx, in.EntryID)
			if err != nil {
				return err
			}
			if current.Status != accounting.EntryStatusRejected {
				return shared.State("journal_entry", current.ID, fmt.Sprintf("only REJECTED entries can be revised, entry is %s", current.Status), shared.ErrInvalidStatus)
			}
			period, err := tx.GetPeriod(ctx, current.PeriodID)
			if err != nil {
				return err
			}
			date := accounting.CalendarDay(in.Date)
			if err := checkDate(period, date); err != nil {
				return err
			}
			lines := toLines(in.Lines)
			if err := checkAccounts(ctx, tx, lines, true); err != nil {
				return err
			}
			current.Date = date
			current.Description = strings.TrimSpace(in.Description)
			current.Reference = in.Reference
			current.Status = accounting.EntryStatusDraft
			current.SubmittedBy = nil
			current.ApprovedBy = nil
			current.RejectedBy = nil
			current.RejectionReason = ""
			if err := tx.UpdateJournalEntry(ctx, current); err != nil {
				return err
			}
			if err := tx.ReplaceJournalLines(ctx, current.ID, lines); err != nil {
				return err
			}
			entry, err = tx.GetJournalEntry(ctx, current.ID)
			return err
		})
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.revise", entry, nil)
	return entry, nil
}

// Post flips an approved entry to POSTED and applies its balance effects atomically.
func (s *Service) Post(ctx context.Context, id, actorID int64) (accounting.JournalEntry, error) {
	var posted accounting.JournalEntry
	entryType := accounting.EntryTypeStandard
	err := s.withRetry(ctx, "journal.post", func(ctx context.Context) error {
		if s.guard != nil {
			current, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := s.guard.EnsurePeriodOpenForPosting(ctx, current.PeriodID); err != nil {
				return err
			}
		}
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			entry, err := tx.GetJournalEntryForUpdate(ctx, id)
			if err != nil {
				return err
			}
			entryType = entry.Type
			if !entry.Status.CanTransition(accounting.EntryStatusPosted) {
				return invalidTransition(entry, accounting.EntryStatusPosted)
			}
			period, err := tx.GetPeriodForUpdate(ctx, entry.PeriodID)
			if err != nil {
				return err
			}
			if err := CheckPostable(period); err != nil {
				return err
			}
			now := s.now()
			entry.Status = accounting.EntryStatusPosted
			entry.PostedBy = &actorID
			entry.PostedAt = &now
			if err := tx.UpdateJournalEntry(ctx, entry); err != nil {
				return err
			}
			if _, err := s.engine.Apply(ctx, tx, entry); err != nil {
				return err
			}
			posted = entry
			return nil
		})
	})
	s.observe(entryType, err)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, actorID, "journal.post", posted, nil)
	s.Notify(ctx, EventPosted, actorID, posted)
	return posted, nil
}

// Reverse posts a mirror entry of a posted entry and marks the original REVERSED.
// The reversal is dated by the clock and lands in the original period while it is open,
// otherwise in the open period covering the reversal date.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (accounting.JournalEntry, error) {
	if in.EntryID == 0 {
		return accounting.JournalEntry{}, shared.Validation("journal_entry", nil, "entry id required", shared.ErrJournalNotFound)
	}
	var reversal accounting.JournalEntry
	err := s.withRetry(ctx, "journal.reverse", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			original, err := tx.GetJournalEntryForUpdate(ctx, in.EntryID)
			if err != nil {
				return err
			}
			switch {
			case original.Type == accounting.EntryTypeReversal:
				return shared.State("journal_entry", original.ID, "reversal entries cannot be reversed, post an opposite entry instead", shared.ErrInvalidStatus)
			case original.Type == accounting.EntryTypeYearEndClosing || original.CarryForward:
				return shared.State("journal_entry", original.ID, "closing entries are undone by rolling back the close", shared.ErrInvalidStatus)
			case !original.Status.CanTransition(accounting.EntryStatusReversed):
				return invalidTransition(original, accounting.EntryStatusReversed)
			}
			now := s.now()
			date := accounting.CalendarDay(now)
			target, err := tx.GetPeriodForUpdate(ctx, original.PeriodID)
			if err != nil {
				return err
			}
			if target.Status != accounting.PeriodStatusOpen {
				target, err = tx.FindOpenPeriodByDate(ctx, date)
				if err != nil {
					return shared.State("journal_entry", original.ID, "no open period to receive the reversal", err)
				}
			}
			if err := CheckPostable(target); err != nil {
				return err
			}
			number, err := tx.NextEntryNumber(ctx, accounting.EntryTypeReversal)
			if err != nil {
				return err
			}
			description := strings.TrimSpace(in.Description)
			if description == "" {
				description = "Reversal of " + original.Number
			}
			originalID := original.ID
			inserted, err := tx.InsertJournalEntry(ctx, accounting.JournalEntry{
				Number:      number,
				PeriodID:    target.ID,
				Date:        date,
				Description: description,
				Reference:   original.Number,
				Type:        accounting.EntryTypeReversal,
				Status:      accounting.EntryStatusPosted,
				CreatedBy:   in.ActorID,
				SubmittedBy: &in.ActorID,
				ApprovedBy:  &in.ActorID,
				PostedBy:    &in.ActorID,
				PostedAt:    &now,
				ReversesID:  &originalID,
				Lines:       accounting.FlipLines(original.Lines),
			})
			if err != nil {
				return err
			}
			if _, err := s.engine.Apply(ctx, tx, inserted); err != nil {
				return err
			}
			original.Status = accounting.EntryStatusReversed
			original.ReversedByID = &inserted.ID
			if err := tx.UpdateJournalEntry(ctx, original); err != nil {
				return err
			}
			reversal = inserted
			return nil
		})
	})
	s.observe(accounting.EntryTypeReversal, err)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.reverse", reversal, map[string]any{"reverses_id": in.EntryID})
	s.Notify(ctx, EventReversed, in.ActorID, reversal)
	return reversal, nil
}

// PostGenerated inserts an already POSTED system entry inside the caller's transaction.
// Period status is the caller's concern; the entry date must still fall inside the period.
func (s *Service) PostGenerated(ctx context.Context, tx accounting.Tx, in GeneratedInput) (accounting.JournalEntry, error) {
	if err := in.validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	period, err := tx.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	date := accounting.CalendarDay(in.Date)
	if err := checkDate(period, date); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := checkAccounts(ctx, tx, in.Lines, false); err != nil {
		return accounting.JournalEntry{}, err
	}
	number, err := tx.NextEntryNumber(ctx, in.Type)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	now := s.now()
	actor := in.ActorID
	entry, err := tx.InsertJournalEntry(ctx, accounting.JournalEntry{
		Number:       number,
		PeriodID:     period.ID,
		Date:         date,
		Description:  in.Description,
		Reference:    in.Reference,
		Type:         in.Type,
		Status:       accounting.EntryStatusPosted,
		CarryForward: in.CarryForward,
		CreatedBy:    actor,
		SubmittedBy:  &actor,
		ApprovedBy:   &actor,
		PostedBy:     &actor,
		PostedAt:     &now,
		Lines:        in.Lines,
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if _, err := s.engine.Apply(ctx, tx, entry); err != nil {
		return accounting.JournalEntry{}, err
	}
	return entry, nil
}

// Record posts a system-generated entry in its own transaction. A zero PeriodID resolves to
// the open period covering the entry date.
func (s *Service) Record(ctx context.Context, in GeneratedInput) (accounting.JournalEntry, error) {
	if in.Type == "" {
		in.Type = accounting.EntryTypeSystemGenerated
	}
	var entry accounting.JournalEntry
	err := s.withRetry(ctx, "journal.record", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			var (
				period accounting.Period
				err    error
			)
			if in.PeriodID == 0 {
				period, err = tx.FindOpenPeriodByDate(ctx, accounting.CalendarDay(in.Date))
			} else {
				period, err = tx.GetPeriodForUpdate(ctx, in.PeriodID)
			}
			if err != nil {
				return err
			}
			if err := CheckPostable(period); err != nil {
				return err
			}
			generated := in
			generated.PeriodID = period.ID
			entry, err = s.PostGenerated(ctx, tx, generated)
			return err
		})
	})
	s.observe(in.Type, err)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.record", entry, nil)
	s.Notify(ctx, EventPosted, in.ActorID, entry)
	return entry, nil
}

// Notify publishes committed entries and invalidates cached reports. Failures are
// logged and never undo the posting.
func (s *Service) Notify(ctx context.Context, eventType string, actorID int64, entries ...accounting.JournalEntry) {
	if len(entries) == 0 {
		return
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate report cache", slog.Any("error", err))
		}
	}
	if s.events == nil {
		return
	}
	for _, entry := range entries {
		debit, credit := entry.Totals()
		event := Event{
			ID:          uuid.New(),
			Type:        eventType,
			EntryID:     entry.ID,
			Number:      entry.Number,
			EntryType:   entry.Type,
			PeriodID:    entry.PeriodID,
			Date:        entry.Date,
			TotalDebit:  debit,
			TotalCredit: credit,
			ReversesID:  entry.ReversesID,
			ActorID:     actorID,
			OccurredAt:  s.now(),
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("publish ledger event", slog.String("type", eventType), slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		}
	}
}

// CheckPostable reports whether entries may be posted into period. Status gates posting,
// not the calendar.
func CheckPostable(period accounting.Period) error {
	if period.Status != accounting.PeriodStatusOpen {
		return shared.State("financial_period", period.ID, fmt.Sprintf("period is %s", period.Status), shared.ErrPeriodLocked)
	}
	if period.ClosingStatus.InProgress() {
		return shared.State("financial_period", period.ID, fmt.Sprintf("period closing is %s", period.ClosingStatus), shared.ErrPeriodLocked)
	}
	return nil
}

func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err = fn(ctx); err == nil || !shared.IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if s.metrics != nil {
			s.metrics.ObserveRetry(op)
		}
		s.logger.Warn("retrying after concurrent modification", slog.String("op", op), slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return err
}

func (s *Service) observe(entryType accounting.EntryType, err error) {
	if s.metrics != nil {
		s.metrics.ObservePosting(entryType, err)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entry accounting.JournalEntry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = entry.Number
	meta["status"] = string(entry.Status)
	meta["period_id"] = entry.PeriodID
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func invalidTransition(entry accounting.JournalEntry, target accounting.EntryStatus) error {
	return shared.State("journal_entry", entry.ID, fmt.Sprintf("cannot move from %s to %s", entry.Status, target), shared.ErrInvalidStatus)
}

func checkDate(period accounting.Period, date time.Time) error {
	if !period.Contains(date) {
		return shared.Validation("journal_entry", nil, fmt.Sprintf("entry date %s outside period %d [%s, %s]",
			date.Format(time.DateOnly), period.ID, period.StartDate.Format(time.DateOnly), period.EndDate.Format(time.DateOnly)), shared.ErrDateOutOfRange)
	}
	return nil
}

func checkAccounts(ctx context.Context, r accounting.Reader, lines []accounting.JournalLine, manual bool) error {
	currency := ""
	for _, line := range lines {
		acc, err := r.GetAccount(ctx, line.AccountID)
		if err != nil {
			return err
		}
		if !acc.IsActive {
			return shared.Validation("account", acc.ID, fmt.Sprintf("account %s is inactive", acc.Number), shared.ErrAccountInactive)
		}
		if manual && !acc.AllowManual {
			return shared.Validation("account", acc.ID, fmt.Sprintf("account %s does not allow manual entries", acc.Number), shared.ErrManualNotAllowed)
		}
		if currency == "" {
			currency = acc.Currency
		} else if acc.Currency != currency {
			return shared.Validation("account", acc.ID, fmt.Sprintf("account %s is %s, entry is %s", acc.Number, acc.Currency, currency), shared.ErrCurrencyMismatch)
		}
	}
	return nil
}
