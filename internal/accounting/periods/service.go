// Package periods runs the fiscal year and financial period state machines.
package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// AuditPort records state changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

type Service struct {
	store  accounting.Store
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store accounting.Store, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFiscalYear registers a PLANNED fiscal year.
func (s *Service) CreateFiscalYear(ctx context.Context, in FiscalYearInput) (accounting.FiscalYear, error) {
	start, end := accounting.CalendarDay(in.StartDate), accounting.CalendarDay(in.EndDate)
	if in.Year <= 0 {
		return accounting.FiscalYear{}, shared.Validation("fiscal_year", nil, "year required", shared.ErrInvalidPeriod)
	}
	if !start.Before(end) {
		return accounting.FiscalYear{}, shared.Validation("fiscal_year", in.Year, "start date must precede end date", shared.ErrDateOutOfRange)
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		code = fmt.Sprintf("FY%d", in.Year)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = fmt.Sprintf("Fiscal Year %d", in.Year)
	}
	var fy accounting.FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		fy, err = tx.InsertFiscalYear(ctx, accounting.FiscalYear{
			Year:      in.Year,
			Code:      code,
			Name:      name,
			StartDate: start,
			EndDate:   end,
			Status:    accounting.FiscalYearPlanned,
		})
		return err
	})
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	s.record(ctx, in.ActorID, "fiscal_year.create", "fiscal_year", fy.ID, map[string]any{"year": fy.Year})
	return fy, nil
}

// OpenFiscalYear moves a PLANNED year to OPEN and opens its earliest period.
func (s *Service) OpenFiscalYear(ctx context.Context, id, actorID int64) (accounting.FiscalYear, error) {
	var fy accounting.FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		fy, err = s.transitionYear(ctx, tx, id, accounting.FiscalYearOpen)
		if err != nil {
			return err
		}
		periods, err := tx.ListPeriods(ctx, id)
		if err != nil {
			return err
		}
		if len(periods) > 0 && periods[0].Status == accounting.PeriodStatusPlanned {
			first := periods[0]
			first.Status = accounting.PeriodStatusOpen
			if err := tx.UpdatePeriod(ctx, first); err != nil {
				return err
			}
		}
		fy, err = tx.GetFiscalYear(ctx, id)
		return err
	})
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	s.record(ctx, actorID, "fiscal_year.open", "fiscal_year", id, nil)
	return fy, nil
}

// ActivateFiscalYear moves an OPEN year to ACTIVE.
func (s *Service) ActivateFiscalYear(ctx context.Context, id, actorID int64) (accounting.FiscalYear, error) {
	var fy accounting.FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		fy, err = s.transitionYear(ctx, tx, id, accounting.FiscalYearActive)
		return err
	})
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	s.record(ctx, actorID, "fiscal_year.activate", "fiscal_year", id, nil)
	return fy, nil
}

// CloseFiscalYear moves an ACTIVE year to CLOSED once every period is closed.
func (s *Service) CloseFiscalYear(ctx context.Context, id, actorID int64) (accounting.FiscalYear, error) {
	var fy accounting.FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		periods, err := tx.ListPeriods(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range periods {
			if p.Status != accounting.PeriodStatusClosed {
				return shared.State("fiscal_year", id, fmt.Sprintf("period %s is %s", p.Name, p.Status), shared.ErrInvalidStatus)
			}
		}
		fy, err = s.transitionYear(ctx, tx, id, accounting.FiscalYearClosed)
		return err
	})
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	s.record(ctx, actorID, "fiscal_year.close", "fiscal_year", id, nil)
	return fy, nil
}

func (s *Service) transitionYear(ctx context.Context, tx accounting.Tx, id int64, target accounting.FiscalYearStatus) (accounting.FiscalYear, error) {
	fy, err := tx.GetFiscalYearForUpdate(ctx, id)
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	if !fy.Status.CanTransition(target) {
		return accounting.FiscalYear{}, shared.State("fiscal_year", id, fmt.Sprintf("cannot move from %s to %s", fy.Status, target), shared.ErrInvalidStatus)
	}
	if err := tx.UpdateFiscalYearStatus(ctx, id, target); err != nil {
		return accounting.FiscalYear{}, err
	}
	fy.Status = target
	return fy, nil
}

// CreatePeriod registers a PLANNED period inside its fiscal year span.
func (s *Service) CreatePeriod(ctx context.Context, in PeriodInput) (accounting.Period, error) {
	start, end := accounting.CalendarDay(in.StartDate), accounting.CalendarDay(in.EndDate)
	if strings.TrimSpace(in.Name) == "" {
		return accounting.Period{}, shared.Validation("financial_period", nil, "name required", shared.ErrInvalidPeriod)
	}
	if !start.Before(end) {
		return accounting.Period{}, shared.Validation("financial_period", in.Name, "start date must precede end date", shared.ErrDateOutOfRange)
	}
	var period accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.GetFiscalYear(ctx, in.FiscalYearID)
		if err != nil {
			return err
		}
		if fy.Status == accounting.FiscalYearClosed {
			return shared.State("fiscal_year", fy.ID, "fiscal year is closed", shared.ErrPeriodLocked)
		}
		if start.Before(accounting.CalendarDay(fy.StartDate)) || end.After(accounting.CalendarDay(fy.EndDate)) {
			return shared.Validation("financial_period", in.Name, fmt.Sprintf("period must fall inside fiscal year %d", fy.Year), shared.ErrDateOutOfRange)
		}
		period, err = tx.InsertPeriod(ctx, accounting.Period{
			FiscalYearID:  fy.ID,
			Name:          strings.TrimSpace(in.Name),
			StartDate:     start,
			EndDate:       end,
			Status:        accounting.PeriodStatusPlanned,
			ClosingStatus: accounting.ClosingNotStarted,
		})
		return err
	})
	if err != nil {
		return accounting.Period{}, err
	}
	s.record(ctx, in.ActorID, "period.create", "financial_period", period.ID, map[string]any{"name": period.Name})
	return period, nil
}

// OpenPeriod opens a PLANNED period or reopens a CLOSED one. Reopening resets the closing
// workflow. The fiscal year must accept periods.
func (s *Service) OpenPeriod(ctx context.Context, id, actorID int64) (accounting.Period, error) {
	var period accounting.Period
	reopened := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		period, err = tx.GetPeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !period.Status.CanTransition(accounting.PeriodStatusOpen) {
			return shared.State("financial_period", id, fmt.Sprintf("cannot open a %s period", period.Status), shared.ErrInvalidStatus)
		}
		fy, err := tx.GetFiscalYearForUpdate(ctx, period.FiscalYearID)
		if err != nil {
			return err
		}
		if !fy.Status.AcceptsPeriods() {
			return shared.State("fiscal_year", fy.ID, fmt.Sprintf("fiscal year is %s", fy.Status), shared.ErrPeriodLocked)
		}
		reopened = period.Status == accounting.PeriodStatusClosed
		period.Status = accounting.PeriodStatusOpen
		if reopened {
			period.ClosingStatus = accounting.ClosingNotStarted
			period.ValidationErrors = nil
			period.ClosedBy = nil
			period.ClosedAt = nil
		}
		return tx.UpdatePeriod(ctx, period)
	})
	if err != nil {
		return accounting.Period{}, err
	}
	action := "period.open"
	if reopened {
		action = "period.reopen"
	}
	s.record(ctx, actorID, action, "financial_period", id, nil)
	return period, nil
}

// MarkClosed closes period inside the caller's transaction and opens the next period in date
// order when it is still PLANNED and its fiscal year accepts periods. The returned next period
// is nil when nothing was opened.
func (s *Service) MarkClosed(ctx context.Context, tx accounting.Tx, period accounting.Period, actorID int64) (accounting.Period, *accounting.Period, error) {
	if !period.Status.CanTransition(accounting.PeriodStatusClosed) {
		return accounting.Period{}, nil, shared.State("financial_period", period.ID, fmt.Sprintf("cannot close a %s period", period.Status), shared.ErrInvalidStatus)
	}
	now := s.now()
	period.Status = accounting.PeriodStatusClosed
	period.ClosingStatus = accounting.ClosingClosed
	period.ClosedBy = &actorID
	period.ClosedAt = &now
	if err := tx.UpdatePeriod(ctx, period); err != nil {
		return accounting.Period{}, nil, err
	}
	next, err := tx.NextPeriodAfter(ctx, period.EndDate)
	if errors.Is(err, shared.ErrNotFound) {
		return period, nil, nil
	}
	if err != nil {
		return accounting.Period{}, nil, err
	}
	if next.Status != accounting.PeriodStatusPlanned {
		return period, nil, nil
	}
	fy, err := tx.GetFiscalYear(ctx, next.FiscalYearID)
	if err != nil {
		return accounting.Period{}, nil, err
	}
	if !fy.Status.AcceptsPeriods() {
		return period, nil, nil
	}
	next.Status = accounting.PeriodStatusOpen
	if err := tx.UpdatePeriod(ctx, next); err != nil {
		return accounting.Period{}, nil, err
	}
	s.logger.Info("next period opened", slog.Int64("closed_period_id", period.ID), slog.Int64("period_id", next.ID))
	return period, &next, nil
}

// FindOpenPeriodByDate returns the open period covering the supplied date.
func (s *Service) FindOpenPeriodByDate(ctx context.Context, date time.Time) (accounting.Period, error) {
	var p accounting.Period
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		p, err = r.FindOpenPeriodByDate(ctx, accounting.CalendarDay(date))
		return err
	})
	return p, err
}

func (s *Service) GetPeriod(ctx context.Context, id int64) (accounting.Period, error) {
	var p accounting.Period
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		p, err = r.GetPeriod(ctx, id)
		return err
	})
	return p, err
}

// ListPeriods returns periods in date order; fiscalYearID 0 lists all.
func (s *Service) ListPeriods(ctx context.Context, fiscalYearID int64) ([]accounting.Period, error) {
	var out []accounting.Period
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		out, err = r.ListPeriods(ctx, fiscalYearID)
		return err
	})
	return out, err
}

func (s *Service) GetFiscalYear(ctx context.Context, id int64) (accounting.FiscalYear, error) {
	var fy accounting.FiscalYear
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		fy, err = r.GetFiscalYear(ctx, id)
		return err
	})
	return fy, err
}

func (s *Service) ListFiscalYears(ctx context.Context) ([]accounting.FiscalYear, error) {
	var out []accounting.FiscalYear
	err := s.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		out, err = r.ListFiscalYears(ctx)
		return err
	})
	return out, err
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
