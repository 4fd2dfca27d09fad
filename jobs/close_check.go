package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/coopledger/internal/jobs"
)

// CheckOverdueClose labels overdue-close findings.
const CheckOverdueClose = "overdue_close"

// OverduePeriod is a period still OPEN after its end date.
type OverduePeriod struct {
	Period      accounting.Period
	DaysOverdue int
}

// NewCloseCheckTask constructs an Asynq task.
func NewCloseCheckTask() *asynq.Task {
	return asynq.NewTask(TaskCloseCheck, nil, asynq.Queue(QueueFor(TaskCloseCheck)))
}

// CloseCheckJob looks for periods that should have been closed by now.
type CloseCheckJob struct {
	store   accounting.Store
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	grace   time.Duration
	clock   func() time.Time
}

// NewCloseCheckJob constructs the job. Periods are reported once grace has elapsed after their end date.
func NewCloseCheckJob(store accounting.Store, logger *slog.Logger, metrics *jobmetrics.Metrics, grace time.Duration) *CloseCheckJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloseCheckJob{
		store:   store,
		logger:  logger,
		metrics: metrics,
		grace:   grace,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the check from an asynq task.
func (j *CloseCheckJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.store == nil {
		return errors.New("close check: job not configured")
	}
	_, err := j.Run(ctx)
	return err
}

// Run lists overdue periods and logs one warning per period.
func (j *CloseCheckJob) Run(ctx context.Context) ([]OverduePeriod, error) {
	tracker := j.metrics.Track(TaskCloseCheck)
	today := accounting.CalendarDay(j.clock())
	var overdue []OverduePeriod
	err := j.store.View(ctx, func(ctx context.Context, r accounting.Reader) error {
		years, err := r.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		for _, fy := range years {
			periods, err := r.ListPeriods(ctx, fy.ID)
			if err != nil {
				return err
			}
			for _, p := range periods {
				if p.Status != accounting.PeriodStatusOpen {
					continue
				}
				due := accounting.CalendarDay(p.EndDate).Add(j.grace)
				if !today.After(due) {
					continue
				}
				overdue = append(overdue, OverduePeriod{
					Period:      p,
					DaysOverdue: int(today.Sub(accounting.CalendarDay(p.EndDate)).Hours() / 24),
				})
			}
		}
		return nil
	})
	if err != nil {
		j.logger.Error("close check", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	for _, o := range overdue {
		j.logger.Warn("period close overdue",
			slog.Int64("period_id", o.Period.ID),
			slog.String("period", o.Period.Name),
			slog.String("closing_status", string(o.Period.ClosingStatus)),
			slog.Int("days_overdue", o.DaysOverdue),
		)
		j.metrics.AddFindings(CheckOverdueClose, o.Period.ID, 1)
	}
	return overdue, tracker.End(nil)
}
