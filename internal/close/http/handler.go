package closehttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/close"
	"github.com/odyssey-erp/coopledger/internal/platform/httpx"
	"github.com/odyssey-erp/coopledger/internal/shared"
)

type closeService interface {
	Initiate(ctx context.Context, periodID, actorID int64) (close.Result, error)
	Validate(ctx context.Context, periodID, actorID int64) (close.Result, error)
	PostClosingEntries(ctx context.Context, periodID, actorID int64) (close.Result, error)
	Complete(ctx context.Context, periodID, actorID int64) (close.Result, error)
	Rollback(ctx context.Context, periodID, actorID int64) (close.Result, error)
	Close(ctx context.Context, periodID, actorID int64) (close.Result, error)
}

type stepFunc func(ctx context.Context, periodID, actorID int64) (close.Result, error)

// Handler wires HTTP endpoints for the period close workflow.
type Handler struct {
	logger  *slog.Logger
	service closeService
}

// NewHandler constructs a close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods/{id}", func(r chi.Router) {
		r.Post("/", h.step("close", h.service.Close))
		r.Post("/initiate", h.step("initiate", h.service.Initiate))
		r.Post("/validate", h.step("validate", h.service.Validate))
		r.Post("/entries", h.step("post closing entries", h.service.PostClosingEntries))
		r.Post("/complete", h.step("complete", h.service.Complete))
		r.Post("/rollback", h.step("rollback", h.service.Rollback))
	})
}

type periodView struct {
	ID               int64                    `json:"id"`
	Name             string                   `json:"name"`
	StartDate        string                   `json:"start_date"`
	EndDate          string                   `json:"end_date"`
	Status           accounting.PeriodStatus  `json:"status"`
	ClosingStatus    accounting.ClosingStatus `json:"closing_status"`
	ValidationErrors []string                 `json:"validation_errors,omitempty"`
}

type entryView struct {
	ID           int64                `json:"id"`
	Number       string               `json:"number"`
	Type         accounting.EntryType `json:"type"`
	PeriodID     int64                `json:"period_id"`
	Date         string               `json:"date"`
	CarryForward bool                 `json:"carry_forward"`
	TotalDebit   string               `json:"total_debit"`
	TotalCredit  string               `json:"total_credit"`
}

type resultView struct {
	Period  *periodView `json:"period,omitempty"`
	Next    *periodView `json:"next_period,omitempty"`
	Entries []entryView `json:"entries"`
}

func newPeriodView(p accounting.Period) *periodView {
	return &periodView{
		ID:               p.ID,
		Name:             p.Name,
		StartDate:        p.StartDate.Format(time.DateOnly),
		EndDate:          p.EndDate.Format(time.DateOnly),
		Status:           p.Status,
		ClosingStatus:    p.ClosingStatus,
		ValidationErrors: p.ValidationErrors,
	}
}

func newResultView(res close.Result) resultView {
	out := resultView{Entries: make([]entryView, 0, len(res.Entries))}
	if res.Period.ID != 0 {
		out.Period = newPeriodView(res.Period)
	}
	if res.Next != nil {
		out.Next = newPeriodView(*res.Next)
	}
	for _, e := range res.Entries {
		debit, credit := e.Totals()
		out.Entries = append(out.Entries, entryView{
			ID:           e.ID,
			Number:       e.Number,
			Type:         e.Type,
			PeriodID:     e.PeriodID,
			Date:         e.Date.Format(time.DateOnly),
			CarryForward: e.CarryForward,
			TotalDebit:   debit.StringFixed(2),
			TotalCredit:  credit.StringFixed(2),
		})
	}
	return out
}

func (h *Handler) step(name string, fn stepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || periodID <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid period id", httpx.ErrBadRequest))
			return
		}
		actorID := shared.ActorFromContext(r.Context())
		res, err := fn(r.Context(), periodID, actorID)
		if err != nil {
			h.logger.Warn("period close step", slog.String("step", name), slog.Int64("period_id", periodID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, newResultView(res))
	}
}
