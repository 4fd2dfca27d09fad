package periods

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /fiscal-years and /periods on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fiscal-years", func(r chi.Router) {
		r.Get("/", h.ListFiscalYears)
		r.Post("/", h.CreateFiscalYear)
		r.Get("/{id}", h.GetFiscalYear)
		r.Post("/{id}/open", h.yearAction(h.service.OpenFiscalYear))
		r.Post("/{id}/activate", h.yearAction(h.service.ActivateFiscalYear))
		r.Post("/{id}/close", h.yearAction(h.service.CloseFiscalYear))
	})
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.ListPeriods)
		r.Post("/", h.CreatePeriod)
		r.Get("/{id}", h.GetPeriod)
		r.Post("/{id}/open", h.OpenPeriod)
	})
}

type fiscalYearRequest struct {
	Year      int    `json:"year" validate:"required,gte=1900,lte=9999"`
	Code      string `json:"code" validate:"max=20"`
	Name      string `json:"name" validate:"max=120"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type periodRequest struct {
	FiscalYearID int64  `json:"fiscal_year_id" validate:"required,gt=0"`
	Name         string `json:"name" validate:"required,max=60"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type periodResponse struct {
	ID               int64                    `json:"id"`
	FiscalYearID     int64                    `json:"fiscal_year_id"`
	Name             string                   `json:"name"`
	StartDate        string                   `json:"start_date"`
	EndDate          string                   `json:"end_date"`
	Status           accounting.PeriodStatus  `json:"status"`
	ClosingStatus    accounting.ClosingStatus `json:"closing_status"`
	ValidationErrors []string                 `json:"validation_errors,omitempty"`
	ClosedBy         *int64                   `json:"closed_by,omitempty"`
	ClosedAt         *time.Time               `json:"closed_at,omitempty"`
}

type fiscalYearResponse struct {
	ID        int64                       `json:"id"`
	Year      int                         `json:"year"`
	Code      string                      `json:"code"`
	Name      string                      `json:"name"`
	StartDate string                      `json:"start_date"`
	EndDate   string                      `json:"end_date"`
	Status    accounting.FiscalYearStatus `json:"status"`
	Periods   []periodResponse            `json:"periods"`
}

func toPeriodResponse(p accounting.Period) periodResponse {
	return periodResponse{
		ID:               p.ID,
		FiscalYearID:     p.FiscalYearID,
		Name:             p.Name,
		StartDate:        p.StartDate.Format(time.DateOnly),
		EndDate:          p.EndDate.Format(time.DateOnly),
		Status:           p.Status,
		ClosingStatus:    p.ClosingStatus,
		ValidationErrors: p.ValidationErrors,
		ClosedBy:         p.ClosedBy,
		ClosedAt:         p.ClosedAt,
	}
}

func toFiscalYearResponse(fy accounting.FiscalYear) fiscalYearResponse {
	out := fiscalYearResponse{
		ID:        fy.ID,
		Year:      fy.Year,
		Code:      fy.Code,
		Name:      fy.Name,
		StartDate: fy.StartDate.Format(time.DateOnly),
		EndDate:   fy.EndDate.Format(time.DateOnly),
		Status:    fy.Status,
		Periods:   make([]periodResponse, 0, len(fy.Periods)),
	}
	for _, p := range fy.Periods {
		out.Periods = append(out.Periods, toPeriodResponse(p))
	}
	return out
}

func (h *Handler) ListFiscalYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.service.ListFiscalYears(r.Context())
	if err != nil {
		h.logger.Error("list fiscal years", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]fiscalYearResponse, 0, len(years))
	for _, fy := range years {
		out = append(out, toFiscalYearResponse(fy))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) CreateFiscalYear(w http.ResponseWriter, r *http.Request) {
	var req fiscalYearRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	fy, err := h.service.CreateFiscalYear(r.Context(), FiscalYearInput{
		Year:      req.Year,
		Code:      req.Code,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		ActorID:   internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toFiscalYearResponse(fy))
}

func (h *Handler) GetFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	fy, err := h.service.GetFiscalYear(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFiscalYearResponse(fy))
}

type yearOp func(ctx context.Context, id, actorID int64) (accounting.FiscalYear, error)

func (h *Handler) yearAction(op yearOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		fy, err := op(r.Context(), id, internalShared.ActorFromContext(r.Context()))
		if err != nil {
			h.logger.Warn("fiscal year transition", slog.Int64("fiscal_year_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toFiscalYearResponse(fy))
	}
}

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	var fyID int64
	if raw := r.URL.Query().Get("fiscal_year_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: fiscal_year_id", httpx.ErrBadRequest))
			return
		}
		fyID = id
	}
	periods, err := h.service.ListPeriods(r.Context(), fyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]periodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	p, err := h.service.CreatePeriod(r.Context(), PeriodInput{
		FiscalYearID: req.FiscalYearID,
		Name:         req.Name,
		StartDate:    start,
		EndDate:      end,
		ActorID:      internalShared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriodResponse(p))
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(p))
}

func (h *Handler) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.OpenPeriod(r.Context(), id, internalShared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("open period", slog.Int64("period_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(p))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}
