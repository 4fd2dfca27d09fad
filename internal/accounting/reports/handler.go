package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/coopledger/internal/platform/httpx"
)

// Handler serves trial balances and statements.
type Handler struct {
	generator *Generator
	logger    *slog.Logger
}

func NewHandler(logger *slog.Logger, generator *Generator) *Handler {
	return &Handler{logger: logger, generator: generator}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.TrialBalance)
	r.Get("/balance-sheet", h.BalanceSheet)
	r.Get("/periods/{id}/trial-balance", h.PeriodTrialBalance)
	r.Get("/periods/{id}/profit-loss", h.ProfitAndLoss)
}

// TrialBalance serves GET /trial-balance?as_of=&include_zero=&currency=.
func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r, "as_of")
	if !ok {
		return
	}
	opts := options(r)
	tb, err := h.generator.AsOf(r.Context(), TrialBalanceQuery{AsOf: asOf, IncludeZero: opts.IncludeZero, Currency: opts.Currency})
	if err != nil {
		h.logger.Error("trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

// PeriodTrialBalance serves GET /periods/{id}/trial-balance?adjusted=true.
func (h *Handler) PeriodTrialBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := periodID(w, r)
	if !ok {
		return
	}
	opts := options(r)
	if adjusted, _ := strconv.ParseBool(r.URL.Query().Get("adjusted")); adjusted {
		ws, err := h.generator.Adjusted(r.Context(), id, opts)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, ws)
		return
	}
	tb, err := h.generator.Unadjusted(r.Context(), id, opts)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) ProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	id, ok := periodID(w, r)
	if !ok {
		return
	}
	pl, err := h.generator.ProfitAndLoss(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) BalanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r, "as_of")
	if !ok {
		return
	}
	bs, err := h.generator.BalanceSheet(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func options(r *http.Request) Options {
	q := r.URL.Query()
	zero, _ := strconv.ParseBool(q.Get("include_zero"))
	return Options{IncludeZero: zero, Currency: q.Get("currency")}
}

func dateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrBadRequest, name))
		return nil, false
	}
	return &t, true
}

func periodID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid period id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}
