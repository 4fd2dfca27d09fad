package accounts

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

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

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/balance", h.Balance)
	r.Get("/{id}/activity", h.Activity)
}

type accountResponse struct {
	ID          int64                  `json:"id"`
	Number      string                 `json:"number"`
	Name        string                 `json:"name"`
	Type        accounting.AccountType `json:"type"`
	NormalSide  accounting.Side        `json:"normal_side"`
	Balance     decimal.Decimal        `json:"balance"`
	Currency    string                 `json:"currency"`
	IsActive    bool                   `json:"is_active"`
	AllowManual bool                   `json:"allow_manual"`
}

func toResponse(a accounting.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Number:      a.Number,
		Name:        a.Name,
		Type:        a.Type,
		NormalSide:  a.NormalSide,
		Balance:     a.Balance,
		Currency:    a.Currency,
		IsActive:    a.IsActive,
		AllowManual: a.AllowManual,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(acc))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeValid(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ActorID = internalShared.ActorFromContext(r.Context())
	acc, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("create account", slog.String("number", in.Number), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(acc))
}

// Balance serves GET /{id}/balance?as_of=YYYY-MM-DD.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var asOf *time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: as_of", httpx.ErrBadRequest))
			return
		}
		asOf = &t
	}
	bal, err := h.service.Balance(r.Context(), id, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := map[string]any{"account_id": id, "balance": bal}
	if asOf != nil {
		resp["as_of"] = asOf.Format(time.DateOnly)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Activity serves GET /{id}/activity?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	from, errFrom := time.Parse(time.DateOnly, r.URL.Query().Get("from"))
	to, errTo := time.Parse(time.DateOnly, r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil {
		httpx.RespondError(w, fmt.Errorf("%w: from and to are required dates", httpx.ErrBadRequest))
		return
	}
	activity, err := h.service.Activity(r.Context(), id, from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]map[string]any, 0, len(activity.Lines))
	for _, l := range activity.Lines {
		lines = append(lines, map[string]any{
			"entry_number": l.EntryNumber,
			"date":         l.EntryDate.Format(time.DateOnly),
			"side":         l.Side,
			"amount":       l.Amount,
			"description":  l.Description,
			"running":      l.Running,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account":      toResponse(activity.Account),
		"from":         activity.From.Format(time.DateOnly),
		"to":           activity.To.Format(time.DateOnly),
		"opening":      activity.Opening,
		"total_debit":  activity.TotalDebit,
		"total_credit": activity.TotalCredit,
		"closing":      activity.Closing,
		"lines":        lines,
	})
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid account id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}
