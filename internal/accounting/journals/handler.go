package journals

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// Handler exposes the journal lifecycle over JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Side        string          `json:"side" validate:"required,oneof=DEBIT CREDIT"`
	Description string          `json:"description" validate:"max=255"`
}

type createRequest struct {
	PeriodID    int64         `json:"period_id" validate:"required,gt=0"`
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required,max=500"`
	Reference   string        `json:"reference" validate:"max=100"`
	Type        string        `json:"entry_type" validate:"omitempty,oneof=STANDARD SYSTEM_GENERATED"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reviseRequest struct {
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required,max=500"`
	Reference   string        `json:"reference" validate:"max=100"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type reverseRequest struct {
	Description string `json:"description" validate:"max=500"`
}

type lineResponse struct {
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Side        accounting.Side `json:"side"`
	Description string          `json:"description,omitempty"`
}

type entryResponse struct {
	ID              int64                  `json:"id"`
	Number          string                 `json:"number"`
	PeriodID        int64                  `json:"period_id"`
	Date            string                 `json:"date"`
	Description     string                 `json:"description"`
	Reference       string                 `json:"reference,omitempty"`
	Type            accounting.EntryType   `json:"entry_type"`
	Status          accounting.EntryStatus `json:"status"`
	CarryForward    bool                   `json:"carry_forward,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	PostedAt        *time.Time             `json:"posted_at,omitempty"`
	ReversedByID    *int64                 `json:"reversed_by_id,omitempty"`
	ReversesID      *int64                 `json:"reverses_id,omitempty"`
	TotalDebit      decimal.Decimal        `json:"total_debit"`
	TotalCredit     decimal.Decimal        `json:"total_credit"`
	Lines           []lineResponse         `json:"lines"`
}

func toResponse(e accounting.JournalEntry) entryResponse {
	debit, credit := e.Totals()
	out := entryResponse{
		ID:              e.ID,
		Number:          e.Number,
		PeriodID:        e.PeriodID,
		Date:            e.Date.Format(time.DateOnly),
		Description:     e.Description,
		Reference:       e.Reference,
		Type:            e.Type,
		Status:          e.Status,
		CarryForward:    e.CarryForward,
		RejectionReason: e.RejectionReason,
		PostedAt:        e.PostedAt,
		ReversedByID:    e.ReversedByID,
		ReversesID:      e.ReversesID,
		TotalDebit:      debit,
		TotalCredit:     credit,
		Lines:           make([]lineResponse, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		out.Lines = append(out.Lines, lineResponse{LineNo: l.LineNo, AccountID: l.AccountID, Amount: l.Amount, Side: l.Side, Description: l.Description})
	}
	return out
}

func toLineInputs(in []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(in))
	for _, l := range in {
		out = append(out, LineInput{AccountID: l.AccountID, Amount: l.Amount, Side: accounting.Side(l.Side), Description: l.Description})
	}
	return out
}

// List returns entries, optionally filtered by period and status, paginated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter accounting.EntryFilter
	if raw := q.Get("period_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: period_id", httpx.ErrBadRequest))
			return
		}
		filter.PeriodID = id
	}
	for _, status := range strings.Split(q.Get("status"), ",") {
		if status = strings.TrimSpace(strings.ToUpper(status)); status != "" {
			filter.Statuses = append(filter.Statuses, accounting.EntryStatus(status))
		}
	}
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := internalShared.NewPagination(page, perPage, len(entries))
	start, end := pagination.Window()
	items := make([]entryResponse, 0, end-start)
	for _, e := range entries[start:end] {
		items = append(items, toResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

// Get returns one entry.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	h.respond(w, http.StatusOK, entry, err)
}

// Create stores a new draft.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	entry, err := h.service.Create(r.Context(), CreateInput{
		PeriodID:    req.PeriodID,
		Date:        date,
		Description: req.Description,
		Reference:   req.Reference,
		Type:        accounting.EntryType(req.Type),
		CreatedBy:   internalShared.ActorFromContext(r.Context()),
		Lines:       toLineInputs(req.Lines),
	})
	h.respond(w, http.StatusCreated, entry, err)
}

// Submit moves a draft forward.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.Submit)
}

// Approve moves a submitted entry forward.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.Approve)
}

// Post applies an approved entry to balances.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	h.simple(w, r, h.service.Post)
}

// Reject refuses a draft or submitted entry.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Reject(r.Context(), id, internalShared.ActorFromContext(r.Context()), req.Reason)
	h.respond(w, http.StatusOK, entry, err)
}

// Revise edits a rejected entry.
func (h *Handler) Revise(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	var req reviseRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	entry, err := h.service.Revise(r.Context(), ReviseInput{
		EntryID:     id,
		ActorID:     internalShared.ActorFromContext(r.Context()),
		Date:        date,
		Description: req.Description,
		Reference:   req.Reference,
		Lines:       toLineInputs(req.Lines),
	})
	h.respond(w, http.StatusOK, entry, err)
}

// Reverse posts the mirror of a posted entry.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeValid(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.Reverse(r.Context(), ReverseInput{
		EntryID:     id,
		ActorID:     internalShared.ActorFromContext(r.Context()),
		Description: req.Description,
	})
	h.respond(w, http.StatusCreated, entry, err)
}

type transitionFunc func(ctx context.Context, id, actorID int64) (accounting.JournalEntry, error)

func (h *Handler) simple(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := op(r.Context(), id, internalShared.ActorFromContext(r.Context()))
	h.respond(w, http.StatusOK, entry, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int, entry accounting.JournalEntry, err error) {
	if err != nil {
		h.logger.Warn("journal request failed", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, toResponse(entry))
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid entry id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}
