// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrBadRequest   = errors.New("malformed request")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		Problem(w, http.StatusBadRequest, "Validation Failed", verrs.Error())
		return
	}
	var ledgerErr *shared.Error
	if errors.As(err, &ledgerErr) {
		status, title := statusForKind(ledgerErr.Kind)
		JSON(w, status, ProblemDetail{
			Type:     "urn:coopledger:" + string(ledgerErr.Kind),
			Title:    title,
			Status:   status,
			Detail:   ledgerErr.Error(),
			Entity:   ledgerErr.Entity,
			EntityID: ledgerErr.EntityID,
			Rule:     ledgerErr.Rule,
		})
		return
	}
	switch {
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func statusForKind(kind shared.Kind) (int, string) {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest, "Validation Failed"
	case shared.KindState:
		return http.StatusConflict, "Invalid State"
	case shared.KindNotFound:
		return http.StatusNotFound, "Not Found"
	case shared.KindConcurrency:
		return http.StatusConflict, "Concurrent Modification"
	case shared.KindConsistency:
		return http.StatusUnprocessableEntity, "Ledger Inconsistency"
	}
	return http.StatusInternalServerError, "Internal Error"
}
