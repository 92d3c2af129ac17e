// Package httputil holds the JSON plumbing shared by every handler:
// request decoding, response encoding and the error-to-status mapping.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"fx-ledger/internal/apperr"
)

type ErrorResponse struct {
	Error  string                  `json:"error"`
	Fields apperr.ValidationErrors `json:"fields,omitempty"`
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps the error taxonomy onto HTTP statuses. Invariant
// violations stay opaque; the row-level detail goes to logs, not
// clients.
func WriteError(w http.ResponseWriter, err error) {
	var one apperr.ValidationError
	var many apperr.ValidationErrors
	switch {
	case errors.As(err, &many):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: many})
	case errors.As(err, &one):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: apperr.ValidationErrors{one}})
	case errors.Is(err, apperr.ErrCrossEntity), errors.Is(err, apperr.ErrNotOwner):
		WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	case errors.Is(err, apperr.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, apperr.ErrInsufficientFunds):
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "insufficient funds"})
	case errors.Is(err, apperr.ErrBusy):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "resource busy, retry with the same idempotency key"})
	case errors.Is(err, apperr.ErrDuplicateReference):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "duplicate external reference"})
	case errors.Is(err, apperr.ErrStoreUnavailable):
		WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
	default:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
