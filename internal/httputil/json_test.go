package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fx-ledger/internal/apperr"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("amount", "must be positive"), http.StatusBadRequest},
		{apperr.ValidationErrors{apperr.Validation("side", "must be buy or sell")}, http.StatusBadRequest},
		{apperr.Rejectedf(apperr.ErrNotFound, "user u1"), http.StatusNotFound},
		{apperr.ErrCrossEntity, http.StatusForbidden},
		{apperr.ErrNotOwner, http.StatusForbidden},
		{fmt.Errorf("leg fee/USD: %w", apperr.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{apperr.Rejectedf(apperr.ErrBusy, "trade k1"), http.StatusConflict},
		{apperr.ErrDuplicateReference, http.StatusConflict},
		{apperr.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("pq: something leaked"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, c.err)
		if rec.Code != c.want {
			t.Fatalf("WriteError(%v) = %d, want %d", c.err, rec.Code, c.want)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.Rejectedf(apperr.ErrInvariantViolation, "u1/USD total 5 != available 3 + locked 1"))

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "internal error" {
		t.Fatalf("invariant detail leaked to the client: %q", resp.Error)
	}
}
