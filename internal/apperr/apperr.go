// Package apperr holds the error taxonomy shared by the ledger core.
// Store-level failures are wrapped with these sentinels so callers can
// branch with errors.Is without knowing about postgres.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvariantViolation = errors.New("balance invariant violation")
	ErrCrossEntity        = errors.New("cross-entity access denied")
	ErrNotOwner           = errors.New("not resource owner")
	ErrBusy               = errors.New("resource busy")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrDuplicateReference = errors.New("duplicate external reference")
)

// ValidationError describes one rejected input field. Operations that
// collect several problems before failing return a ValidationErrors.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func Validation(field, reason string) ValidationError {
	return ValidationError{Field: field, Reason: reason}
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var one ValidationError
	var many ValidationErrors
	return errors.As(err, &one) || errors.As(err, &many)
}

// Rejectedf wraps a sentinel with operation context, keeping errors.Is
// working on the result.
func Rejectedf(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
