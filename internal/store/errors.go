package store

import (
	"errors"
)

// Sentinel errors shared by every backend and pipeline. Callers classify with
// errors.Is; the HTTP boundary maps each one to a status code.
var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state for this action")
	ErrConflict            = errors.New("conflict: stale version")
	ErrMethodInactive      = errors.New("payment method inactive")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("not authorized")

	// Ledger internal.
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Kind returns a short label for the taxonomy member err belongs to.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrMethodInactive):
		return "method_inactive"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate"
	}
	return "internal"
}
