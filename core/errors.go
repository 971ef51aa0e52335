/*
errors.go - Centralized error types for the wallet/order core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages wrap these with operation context using %w.

ERROR CATEGORIES:
  1. Store errors      - I/O failures (surfaced), corrupt records (recovered)
  2. Ledger errors     - Insufficient funds, invalid amounts
  3. Workflow errors   - Illegal transitions, ownership, limits
  4. Inventory errors  - Duplicates, no candidate, lost assignment race

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, core.ErrInsufficientFunds) {
        var ife *core.InsufficientFundsError
        errors.As(err, &ife) // details for the user-facing message
    }

  Nothing here is fatal to the process: every failed operation leaves the
  documents in their prior valid state and may be retried.

SEE ALSO:
  - docstore/store.go: produces StoreIOError
  - wallet/ledger.go: produces InsufficientFundsError
  - orders/workflow.go: produces NotPendingError
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreIO is returned when a document write, fsync or rename fails.
	// The operation had no effect.
	ErrStoreIO = errors.New("store i/o error")

	// ErrCorruptRecord marks a record that failed to parse. The store
	// recovers it locally (quarantine + reinit); it never reaches callers.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidKey is returned for document keys that are not simple names.
	ErrInvalidKey = errors.New("invalid document key")

	// ErrInsufficientFunds is returned when a reserve or debit exceeds balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for non-positive or overflowing amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotPending is returned for transitions on a terminal order.
	ErrNotPending = errors.New("order is not pending")

	// ErrNotFound is returned for unknown ids or keys.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPayload is returned when an order payload fails validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotOwner is returned when a user acts on someone else's order.
	ErrNotOwner = errors.New("actor does not own the order")

	// ErrNotCancellable is returned when cancel is attempted on a type
	// that holds no reservation.
	ErrNotCancellable = errors.New("order type cannot be cancelled")

	// ErrTooManyPending is returned when a user already has the maximum
	// number of pending orders.
	ErrTooManyPending = errors.New("too many pending orders")

	// ErrBelowMinimum is returned when an amount is under the configured minimum.
	ErrBelowMinimum = errors.New("amount below minimum")

	// ErrMaintenance is returned while the service is in maintenance mode.
	ErrMaintenance = errors.New("service under maintenance")

	// ErrDuplicateUsername is returned when adding an inventory username twice.
	ErrDuplicateUsername = errors.New("duplicate username")

	// ErrNoCandidate is returned when no inventory item matches a request.
	ErrNoCandidate = errors.New("no matching inventory item")

	// ErrAssignmentRaced is returned when the suggested item was taken
	// between match and assign. Re-suggest, do not retry blindly.
	ErrAssignmentRaced = errors.New("inventory item already assigned")

	// ErrProtectedAdmin is returned when revoking the super admin.
	ErrProtectedAdmin = errors.New("super admin cannot be revoked")

	// ErrNeedsRepair is returned when a decision's ledger effect was applied
	// but the order status was not written and the effect could not be
	// reversed. Retrying would apply the effect twice.
	ErrNeedsRepair = errors.New("order needs manual repair")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StoreIOError describes a failed persistence step.
type StoreIOError struct {
	Op  string // "write", "sync", "rename", "load", "quarantine"
	Key string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *StoreIOError) Unwrap() []error {
	return []error{ErrStoreIO, e.Err}
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	UserID    UserID
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %d: available %d, requested %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall is the amount missing for the request to succeed.
func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Requested - e.Available
}

// NotPendingError reports the status that blocked a transition.
type NotPendingError struct {
	OrderID int64
	Status  string
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("order %d is %s, not pending", e.OrderID, e.Status)
}

func (e *NotPendingError) Unwrap() error {
	return ErrNotPending
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNeedsRepair) {
		return false
	}
	return errors.Is(err, ErrStoreIO) || errors.Is(err, ErrAssignmentRaced)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrNotCancellable) ||
		errors.Is(err, ErrTooManyPending) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrDuplicateUsername) ||
		errors.Is(err, ErrNoCandidate) ||
		errors.Is(err, ErrAssignmentRaced)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
