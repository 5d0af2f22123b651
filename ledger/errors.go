/*
errors.go - Error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels, or errors.As against the structured types for details.

ERROR CATEGORIES:
  1. NotFound         - customer or transaction identity absent
  2. Validation       - malformed input, rejected before any mutation
  3. InvalidOperation - well-formed request the ledger refuses to apply

NOT AN ERROR:
  Reconciling a customer that no longer exists is a no-op. Deletion races
  with reconciliation are tolerated silently.

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidOperation = errors.New("invalid operation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "customer" or "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// CustomerNotFound returns a NotFoundError for a customer.
func CustomerNotFound(id CustomerID) error {
	return &NotFoundError{Kind: "customer", ID: string(id)}
}

// TransactionNotFound returns a NotFoundError for a transaction.
func TransactionNotFound(id TransactionID) error {
	return &NotFoundError{Kind: "transaction", ID: string(id)}
}

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InvalidOperationError describes a request the current state does not allow.
type InvalidOperationError struct {
	Op      string
	Message string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InvalidOperationError) Unwrap() error {
	return ErrInvalidOperation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsInvalidOperation(err error) bool { return errors.Is(err, ErrInvalidOperation) }

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return IsNotFound(err) || IsValidation(err) || IsInvalidOperation(err)
}
