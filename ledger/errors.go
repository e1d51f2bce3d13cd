/*
errors.go - Centralized error types for the installment engine

PURPOSE:
  All error kinds in one place. Every failure the engine returns unwraps to
  exactly one kind sentinel, so the boundary layer can map it to a message
  or status code with errors.Is.

ERROR KINDS:
  NotFound    contract/payment/debtor/manager absent
  Validation  bad amount, amendment date not in the past, prepaid cap,
              insufficient funds
  Forbidden   actor role not authorized
  Conflict    soft-deleted contract, double declare, duplicate slot
  Internal    persistence failure

USAGE:
  if errors.Is(err, ledger.ErrValidation) { ... }

  var funds *ledger.InsufficientFundsError
  if errors.As(err, &funds) { ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL KINDS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is the engine's general typed failure.
type Error struct {
	Kind    error  // one of the sentinel kinds
	Op      string // operation, e.g. "receive_payment"
	Entity  string // record type, e.g. "contract"
	ID      string
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Entity != "" && e.ID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Entity, e.ID, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id, Message: "not found"}
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(op, format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op, entity, id, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a persistence failure. Errors that already carry a kind are
// returned unchanged.
func Internal(op string, err error) error {
	if err == nil || KindOf(err) != ErrInternal {
		return err
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrInternal, Op: op, Message: "persistence failure", Err: err}
}

// InsufficientFundsError is returned when a withdrawal exceeds a manager balance.
type InsufficientFundsError struct {
	ManagerID ManagerID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrValidation }

// PrepaidCapError is returned when banking surplus would exceed the cap.
type PrepaidCapError struct {
	ContractID ContractID
	Current    decimal.Decimal
	Surplus    decimal.Decimal
	Cap        decimal.Decimal
}

func (e *PrepaidCapError) Error() string {
	return fmt.Sprintf("prepaid balance would exceed cap: current %s + surplus %s > %s",
		e.Current.StringFixed(2), e.Surplus.StringFixed(2), e.Cap.StringFixed(2))
}

func (e *PrepaidCapError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the sentinel kind of err; unknown errors are Internal.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrForbidden, ErrConflict, ErrInternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict)
}
