package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ValidationError marks rejected input that must not be retried.
// Params: wrapped validation cause.
// Returns: typed error mapped to client-fault handling.
type ValidationError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// Validation wraps error as a validation fault.
// Params: source error.
// Returns: wrapped error or nil.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return ValidationError{Err: err}
}

// Validationf builds a validation fault from a format string.
// Params: format and arguments.
// Returns: typed validation error.
func Validationf(format string, args ...any) error {
	return ValidationError{Err: fmt.Errorf(format, args...)}
}

// IsValidation reports whether error carries a validation fault.
// Params: candidate error.
// Returns: true when a ValidationError is in the chain.
func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// NotFoundError marks a lookup that matched no record.
// Params: entity label and reference used in the lookup.
// Returns: typed error mapped to not-found handling.
type NotFoundError struct {
	Entity string
	Ref    string
}

// Error returns a formatted lookup failure message.
// Params: none.
// Returns: string representation.
func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

// NotFound builds a not-found fault for one entity reference.
// Params: entity label and reference value.
// Returns: typed not-found error.
func NotFound(entity, ref string) error {
	return NotFoundError{Entity: entity, Ref: ref}
}

// IsNotFound reports whether error carries a not-found fault.
// Params: candidate error.
// Returns: true when a NotFoundError is in the chain.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// InvalidStateError marks a lifecycle transition the current status forbids.
// Params: current status and requested operation label.
// Returns: typed error mapped to conflict handling.
type InvalidStateError struct {
	Current   string
	Requested string
}

// Error returns a formatted transition failure message.
// Params: none.
// Returns: string representation.
func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s alert in status %s", e.Requested, e.Current)
}

// InvalidState builds an invalid-transition fault.
// Params: current status and requested operation label.
// Returns: typed invalid-state error.
func InvalidState(current, requested string) error {
	return InvalidStateError{Current: current, Requested: requested}
}

// IsInvalidState reports whether error carries an invalid-state fault.
// Params: candidate error.
// Returns: true when an InvalidStateError is in the chain.
func IsInvalidState(err error) bool {
	var target InvalidStateError
	return errors.As(err, &target)
}

// ConflictError marks a concurrent update that invalidated a guarded write.
// Params: wrapped store conflict cause.
// Returns: typed error for bounded retry by callers.
type ConflictError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e ConflictError) Error() string {
	if e.Err == nil {
		return "concurrent update conflict"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e ConflictError) Unwrap() error {
	return e.Err
}

// Conflict wraps error as a concurrent-update fault.
// Params: source error.
// Returns: wrapped error or nil.
func Conflict(err error) error {
	if err == nil {
		return nil
	}
	return ConflictError{Err: err}
}

// IsConflict reports whether error carries a conflict fault.
// Params: candidate error.
// Returns: true when a ConflictError is in the chain.
func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

// TransientError marks a delivery failure worth retrying later.
// Params: wrapped transport cause.
// Returns: typed retryable error marker.
type TransientError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e TransientError) Error() string {
	if e.Err == nil {
		return "transient delivery failure"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e TransientError) Unwrap() error {
	return e.Err
}

// Transient marks error as retryable.
// Params: none.
// Returns: true.
func (TransientError) Transient() bool {
	return true
}

// MarkTransient wraps error with retryable marker.
// Params: source error.
// Returns: wrapped error or nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return TransientError{Err: err}
}

// PermanentError marks a delivery failure that retries cannot fix.
// Params: wrapped root cause.
// Returns: typed permanent error marker.
type PermanentError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent delivery failure"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks error as non-retryable.
// Params: none.
// Returns: true.
func (PermanentError) Permanent() bool {
	return true
}

// MarkPermanent wraps error with permanent marker.
// Params: source error.
// Returns: wrapped error or nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsTransient reports whether error has a retryable marker.
// Params: candidate error.
// Returns: true when a retryable marker is present and not overruled by a permanent one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	type marker interface {
		Transient() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Transient()
}

// IsPermanent reports whether error has a non-retryable marker.
// Params: candidate error.
// Returns: true when a permanent marker is present.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}

// RetryableTransport classifies raw transport errors for consumer redelivery.
// Params: candidate error from event processing.
// Returns: true for timeouts, refused connections, canceled contexts,
// explicit transient markers, and store conflicts that exhausted retries.
func RetryableTransport(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || IsValidation(err) {
		return false
	}
	if IsTransient(err) || IsConflict(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
