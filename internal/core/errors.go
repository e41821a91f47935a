package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes a task failure and drives retry handling.
type ErrorClass string

const (
	// ClassUnknown is the class of errors nothing claimed. Treated as
	// transient for retry purposes: mislabeling a transient fault as
	// permanent loses a backup, the reverse only wastes a retry.
	ClassUnknown ErrorClass = "unknown"

	// ClassTransient covers momentary faults: connection drops, 5xx
	// responses, throttled API calls. Retried with backoff.
	ClassTransient ErrorClass = "transient"

	// ClassResourceExhausted means a local resource limit was hit, such
	// as scratch disk space. Retried once after cleanup.
	ClassResourceExhausted ErrorClass = "resource_exhausted"

	// ClassAuthentication means credentials were rejected. Never retried.
	ClassAuthentication ErrorClass = "authentication_failure"

	// ClassNotFound means the referenced entity does not exist upstream
	// or in storage. Never retried.
	ClassNotFound ErrorClass = "not_found"

	// ClassTimeout means an operation exceeded its deadline. Retried
	// with backoff.
	ClassTimeout ErrorClass = "timeout"
)

// ClassifiedError attaches an ErrorClass to an underlying error.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient marks err as a momentary fault worth retrying.
func Transient(err error) error {
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// ResourceExhausted marks err as a local resource limit.
func ResourceExhausted(err error) error {
	return &ClassifiedError{Class: ClassResourceExhausted, Err: err}
}

// AuthenticationFailure marks err as a credential rejection.
func AuthenticationFailure(err error) error {
	return &ClassifiedError{Class: ClassAuthentication, Err: err}
}

// NotFound marks err as a missing entity.
func NotFound(err error) error {
	return &ClassifiedError{Class: ClassNotFound, Err: err}
}

// Timeout marks err as a deadline overrun.
func Timeout(err error) error {
	return &ClassifiedError{Class: ClassTimeout, Err: err}
}

// Classify returns the ErrorClass of err. Context deadline errors
// classify as timeouts even without an explicit wrapper.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassUnknown
}

// IsNotFound reports whether err classifies as a missing entity.
func IsNotFound(err error) bool {
	return Classify(err) == ClassNotFound
}
