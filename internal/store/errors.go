package store

import (
	"errors"
	"fmt"
)

// Error classes. Every specific error below wraps exactly one of these so
// callers can branch on the class with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")
	ErrForbidden  = errors.New("forbidden")
)

var (
	ErrServiceNotFound  = fmt.Errorf("%w: service not found", ErrNotFound)
	ErrEntryNotFound    = fmt.Errorf("%w: queue entry not found", ErrNotFound)
	ErrServiceInactive  = fmt.Errorf("%w: service is not accepting admissions", ErrValidation)
	ErrInvalidInput     = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrDuplicateCode    = fmt.Errorf("%w: service code already exists", ErrConflict)
	ErrActiveEntry      = fmt.Errorf("%w: citizen already has an active queue entry today", ErrConflict)
	ErrNumberCollision  = fmt.Errorf("%w: queue number already issued", ErrConflict)
	ErrSerialization    = fmt.Errorf("%w: concurrent admission, retry", ErrConflict)
	ErrCapacityExceeded = fmt.Errorf("%w: service queue is full for today", ErrConflict)
	ErrNumberExhausted  = fmt.Errorf("%w: could not issue a queue number, try again later", ErrConflict)
	ErrServiceInUse     = fmt.Errorf("%w: service still has queue entries", ErrConflict)
	ErrInvalidState     = fmt.Errorf("%w: queue entry state does not allow this action", ErrState)
	ErrAdminOnly        = fmt.Errorf("%w: admin role required", ErrForbidden)
)

// Retryable reports whether an admission attempt may be repeated with a
// freshly minted number.
func Retryable(err error) bool {
	return errors.Is(err, ErrNumberCollision) || errors.Is(err, ErrSerialization)
}
