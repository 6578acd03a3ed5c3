// README: Pool ride error taxonomy.
package poolride

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound              = errors.New("pool ride not found")
	ErrPassengerNotFound     = errors.New("passenger request not found")
	ErrForbidden             = errors.New("caller may not modify this pool ride")
	ErrOfferClosed           = errors.New("pool ride is not active")
	ErrNoSeats               = errors.New("no seats available")
	ErrOwnOffer              = errors.New("cannot request a seat on your own pool ride")
	ErrDuplicateRequest      = errors.New("seat already requested")
	ErrInvalidState          = errors.New("invalid passenger state transition")
	ErrHasAcceptedPassengers = errors.New("pool ride has accepted passengers")
	ErrSeatsBelowAccepted    = errors.New("seats cannot be fewer than accepted passengers")
)

// ValidationError reports malformed input with a message per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// IsConflict reports whether err means the ride's current state forbids the
// requested action.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrOfferClosed, ErrNoSeats, ErrOwnOffer, ErrDuplicateRequest,
		ErrInvalidState, ErrHasAcceptedPassengers, ErrSeatsBelowAccepted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
