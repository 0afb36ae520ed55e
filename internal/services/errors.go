package services

import "errors"

// Service-level error taxonomy. Handlers map these to HTTP statuses;
// store.ErrNotFound covers missing records.
var (
	// ErrForbidden is returned when the requester's role or ownership
	// does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when the operation would duplicate
	// existing state (duplicate watch, duplicate email, second auction
	// for a gem).
	ErrConflict = errors.New("conflict")
)

// ValidationError marks missing or invalid input fields.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(message string) error {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
