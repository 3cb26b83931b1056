package engine

import (
	"errors"
	"fmt"
)

// ValidationError rejects a set before any local write happens. No
// outbox entry is created for a rejected save.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Caller errors: a missing or wrong id where one is required. These are
// programming errors at the call site, not retry material.
var (
	ErrNoActiveSession      = errors.New("no active workout selected")
	ErrSessionNotIdentified = errors.New("session has no recorded input")
	ErrExerciseAlreadyAdded = errors.New("exercise already in session")
	ErrExerciseNotInSession = errors.New("exercise not in session")
	ErrSetNotFound          = errors.New("no draft for set")
)
