package services

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks request validation failures; handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")

// BackendError wraps database or cache unavailability on the non-degradable
// path; handlers map it to 500.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failure in %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
