package crm

import (
	"errors"
	"fmt"
)

// Sentinel errors for directory reads.
var (
	ErrMissingAPIKey     = errors.New("crm api key is required")
	ErrUnexpectedPayload = errors.New("unexpected directory payload shape")
)

// APIError is a non-success response from the directory, any generation.
type APIError struct {
	Scope      Scope
	Generation Generation
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s %s directory: %s", e.Scope, e.Generation, e.Status)
}

// Retryable reports whether the response is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// RecordError is a single element of a directory payload that could not be
// decoded into a User. It never fails the whole read.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
