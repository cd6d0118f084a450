package reconcile

import "fmt"

// Validation error codes. Messages are localized by the HTTP layer.
const (
	CodeMissingScope        = "missing_scope"
	CodePlaceholderLocation = "placeholder_location"
	CodeMissingAPIKey       = "missing_api_key"
)

// ValidationError is a caller input problem detected before any external call.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PersistenceError aborts a run because the stores cannot be reached.
// Upserts committed before the failure remain in place.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var (
	errMissingScope = &ValidationError{
		Code:    CodeMissingScope,
		Message: "missing location id or company id",
	}
	errPlaceholderLocation = &ValidationError{
		Code:    CodePlaceholderLocation,
		Message: "location id is an unresolved placeholder and no company id was given",
	}
	errMissingAPIKey = &ValidationError{
		Code:    CodeMissingAPIKey,
		Message: "missing API key (none provided or saved)",
	}
)
