package middleware

import (
	"errors"
	"unicode"
)

// MaxIdentifierLength bounds external ids, tenant scopes and company ids.
const MaxIdentifierLength = 128

// Validation errors.
var (
	ErrIdentifierEmpty   = errors.New("identifier is required")
	ErrIdentifierTooLong = errors.New("identifier exceeds maximum length")
	ErrIdentifierInvalid = errors.New("identifier contains whitespace or control characters")
)

// ValidateIdentifier checks an id taken from a path or body. Template tokens
// are allowed so that malformed identities can still be addressed.
func ValidateIdentifier(id string) error {
	if id == "" {
		return ErrIdentifierEmpty
	}
	if len(id) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return ErrIdentifierInvalid
		}
	}
	return nil
}

// ValidateOptionalIdentifier is ValidateIdentifier for fields that may be empty.
func ValidateOptionalIdentifier(id string) error {
	if id == "" {
		return nil
	}
	return ValidateIdentifier(id)
}
