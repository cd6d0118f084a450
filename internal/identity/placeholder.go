// Package identity holds the pure rules that turn external directory records
// into local identities: normalization, placeholder detection and role
// resolution.
package identity

import "strings"

// placeholderLocations are unresolved launch-template values that must never
// be treated as a real location identifier.
var placeholderLocations = []string{"location", "{location.id}", "{{location.id}}"}

// IsPlaceholderLocation reports whether id is a known placeholder token.
// Matching is exact and case-insensitive.
func IsPlaceholderLocation(id string) bool {
	for _, p := range placeholderLocations {
		if strings.EqualFold(id, p) {
			return true
		}
	}
	return false
}

// ValidLocation returns id trimmed, or "" if it is empty or a placeholder.
func ValidLocation(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || IsPlaceholderLocation(id) {
		return ""
	}
	return id
}

// HasTemplateToken reports whether s carries unresolved template syntax.
func HasTemplateToken(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "}}")
}

// LooksLikeTestEmail reports whether email matches the test-account heuristic.
// This also matches real addresses such as "contest@…"; callers log these
// skips separately so false positives can be spotted.
// The match is case-sensitive.
func LooksLikeTestEmail(email string) bool {
	return strings.Contains(email, "@") && strings.Contains(email, "test")
}
