// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a user document. Ids are opaque strings; new accounts get UUIDs.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return strings.TrimSpace(string(u)) == ""
}

// NewUserID creates a UserID, rejecting blank input.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if uid.IsEmpty() {
		return "", ErrEmptyUserID
	}
	return uid, nil
}

// RequireActor converts the authenticated caller id into a UserID.
// A blank actor means nobody is logged in.
func RequireActor(actor string) (UserID, error) {
	uid := UserID(strings.TrimSpace(actor))
	if uid.IsEmpty() {
		return "", ErrMissingIdentity
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Username Value Object
// ═══════════════════════════════════════════════════════════════════════════

const (
	MinUsernameLength = 2
	MaxUsernameLength = 32
)

// Username is a display name shown on leaderboards.
type Username string

// NewUsername trims and validates a display name.
func NewUsername(name string) (Username, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	return Username(trimmed), nil
}

// String returns the string representation.
func (u Username) String() string {
	return string(u)
}

// ═══════════════════════════════════════════════════════════════════════════
// String Set helpers
// ═══════════════════════════════════════════════════════════════════════════

// ContainsString reports whether values contains s.
func ContainsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// UnionStrings appends the values of add that are not yet in base, keeping order.
func UnionStrings(base []string, add ...string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, v := range base {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range add {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RemoveStrings returns base without any of remove.
func RemoveStrings(base []string, remove ...string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, v := range remove {
		drop[v] = struct{}{}
	}
	out := make([]string, 0, len(base))
	for _, v := range base {
		if _, ok := drop[v]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}
