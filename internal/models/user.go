package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// User represents an account in the identity store, keyed by normalized email
type User struct {
	ID                  string
	Name                string
	Email               string
	PasswordHash        string
	CreatedAt           time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
}

// LockStatus describes the lockout state of an account
type LockStatus struct {
	Locked        bool
	RemainingTime int // seconds until the lock expires, 0 when unlocked
}

// NormalizeEmail lower-cases and trims an email address. Normalized emails are
// the unique account key everywhere in the store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Initials derives the avatar display string for a name: first letter of the
// first and last name parts, upper-cased
func Initials(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "?"
	}
	if len(parts) == 1 {
		return strings.ToUpper(firstRune(parts[0]))
	}
	return strings.ToUpper(firstRune(parts[0]) + firstRune(parts[len(parts)-1]))
}

// firstRune returns the leading rune of s, not its leading byte
func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}
