package models

import "time"

// Session represents the authenticated user of this store instance. There is
// at most one current session; it is replaced wholesale, never patched.
type Session struct {
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	IsAuthenticated bool      `json:"is_authenticated"`
	LoginTime       time.Time `json:"login_time"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// IsExpired checks if the session has passed its absolute expiry
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionUser is the identity exposed to callers attributing records to the
// current user
type SessionUser struct {
	ID    string
	Name  string
	Email string
}

// LoginResult reports the outcome of a login attempt
type LoginResult struct {
	Success bool
	Expired bool
	Message string
}
