package models

import "time"

// RememberToken is a durable remember-me grant stored in the tokens table,
// keyed by the opaque token string
type RememberToken struct {
	Token   string
	UserID  string
	Expires time.Time
}

// IsExpired checks if the token has passed its expiry
func (t *RememberToken) IsExpired() bool {
	return time.Now().After(t.Expires)
}

// RememberedUser is a denormalized cache entry mirroring a remember-me grant
// for quick-login rendering. It is not authoritative: the backing token in the
// tokens table decides validity, and reconciliation drops stale entries.
type RememberedUser struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Initials  string    `json:"initials"`
	ExpiresAt time.Time `json:"expires_at"`
	LastLogin time.Time `json:"last_login"`
}

// IsExpired checks the cached expiry; the durable token remains the authority
func (u *RememberedUser) IsExpired() bool {
	return time.Now().After(u.ExpiresAt)
}

// TokenValidation reports the outcome of validating a remember-me token
type TokenValidation struct {
	Valid   bool
	Expired bool
	UserID  string
}

// PasswordResetToken represents a single-use token for password reset
type PasswordResetToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
}

// IsExpired checks if the reset token has expired
func (t *PasswordResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
