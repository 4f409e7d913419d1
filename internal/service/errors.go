package service

import "errors"

var (
	ErrDuplicateAccount   = errors.New("an account with this email already exists")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrWeakPassword       = errors.New("password does not meet the requirements")
	ErrTokenInvalid       = errors.New("token not recognized")
	ErrTokenExpired       = errors.New("token has expired")
	ErrNotAuthenticated   = errors.New("no active session")
)
