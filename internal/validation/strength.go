package validation

import (
	"unicode"
	"unicode/utf8"
)

// PasswordFeedback reports which strength rules a password satisfies
type PasswordFeedback struct {
	HasMinLength        bool
	HasUppercase        bool
	HasLowercase        bool
	HasNumber           bool
	HasSpecialChar      bool
	StartsWithUppercase bool
}

// PasswordStrength is the result of evaluating a password against the
// registration policy. IsValid requires every rule; Score grades 0-4
// independently of the strict gate.
type PasswordStrength struct {
	IsValid  bool
	Score    int
	Feedback PasswordFeedback
}

const minPasswordLength = 8

// CheckPasswordStrength evaluates a password against the account policy:
// at least 8 characters, an uppercase letter, a lowercase letter, a digit,
// a non-alphanumeric character, and a leading uppercase letter. The
// starts-with-uppercase rule is intentional product policy, kept although it
// subsumes part of the general uppercase rule.
func CheckPasswordStrength(password string) PasswordStrength {
	fb := PasswordFeedback{
		HasMinLength: utf8.RuneCountInString(password) >= minPasswordLength,
	}

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			fb.HasUppercase = true
		case unicode.IsLower(r):
			fb.HasLowercase = true
		case unicode.IsDigit(r):
			fb.HasNumber = true
		default:
			fb.HasSpecialChar = true
		}
	}

	if password != "" {
		fb.StartsWithUppercase = unicode.IsUpper([]rune(password)[0])
	}

	score := 0
	if fb.HasMinLength {
		score++
	}
	if fb.HasUppercase && fb.HasLowercase {
		score++
	}
	if fb.HasNumber {
		score++
	}
	if fb.HasSpecialChar {
		score++
	}

	return PasswordStrength{
		IsValid: fb.HasMinLength && fb.HasUppercase && fb.HasLowercase &&
			fb.HasNumber && fb.HasSpecialChar && fb.StartsWithUppercase,
		Score:    score,
		Feedback: fb,
	}
}
