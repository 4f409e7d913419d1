package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"taskdesk/internal/models"
	"taskdesk/internal/repository"
	"taskdesk/internal/security"
	"taskdesk/internal/validation"
)

const (
	// MaxLoginAttempts is the number of consecutive failed logins before an
	// account is locked
	MaxLoginAttempts = 5

	// LockoutDuration is how long a locked account stays locked
	LockoutDuration = 15 * time.Minute

	// PasswordResetTokenDuration is the lifetime of a password reset token
	PasswordResetTokenDuration = time.Hour
)

// AccountService handles account lifecycle and the failed-login lockout policy
type AccountService struct {
	userRepo *repository.UserRepository
	email    *EmailService
	log      *logrus.Logger
}

// AccountUpdate carries the mutable account fields; nil fields are left
// untouched
type AccountUpdate struct {
	Name     *string
	Password *string
}

// NewAccountService creates a new account service
func NewAccountService(userRepo *repository.UserRepository, email *EmailService, log *logrus.Logger) *AccountService {
	return &AccountService{
		userRepo: userRepo,
		email:    email,
		log:      log,
	}
}

// Create registers a new account. The email is normalized before use and must
// not collide with an existing account; the password must pass the strength
// policy.
func (s *AccountService) Create(ctx context.Context, name, email, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)

	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if strength := validation.CheckPasswordStrength(password); !strength.IsValid {
		return nil, ErrWeakPassword
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateAccount
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           security.GenerateID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.log.WithFields(logrus.Fields{"email": email, "user_id": user.ID}).Info("account created")
	return user, nil
}

// FindByEmail retrieves an account by email, normalizing first. Returns
// (nil, nil) when no account exists.
func (s *AccountService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.userRepo.GetByEmail(ctx, models.NormalizeEmail(email))
}

// FindByID retrieves an account by its opaque ID. Returns (nil, nil) when no
// account exists.
func (s *AccountService) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// All returns every account in the store
func (s *AccountService) All(ctx context.Context) ([]models.User, error) {
	return s.userRepo.GetAll(ctx)
}

// Update applies the non-nil fields of update to an existing account
func (s *AccountService) Update(ctx context.Context, email string, update AccountUpdate) (*models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}

	if update.Name != nil {
		if err := validation.ValidateName(*update.Name); err != nil {
			return nil, err
		}
		user.Name = *update.Name
	}
	if update.Password != nil {
		if strength := validation.CheckPasswordStrength(*update.Password); !strength.IsValid {
			return nil, ErrWeakPassword
		}
		hash, err := security.HashPassword(*update.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return user, nil
}

// Delete removes the account row only; callers owning the cascade use
// SessionService.DeleteAccount. The bool reports whether a row existed.
func (s *AccountService) Delete(ctx context.Context, email string) (bool, error) {
	return s.userRepo.Delete(ctx, models.NormalizeEmail(email))
}

// CheckPasswordStrength evaluates a candidate password against the policy
func (s *AccountService) CheckPasswordStrength(password string) validation.PasswordStrength {
	return validation.CheckPasswordStrength(password)
}

// RecordFailedAttempt increments the failed-login counter for an account.
// Reaching MaxLoginAttempts locks the account for LockoutDuration and resets
// the counter, so the lock governs until it expires.
func (s *AccountService) RecordFailedAttempt(ctx context.Context, email string) (*models.LockStatus, error) {
	email = models.NormalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		// Nothing to count against; no signal either.
		return &models.LockStatus{}, nil
	}

	user.FailedLoginAttempts++
	status := &models.LockStatus{}
	if user.FailedLoginAttempts >= MaxLoginAttempts {
		lockedUntil := time.Now().Add(LockoutDuration)
		user.LockedUntil = &lockedUntil
		user.FailedLoginAttempts = 0
		status.Locked = true
		status.RemainingTime = remainingSeconds(lockedUntil)
		s.log.WithField("email", email).Warn("account locked after repeated failed logins")
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}
	return status, nil
}

// ResetFailedAttempts clears the failed-login counter and any lock, and
// stamps the last successful login time
func (s *AccountService) ResetFailedAttempts(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	now := time.Now()
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now

	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// IsLocked reports the lockout state of an account. A lock whose deadline has
// passed is cleared in the store as a side effect, so lock expiry needs no
// background job.
func (s *AccountService) IsLocked(ctx context.Context, email string) (*models.LockStatus, error) {
	email = models.NormalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}

	if user.LockedUntil == nil {
		return &models.LockStatus{}, nil
	}
	if time.Now().Before(*user.LockedUntil) {
		return &models.LockStatus{
			Locked:        true,
			RemainingTime: remainingSeconds(*user.LockedUntil),
		}, nil
	}

	// Lock elapsed: clear it now.
	user.LockedUntil = nil
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	return &models.LockStatus{}, nil
}

// RequestPasswordReset creates a single-use reset token for the account and
// emails it when the account exists. It returns the token for flows that
// deliver it out of band; callers must not reveal whether the email matched
// an account.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		// No hint to the caller either way.
		return "", nil
	}

	token, err := security.GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}

	if err := s.userRepo.DeleteUserPasswordResetTokens(ctx, user.ID); err != nil {
		return "", fmt.Errorf("failed to invalidate old reset tokens: %w", err)
	}
	expiresAt := time.Now().Add(PasswordResetTokenDuration)
	if err := s.userRepo.CreatePasswordResetToken(ctx, token, user.ID, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	if s.email != nil {
		if err := s.email.SendPasswordResetEmail(ctx, user.Email, user.Name, token); err != nil {
			s.log.WithError(err).WithField("email", email).Error("failed to send password reset email")
		}
	}

	return token, nil
}

// ValidatePasswordResetToken checks a reset token without consuming it
func (s *AccountService) ValidatePasswordResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	reset, err := s.userRepo.GetPasswordResetToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	if reset == nil || reset.Used {
		return nil, ErrTokenInvalid
	}
	if reset.IsExpired() {
		return nil, ErrTokenExpired
	}
	return reset, nil
}

// ResetPassword consumes a reset token and sets a new password. A successful
// reset also clears any lockout so the user can sign in immediately.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	reset, err := s.ValidatePasswordResetToken(ctx, token)
	if err != nil {
		return err
	}

	if strength := validation.CheckPasswordStrength(newPassword); !strength.IsValid {
		return ErrWeakPassword
	}

	user, err := s.userRepo.GetByID(ctx, reset.UserID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil

	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.userRepo.MarkPasswordResetTokenUsed(ctx, token); err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}

	s.log.WithField("email", user.Email).Info("password reset completed")
	return nil
}

// remainingSeconds rounds the time left on a lock up to whole seconds, so a
// lock never reports zero while still active
func remainingSeconds(until time.Time) int {
	remaining := time.Until(until).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining))
}
