package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"taskdesk/internal/localstate"
	"taskdesk/internal/models"
	"taskdesk/internal/repository"
	"taskdesk/internal/security"
)

// RememberTokenDuration is the lifetime of a remember-me token
const RememberTokenDuration = 30 * 24 * time.Hour

// RememberService manages remember-me tokens across their two homes: the
// durable tokens table, which is authoritative, and the remembered-user cache
// in the local state file, which only feeds the quick-login list.
type RememberService struct {
	tokenRepo *repository.TokenRepository
	userRepo  *repository.UserRepository
	state     *localstate.Store
	log       *logrus.Logger
}

// NewRememberService creates a new remember-me service
func NewRememberService(tokenRepo *repository.TokenRepository, userRepo *repository.UserRepository, state *localstate.Store, log *logrus.Logger) *RememberService {
	return &RememberService{
		tokenRepo: tokenRepo,
		userRepo:  userRepo,
		state:     state,
		log:       log,
	}
}

// Issue creates a fresh remember-me token for a user, stores it durably and
// mirrors it into the remembered-user cache as the user's single entry
func (s *RememberService) Issue(ctx context.Context, user *models.User) (*models.RememberToken, error) {
	token, err := security.GenerateToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	record := &models.RememberToken{
		Token:   token,
		UserID:  user.ID,
		Expires: time.Now().Add(RememberTokenDuration),
	}
	if err := s.tokenRepo.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	lastLogin := time.Now()
	if user.LastLogin != nil {
		lastLogin = *user.LastLogin
	}
	cached := models.RememberedUser{
		Token:     record.Token,
		Name:      user.Name,
		Email:     user.Email,
		Initials:  models.Initials(user.Name),
		ExpiresAt: record.Expires,
		LastLogin: lastLogin,
	}
	if err := s.state.PutRememberedUser(cached); err != nil {
		return nil, fmt.Errorf("failed to cache remembered user: %w", err)
	}
	if err := s.state.SetCurrentToken(record.Token); err != nil {
		return nil, fmt.Errorf("failed to set current token: %w", err)
	}

	s.log.WithField("user_id", user.ID).Debug("remember-me token issued")
	return record, nil
}

// Validate checks a remember-me token against the durable store. An expired
// token is deleted on the spot, together with its cache entry, so expiry
// needs no background sweep.
func (s *RememberService) Validate(ctx context.Context, token string) (*models.TokenValidation, error) {
	record, err := s.tokenRepo.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if record == nil {
		return &models.TokenValidation{}, nil
	}

	if record.IsExpired() {
		if err := s.forget(ctx, token); err != nil {
			return nil, err
		}
		return &models.TokenValidation{Expired: true, UserID: record.UserID}, nil
	}

	return &models.TokenValidation{Valid: true, UserID: record.UserID}, nil
}

// Revoke deletes a remember-me token and its cache entry
func (s *RememberService) Revoke(ctx context.Context, token string) error {
	return s.forget(ctx, token)
}

// RevokeByEmail drops the remember-me grant for an account, cache-first: the
// cached entry's token is revoked, then any remaining durable tokens for the
// account. A stale cache entry whose account row is gone is still cleaned up.
func (s *RememberService) RevokeByEmail(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)

	for _, cached := range s.state.RememberedUsers() {
		if models.NormalizeEmail(cached.Email) == email {
			if err := s.forget(ctx, cached.Token); err != nil {
				return err
			}
		}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if user != nil {
		if err := s.tokenRepo.DeleteByUserID(ctx, user.ID); err != nil {
			return err
		}
	}
	return nil
}

// RevokeAllForUser deletes every remember-me token a user holds, along with
// the user's cache entry
func (s *RememberService) RevokeAllForUser(ctx context.Context, userID, email string) error {
	if err := s.tokenRepo.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	current := s.state.CurrentToken()
	for _, cached := range s.state.RememberedUsers() {
		if models.NormalizeEmail(cached.Email) == models.NormalizeEmail(email) && cached.Token == current {
			if err := s.state.SetCurrentToken(""); err != nil {
				return fmt.Errorf("failed to clear current token: %w", err)
			}
			break
		}
	}

	if _, err := s.state.RemoveRememberedUserByEmail(email); err != nil {
		return fmt.Errorf("failed to remove remembered user: %w", err)
	}
	return nil
}

// ListCached returns the remembered-user cache for quick-login rendering
func (s *RememberService) ListCached() []models.RememberedUser {
	return s.state.RememberedUsers()
}

// ReconcileAll repairs drift between the two stores: expired or orphaned
// durable tokens are deleted, and cache entries without a live backing token
// are dropped. It returns the number of tokens and cache entries removed.
func (s *RememberService) ReconcileAll(ctx context.Context) (int, int, error) {
	tokens, err := s.tokenRepo.GetAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list tokens: %w", err)
	}

	live := make(map[string]models.RememberToken, len(tokens))
	removedTokens := 0
	for _, record := range tokens {
		stale := record.IsExpired()
		if !stale {
			user, err := s.userRepo.GetByID(ctx, record.UserID)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to look up token owner: %w", err)
			}
			stale = user == nil
		}
		if stale {
			if _, err := s.tokenRepo.Delete(ctx, record.Token); err != nil {
				return 0, 0, fmt.Errorf("failed to delete stale token: %w", err)
			}
			removedTokens++
			continue
		}
		live[record.Token] = record
	}

	cached := s.state.RememberedUsers()
	kept := make([]models.RememberedUser, 0, len(cached))
	for _, entry := range cached {
		record, ok := live[entry.Token]
		if !ok {
			continue
		}
		entry.ExpiresAt = record.Expires
		kept = append(kept, entry)
	}
	removedEntries := len(cached) - len(kept)
	if err := s.state.SetRememberedUsers(kept); err != nil {
		return 0, 0, fmt.Errorf("failed to rebuild remembered users: %w", err)
	}

	if current := s.state.CurrentToken(); current != "" {
		if _, ok := live[current]; !ok {
			if err := s.state.SetCurrentToken(""); err != nil {
				return 0, 0, fmt.Errorf("failed to clear current token: %w", err)
			}
		}
	}

	if removedTokens > 0 || removedEntries > 0 {
		s.log.WithFields(logrus.Fields{
			"expired_tokens": removedTokens,
			"stale_cache":    removedEntries,
		}).Info("remember-me stores reconciled")
	}
	return removedTokens, removedEntries, nil
}

// forget removes a token from both stores and clears the current-token
// pointer when it referenced the token
func (s *RememberService) forget(ctx context.Context, token string) error {
	if _, err := s.tokenRepo.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if _, err := s.state.RemoveRememberedUserByToken(token); err != nil {
		return fmt.Errorf("failed to remove remembered user: %w", err)
	}
	if s.state.CurrentToken() == token {
		if err := s.state.SetCurrentToken(""); err != nil {
			return fmt.Errorf("failed to clear current token: %w", err)
		}
	}
	return nil
}
