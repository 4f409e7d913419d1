package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"taskdesk/internal/localstate"
	"taskdesk/internal/models"
	"taskdesk/internal/security"
)

const sessionExpiredMessage = "Your session has expired. Please sign in again."

// SessionService owns the single current session. The session record is
// persisted in the local state file as an HMAC-signed token, so a hand-edited
// state file cannot fabricate an authenticated session.
type SessionService struct {
	accounts *AccountService
	remember *RememberService
	state    *localstate.Store
	secret   []byte
	ttl      time.Duration
	log      *logrus.Logger
}

// sessionClaims is the signed session payload
type sessionClaims struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	IsAuthenticated bool   `json:"authenticated"`
	LoginTime       int64  `json:"login_time"`
	jwt.RegisteredClaims
}

// NewSessionService creates a new session service. When secret is empty a
// per-process random key is generated, which invalidates sessions across
// restarts but never weakens signing.
func NewSessionService(accounts *AccountService, remember *RememberService, state *localstate.Store, secret string, ttl time.Duration, log *logrus.Logger) (*SessionService, error) {
	key := []byte(secret)
	if len(key) == 0 {
		generated, err := security.GenerateToken(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		key = []byte(generated)
		log.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}

	return &SessionService{
		accounts: accounts,
		remember: remember,
		state:    state,
		secret:   key,
		ttl:      ttl,
		log:      log,
	}, nil
}

// Login authenticates with email and password. Storage failures surface as
// errors; everything the user can act on comes back in the LoginResult.
func (s *SessionService) Login(ctx context.Context, email, password string, rememberMe bool) (*models.LoginResult, error) {
	email = models.NormalizeEmail(email)

	user, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &models.LoginResult{Message: ErrInvalidCredentials.Error()}, nil
	}

	lock, err := s.accounts.IsLocked(ctx, email)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		return &models.LoginResult{Message: lockedMessage(lock)}, nil
	}

	if !security.CheckPassword(password, user.PasswordHash) {
		status, err := s.accounts.RecordFailedAttempt(ctx, email)
		if err != nil {
			return nil, err
		}
		if status.Locked {
			return &models.LoginResult{Message: lockedMessage(status)}, nil
		}
		return &models.LoginResult{Message: ErrInvalidCredentials.Error()}, nil
	}

	if err := s.accounts.ResetFailedAttempts(ctx, email); err != nil {
		return nil, err
	}

	// Re-read so the session carries the fresh last-login stamp.
	user, err = s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.establish(user); err != nil {
		return nil, err
	}

	if rememberMe {
		if _, err := s.remember.Issue(ctx, user); err != nil {
			return nil, err
		}
	}

	s.log.WithField("email", email).Info("login succeeded")
	return &models.LoginResult{Success: true}, nil
}

// LoginWithToken authenticates with a remember-me token from the quick-login
// list. An expired token reports Expired so the UI can explain the stale
// entry, which is removed as a side effect of validation.
func (s *SessionService) LoginWithToken(ctx context.Context, token string) (*models.LoginResult, error) {
	check, err := s.remember.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if check.Expired {
		return &models.LoginResult{Expired: true, Message: sessionExpiredMessage}, nil
	}
	if !check.Valid {
		return &models.LoginResult{Message: ErrInvalidCredentials.Error()}, nil
	}

	user, err := s.accounts.FindByID(ctx, check.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// The account behind the token is gone; drop the orphaned token.
		if err := s.remember.Revoke(ctx, token); err != nil {
			return nil, err
		}
		return &models.LoginResult{Message: ErrInvalidCredentials.Error()}, nil
	}

	lock, err := s.accounts.IsLocked(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		return &models.LoginResult{Message: lockedMessage(lock)}, nil
	}

	if err := s.accounts.ResetFailedAttempts(ctx, user.Email); err != nil {
		return nil, err
	}
	user, err = s.accounts.FindByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.establish(user); err != nil {
		return nil, err
	}
	if err := s.state.SetCurrentToken(token); err != nil {
		return nil, fmt.Errorf("failed to set current token: %w", err)
	}

	// Keep the quick-login tile's last-login stamp current.
	for _, cached := range s.remember.ListCached() {
		if cached.Token == token {
			cached.LastLogin = time.Now()
			if err := s.state.PutRememberedUser(cached); err != nil {
				return nil, fmt.Errorf("failed to refresh remembered user: %w", err)
			}
			break
		}
	}

	s.log.WithField("email", user.Email).Info("token login succeeded")
	return &models.LoginResult{Success: true}, nil
}

// Logout clears the current session and the current-token pointer. The
// remember-me grant itself survives, so the account stays on the quick-login
// list.
func (s *SessionService) Logout(ctx context.Context) error {
	if err := s.state.SetCurrentSession(""); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := s.state.SetCurrentToken(""); err != nil {
		return fmt.Errorf("failed to clear current token: %w", err)
	}
	s.log.Debug("session cleared")
	return nil
}

// Current returns the active session, or nil when no valid session exists.
// A tampered or expired session blob is discarded.
func (s *SessionService) Current() *models.Session {
	blob := s.state.CurrentSession()
	if blob == "" {
		return nil
	}

	session, err := s.verify(blob)
	if err != nil {
		s.log.WithError(err).Debug("discarding invalid session")
		_ = s.state.SetCurrentSession("")
		return nil
	}
	if session.IsExpired() {
		s.log.Debug("discarding expired session")
		_ = s.state.SetCurrentSession("")
		return nil
	}
	return session
}

// CurrentUser returns the identity of the signed-in user
func (s *SessionService) CurrentUser() (*models.SessionUser, error) {
	session := s.Current()
	if session == nil || !session.IsAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return &models.SessionUser{
		ID:    session.UserID,
		Name:  session.Name,
		Email: session.Email,
	}, nil
}

// IsAuthenticated reports whether a valid session is active
func (s *SessionService) IsAuthenticated() bool {
	session := s.Current()
	return session != nil && session.IsAuthenticated
}

// DeleteAccount removes an account and everything attached to it: remember-me
// tokens, reset tokens, cache entry, and the current session when it belongs
// to the deleted account.
func (s *SessionService) DeleteAccount(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)

	user, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNotFound
	}

	if err := s.remember.RevokeAllForUser(ctx, user.ID, user.Email); err != nil {
		return err
	}
	if err := s.accounts.userRepo.DeleteUserPasswordResetTokens(ctx, user.ID); err != nil {
		return err
	}
	if _, err := s.accounts.Delete(ctx, user.Email); err != nil {
		return err
	}

	if session := s.Current(); session != nil && session.UserID == user.ID {
		if err := s.state.SetCurrentSession(""); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
	}

	s.log.WithField("email", email).Info("account deleted")
	return nil
}

// establish signs a fresh session for the user and persists it
func (s *SessionService) establish(user *models.User) error {
	now := time.Now()
	claims := sessionClaims{
		Name:            user.Name,
		Email:           user.Email,
		IsAuthenticated: true,
		LoginTime:       now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}
	if err := s.state.SetCurrentSession(signed); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// verify parses and checks a signed session blob
func (s *SessionService) verify(blob string) (*models.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(blob, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	return &models.Session{
		UserID:          claims.Subject,
		Name:            claims.Name,
		Email:           claims.Email,
		IsAuthenticated: claims.IsAuthenticated,
		LoginTime:       time.Unix(claims.LoginTime, 0),
		ExpiresAt:       claims.ExpiresAt.Time,
	}, nil
}

func lockedMessage(status *models.LockStatus) string {
	return fmt.Sprintf("%s, try again in %d seconds", ErrAccountLocked.Error(), status.RemainingTime)
}
