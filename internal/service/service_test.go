package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/database"
	"taskdesk/internal/localstate"
	"taskdesk/internal/models"
	"taskdesk/internal/repository"
)

type fixture struct {
	db       *database.DB
	state    *localstate.Store
	userRepo *repository.UserRepository
	tokens   *repository.TokenRepository
	accounts *AccountService
	remember *RememberService
	sessions *SessionService
	backup   *BackupService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Initialize(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())

	state, err := localstate.Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	email, err := NewEmailService("", "", "", log)
	require.NoError(t, err)

	accounts := NewAccountService(userRepo, email, log)
	remember := NewRememberService(tokenRepo, userRepo, state, log)
	sessions, err := NewSessionService(accounts, remember, state, "test-secret", time.Hour, log)
	require.NoError(t, err)

	return &fixture{
		db:       db,
		state:    state,
		userRepo: userRepo,
		tokens:   tokenRepo,
		accounts: accounts,
		remember: remember,
		sessions: sessions,
		backup:   NewBackupService(db, state, log),
	}
}

func (f *fixture) register(t *testing.T, name, email, password string) *models.User {
	t.Helper()
	user, err := f.accounts.Create(context.Background(), name, email, password)
	require.NoError(t, err)
	return user
}

const testPassword = "Sterling9!"

func TestCreateAccountNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "  Ada@Example.COM ", testPassword)
	assert.Equal(t, "ada@example.com", user.Email)

	_, err := f.accounts.Create(ctx, "Someone Else", "ada@example.com", testPassword)
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestCreateAccountRejectsWeakPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.accounts.Create(context.Background(), "Ada Lovelace", "ada@example.com", "password")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	result, err := f.sessions.Login(ctx, "ADA@example.com", testPassword, false)
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, err := f.sessions.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", current.Name)
	assert.Equal(t, "ada@example.com", current.Email)
	assert.True(t, f.sessions.IsAuthenticated())

	user, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLogin)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	result, err := f.sessions.Login(ctx, "ada@example.com", "Wrong-pass1", false)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, f.sessions.IsAuthenticated())

	user, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, user.FailedLoginAttempts)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	// Counter updates are read-modify-write: concurrent processes hammering
	// the same account can under-count, so this covers the sequential case
	// only.
	var result *models.LoginResult
	var err error
	for i := 0; i < MaxLoginAttempts; i++ {
		result, err = f.sessions.Login(ctx, "ada@example.com", "Wrong-pass1", false)
		require.NoError(t, err)
		assert.False(t, result.Success)
	}

	// The fifth failure locks the account and reports the wait time.
	assert.Contains(t, result.Message, "locked")

	user, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, user.LockedUntil)
	assert.Equal(t, 0, user.FailedLoginAttempts)

	status, err := f.accounts.IsLocked(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.InDelta(t, int(LockoutDuration.Seconds()), status.RemainingTime, 2)

	// While locked, even the correct password is refused and the counter
	// does not move.
	result, err = f.sessions.Login(ctx, "ada@example.com", testPassword, false)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "locked")

	user, err = f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, user.FailedLoginAttempts)
}

func TestRecordFailedAttemptUnknownAccount(t *testing.T) {
	f := newFixture(t)

	status, err := f.accounts.RecordFailedAttempt(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockExpiryClearsOnCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	elapsed := time.Now().Add(-time.Minute)
	user.LockedUntil = &elapsed
	require.NoError(t, f.userRepo.Update(ctx, user))

	status, err := f.accounts.IsLocked(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, status.Locked)

	stored, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.LockedUntil)

	result, err := f.sessions.Login(ctx, "ada@example.com", testPassword, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	for i := 0; i < 3; i++ {
		_, err := f.sessions.Login(ctx, "ada@example.com", "Wrong-pass1", false)
		require.NoError(t, err)
	}

	result, err := f.sessions.Login(ctx, "ada@example.com", testPassword, false)
	require.NoError(t, err)
	assert.True(t, result.Success)

	user, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, user.FailedLoginAttempts)
}

func TestRememberTokenIssueAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	record, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)
	assert.Len(t, record.Token, 64) // 32 random bytes, hex encoded
	assert.WithinDuration(t, time.Now().Add(RememberTokenDuration), record.Expires, time.Minute)

	check, err := f.remember.Validate(ctx, record.Token)
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, user.ID, check.UserID)

	cached := f.remember.ListCached()
	require.Len(t, cached, 1)
	assert.Equal(t, "AL", cached[0].Initials)
	assert.Equal(t, record.Token, f.state.CurrentToken())
}

func TestReissueReplacesCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	first, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)
	second, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	cached := f.remember.ListCached()
	require.Len(t, cached, 1)
	assert.Equal(t, second.Token, cached[0].Token)
}

func TestExpiredTokenDeletedOnValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	stale := &models.RememberToken{
		Token:   "expired-token",
		UserID:  user.ID,
		Expires: time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.tokens.Put(ctx, stale))
	require.NoError(t, f.state.PutRememberedUser(models.RememberedUser{
		Token: stale.Token,
		Name:  user.Name,
		Email: user.Email,
	}))
	require.NoError(t, f.state.SetCurrentToken(stale.Token))

	check, err := f.remember.Validate(ctx, stale.Token)
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.True(t, check.Expired)

	// Lazy deletion removed the token from both stores.
	gone, err := f.tokens.Get(ctx, stale.Token)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Empty(t, f.remember.ListCached())
	assert.Empty(t, f.state.CurrentToken())
}

func TestLoginWithExpiredTokenReportsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)
	stale := &models.RememberToken{
		Token:   "expired-token",
		UserID:  user.ID,
		Expires: time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.tokens.Put(ctx, stale))

	result, err := f.sessions.LoginWithToken(ctx, stale.Token)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Expired)
	assert.Contains(t, result.Message, "expired")
}

func TestLoginWithUnknownToken(t *testing.T) {
	f := newFixture(t)

	result, err := f.sessions.LoginWithToken(context.Background(), "no-such-token")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.Expired)
}

func TestRememberMeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	result, err := f.sessions.Login(ctx, "ada@example.com", testPassword, true)
	require.NoError(t, err)
	require.True(t, result.Success)

	token := f.state.CurrentToken()
	require.NotEmpty(t, token)

	// Logout keeps the remember-me grant for quick login but drops the
	// current-token pointer.
	require.NoError(t, f.sessions.Logout(ctx))
	assert.False(t, f.sessions.IsAuthenticated())
	assert.Empty(t, f.state.CurrentToken())
	require.Len(t, f.remember.ListCached(), 1)

	cachedBefore := f.remember.ListCached()[0].LastLogin

	result, err = f.sessions.LoginWithToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, token, f.state.CurrentToken())

	current, err := f.sessions.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", current.Email)

	// The quick-login tile reflects the fresh sign-in.
	refreshed := f.remember.ListCached()[0].LastLogin
	assert.True(t, refreshed.After(cachedBefore) || refreshed.Equal(cachedBefore))
}

func TestSessionTTLEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	log := logrus.New()
	log.SetOutput(io.Discard)
	shortLived, err := NewSessionService(f.accounts, f.remember, f.state, "test-secret", -time.Minute, log)
	require.NoError(t, err)

	// Signing succeeds even though the session is already past its expiry.
	result, err := shortLived.Login(ctx, "ada@example.com", testPassword, false)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Nil(t, shortLived.Current())
	assert.False(t, shortLived.IsAuthenticated())
	_, err = shortLived.CurrentUser()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	// The expired blob was dropped from the state file.
	assert.Empty(t, f.state.CurrentSession())
}

func TestTamperedSessionDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)
	result, err := f.sessions.Login(ctx, "ada@example.com", testPassword, false)
	require.NoError(t, err)
	require.True(t, result.Success)

	blob := f.state.CurrentSession()
	require.NoError(t, f.state.SetCurrentSession(blob+"x"))

	assert.Nil(t, f.sessions.Current())
	assert.False(t, f.sessions.IsAuthenticated())
	// The bad blob was dropped from the state file.
	assert.Empty(t, f.state.CurrentSession())
}

func TestReconcileAllRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	live, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)

	// Drift: an expired durable token, and a cache entry with no backing
	// token at all.
	require.NoError(t, f.tokens.Put(ctx, &models.RememberToken{
		Token:   "expired-token",
		UserID:  user.ID,
		Expires: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, f.state.PutRememberedUser(models.RememberedUser{
		Token: "orphan-token",
		Name:  "Ghost",
		Email: "ghost@example.com",
	}))

	removedTokens, removedEntries, err := f.remember.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removedTokens)
	assert.Equal(t, 1, removedEntries)

	cached := f.remember.ListCached()
	require.Len(t, cached, 1)
	assert.Equal(t, live.Token, cached[0].Token)
	assert.Equal(t, live.Token, f.state.CurrentToken())

	count, err := f.tokens.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRevokeByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)
	_, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.remember.RevokeByEmail(ctx, "ADA@example.com"))
	assert.Empty(t, f.remember.ListCached())
	assert.Empty(t, f.state.CurrentToken())

	count, err := f.tokens.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRevokeByEmailCleansStaleCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Cache entry left behind after its account row disappeared.
	require.NoError(t, f.state.PutRememberedUser(models.RememberedUser{
		Token: "orphan-token",
		Name:  "Ghost",
		Email: "ghost@example.com",
	}))

	require.NoError(t, f.remember.RevokeByEmail(ctx, "ghost@example.com"))
	assert.Empty(t, f.remember.ListCached())
}

func TestDeleteAccountCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)
	result, err := f.sessions.Login(ctx, "ada@example.com", testPassword, true)
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, f.sessions.DeleteAccount(ctx, "ada@example.com"))

	user, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	count, err := f.tokens.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.remember.ListCached())
	assert.False(t, f.sessions.IsAuthenticated())
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Ada Lovelace", "ada@example.com", testPassword)

	token, err := f.accounts.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Unknown email gives no signal.
	none, err := f.accounts.RequestPasswordReset(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	const newPassword = "Refreshed7$"
	require.NoError(t, f.accounts.ResetPassword(ctx, token, newPassword))

	// The token is single use.
	err = f.accounts.ResetPassword(ctx, token, newPassword)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	result, err := f.sessions.Login(ctx, "ada@example.com", newPassword, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestBackupExportImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, "Ada Lovelace", "ada@example.com", testPassword)
	_, err := f.remember.Issue(ctx, user)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, f.backup.Export(ctx, path))

	require.NoError(t, f.backup.Reset(ctx))
	status, err := f.backup.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Accounts)
	assert.Zero(t, status.Tokens)

	require.NoError(t, f.backup.Import(ctx, path))
	status, err = f.backup.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Accounts)
	assert.Equal(t, 1, status.Tokens)
	assert.False(t, status.SessionActive)

	restored, err := f.accounts.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, user.ID, restored.ID)
}

func TestSeedDemoAccountsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)

	require.NoError(t, SeedDemoAccounts(ctx, f.accounts, log))
	require.NoError(t, SeedDemoAccounts(ctx, f.accounts, log))

	users, err := f.accounts.All(ctx)
	require.NoError(t, err)
	assert.Len(t, users, len(demoAccounts))
	for _, user := range users {
		assert.True(t, strings.HasSuffix(user.Email, "@taskdesk.local"))
	}
}
