package localstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	require.NoError(t, err)
	return store, path
}

func rememberedUser(email, token string) models.RememberedUser {
	return models.RememberedUser{
		Token:     token,
		Name:      "Ada Lovelace",
		Email:     email,
		Initials:  "AL",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		LastLogin: time.Now(),
	}
}

func TestOpenMissingFile(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Empty(t, store.RememberedUsers())
	assert.Empty(t, store.CurrentSession())
	assert.Empty(t, store.CurrentToken())
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, store.RememberedUsers())
}

func TestPutRememberedUserReplacesByEmail(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.PutRememberedUser(rememberedUser("ada@example.com", "tok-1")))
	require.NoError(t, store.PutRememberedUser(rememberedUser("grace@example.com", "tok-2")))

	// Same account, new token: the entry is replaced in place, not appended.
	require.NoError(t, store.PutRememberedUser(rememberedUser("ADA@Example.com", "tok-3")))

	users := store.RememberedUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "tok-3", users[0].Token)
	assert.Equal(t, "ada@example.com", users[0].Email)
	assert.Equal(t, "tok-2", users[1].Token)
}

func TestRemoveRememberedUser(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.PutRememberedUser(rememberedUser("ada@example.com", "tok-1")))
	require.NoError(t, store.PutRememberedUser(rememberedUser("grace@example.com", "tok-2")))

	removed, err := store.RemoveRememberedUserByToken("tok-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveRememberedUserByToken("tok-1")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.RemoveRememberedUserByEmail("GRACE@example.com")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Empty(t, store.RememberedUsers())
}

func TestStateSurvivesReopen(t *testing.T) {
	store, path := newTestStore(t)

	require.NoError(t, store.PutRememberedUser(rememberedUser("ada@example.com", "tok-1")))
	require.NoError(t, store.SetCurrentSession("signed-session-blob"))
	require.NoError(t, store.SetCurrentToken("tok-1"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "signed-session-blob", reopened.CurrentSession())
	assert.Equal(t, "tok-1", reopened.CurrentToken())
	require.Len(t, reopened.RememberedUsers(), 1)
	assert.Equal(t, "ada@example.com", reopened.RememberedUsers()[0].Email)
}

func TestReset(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.PutRememberedUser(rememberedUser("ada@example.com", "tok-1")))
	require.NoError(t, store.SetCurrentSession("blob"))
	require.NoError(t, store.SetCurrentToken("tok-1"))

	require.NoError(t, store.Reset())
	assert.Empty(t, store.RememberedUsers())
	assert.Empty(t, store.CurrentSession())
	assert.Empty(t, store.CurrentToken())
}

func TestSubscribeSignalsOnWrite(t *testing.T) {
	store, _ := newTestStore(t)
	ch := store.Subscribe()

	require.NoError(t, store.SetCurrentToken("tok-1"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	// Back-to-back writes coalesce into at most one pending signal.
	require.NoError(t, store.SetCurrentToken("tok-2"))
	require.NoError(t, store.SetCurrentToken("tok-3"))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
	select {
	case <-ch:
		t.Fatal("expected signals to coalesce")
	default:
	}
}

func TestSetRememberedUsersReplacesCache(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.PutRememberedUser(rememberedUser("ada@example.com", "tok-1")))
	require.NoError(t, store.SetRememberedUsers([]models.RememberedUser{
		rememberedUser("grace@example.com", "tok-2"),
	}))

	users := store.RememberedUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "grace@example.com", users[0].Email)
}
