package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/auth"
	"github.com/funstudy/funstudy/internal/util"
	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/storage/memory"
)

var testSessionSecret = []byte("0123456789abcdef0123456789abcdef")

func liveSession(id string) Session {
	now := time.Now()
	return Session{
		ID:             id,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

// sessionStoreTests runs the common suite against any SessionStore implementation.
func sessionStoreTests(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		s := liveSession("sess-1")
		s.User = &auth.SessionUser{Sub: "sub-1", Email: "kid@example.com", Name: "kid", EmailVerified: true}
		s.Tokens = &auth.Tokens{AccessToken: "access", IDToken: "id", RefreshToken: "refresh"}
		require.NoError(t, store.Put(ctx, "tok-1", s))

		got, ok := store.Get(ctx, "tok-1")
		require.True(t, ok)
		assert.Equal(t, "sess-1", got.ID)
		assert.True(t, got.Authenticated())
		assert.Equal(t, *s.User, *got.User)
		assert.Equal(t, "access", got.Tokens.AccessToken)
		assert.Nil(t, got.Pending)
	})

	t.Run("PendingLogin", func(t *testing.T) {
		s := liveSession("sess-pending")
		s.Pending = &auth.PendingLogin{State: "state-1", Nonce: "nonce-1"}
		require.NoError(t, store.Put(ctx, "tok-pending", s))

		got, ok := store.Get(ctx, "tok-pending")
		require.True(t, ok)
		require.NotNil(t, got.Pending)
		assert.Equal(t, "state-1", got.Pending.State)
		assert.False(t, got.Authenticated())
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, ok := store.Get(ctx, "no-such-token")
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "tok-del", liveSession("sess-del")))
		require.NoError(t, store.Delete(ctx, "tok-del"))
		_, ok := store.Get(ctx, "tok-del")
		assert.False(t, ok)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "never-existed"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "tok-ow", liveSession("v1")))
		require.NoError(t, store.Put(ctx, "tok-ow", liveSession("v2")))
		got, ok := store.Get(ctx, "tok-ow")
		require.True(t, ok)
		assert.Equal(t, "v2", got.ID)
	})

	t.Run("ExpiredSession", func(t *testing.T) {
		s := liveSession("sess-exp")
		s.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, store.Put(ctx, "tok-exp", s))
		_, ok := store.Get(ctx, "tok-exp")
		assert.False(t, ok)
	})
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Close()
	sessionStoreTests(t, store)

	t.Run("Sweep", func(t *testing.T) {
		s := NewMemorySessionStore()
		defer s.Close()
		ctx := context.Background()
		expired := liveSession("old")
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, s.Put(ctx, "tok-old", expired))
		require.NoError(t, s.Put(ctx, "tok-new", liveSession("new")))

		s.sweep(time.Now())
		assert.Equal(t, 1, s.Len())
	})

	t.Run("BoundedSize", func(t *testing.T) {
		s := NewMemorySessionStore()
		defer s.Close()
		s.max = 3
		ctx := context.Background()
		base := time.Now()
		for i, tok := range []string{"tok-a", "tok-b", "tok-c"} {
			sess := liveSession(tok)
			sess.LastAccessedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.Put(ctx, tok, sess))
		}

		require.NoError(t, s.Put(ctx, "tok-b", liveSession("b-again")), "overwriting does not evict")
		assert.Equal(t, 3, s.Len())

		require.NoError(t, s.Put(ctx, "tok-d", liveSession("d")))
		assert.Equal(t, 3, s.Len())
		_, ok := s.Get(ctx, "tok-a")
		assert.False(t, ok, "least recently accessed session is evicted")
		_, ok = s.Get(ctx, "tok-c")
		assert.True(t, ok)
	})

	t.Run("BoundedSizeDropsExpiredFirst", func(t *testing.T) {
		s := NewMemorySessionStore()
		defer s.Close()
		s.max = 2
		ctx := context.Background()
		old := liveSession("old")
		old.LastAccessedAt = time.Now().Add(-time.Hour)
		require.NoError(t, s.Put(ctx, "tok-old", old))
		expired := liveSession("expired")
		expired.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, s.Put(ctx, "tok-expired", expired))

		require.NoError(t, s.Put(ctx, "tok-new", liveSession("new")))
		assert.Equal(t, 2, s.Len())
		_, ok := s.Get(ctx, "tok-old")
		assert.True(t, ok)
	})
}

func TestPersistentSessionStore(t *testing.T) {
	ctx := context.Background()
	db := memory.NewStore()
	store, err := NewPersistentSessionStore(ctx, db, testSessionSecret, nil)
	require.NoError(t, err)
	defer store.Close()

	sessionStoreTests(t, store)

	t.Run("SealedAtRest", func(t *testing.T) {
		s := liveSession("sess-sealed")
		s.Tokens = &auth.Tokens{AccessToken: "very-secret-access-token"}
		require.NoError(t, store.Put(ctx, "tok-sealed", s))

		_, err := db.Get(ctx, SessionsTable, "tok-sealed")
		assert.ErrorIs(t, err, storage.ErrNotFound, "raw token is never a key")

		item, err := db.Get(ctx, SessionsTable, util.SHA256Hex("tok-sealed"))
		require.NoError(t, err)
		sealed, _ := item["sealed"].(string)
		require.NotEmpty(t, sealed)
		assert.False(t, strings.Contains(sealed, "very-secret-access-token"))
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		shared := memory.NewStore()
		s1, err := NewPersistentSessionStore(ctx, shared, testSessionSecret, nil)
		require.NoError(t, err)
		require.NoError(t, s1.Put(ctx, "tok-reopen", liveSession("sess-reopen")))
		s1.Close()

		s2, err := NewPersistentSessionStore(ctx, shared, testSessionSecret, nil)
		require.NoError(t, err)
		defer s2.Close()
		got, ok := s2.Get(ctx, "tok-reopen")
		require.True(t, ok)
		assert.Equal(t, "sess-reopen", got.ID)
	})

	t.Run("WrongSecretCannotOpen", func(t *testing.T) {
		shared := memory.NewStore()
		s1, err := NewPersistentSessionStore(ctx, shared, testSessionSecret, nil)
		require.NoError(t, err)
		defer s1.Close()
		require.NoError(t, s1.Put(ctx, "tok-x", liveSession("sess-x")))

		s2, err := NewPersistentSessionStore(ctx, shared, []byte("another-secret-of-32-bytes-long!"), nil)
		require.NoError(t, err)
		defer s2.Close()
		_, ok := s2.Get(ctx, "tok-x")
		assert.False(t, ok)
	})

	t.Run("SweepExpired", func(t *testing.T) {
		shared := memory.NewStore()
		s, err := NewPersistentSessionStore(ctx, shared, testSessionSecret, nil)
		require.NoError(t, err)
		defer s.Close()

		expired := liveSession("old")
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, s.Put(ctx, "tok-old", expired))
		require.NoError(t, s.Put(ctx, "tok-new", liveSession("new")))

		assert.Equal(t, 1, s.sweepExpired(ctx, time.Now()))
		items, err := shared.Scan(ctx, SessionsTable, nil)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("ShortSecretRejected", func(t *testing.T) {
		for _, secret := range []string{"short", "sixteen-byte-key", strings.Repeat("k", 31)} {
			_, err := NewPersistentSessionStore(ctx, memory.NewStore(), []byte(secret), nil)
			assert.Error(t, err, "%d-byte secret", len(secret))
		}
	})
}
