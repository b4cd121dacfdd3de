package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jrsteele09/sider-auth/kv/memstore"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/stretchr/testify/require"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.False(t, session.Session{AccessToken: "a"}.Expired(now, time.Minute), "unknown expiry never expires")
	require.True(t, session.Session{Expiry: now.Add(-time.Second)}.Expired(now, 0))
	require.True(t, session.Session{Expiry: now.Add(20 * time.Second)}.Expired(now, 30*time.Second))
	require.False(t, session.Session{Expiry: now.Add(time.Hour)}.Expired(now, 30*time.Second))
}

func TestUserProfile_UnmarshalJSON(t *testing.T) {
	t.Run("string id", func(t *testing.T) {
		var p session.UserProfile
		require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","email":"a@b.c","username":"ab","name":"A B"}`), &p))
		require.Equal(t, session.UserProfile{ID: "u1", Email: "a@b.c", Username: "ab", Name: "A B"}, p)
	})

	t.Run("numeric id", func(t *testing.T) {
		var p session.UserProfile
		require.NoError(t, json.Unmarshal([]byte(`{"id":42,"email":"a@b.c"}`), &p))
		require.Equal(t, "42", p.ID)
	})

	t.Run("_id alias", func(t *testing.T) {
		var p session.UserProfile
		require.NoError(t, json.Unmarshal([]byte(`{"_id":"abc"}`), &p))
		require.Equal(t, "abc", p.ID)
	})

	t.Run("bad id", func(t *testing.T) {
		var p session.UserProfile
		require.Error(t, json.Unmarshal([]byte(`{"id":{"nested":true}}`), &p))
	})
}

func TestStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	store := session.NewStore(kv, session.ExtensionLayout)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, empty.IsZero())

	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, session.Session{AccessToken: "a1", RefreshToken: "r1", Expiry: expiry}))

	snap, err := kv.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"authToken":    "a1",
		"refreshToken": "r1",
		"tokenExpiry":  "2026-03-01T10:00:00Z",
	}, snap)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", loaded.AccessToken)
	require.Equal(t, "r1", loaded.RefreshToken)
	require.True(t, expiry.Equal(loaded.Expiry))

	// Saving an unknown expiry drops the key
	require.NoError(t, store.Save(ctx, session.Session{AccessToken: "a2", RefreshToken: "r1"}))
	_, err = kv.Get(ctx, "tokenExpiry")
	require.Error(t, err)

	require.NoError(t, store.Clear(ctx))
	snap, err = kv.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestStore_BadExpiryIsIgnored(t *testing.T) {
	ctx := context.Background()
	kv := memstore.NewWithData(map[string]string{"authToken": "a1", "tokenExpiry": "tomorrow"})
	sess, err := session.NewStore(kv, session.ExtensionLayout).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", sess.AccessToken)
	require.True(t, sess.Expiry.IsZero())
}

func TestStore_ProfileWithMirrors(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	store := session.NewStore(kv, session.PageLayout)

	p, err := store.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, store.SaveProfile(ctx, session.UserProfile{ID: "u1", Email: "jane@example.com", Username: "jane"}))

	p, err = store.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", p.Email)

	snap, err := kv.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", snap["sider_user_email"])
	require.Equal(t, "jane", snap["sider_user_name"])
	require.Equal(t, "u1", snap["sider_user_id"])

	require.NoError(t, store.Clear(ctx))
	snap, err = kv.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestStore_ClearProfileKeepsTokens(t *testing.T) {
	ctx := context.Background()
	kv := memstore.New()
	store := session.NewStore(kv, session.PageLayout)
	require.NoError(t, store.Save(ctx, session.Session{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.SaveProfile(ctx, session.UserProfile{ID: "u1", Email: "jane@example.com"}))

	require.NoError(t, store.ClearProfile(ctx))

	snap, err := kv.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"sider_access_token": "a", "sider_refresh_token": "r"}, snap)
}

func TestLayout_Keys(t *testing.T) {
	require.Equal(t, []string{"authToken", "refreshToken", "user", "tokenExpiry"}, session.ExtensionLayout.Keys())
	require.Len(t, session.PageLayout.Keys(), 7)
	require.Empty(t, session.ExtensionLayout.MirrorKeys())
}
