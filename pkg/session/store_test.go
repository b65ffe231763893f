package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Set, Fetch, and Delete cycle", func(t *testing.T) {
		sess := session.Session{ChildDeviceID: "sensor-1", GatewayID: "gw-1", ConnectedAt: connectedAt}
		require.NoError(t, store.Set(ctx, sess))

		fetched, err := store.Fetch(ctx, "sensor-1")
		require.NoError(t, err)
		assert.Equal(t, sess.ChildDeviceID, fetched.ChildDeviceID)
		assert.Equal(t, sess.GatewayID, fetched.GatewayID)
		assert.True(t, sess.ConnectedAt.Equal(fetched.ConnectedAt))

		require.NoError(t, store.Delete(ctx, "sensor-1"))
		_, err = store.Fetch(ctx, "sensor-1")
		assert.True(t, errors.Is(err, session.ErrNotFound))
	})

	t.Run("Set replaces the gateway", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, session.Session{ChildDeviceID: "sensor-2", GatewayID: "gw-1", ConnectedAt: connectedAt}))
		require.NoError(t, store.Set(ctx, session.Session{ChildDeviceID: "sensor-2", GatewayID: "gw-2", ConnectedAt: connectedAt}))

		fetched, err := store.Fetch(ctx, "sensor-2")
		require.NoError(t, err)
		assert.Equal(t, "gw-2", fetched.GatewayID)
		require.NoError(t, store.Delete(ctx, "sensor-2"))
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := store.Fetch(ctx, "never-connected")
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "never-connected"))
	})

	t.Run("empty child device id is rejected", func(t *testing.T) {
		assert.Error(t, store.Set(ctx, session.Session{GatewayID: "gw-1"}))
	})
}

func TestInMemoryStore(t *testing.T) {
	store := session.NewInMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	runStoreContract(t, store)
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := session.NewRedisStore(ctx, &session.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewFirestoreStore_Validation(t *testing.T) {
	_, err := session.NewFirestoreStore(nil, "sessions")
	assert.Error(t, err)
}
