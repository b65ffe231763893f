//go:build integration

package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against real backends: REDIS_ADDR names a Redis server and
// FIRESTORE_EMULATOR_HOST a Firestore emulator.

func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	cfg := &session.RedisConfig{Addr: addr, KeyPrefix: "test:session:", TTL: time.Minute}
	store, err := session.NewRedisStore(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreContract(t, store)

	t.Run("keys carry the prefix and expire", func(t *testing.T) {
		raw := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = raw.Close() })

		require.NoError(t, store.Set(ctx, session.Session{ChildDeviceID: "sensor-ttl", GatewayID: "gw-1"}))
		ttl, err := raw.TTL(ctx, "test:session:sensor-ttl").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})
}

func TestFirestoreStore_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := session.NewFirestoreStore(client, "child-sessions")
	require.NoError(t, err)

	runStoreContract(t, store)
}
