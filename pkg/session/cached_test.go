package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts the Fetch calls that reach the wrapped store.
type countingStore struct {
	session.Store
	fetches atomic.Int32
}

func (c *countingStore) Fetch(ctx context.Context, childDeviceID string) (session.Session, error) {
	c.fetches.Add(1)
	return c.Store.Fetch(ctx, childDeviceID)
}

func TestCachedStore_Contract(t *testing.T) {
	store, err := session.NewCachedStore(session.NewInMemoryStore(), 10, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runStoreContract(t, store)
}

func TestCachedStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: session.NewInMemoryStore()}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, backing.Store.Set(ctx, session.Session{ChildDeviceID: id, GatewayID: "gw-" + id}))
	}

	store, err := session.NewCachedStore(backing, 2, time.Minute)
	require.NoError(t, err)

	_, _ = store.Fetch(ctx, "a")
	_, _ = store.Fetch(ctx, "b")
	assert.Equal(t, int32(2), backing.fetches.Load())

	_, _ = store.Fetch(ctx, "a")
	assert.Equal(t, int32(2), backing.fetches.Load(), "a is cached")

	_, _ = store.Fetch(ctx, "c")
	assert.Equal(t, int32(3), backing.fetches.Load())

	_, _ = store.Fetch(ctx, "a")
	assert.Equal(t, int32(3), backing.fetches.Load(), "a was used more recently than b")

	sess, err := store.Fetch(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "gw-b", sess.GatewayID)
	assert.Equal(t, int32(4), backing.fetches.Load(), "b was evicted")
}

func TestCachedStore_WritesThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: session.NewInMemoryStore()}
	store, err := session.NewCachedStore(backing, 10, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, session.Session{ChildDeviceID: "sensor-1", GatewayID: "gw-1"}))
	fromBacking, err := backing.Store.Fetch(ctx, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "gw-1", fromBacking.GatewayID)

	sess, err := store.Fetch(ctx, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "gw-1", sess.GatewayID)
	assert.Zero(t, backing.fetches.Load(), "Set populates the cache")

	require.NoError(t, store.Delete(ctx, "sensor-1"))
	_, err = store.Fetch(ctx, "sensor-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = backing.Store.Fetch(ctx, "sensor-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCachedStore_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: session.NewInMemoryStore()}
	store, err := session.NewCachedStore(backing, 10, 30*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, session.Session{ChildDeviceID: "sensor-1", GatewayID: "gw-1"}))
	// Another bridge instance moves the child to a new gateway.
	require.NoError(t, backing.Store.Set(ctx, session.Session{ChildDeviceID: "sensor-1", GatewayID: "gw-2"}))

	sess, err := store.Fetch(ctx, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "gw-1", sess.GatewayID)

	require.Eventually(t, func() bool {
		sess, err := store.Fetch(ctx, "sensor-1")
		return err == nil && sess.GatewayID == "gw-2"
	}, time.Second, 10*time.Millisecond)
}

func TestNewCachedStore_Validation(t *testing.T) {
	_, err := session.NewCachedStore(nil, 10, time.Minute)
	assert.Error(t, err)
	_, err = session.NewCachedStore(session.NewInMemoryStore(), 0, time.Minute)
	assert.Error(t, err)
	_, err = session.NewCachedStore(session.NewInMemoryStore(), 10, 0)
	assert.Error(t, err)
}
