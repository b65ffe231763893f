package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type cachedSession struct {
	sess     Session
	cachedAt time.Time
}

// CachedStore is a size-limited, least recently used cache in front of another
// Store. Writes go through to the backing store. Entries expire after ttl so a
// session changed by another bridge instance is seen again within ttl.
type CachedStore struct {
	backing Store
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	ll    *list.List
	cache map[string]*list.Element
}

// NewCachedStore wraps backing with an LRU cache of up to maxSize sessions.
func NewCachedStore(backing Store, maxSize int, ttl time.Duration) (*CachedStore, error) {
	if backing == nil {
		return nil, errors.New("backing store cannot be nil")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be greater than 0")
	}
	return &CachedStore{
		backing: backing,
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		ll:      list.New(),
		cache:   make(map[string]*list.Element),
	}, nil
}

// Set writes sess to the backing store and then caches it.
func (c *CachedStore) Set(ctx context.Context, sess Session) error {
	if err := c.backing.Set(ctx, sess); err != nil {
		return err
	}
	c.put(sess)
	return nil
}

// Fetch returns a cached session, falling back to the backing store on a miss
// or an expired entry. Missing sessions are not cached.
func (c *CachedStore) Fetch(ctx context.Context, childDeviceID string) (Session, error) {
	c.mu.Lock()
	if elem, ok := c.cache[childDeviceID]; ok {
		item := elem.Value.(*cachedSession)
		if c.now().Sub(item.cachedAt) < c.ttl {
			c.ll.MoveToFront(elem)
			c.mu.Unlock()
			return item.sess, nil
		}
		c.remove(elem)
	}
	c.mu.Unlock()

	sess, err := c.backing.Fetch(ctx, childDeviceID)
	if err != nil {
		return Session{}, err
	}
	c.put(sess)
	return sess, nil
}

// Delete removes the session from the cache and the backing store.
func (c *CachedStore) Delete(ctx context.Context, childDeviceID string) error {
	c.mu.Lock()
	if elem, ok := c.cache[childDeviceID]; ok {
		c.remove(elem)
	}
	c.mu.Unlock()
	return c.backing.Delete(ctx, childDeviceID)
}

// Close closes the backing store.
func (c *CachedStore) Close() error {
	return c.backing.Close()
}

func (c *CachedStore) put(sess Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := &cachedSession{sess: sess, cachedAt: c.now()}
	if elem, ok := c.cache[sess.ChildDeviceID]; ok {
		elem.Value = item
		c.ll.MoveToFront(elem)
		return
	}
	c.cache[sess.ChildDeviceID] = c.ll.PushFront(item)
	if c.ll.Len() > c.maxSize {
		c.remove(c.ll.Back())
	}
}

// remove must be called with mu held.
func (c *CachedStore) remove(elem *list.Element) {
	item := c.ll.Remove(elem).(*cachedSession)
	delete(c.cache, item.sess.ChildDeviceID)
}
