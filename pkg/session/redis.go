package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisConfig holds the connection settings for RedisStore.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix is prepended to child device ids to form Redis keys.
	KeyPrefix string `yaml:"key_prefix"`
	// TTL expires sessions whose gateway never reported a disconnect. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// RedisStore is a distributed Store backed by Redis, shared by every bridge
// instance so a command can be routed by an instance other than the one that
// saw the connect.
type RedisStore struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for session store: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for session store.")
	return NewRedisStoreWithClient(rdb, cfg, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership
// of it and closes it on Close.
func NewRedisStoreWithClient(rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		redisClient: rdb,
		keyPrefix:   cfg.KeyPrefix,
		ttl:         cfg.TTL,
		logger:      logger.With().Str("component", "RedisSessionStore").Logger(),
	}
}

func (s *RedisStore) key(childDeviceID string) string {
	return s.keyPrefix + childDeviceID
}

// Set marshals the session to JSON and stores it with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, sess Session) error {
	if sess.ChildDeviceID == "" {
		return fmt.Errorf("session has no child device id")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session for %s: %w", sess.ChildDeviceID, err)
	}
	if err := s.redisClient.Set(ctx, s.key(sess.ChildDeviceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in redis for %s: %w", sess.ChildDeviceID, err)
	}
	return nil
}

// Fetch retrieves and unmarshals a session.
func (s *RedisStore) Fetch(ctx context.Context, childDeviceID string) (Session, error) {
	data, err := s.redisClient.Get(ctx, s.key(childDeviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, fmt.Errorf("device %q: %w", childDeviceID, ErrNotFound)
		}
		return Session{}, fmt.Errorf("redis get failed for %s: %w", childDeviceID, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session for %s: %w", childDeviceID, err)
	}
	return sess, nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, childDeviceID string) error {
	if err := s.redisClient.Del(ctx, s.key(childDeviceID)).Err(); err != nil {
		return fmt.Errorf("redis del failed for %s: %w", childDeviceID, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
