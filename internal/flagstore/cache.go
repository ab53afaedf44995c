package flagstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// ErrMiss is returned by KV.Get for absent keys.
var ErrMiss = errors.New("cache miss")

// KV is the small slice of Redis the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	c *redis.Client
}

// NewRedisKV wraps an existing go-redis client.
func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

// Get returns the value at key, or ErrMiss when the key does not exist.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

// Set stores value at key. A zero ttl keeps the key until it is overwritten.
func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// Incr atomically increments the integer at key, starting from zero.
func (r *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}

// Backend is a full flag history: the Store, or anything shaped like it.
type Backend interface {
	escalation.HistoryReader
	escalation.HistoryWriter
}

// Cache is a read-through cache over a Backend.
//
// Every user has a generation counter. Writes bump it, which orphans all
// cached windows of that user; the orphans expire with the TTL. Any Redis
// failure falls through to the backend.
type Cache struct {
	backend Backend
	kv      KV
	ttl     time.Duration
	prefix  string
	logger  *zap.Logger
}

var (
	_ escalation.HistoryReader = (*Cache)(nil)
	_ escalation.HistoryWriter = (*Cache)(nil)
)

// NewCache wraps backend with kv. A non-positive ttl defaults to 5 minutes.
func NewCache(backend Backend, kv KV, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, kv: kv, ttl: ttl, prefix: "matchiq:flags:", logger: logger}
}

// RecordFlags writes through to the backend, then invalidates the user.
func (c *Cache) RecordFlags(ctx context.Context, userID, scanID string, at time.Time, flags []scan.RedFlag) error {
	if err := c.backend.RecordFlags(ctx, userID, scanID, at, flags); err != nil {
		return err
	}
	if _, err := c.kv.Incr(ctx, c.generationKey(userID)); err != nil {
		c.logger.Warn("flag cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// FlagsForUser serves a window from Redis when present.
func (c *Cache) FlagsForUser(ctx context.Context, q escalation.HistoryQuery) ([]scan.RedFlag, error) {
	gen, err := c.generation(ctx, q.UserID)
	if err != nil {
		c.logger.Warn("flag cache unavailable", zap.String("user_id", q.UserID), zap.Error(err))
		return c.backend.FlagsForUser(ctx, q)
	}

	key := c.windowKey(q, gen)
	if raw, err := c.kv.Get(ctx, key); err == nil {
		var flags []scan.RedFlag
		if err := json.Unmarshal([]byte(raw), &flags); err == nil {
			return flags, nil
		}
		c.logger.Warn("discarding corrupt flag cache entry", zap.String("key", key))
	} else if !errors.Is(err, ErrMiss) {
		c.logger.Warn("flag cache read failed", zap.String("key", key), zap.Error(err))
	}

	flags, err := c.backend.FlagsForUser(ctx, q)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(flags); err == nil {
		if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
			c.logger.Warn("flag cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return flags, nil
}

func (c *Cache) generation(ctx context.Context, userID string) (int64, error) {
	raw, err := c.kv.Get(ctx, c.generationKey(userID))
	if errors.Is(err, ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *Cache) generationKey(userID string) string {
	return c.prefix + userID + ":gen"
}

func (c *Cache) windowKey(q escalation.HistoryQuery, gen int64) string {
	return fmt.Sprintf("%s%s:g%d:w%d:%d:%s",
		c.prefix, q.UserID, gen, q.WindowDays, q.AsOf.UTC().UnixNano(), q.ExcludeScanID)
}
