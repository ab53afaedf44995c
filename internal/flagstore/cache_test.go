package flagstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// countingBackend wraps a real store and counts history reads.
type countingBackend struct {
	*Store
	reads int
}

func (b *countingBackend) FlagsForUser(ctx context.Context, q escalation.HistoryQuery) ([]scan.RedFlag, error) {
	b.reads++
	return b.Store.FlagsForUser(ctx, q)
}

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *countingBackend, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend := &countingBackend{Store: newTestStore(t)}
	return mr, backend, NewCache(backend, NewRedisKV(client), time.Minute, zap.NewNop())
}

func TestCache_ReadThrough(t *testing.T) {
	_, backend, cache := setupTestCache(t)
	ctx := context.Background()
	q := escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90}

	require.NoError(t, cache.RecordFlags(ctx, "u1", "s1", daysBefore(5), []scan.RedFlag{controlling(scan.SeverityHigh)}))

	first, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)
	second, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.reads)
	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, scan.SeverityHigh, second[0].Severity)
}

func TestCache_WriteInvalidatesUser(t *testing.T) {
	_, backend, cache := setupTestCache(t)
	ctx := context.Background()
	q := escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90}

	_, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)

	require.NoError(t, cache.RecordFlags(ctx, "u1", "s1", daysBefore(5), []scan.RedFlag{controlling(scan.SeverityHigh)}))

	flags, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.reads)
	assert.Len(t, flags, 1)
}

func TestCache_KeysSeparateWindowsAndExclusions(t *testing.T) {
	_, backend, cache := setupTestCache(t)
	ctx := context.Background()

	queries := []escalation.HistoryQuery{
		{UserID: "u1", AsOf: asOf, WindowDays: 90},
		{UserID: "u1", AsOf: asOf, WindowDays: 180},
		{UserID: "u1", AsOf: asOf, WindowDays: 90, ExcludeScanID: "s1"},
		{UserID: "u2", AsOf: asOf, WindowDays: 90},
	}
	for _, q := range queries {
		_, err := cache.FlagsForUser(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, len(queries), backend.reads)
}

func TestCache_EntriesExpire(t *testing.T) {
	mr, backend, cache := setupTestCache(t)
	ctx := context.Background()
	q := escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90}

	_, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.FlagsForUser(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.reads)
}

func TestCache_CorruptEntryFallsThrough(t *testing.T) {
	mr, backend, cache := setupTestCache(t)
	ctx := context.Background()
	q := escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90}

	require.NoError(t, mr.Set(cache.windowKey(q, 0), "{not json"))

	flags, err := cache.FlagsForUser(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, flags)
	assert.Equal(t, 1, backend.reads)
}

func TestCache_RedisDownFallsThrough(t *testing.T) {
	mr, backend, cache := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, backend.RecordFlags(ctx, "u1", "s1", daysBefore(5), []scan.RedFlag{controlling(scan.SeverityHigh)}))
	mr.Close()

	flags, err := cache.FlagsForUser(ctx, escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90})
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	// Writes still reach the backend.
	require.NoError(t, cache.RecordFlags(ctx, "u1", "s2", daysBefore(1), nil))
	assert.Equal(t, 1, backend.reads)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, kv.Set(ctx, "forever", "v", 0))
	mr.FastForward(24 * time.Hour)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	v, err = kv.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	n, err := kv.Incr(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
