package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/flagstore"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/pipeline"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

func testEnv(t *testing.T) config.Env {
	t.Helper()
	return config.Env{
		DataDir:         t.TempDir(),
		DBDriver:        flagstore.DriverSQLite,
		HistoryCacheTTL: time.Minute,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func TestNew(t *testing.T) {
	s, cleanup, err := New(context.Background(), testEnv(t), zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, s)
}

func TestBuild_SQLiteHistory(t *testing.T) {
	env := testEnv(t)
	c, err := build(context.Background(), env, nil)
	require.NoError(t, err)
	defer c.cleanup()

	require.NotNil(t, c.store)
	assert.Same(t, c.store, c.history)
	assert.FileExists(t, filepath.Join(env.DataDir, "flags.db"))

	// Scans with a user id are recorded into the store.
	var answers []scan.Answer
	for _, cat := range []string{"communication_fit", "values_alignment", "emotional_maturity", "lifestyle_compatibility", "trust_safety"} {
		answers = append(answers,
			scan.Answer{QuestionID: cat + "-1", Category: cat, Rating: scan.RatingGood},
			scan.Answer{QuestionID: cat + "-2", Category: cat, Rating: scan.RatingGood},
		)
	}
	answers[9] = scan.Answer{
		QuestionID: "trust_safety-2", Category: "trust_safety", Rating: scan.RatingRedFlag,
		QuestionText: "They checked my phone while I was away",
	}
	asOf := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	res, err := c.pipeline.Evaluate(context.Background(), pipeline.Request{
		UserID: "u1", ScanID: "s1", AsOf: asOf, Answers: answers,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RedFlags)

	records, err := c.store.ListRecords(context.Background(), flagstore.ListQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, records, len(res.RedFlags))
}

func TestBuild_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	env := testEnv(t)
	env.RedisAddr = mr.Addr()

	c, err := build(context.Background(), env, nil)
	require.NoError(t, err)
	defer c.cleanup()

	_, ok := c.history.(*flagstore.Cache)
	assert.True(t, ok, "history should go through the Redis cache")
}

func TestBuild_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	env := testEnv(t)
	env.RedisAddr = addr

	c, err := build(context.Background(), env, zap.New(core))
	require.NoError(t, err)
	defer c.cleanup()

	assert.Same(t, c.store, c.history)
	assert.Equal(t, 1, logs.FilterMessage("flag history cache disabled").Len())
}

func TestBuild_FlagStoreFailureIsNotFatal(t *testing.T) {
	// A regular file where the data directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	env := testEnv(t)
	env.DataDir = blocker

	c, err := build(context.Background(), env, zap.New(core))
	require.NoError(t, err)
	defer c.cleanup()

	assert.Nil(t, c.store)
	assert.Nil(t, c.history)
	assert.NotNil(t, c.pipeline)
	assert.Equal(t, 1, logs.FilterMessage("flag history disabled, recurring red flags will not escalate").Len())

	s, cleanup, err := New(context.Background(), env, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, s)
}

func TestBuild_ConfigErrorsAreFatal(t *testing.T) {
	env := testEnv(t)
	env.ConfigDir = filepath.Join(t.TempDir(), "missing")
	_, err := build(context.Background(), env, nil)
	assert.Error(t, err)

	env = testEnv(t)
	env.LogicVersion = "9.9.9"
	_, err = build(context.Background(), env, nil)
	assert.ErrorContains(t, err, `MATCHIQ_LOGIC_VERSION "9.9.9" is not loaded`)

	_, cleanup, err := New(context.Background(), env, nil)
	assert.Error(t, err)
	cleanup()
}

func TestNewPipeline(t *testing.T) {
	p, cleanup, err := NewPipeline(context.Background(), testEnv(t), nil)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, []string{"1.0.0"}, p.Registry().Versions())
}

func TestBuild_DefaultVersion(t *testing.T) {
	env := testEnv(t)
	env.LogicVersion = "1.0.0"
	c, err := build(context.Background(), env, nil)
	require.NoError(t, err)
	defer c.cleanup()

	cfg, exact := c.pipeline.Config("")
	assert.True(t, exact)
	assert.Equal(t, "1.0.0", cfg.LogicVersion)
}
