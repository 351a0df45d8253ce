package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/disaster-alert-service/internal/observability"
)

type report struct {
	Location string  `json:"location"`
	Level    string  `json:"risk_level"`
	Score    float64 `json:"confidence_score"`
}

func newTestCache(t *testing.T) (*Cache[report], *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	metrics := observability.NewMetricsForTesting()
	return NewCache[report](client, time.Minute, metrics), mr, metrics
}

func TestKey(t *testing.T) {
	assert.Equal(t, "assessment:new_delhi", Key("  New Delhi"))
}

func TestCache_SetGet(t *testing.T) {
	cache, mr, metrics := newTestCache(t)
	ctx := context.Background()

	want := report{Location: "mumbai", Level: "HIGH", Score: 0.83}
	require.NoError(t, cache.Set(ctx, "Mumbai", want))

	got, ok, err := cache.Get(ctx, "mumbai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	assert.Equal(t, time.Minute, mr.TTL("assessment:mumbai"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssessmentCache.WithLabelValues("hit")))
}

func TestCache_Miss(t *testing.T) {
	cache, _, metrics := newTestCache(t)

	_, ok, err := cache.Get(context.Background(), "pune")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssessmentCache.WithLabelValues("miss")))
}

func TestCache_Expiry(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "delhi", report{Location: "delhi"}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "delhi")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	require.NoError(t, mr.Set("assessment:chennai", "{not json"))

	_, ok, err := cache.Get(context.Background(), "chennai")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "kolkata", report{Location: "kolkata"}))
	require.NoError(t, cache.Invalidate(ctx, "Kolkata"))
	assert.False(t, mr.Exists("assessment:kolkata"))
}

func TestCache_ServerDown(t *testing.T) {
	cache, mr, metrics := newTestCache(t)
	mr.Close()

	_, ok, err := cache.Get(context.Background(), "mumbai")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssessmentCache.WithLabelValues("error")))

	assert.Error(t, cache.Set(context.Background(), "mumbai", report{}))
}

func TestNewCache_DefaultTTL(t *testing.T) {
	c := NewCache[report](redis.NewClient(&redis.Options{}), 0, observability.NewMetricsForTesting())
	assert.Equal(t, DefaultTTL, c.ttl)
}
