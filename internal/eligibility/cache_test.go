package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

type countingProvider struct {
	calls       int
	eligibility domain.WorkerEligibility
}

func (p *countingProvider) Lookup(ctx context.Context, workerID string) (*domain.WorkerEligibility, error) {
	p.calls++
	out := p.eligibility
	out.WorkerID = workerID
	return &out, nil
}

func newTestCache(t *testing.T, inner Provider, ttl time.Duration) (*CachingProvider, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachingProvider(inner, client, ttl, zap.NewNop()), server
}

func TestCachingProviderReadsThroughOnce(t *testing.T) {
	workshop := "ws-1"
	inner := &countingProvider{eligibility: domain.WorkerEligibility{
		Tier:              domain.TierWorkshop,
		WorkshopID:        &workshop,
		CanAcceptSessions: true,
	}}
	cache, _ := newTestCache(t, inner, time.Minute)

	first, err := cache.Lookup(context.Background(), "worker-1")
	require.NoError(t, err)
	second, err := cache.Lookup(context.Background(), "worker-1")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first.Tier, second.Tier)
	require.NotNil(t, second.WorkshopID)
	assert.Equal(t, workshop, *second.WorkshopID)
	assert.True(t, second.CanAcceptSessions)
}

func TestCachingProviderExpires(t *testing.T) {
	inner := &countingProvider{eligibility: domain.WorkerEligibility{
		Tier:              domain.TierUnrestricted,
		CanAcceptSessions: true,
	}}
	cache, server := newTestCache(t, inner, 10*time.Second)

	_, err := cache.Lookup(context.Background(), "worker-2")
	require.NoError(t, err)

	server.FastForward(11 * time.Second)

	_, err = cache.Lookup(context.Background(), "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachingProviderKeysPerWorker(t *testing.T) {
	inner := &countingProvider{eligibility: domain.WorkerEligibility{
		Tier:              domain.TierUnrestricted,
		CanAcceptSessions: true,
	}}
	cache, _ := newTestCache(t, inner, time.Minute)

	a, err := cache.Lookup(context.Background(), "worker-a")
	require.NoError(t, err)
	b, err := cache.Lookup(context.Background(), "worker-b")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "worker-a", a.WorkerID)
	assert.Equal(t, "worker-b", b.WorkerID)
}
