package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/domain"
)

// CachingProvider is a read-through Redis cache in front of another
// provider. Visibility filtering is safe to cache briefly, so the TTL is
// short. Cache failures degrade to the inner provider, never to an error.
type CachingProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingProvider wraps a provider with a Redis cache.
func NewCachingProvider(inner Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachingProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachingProvider{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(workerID string) string {
	return "eligibility:" + workerID
}

// Lookup returns the cached eligibility when present, otherwise reads
// through and stores the result.
func (p *CachingProvider) Lookup(ctx context.Context, workerID string) (*domain.WorkerEligibility, error) {
	if p.client != nil {
		raw, err := p.client.Get(ctx, cacheKey(workerID)).Bytes()
		if err == nil {
			var eligibility domain.WorkerEligibility
			if unmarshalErr := json.Unmarshal(raw, &eligibility); unmarshalErr == nil {
				return &eligibility, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			p.logger.Warn("eligibility cache read failed", zap.String("worker_id", workerID), zap.Error(err))
		}
	}

	eligibility, err := p.inner.Lookup(ctx, workerID)
	if err != nil {
		return nil, err
	}

	if p.client != nil {
		if raw, marshalErr := json.Marshal(eligibility); marshalErr == nil {
			if setErr := p.client.Set(ctx, cacheKey(workerID), raw, p.ttl).Err(); setErr != nil {
				p.logger.Warn("eligibility cache write failed", zap.String("worker_id", workerID), zap.Error(setErr))
			}
		}
	}
	return eligibility, nil
}
