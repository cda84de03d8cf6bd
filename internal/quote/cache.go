package quote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptoedu/paper-engine/internal/model"
)

// CachedProvider wraps a primary Provider with a short-TTL Redis cache so a
// burst of orders on the same instrument does not hammer the upstream quote
// API. The TTL must stay below the engine's staleness threshold.
type CachedProvider struct {
	primary Provider
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedProvider creates a cached wrapper around a primary provider.
func NewCachedProvider(primary Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{primary: primary, rdb: rdb, ttl: ttl}
}

func (p *CachedProvider) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	// Try cache.
	data, err := p.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return q, nil
		}
	}

	// Cache miss: fetch from primary. Cache failures are not quote
	// failures; the fresh quote is returned either way.
	q, err := p.primary.GetQuote(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}

	if data, err := json.Marshal(q); err == nil {
		p.rdb.Set(ctx, quoteKey(symbol), data, p.ttl)
	}
	return q, nil
}

func quoteKey(symbol string) string { return "quote:" + symbol }
