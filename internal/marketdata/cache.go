package marketdata

import (
	"context"
	"fmt"
	"time"

	"etf-trend-bot/internal/models"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// CachedProvider keeps daily history for a fixed TTL. Quotes pass through
// uncached so exits always see a fresh price.
type CachedProvider struct {
	next   Provider
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProvider wraps next with a ristretto cache.
func NewCachedProvider(next Provider, ttl time.Duration, logger *zap.Logger) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		// cost counts entries, one per symbol
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger}, nil
}

// CurrentPrice always goes to the wrapped provider; quotes are not cached.
func (c *CachedProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return c.next.CurrentPrice(ctx, symbol)
}

// DailyHistory serves a cached series when it is long enough for minDays.
func (c *CachedProvider) DailyHistory(ctx context.Context, symbol string, minDays int) ([]models.Bar, error) {
	if v, ok := c.cache.Get(symbol); ok {
		if bars, ok := v.([]models.Bar); ok && len(bars) >= minDays {
			return bars, nil
		}
	}

	bars, err := c.next.DailyHistory(ctx, symbol, minDays)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(symbol, bars, 1, c.ttl)
	c.cache.Wait()
	c.logger.Debug("Daily history cached", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}

// Close stops the cache's background goroutines.
func (c *CachedProvider) Close() {
	c.cache.Close()
}
