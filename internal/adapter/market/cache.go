package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finsight-ai/finsight/internal/adapter/observability"
	"github.com/finsight-ai/finsight/internal/domain"
)

// CachedOracle is a read-through price cache in front of another oracle.
// Cache trouble degrades to the upstream, never fails the lookup.
type CachedOracle struct {
	next domain.MarketOracle
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedOracle wraps next with a Redis cache. ttl bounds staleness.
func NewCachedOracle(next domain.MarketOracle, rdb *redis.Client, ttl time.Duration) *CachedOracle {
	return &CachedOracle{next: next, rdb: rdb, ttl: ttl}
}

func priceKey(symbol string) string { return "price:" + symbol }

// LastPrices implements domain.MarketOracle. Cached symbols are served from
// Redis; the remainder goes upstream in one batch and is written back.
func (c *CachedOracle) LastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	prices := make(map[string]float64, len(symbols))
	missing := symbols

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = priceKey(s)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("price cache read failed, going upstream", slog.Any("error", err))
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, symbols[i])
				continue
			}
			p, perr := strconv.ParseFloat(s, 64)
			if perr != nil {
				missing = append(missing, symbols[i])
				continue
			}
			prices[symbols[i]] = p
		}
		observability.ObserveOracleLookup("hit", len(prices))
		observability.ObserveOracleLookup("miss", len(missing))
	}
	if len(missing) == 0 {
		return prices, nil
	}

	fresh, err := c.next.LastPrices(ctx, missing)
	if err != nil {
		if len(prices) > 0 {
			// Partial answer beats none; the caller treats absent symbols
			// as degraded anyway.
			slog.Warn("upstream price lookup failed, serving cached subset",
				slog.Int("cached", len(prices)), slog.Any("error", err))
			return prices, nil
		}
		return nil, fmt.Errorf("op=market.CachedOracle.LastPrices: %w", err)
	}

	pipe := c.rdb.Pipeline()
	for sym, p := range fresh {
		prices[sym] = p
		pipe.Set(ctx, priceKey(sym), strconv.FormatFloat(p, 'f', -1, 64), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("price cache write failed", slog.Any("error", err))
	}
	return prices, nil
}

var _ domain.MarketOracle = (*CachedOracle)(nil)
