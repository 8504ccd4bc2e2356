package monitor

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ResolverStats counts cache activity since the resolver was created.
type ResolverStats struct {
	Hits    uint64
	Misses  uint64
	Fetches uint64
}

// MetricResolver reads exchange rates through a MetricCache.
//
// Lookups for the same (market, height) issued concurrently share a single
// upstream call. The call is detached from caller cancellation; the source is
// expected to bound it with its own timeout.
type MetricResolver struct {
	source MetricSource
	cache  MetricCache
	flight singleflight.Group

	hits    atomic.Uint64
	misses  atomic.Uint64
	fetches atomic.Uint64
}

// NewMetricResolver wires a source and a cache together.
func NewMetricResolver(source MetricSource, cache MetricCache) *MetricResolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &MetricResolver{source: source, cache: cache}
}

// Resolve returns the exchange rate of market at height.
func (r *MetricResolver) Resolve(ctx context.Context, market common.Address, height uint64) (decimal.Decimal, error) {
	key := CacheKey{Address: market, Height: height}
	if v, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		return v, nil
	}
	r.misses.Add(1)

	// Each caller stops waiting on its own cancellation; the shared fetch runs detached.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(flightKey(key), func() (interface{}, error) {
		// A concurrent caller may have stored the value between the miss and here.
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
		r.fetches.Add(1)
		v, err := r.source.ExchangeRate(fetchCtx, market, height)
		if err != nil {
			return nil, err
		}
		r.cache.Put(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return decimal.Decimal{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Decimal{}, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// Stats returns a snapshot of the resolver counters.
func (r *MetricResolver) Stats() ResolverStats {
	return ResolverStats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Fetches: r.fetches.Load(),
	}
}

// CacheLen reports the number of cached values.
func (r *MetricResolver) CacheLen() int {
	return r.cache.Len()
}

func flightKey(k CacheKey) string {
	return k.Address.Hex() + "@" + strconv.FormatUint(k.Height, 10)
}
