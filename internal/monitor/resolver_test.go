package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCachesValue(t *testing.T) {
	chain := newFakeChain()
	chain.rate(addrX, 10, 100)
	r := NewMetricResolver(chain, NewMemoryCache())

	first, err := r.Resolve(context.Background(), addrX, 10)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), addrX, 10)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, chain.calls(addrX, 10), "second resolve must be served from cache")
	assert.Equal(t, ResolverStats{Hits: 1, Misses: 1, Fetches: 1}, r.Stats())
	assert.Equal(t, 1, r.CacheLen())
}

func TestResolvePropagatesErrorsWithoutCaching(t *testing.T) {
	chain := newFakeChain()
	key := CacheKey{Address: addrX, Height: 10}
	chain.rateErr[key] = ErrUpstreamUnavailable
	r := NewMetricResolver(chain, nil)

	_, err := r.Resolve(context.Background(), addrX, 10)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	delete(chain.rateErr, key)
	chain.rate(addrX, 10, 7)
	v, err := r.Resolve(context.Background(), addrX, 10)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, 2, chain.calls(addrX, 10))
}

func TestResolveMissingHistoryNotCached(t *testing.T) {
	chain := newFakeChain()
	r := NewMetricResolver(chain, NewMemoryCache())

	_, err := r.Resolve(context.Background(), addrX, 3)
	assert.True(t, errors.Is(err, ErrMissingHistory))
	assert.Equal(t, 0, r.CacheLen())
}

func TestResolveConcurrentSameKey(t *testing.T) {
	chain := newFakeChain()
	chain.rate(addrX, 42, 1000)
	r := NewMetricResolver(chain, NewMemoryCache())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Resolve(context.Background(), addrX, 42)
			assert.NoError(t, err)
			assert.True(t, v.Equal(decimal.NewFromInt(1000)))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, chain.calls(addrX, 42), 2)
}

// gatedSource blocks every fetch until release is closed.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  chan error
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
}

func (g *gatedSource) ExchangeRate(ctx context.Context, _ common.Address, _ uint64) (decimal.Decimal, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.ctxErr <- ctx.Err()
	return decimal.NewFromInt(77), nil
}

func TestResolveCancelledCallerDoesNotFailOthers(t *testing.T) {
	src := newGatedSource()
	r := NewMetricResolver(src, NewMemoryCache())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, addrX, 9)
		errA <- err
	}()
	<-src.started

	type result struct {
		v   decimal.Decimal
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := r.Resolve(context.Background(), addrX, 9)
		resB <- result{v, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(src.release)
	got := <-resB
	require.NoError(t, got.err)
	assert.True(t, got.v.Equal(decimal.NewFromInt(77)))
	assert.NoError(t, <-src.ctxErr, "shared fetch must not observe the first caller's cancellation")

	cached, ok := r.cache.Get(CacheKey{Address: addrX, Height: 9})
	assert.True(t, ok)
	assert.True(t, cached.Equal(decimal.NewFromInt(77)))
}

func TestLRUCacheEvicts(t *testing.T) {
	c, err := NewLRUCache(2)
	require.NoError(t, err)

	c.Put(CacheKey{Address: addrX, Height: 1}, decimal.NewFromInt(1))
	c.Put(CacheKey{Address: addrX, Height: 2}, decimal.NewFromInt(2))
	c.Put(CacheKey{Address: addrX, Height: 3}, decimal.NewFromInt(3))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(CacheKey{Address: addrX, Height: 1})
	assert.False(t, ok)
	v, ok := c.Get(CacheKey{Address: addrX, Height: 3})
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(3)))
}

func TestNewCacheSelectsImplementation(t *testing.T) {
	c, err := NewCache(0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCache(16)
	require.NoError(t, err)
	assert.IsType(t, &LRUCache{}, c)
}
