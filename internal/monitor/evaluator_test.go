package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const h = uint64(1000)

func newTestEvaluator(chain *fakeChain) *Evaluator {
	return NewEvaluator(
		NewInstrumentResolver(chain),
		NewMetricResolver(chain, NewMemoryCache()),
		EvaluatorOptions{Concurrency: 4},
		zerolog.Nop(),
	)
}

func TestEvaluateRegression(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, addrX, findings[0].Address)
	assert.Equal(t, "cX", findings[0].Instrument)
	assert.Equal(t, "100", findings[0].PriorRate.String())
	assert.Equal(t, "90", findings[0].CurrentRate.String())
}

func TestEvaluateFlatRate(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 100)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestEvaluateOnlyRegressedMarket(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.listAt("cY", addrY, h-1, h)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)
	chain.rate(addrY, h-1, 50)
	chain.rate(addrY, h, 55)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, addrX, findings[0].Address)
}

func TestEvaluateNewListing(t *testing.T) {
	chain := newFakeChain()
	chain.list(h, "cX", addrX)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 10)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Zero(t, chain.calls(addrX, h-1), "a market not listed at h-1 has no prior to read")
}

func TestEvaluateNewListingAlongsideExistingMarket(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.list(h, "cY", addrY)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)
	chain.rate(addrY, h-1, 100)
	chain.rate(addrY, h, 10)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, addrX, findings[0].Address)
}

func TestEvaluatePriorWithoutHistory(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.rate(addrX, h, 10)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateRegistryFailure(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.marketsErr = fmt.Errorf("dial node: %w", ErrUpstreamUnavailable)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Nil(t, findings)
}

func TestEvaluateMetricFailureAbortsEvaluation(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.listAt("cY", addrY, h-1, h)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)
	chain.rate(addrY, h-1, 50)
	chain.rateErr[CacheKey{Address: addrY, Height: h}] = ErrDecode

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), h)
	require.ErrorIs(t, err, ErrDecode)
	assert.Nil(t, findings)
}

func TestEvaluateEmptyRegistry(t *testing.T) {
	findings, err := newTestEvaluator(newFakeChain()).Evaluate(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestEvaluateGenesisHasNoPrior(t *testing.T) {
	chain := newFakeChain()
	chain.list(0, "cX", addrX)
	chain.rate(addrX, 0, 1)

	findings, err := newTestEvaluator(chain).Evaluate(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateReusesPriorFromCache(t *testing.T) {
	chain := newFakeChain()
	for height := h - 1; height <= h+1; height++ {
		chain.list(height, "cX", addrX)
	}
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 101)
	chain.rate(addrX, h+1, 102)

	ev := newTestEvaluator(chain)
	_, err := ev.Evaluate(context.Background(), h)
	require.NoError(t, err)
	_, err = ev.Evaluate(context.Background(), h+1)
	require.NoError(t, err)

	assert.Equal(t, 1, chain.calls(addrX, h), "rate at h should be fetched once across both evaluations")
}

func TestEvaluateOutOfOrder(t *testing.T) {
	chain := newFakeChain()
	for height := h - 1; height <= h+1; height++ {
		chain.list(height, "cX", addrX)
	}
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)
	chain.rate(addrX, h+1, 95)

	ev := newTestEvaluator(chain)
	later, err := ev.Evaluate(context.Background(), h+1)
	require.NoError(t, err)
	earlier, err := ev.Evaluate(context.Background(), h)
	require.NoError(t, err)

	assert.Empty(t, later)
	require.Len(t, earlier, 1)
	assert.Equal(t, h, earlier[0].Height)
}

func TestEvaluateConcurrentSameHeight(t *testing.T) {
	chain := newFakeChain()
	chain.listAt("cX", addrX, h-1, h)
	chain.listAt("cY", addrY, h-1, h)
	chain.rate(addrX, h-1, 100)
	chain.rate(addrX, h, 90)
	chain.rate(addrY, h-1, 50)
	chain.rate(addrY, h, 40)

	ev := newTestEvaluator(chain)

	const runs = 8
	results := make([][]Finding, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := ev.Evaluate(context.Background(), h)
			assert.NoError(t, err)
			results[i] = f
		}(i)
	}
	wg.Wait()

	require.Len(t, results[0], 2)
	for i := 1; i < runs; i++ {
		assert.Equal(t, results[0], results[i])
	}
}
