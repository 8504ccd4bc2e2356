package monitor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// fakeChain is an in-memory Registry and MetricSource.
type fakeChain struct {
	mu sync.Mutex

	markets map[uint64][]common.Address
	names   map[common.Address]string
	rates   map[CacheKey]decimal.Decimal

	marketsErr error
	rateErr    map[CacheKey]error

	rateCalls map[CacheKey]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		markets:   make(map[uint64][]common.Address),
		names:     make(map[common.Address]string),
		rates:     make(map[CacheKey]decimal.Decimal),
		rateErr:   make(map[CacheKey]error),
		rateCalls: make(map[CacheKey]int),
	}
}

func (f *fakeChain) list(height uint64, name string, addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[height] = append(f.markets[height], addr)
	f.names[addr] = name
}

func (f *fakeChain) listAt(name string, addr common.Address, heights ...uint64) {
	for _, height := range heights {
		f.list(height, name, addr)
	}
}

func (f *fakeChain) rate(addr common.Address, height uint64, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[CacheKey{Address: addr, Height: height}] = decimal.NewFromInt(v)
}

func (f *fakeChain) calls(addr common.Address, height uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rateCalls[CacheKey{Address: addr, Height: height}]
}

func (f *fakeChain) AllMarkets(_ context.Context, height uint64) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketsErr != nil {
		return nil, f.marketsErr
	}
	return append([]common.Address(nil), f.markets[height]...), nil
}

func (f *fakeChain) Name(_ context.Context, market common.Address, _ uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[market], nil
}

func (f *fakeChain) ExchangeRate(_ context.Context, market common.Address, height uint64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := CacheKey{Address: market, Height: height}
	f.rateCalls[key]++
	if err := f.rateErr[key]; err != nil {
		return decimal.Decimal{}, err
	}
	v, ok := f.rates[key]
	if !ok {
		return decimal.Decimal{}, ErrMissingHistory
	}
	return v, nil
}

var (
	addrX = common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643")
	addrY = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
)
