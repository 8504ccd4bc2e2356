package monitor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InstrumentResolver lists the markets tracked at a height.
type InstrumentResolver struct {
	registry Registry
}

// NewInstrumentResolver wraps a registry.
func NewInstrumentResolver(registry Registry) *InstrumentResolver {
	return &InstrumentResolver{registry: registry}
}

// List returns every market registered at height together with its name.
// Names are read fresh on each call.
func (r *InstrumentResolver) List(ctx context.Context, height uint64) ([]Instrument, error) {
	markets, err := r.registry.AllMarkets(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("list markets at %d: %w", height, err)
	}

	instruments := make([]Instrument, 0, len(markets))
	for _, addr := range markets {
		name, err := r.registry.Name(ctx, addr, height)
		if err != nil {
			return nil, fmt.Errorf("read name of %s at %d: %w", addr.Hex(), height, err)
		}
		instruments = append(instruments, Instrument{Address: addr, Name: name})
	}
	return instruments, nil
}

// Listed returns the set of market addresses registered at height, without names.
func (r *InstrumentResolver) Listed(ctx context.Context, height uint64) (map[common.Address]struct{}, error) {
	markets, err := r.registry.AllMarkets(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("list markets at %d: %w", height, err)
	}
	set := make(map[common.Address]struct{}, len(markets))
	for _, addr := range markets {
		set[addr] = struct{}{}
	}
	return set, nil
}
