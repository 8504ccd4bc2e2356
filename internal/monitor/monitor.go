// Package monitor detects exchange-rate regressions on lending markets, one
// block at a time.
package monitor

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrUpstreamUnavailable marks network, RPC or node failures while reading chain state.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDecode marks upstream responses that do not have the expected shape.
	ErrDecode = errors.New("decode upstream response")
	// ErrMissingHistory reports that a value does not exist at the requested height.
	// It is not a failure: the evaluator treats it as "no prior value".
	ErrMissingHistory = errors.New("no history at height")
)

// Instrument is a tracked market as seen at one height.
type Instrument struct {
	Address common.Address
	Name    string
}

// CacheKey identifies one resolved exchange rate.
type CacheKey struct {
	Address common.Address
	Height  uint64
}

// Registry lists markets and their display names as of a block height.
type Registry interface {
	AllMarkets(ctx context.Context, height uint64) ([]common.Address, error)
	Name(ctx context.Context, market common.Address, height uint64) (string, error)
}

// MetricSource reads a market's exchange rate as of a block height.
type MetricSource interface {
	ExchangeRate(ctx context.Context, market common.Address, height uint64) (decimal.Decimal, error)
}
