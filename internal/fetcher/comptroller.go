package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"exrate-watch/internal/monitor"
)

const (
	comptrollerABIJSON = `[{"inputs":[],"name":"getAllMarkets","outputs":[{"internalType":"contract CToken[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"}]`

	ctokenABIJSON = `[
{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"exchangeRateStored","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"exchangeRateCurrent","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

	// RateMethodCurrent accrues interest up to the block before reading.
	RateMethodCurrent = "exchangeRateCurrent"
	// RateMethodStored reads the rate as of the last accrual.
	RateMethodStored = "exchangeRateStored"

	// rateScale is the fixed-point exponent applied to raw exchange rates.
	rateScale = -18
)

var (
	comptrollerABI abi.ABI
	ctokenABI      abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(comptrollerABIJSON))
	if err != nil {
		panic("failed to parse comptroller ABI: " + err.Error())
	}
	comptrollerABI = parsed

	parsed, err = abi.JSON(strings.NewReader(ctokenABIJSON))
	if err != nil {
		panic("failed to parse cToken ABI: " + err.Error())
	}
	ctokenABI = parsed
}

// ChainOptions parameterise the on-chain reader.
type ChainOptions struct {
	RPCURL             string
	ComptrollerAddress string
	RateMethod         string
	Timeout            time.Duration
	// RateLimit caps RPC requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Chain reads Comptroller and cToken state at historical heights over
// Ethereum JSON-RPC.
type Chain struct {
	opts        ChainOptions
	logger      zerolog.Logger
	limiter     *rate.Limiter
	comptroller common.Address
	rateMethod  string

	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain validates options and builds a reader. The RPC connection is
// opened on first use.
func NewChain(opts ChainOptions, logger zerolog.Logger) (*Chain, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(opts.ComptrollerAddress) {
		return nil, fmt.Errorf("invalid comptroller address %q", opts.ComptrollerAddress)
	}

	method := opts.RateMethod
	if method == "" {
		method = RateMethodCurrent
	}
	if method != RateMethodCurrent && method != RateMethodStored {
		return nil, fmt.Errorf("unsupported rate method %q", method)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Chain{
		opts:        opts,
		logger:      logger.With().Str("component", "chain").Logger(),
		limiter:     limiter,
		comptroller: common.HexToAddress(opts.ComptrollerAddress),
		rateMethod:  method,
	}, nil
}

// AllMarkets lists the cTokens registered with the Comptroller at height.
// Heights before the Comptroller was deployed yield an empty list.
func (c *Chain) AllMarkets(ctx context.Context, height uint64) ([]common.Address, error) {
	outputs, err := c.call(ctx, comptrollerABI, c.comptroller, "getAllMarkets", height)
	if errors.Is(err, monitor.ErrMissingHistory) {
		c.logger.Debug().Uint64("height", height).Msg("comptroller not deployed at height")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	markets, ok := outputs[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getAllMarkets: unexpected output %T: %w", outputs[0], monitor.ErrDecode)
	}
	return markets, nil
}

// Name reads the cToken display name at height.
func (c *Chain) Name(ctx context.Context, market common.Address, height uint64) (string, error) {
	outputs, err := c.call(ctx, ctokenABI, market, "name", height)
	if err != nil {
		return "", err
	}
	name, ok := outputs[0].(string)
	if !ok {
		return "", fmt.Errorf("name: unexpected output %T: %w", outputs[0], monitor.ErrDecode)
	}
	return name, nil
}

// ExchangeRate reads the cToken exchange rate at height.
func (c *Chain) ExchangeRate(ctx context.Context, market common.Address, height uint64) (decimal.Decimal, error) {
	outputs, err := c.call(ctx, ctokenABI, market, c.rateMethod, height)
	if err != nil {
		return decimal.Decimal{}, err
	}
	raw, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s: unexpected output %T: %w", c.rateMethod, outputs[0], monitor.ErrDecode)
	}
	return decimal.NewFromBigInt(raw, rateScale), nil
}

// HeadBlock returns the latest block number known to the node.
func (c *Chain) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel, client, err := c.prepare(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %v: %w", err, monitor.ErrUpstreamUnavailable)
	}
	return head, nil
}

// Close releases the RPC connection.
func (c *Chain) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Chain) call(ctx context.Context, contract abi.ABI, to common.Address, method string, height uint64) ([]interface{}, error) {
	ctx, cancel, client, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	payload, err := contract.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	block := new(big.Int).SetUint64(height)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s at %d: %v: %w", method, to.Hex(), height, err, monitor.ErrUpstreamUnavailable)
	}

	if len(res) == 0 {
		code, err := client.CodeAt(ctx, to, block)
		if err != nil {
			return nil, fmt.Errorf("code at %s at %d: %v: %w", to.Hex(), height, err, monitor.ErrUpstreamUnavailable)
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("%s at %d: %w", to.Hex(), height, monitor.ErrMissingHistory)
		}
		return nil, fmt.Errorf("%s on %s at %d returned no data: %w", method, to.Hex(), height, monitor.ErrDecode)
	}

	outputs, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %v: %w", method, err, monitor.ErrDecode)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%s returned %d values: %w", method, len(outputs), monitor.ErrDecode)
	}
	return outputs, nil
}

// prepare applies the rate limit and per-call timeout and returns a connected client.
func (c *Chain) prepare(ctx context.Context) (context.Context, context.CancelFunc, *ethclient.Client, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("rate limit: %v: %w", err, monitor.ErrUpstreamUnavailable)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	client, err := c.getClient(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("dial rpc: %v: %w", err, monitor.ErrUpstreamUnavailable)
	}
	return ctx, cancel, client, nil
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var (
	_ monitor.Registry     = (*Chain)(nil)
	_ monitor.MetricSource = (*Chain)(nil)
)
