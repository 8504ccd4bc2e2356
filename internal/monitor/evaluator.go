package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// EvaluatorOptions tune an Evaluator.
type EvaluatorOptions struct {
	// Concurrency bounds the number of markets resolved in parallel.
	Concurrency int
}

// Evaluator runs one regression check per block.
//
// It keeps no state between calls other than the resolver's cache, so
// evaluations may run in any order and concurrently, including twice for the
// same height.
type Evaluator struct {
	instruments *InstrumentResolver
	metrics     *MetricResolver
	concurrency int
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewEvaluator assembles an evaluator from its resolvers.
func NewEvaluator(instruments *InstrumentResolver, metrics *MetricResolver, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Evaluator{
		instruments: instruments,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "evaluator").Logger(),
		tracer:      otel.Tracer("exrate-watch/monitor"),
	}
}

// Evaluate compares every market's exchange rate at height with the rate at
// height-1. Only markets listed at both heights are compared. It returns a
// non-nil, possibly empty, slice on success. Any upstream or decode failure
// aborts the whole evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, height uint64) (findings []Finding, err error) {
	ctx, span := e.tracer.Start(ctx, "monitor.Evaluate", trace.WithAttributes(
		attribute.Int64("block.height", int64(height)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("findings", len(findings)))
		}
		span.End()
	}()

	instruments, err := e.instruments.List(ctx, height)
	if err != nil {
		return nil, err
	}

	// Markets absent from the registry one block earlier are new listings and
	// have no prior rate.
	var listedBefore map[common.Address]struct{}
	if height > 0 {
		listedBefore, err = e.instruments.Listed(ctx, height-1)
		if err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	results := make([]Finding, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, inst := range instruments {
		g.Go(func() error {
			_, listed := listedBefore[inst.Address]
			f, found, err := e.evaluateInstrument(gctx, inst, height, listed)
			if err != nil {
				return err
			}
			if found {
				mu.Lock()
				results = append(results, f)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return bytes.Compare(results[i].Address.Bytes(), results[j].Address.Bytes()) < 0
	})

	e.logger.Debug().
		Uint64("height", height).
		Int("markets", len(instruments)).
		Int("findings", len(results)).
		Msg("block evaluated")
	return results, nil
}

func (e *Evaluator) evaluateInstrument(ctx context.Context, inst Instrument, height uint64, listedBefore bool) (Finding, bool, error) {
	var (
		current, prior decimal.Decimal
		hasPrior       bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.metrics.Resolve(gctx, inst.Address, height)
		if err != nil {
			return fmt.Errorf("resolve %s (%s) at %d: %w", inst.Name, inst.Address.Hex(), height, err)
		}
		current = v
		return nil
	})
	if listedBefore {
		g.Go(func() error {
			v, err := e.metrics.Resolve(gctx, inst.Address, height-1)
			if errors.Is(err, ErrMissingHistory) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve %s (%s) at %d: %w", inst.Name, inst.Address.Hex(), height-1, err)
			}
			prior, hasPrior = v, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Finding{}, false, err
	}

	if !hasPrior {
		e.logger.Debug().Str("market", inst.Address.Hex()).Uint64("height", height).Msg("no prior exchange rate; skipping comparison")
	}

	f, found := Detect(inst, height, current, prior, hasPrior)
	if found {
		e.logger.Warn().
			Str("market", inst.Address.Hex()).
			Str("name", inst.Name).
			Uint64("height", height).
			Str("prior", prior.String()).
			Str("current", current.String()).
			Msg("exchange rate went down")
	}
	return f, found, nil
}
