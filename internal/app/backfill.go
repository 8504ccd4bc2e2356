package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"exrate-watch/internal/service"
)

// Backfill evaluates every block in [From, To]. Blocks are independent, so
// they are spread over Workers goroutines sharing one rate cache.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.From > opts.To {
		return errors.New("backfill range is empty; check --from/--to")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	svcOpts := service.Options{}
	if opts.Notify {
		svcOpts.Notifier = a.newNotifier()
	}
	svc := service.New(p.evaluator, svcOpts, a.Logger)

	var processed, failed, found atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for height := opts.From; height <= opts.To; height++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			findings, err := svc.Evaluate(gctx, height)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				a.Logger.Error().Err(err).Uint64("height", height).Msg("backfill block failed")
				return nil
			}
			processed.Add(1)
			found.Add(int64(len(findings)))
			svc.Dispatch(gctx, findings)
			return nil
		})
		if height == opts.To {
			// guards against overflow when To is the max uint64
			break
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats := p.resolver.Stats()
	a.Logger.Info().
		Int64("processed", processed.Load()).
		Int64("failed", failed.Load()).
		Int64("findings", found.Load()).
		Uint64("rate_fetches", stats.Fetches).
		Uint64("cache_hits", stats.Hits).
		Msg("backfill complete")
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d blocks failed to evaluate; see logs", n)
	}
	return nil
}
