package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per block height.
type TickFunc func(ctx context.Context, height uint64) error

// HeadSource reports the latest block height.
type HeadSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// Options tune scheduler behaviour.
type Options struct {
	PollInterval time.Duration
	// StartBlock is the first height to evaluate; zero means "current head".
	StartBlock uint64
	// Confirmations delays evaluation until a block has this many descendants.
	Confirmations uint64
	// MaxAttempts bounds how often a failing height is retried before it is skipped.
	MaxAttempts int
	// OnAbandon, if set, is called for every height skipped after MaxAttempts failures.
	OnAbandon func(height uint64)
}

// Scheduler turns new blocks into tick invocations, in ascending height order
// and without gaps.
type Scheduler struct {
	opts   Options
	heads  HeadSource
	logger zerolog.Logger

	next     uint64
	started  bool
	attempts int
}

// New constructs a Scheduler instance.
func New(opts Options, heads HeadSource, logger zerolog.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		panic("scheduler poll interval must be positive")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Scheduler{opts: opts, heads: heads, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, polling for new heads and invoking tick for every height until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Poll(ctx, tick); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error().Err(err).Msg("poll failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll reads the head once and ticks every ready height. A failing height is
// retried on the next poll until MaxAttempts is reached, then skipped.
func (s *Scheduler) Poll(ctx context.Context, tick TickFunc) error {
	head, err := s.heads.HeadBlock(ctx)
	if err != nil {
		return err
	}
	if head < s.opts.Confirmations {
		return nil
	}
	ready := head - s.opts.Confirmations

	if !s.started {
		s.next = ready
		if s.opts.StartBlock > 0 {
			s.next = s.opts.StartBlock
		}
		s.started = true
		s.logger.Info().Uint64("start", s.next).Uint64("head", head).Msg("block scheduler started")
	}

	for s.next <= ready {
		if err := ctx.Err(); err != nil {
			return err
		}

		height := s.next
		s.logger.Debug().Uint64("height", height).Msg("executing block tick")
		if err := tick(ctx, height); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.attempts++
			if s.attempts < s.opts.MaxAttempts {
				s.logger.Warn().Err(err).Uint64("height", height).Int("attempt", s.attempts).Msg("block tick failed; will retry")
				return nil
			}
			s.logger.Error().Err(err).Uint64("height", height).Int("attempts", s.attempts).Msg("block tick failed; skipping height")
			if s.opts.OnAbandon != nil {
				s.opts.OnAbandon(height)
			}
		}

		s.attempts = 0
		s.next++
	}
	return nil
}

// Next returns the next height the scheduler will evaluate.
func (s *Scheduler) Next() uint64 {
	return s.next
}
