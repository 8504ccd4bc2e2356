package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exrate-watch/internal/alerting"
	"exrate-watch/internal/monitor"
	"exrate-watch/internal/scheduler"
	"exrate-watch/internal/storage"
)

// Evaluator runs the regression check for one block.
type Evaluator interface {
	Evaluate(ctx context.Context, height uint64) ([]monitor.Finding, error)
}

// Observer receives evaluation outcomes, typically a metrics collector.
type Observer interface {
	ObserveEvaluation(height uint64, findings int, elapsed time.Duration, err error)
	NotifyFailed()
	BlockSkipped()
}

// Options carry the optional collaborators of a Service.
type Options struct {
	Scheduler *scheduler.Scheduler
	Notifier  alerting.Notifier
	Locker    storage.AdvisoryLocker
	LockKey   int64
	Observer  Observer
}

// Service orchestrates block scheduling, evaluation and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	evaluator Evaluator
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	lockKey   int64
	observer  Observer
	logger    zerolog.Logger

	lockMu sync.Mutex
	unlock func()
}

// New constructs the watcher service.
func New(evaluator Evaluator, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: opts.Scheduler,
		evaluator: evaluator,
		notifier:  opts.Notifier,
		locker:    opts.Locker,
		lockKey:   opts.LockKey,
		observer:  opts.Observer,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the block loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	defer s.ReleaseLock()
	return s.scheduler.Run(ctx, s.ProcessBlock)
}

// ProcessBlock evaluates one block and dispatches its findings. A returned
// error means the block was not evaluated and may be retried.
func (s *Service) ProcessBlock(ctx context.Context, height uint64) error {
	leader, err := s.ensureLock(ctx)
	if err != nil {
		return err
	}
	if !leader {
		s.logger.Debug().Uint64("height", height).Msg("skip block because advisory lock held elsewhere")
		if s.observer != nil {
			s.observer.BlockSkipped()
		}
		return nil
	}

	findings, err := s.Evaluate(ctx, height)
	if err != nil {
		return err
	}
	s.Dispatch(ctx, findings)
	return nil
}

// Evaluate runs the evaluator and records the outcome without notifying.
func (s *Service) Evaluate(ctx context.Context, height uint64) ([]monitor.Finding, error) {
	started := time.Now()
	findings, err := s.evaluator.Evaluate(ctx, height)
	elapsed := time.Since(started)
	if s.observer != nil {
		s.observer.ObserveEvaluation(height, len(findings), elapsed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate block %d: %w", height, err)
	}

	s.logger.Info().
		Uint64("height", height).
		Int("findings", len(findings)).
		Dur("elapsed", elapsed).
		Msg("block evaluated")
	return findings, nil
}

// Dispatch delivers findings. Delivery failures are logged and counted but do
// not fail the block.
func (s *Service) Dispatch(ctx context.Context, findings []monitor.Finding) {
	if s.notifier == nil {
		return
	}
	for _, f := range findings {
		if err := s.notifier.Notify(ctx, f); err != nil {
			s.logger.Error().Err(err).
				Str("finding", f.ID).
				Uint64("height", f.Height).
				Msg("failed to dispatch alert")
			if s.observer != nil {
				s.observer.NotifyFailed()
			}
		}
	}
}

// ensureLock reports whether this instance may process blocks. Once acquired,
// the advisory lock is held until ReleaseLock.
func (s *Service) ensureLock(ctx context.Context) (bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return true, nil
	}

	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.unlock != nil {
		return true, nil
	}

	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	s.logger.Info().Int64("lock_key", s.lockKey).Msg("advisory lock acquired; processing blocks")
	s.unlock = unlock
	return true, nil
}

// ReleaseLock gives up the advisory lock if this instance holds it.
func (s *Service) ReleaseLock() {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
}
