package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"exrate-watch/internal/alerting"
	"exrate-watch/internal/config"
	"exrate-watch/internal/fetcher"
	"exrate-watch/internal/metrics"
	"exrate-watch/internal/monitor"
	"exrate-watch/internal/scheduler"
	"exrate-watch/internal/service"
	"exrate-watch/internal/storage"
	"exrate-watch/internal/telemetry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// pipeline holds the long-lived monitoring objects built once per command.
type pipeline struct {
	chain     *fetcher.Chain
	resolver  *monitor.MetricResolver
	evaluator *monitor.Evaluator
}

func (p *pipeline) Close() {
	p.chain.Close()
}

func (a *App) newPipeline() (*pipeline, error) {
	if err := a.Config.RequireRPC(); err != nil {
		return nil, err
	}

	chain, err := fetcher.NewChain(fetcher.ChainOptions{
		RPCURL:             a.Config.Ethereum.RPCURL,
		ComptrollerAddress: a.Config.Ethereum.ComptrollerAddress,
		RateMethod:         a.Config.Ethereum.RateMethod,
		Timeout:            a.Config.Ethereum.RequestTimeout,
		RateLimit:          a.Config.Ethereum.RateLimit,
		RateBurst:          a.Config.Ethereum.RateBurst,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	cache, err := monitor.NewCache(a.Config.Monitor.CacheSize)
	if err != nil {
		return nil, err
	}

	resolver := monitor.NewMetricResolver(chain, cache)
	evaluator := monitor.NewEvaluator(
		monitor.NewInstrumentResolver(chain),
		resolver,
		monitor.EvaluatorOptions{Concurrency: a.Config.Monitor.Concurrency},
		a.Logger,
	)
	return &pipeline{chain: chain, resolver: resolver, evaluator: evaluator}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running block watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, a.Config.Tracing, a.Config.App.Name, a.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	p, err := a.newPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; replica coordination disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	collector := metrics.New(p.resolver)
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := collector.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		PollInterval:  a.Config.Scheduler.PollInterval,
		StartBlock:    a.Config.Scheduler.StartBlock,
		Confirmations: a.Config.Scheduler.Confirmations,
		MaxAttempts:   a.Config.Scheduler.MaxAttempts,
		OnAbandon:     collector.BlockAbandoned,
	}, p.chain, a.Logger)

	opts := service.Options{
		Scheduler: sched,
		Notifier:  a.newNotifier(),
		Observer:  collector,
	}
	if store != nil {
		opts.Locker = store
		opts.LockKey = a.Config.Scheduler.AdvisoryLockKey
	}

	svc := service.New(p.evaluator, opts, a.Logger)

	a.Logger.Info().
		Str("comptroller", a.Config.Ethereum.ComptrollerAddress).
		Str("rate_method", a.Config.Ethereum.RateMethod).
		Msg("starting exchange-rate watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("exchange-rate watcher stopped")
	return nil
}

// CheckOptions configure a one-shot evaluation.
type CheckOptions struct {
	// Height of zero evaluates the current head.
	Height uint64
	Output string
}

// BackfillOptions configure a block-range evaluation.
type BackfillOptions struct {
	From    uint64
	To      uint64
	Workers int
	Notify  bool
}

// ExportOptions hold parameters for exporting an exchange-rate series.
type ExportOptions struct {
	Market    string
	From      uint64
	To        uint64
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
