// Package metrics exposes watcher activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"exrate-watch/internal/monitor"
)

const namespace = "exrate"

// CacheStats is implemented by monitor.MetricResolver.
type CacheStats interface {
	Stats() monitor.ResolverStats
	CacheLen() int
}

// Collector owns a private registry so independent instances do not collide.
type Collector struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	findings      prometheus.Counter
	duration      prometheus.Histogram
	lastBlock     prometheus.Gauge
	notifyErrors  prometheus.Counter
	skippedBlocks prometheus.Counter
	abandoned     prometheus.Counter
}

// New registers all metrics. stats may be nil when no resolver is wired.
func New(stats CacheStats) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Block evaluations by outcome",
			},
			[]string{"status"},
		),
		findings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Exchange-rate regressions detected",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of one block evaluation",
			Buckets:   prometheus.DefBuckets,
		}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_evaluated_block",
			Help:      "Height of the most recent successful evaluation",
		}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Findings that could not be delivered to every channel",
		}),
		skippedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_blocks_total",
			Help:      "Blocks left to another replica holding the advisory lock",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_blocks_total",
			Help:      "Blocks given up after repeated evaluation failures",
		}),
	}

	c.registry.MustRegister(
		c.evaluations,
		c.findings,
		c.duration,
		c.lastBlock,
		c.notifyErrors,
		c.skippedBlocks,
		c.abandoned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		c.registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_cache_hits_total",
				Help:      "Exchange-rate lookups served from cache",
			}, func() float64 { return float64(stats.Stats().Hits) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_cache_misses_total",
				Help:      "Exchange-rate lookups not found in cache",
			}, func() float64 { return float64(stats.Stats().Misses) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_rate_fetches_total",
				Help:      "Exchange-rate reads issued to the node",
			}, func() float64 { return float64(stats.Stats().Fetches) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metric_cache_entries",
				Help:      "Exchange rates currently cached",
			}, func() float64 { return float64(stats.CacheLen()) }),
		)
	}
	return c
}

// ObserveEvaluation records the outcome of one block evaluation.
func (c *Collector) ObserveEvaluation(height uint64, findings int, elapsed time.Duration, err error) {
	c.duration.Observe(elapsed.Seconds())
	if err != nil {
		c.evaluations.WithLabelValues("error").Inc()
		return
	}
	c.evaluations.WithLabelValues("ok").Inc()
	c.findings.Add(float64(findings))
	c.lastBlock.Set(float64(height))
}

// NotifyFailed counts a finding whose delivery failed.
func (c *Collector) NotifyFailed() { c.notifyErrors.Inc() }

// BlockSkipped counts a block handled by another replica.
func (c *Collector) BlockSkipped() { c.skippedBlocks.Inc() }

// BlockAbandoned counts a block the scheduler stopped retrying.
func (c *Collector) BlockAbandoned(uint64) { c.abandoned.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
