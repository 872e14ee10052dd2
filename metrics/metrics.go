// Package metrics exports pipeline progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ben-leadtech/etlkit"
)

const namespace = "etlkit"

// Metric names, without the etlkit_ namespace.
const (
	MetricRowsExtracted = "rows_extracted"
	MetricRowsLoaded    = "rows_loaded"
	MetricErrors        = "errors"
	MetricRuns          = "runs_total"
	MetricRunDuration   = "run_duration_seconds"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Reporter updates the metrics of one named pipeline. Register it with
// Pipeline.WithObserver; it implements etlkit.Starter, etlkit.Stopper and
// etlkit.ProgressReporter.
type Reporter struct {
	pipeline string

	extracted *prometheus.GaugeVec
	loaded    *prometheus.GaugeVec
	errors    *prometheus.GaugeVec
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec

	mu      sync.Mutex
	started time.Time
	now     func() time.Time
}

var (
	_ etlkit.Starter          = (*Reporter)(nil)
	_ etlkit.Stopper          = (*Reporter)(nil)
	_ etlkit.ProgressReporter = (*Reporter)(nil)
)

// NewReporter registers the metrics on reg. Reporters for different
// pipelines may share a registry; the collectors are registered once.
func NewReporter(reg prometheus.Registerer, pipeline string) (*Reporter, error) {
	r := &Reporter{pipeline: pipeline, now: time.Now}

	var err error
	if r.extracted, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricRowsExtracted,
		Help:      "Rows extracted by the current or last run.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if r.loaded, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricRowsLoaded,
		Help:      "Rows loaded by the current or last run.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if r.errors, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricErrors,
		Help:      "Errors seen by the current or last run.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if r.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRuns,
		Help:      "Finished runs by status.",
	}, []string{"pipeline", "status"})); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricRunDuration,
		Help:      "Wall time of finished runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	return r, nil
}

// register registers c, or returns the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, err
}

// Start resets the gauges and starts the run clock.
func (r *Reporter) Start(ctx context.Context) context.Context {
	r.mu.Lock()
	r.started = r.now()
	r.mu.Unlock()

	r.extracted.WithLabelValues(r.pipeline).Set(0)
	r.loaded.WithLabelValues(r.pipeline).Set(0)
	r.errors.WithLabelValues(r.pipeline).Set(0)
	return ctx
}

func (r *Reporter) OnProgress(_ context.Context, stats *etlkit.Stats) {
	r.set(stats)
}

// Stop records the final counts, the run status and its duration.
func (r *Reporter) Stop(_ context.Context, stats *etlkit.Stats, err error) {
	r.set(stats)

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.runs.WithLabelValues(r.pipeline, status).Inc()

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started.IsZero() {
		r.duration.WithLabelValues(r.pipeline).Observe(r.now().Sub(started).Seconds())
	}
}

func (r *Reporter) set(stats *etlkit.Stats) {
	if stats == nil {
		return
	}
	r.extracted.WithLabelValues(r.pipeline).Set(float64(stats.Extracted()))
	r.loaded.WithLabelValues(r.pipeline).Set(float64(stats.Loaded()))
	r.errors.WithLabelValues(r.pipeline).Set(float64(stats.Errors()))
}

// Handler serves the metrics gathered from g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
