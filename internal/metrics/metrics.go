package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenNSW/batchrun/internal/task"
)

const namespace = "batchrun"

// Metrics exposes Prometheus collectors that report pool and executor activity.
type Metrics struct {
	results       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	attempts      *prometheus.CounterVec
	workersActive prometheus.Gauge
}

// New registers the collectors on reg. Collectors already registered under the
// same names are reused, so several runs in one process share them.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Completed work items by action and error category.",
		}, []string{"action", "category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent executing one work item.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Fallback attempts by action and verdict.",
		}, []string{"action", "verdict"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Work items currently executing.",
		}),
	}

	var err error
	if m.results, err = register(reg, m.results); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.workersActive, err = register(reg, m.workersActive); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

// ObserveAttempt counts one fallback attempt.
func (m *Metrics) ObserveAttempt(action, verdict string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(action, verdict).Inc()
}

// ForAction returns a pool observer that labels results with action.
func (m *Metrics) ForAction(action task.Action) task.Observer {
	return &actionObserver{metrics: m, action: string(action)}
}

type actionObserver struct {
	metrics *Metrics
	action  string
}

func (o *actionObserver) ObserveResult(result task.TaskResult) {
	if o.metrics == nil {
		return
	}
	category := string(result.Category)
	if result.Succeeded {
		category = "none"
	}
	o.metrics.results.WithLabelValues(o.action, category).Inc()
	o.metrics.duration.WithLabelValues(o.action).Observe(result.Duration.Seconds())
}

func (o *actionObserver) WorkerStarted() {
	if o.metrics == nil {
		return
	}
	o.metrics.workersActive.Inc()
}

func (o *actionObserver) WorkerFinished() {
	if o.metrics == nil {
		return
	}
	o.metrics.workersActive.Dec()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
