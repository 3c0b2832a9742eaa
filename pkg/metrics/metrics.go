// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/federated"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fedlet"

var _ federated.Observer = (*Observer)(nil)

type Observer struct {
	federated.NopObserver

	actions  *prometheus.CounterVec
	tasks    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge

	mu      sync.Mutex
	started map[string]time.Time
}

// NewObserver registers the pipeline metrics with reg. A nil reg uses the
// default registerer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of pipeline actions started",
			},
			[]string{"action"},
		),
		tasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of finished tasks by outcome",
			},
			[]string{"status"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_failures_total",
				Help:      "Total number of task failures by action and error kind",
			},
			[]string{"action", "kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task pipeline duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
			},
			[]string{"status"},
		),
		active: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_active",
				Help:      "Number of task pipelines running",
			},
		),
		started: make(map[string]time.Time),
	}
}

func (o *Observer) ActionStarted(_ string, action federated.Action) {
	o.actions.WithLabelValues(action.String()).Inc()
}

func (o *Observer) TaskBegan(taskID string) {
	o.mu.Lock()
	o.started[taskID] = time.Now()
	o.mu.Unlock()

	o.active.Inc()
}

func (o *Observer) TaskCompleted(taskID string) {
	o.finish(taskID, "completed")
}

func (o *Observer) TaskFailed(taskID string, action federated.Action, err error) {
	o.failures.WithLabelValues(action.String(), pkgerrors.KindOf(err).String()).Inc()
	if taskID != "" {
		o.finish(taskID, "failed")
	}
}

func (o *Observer) finish(taskID, status string) {
	o.mu.Lock()
	start, ok := o.started[taskID]
	delete(o.started, taskID)
	o.mu.Unlock()

	o.tasks.WithLabelValues(status).Inc()
	if ok {
		o.active.Dec()
		o.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
