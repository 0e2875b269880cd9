// Package metrics exports verification progress to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mailprobe/verifier"
	"mailprobe/worker"
)

var (
	metricRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailprobe_runs_started_total",
			Help: "Verification runs started with at least one address.",
		},
	)
	metricActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailprobe_runs_active",
			Help: "Runs still verifying, including superseded ones.",
		},
	)
	metricResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailprobe_results_total",
			Help: "Recorded verdicts by severity and category. Runtime-built categories are folded into their prefix.",
		},
		[]string{
			"severity",
			"category",
		},
	)
	metricRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailprobe_run_duration_seconds",
			Help:    "Wall time from submission to the last result of a run.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
)

// Observer feeds scheduler progress into the collectors above.
type Observer struct{}

var _ worker.RunObserver = Observer{}

func (Observer) RunStarted(*worker.BatchRun) {
	metricRuns.Inc()
	metricActiveRuns.Inc()
}

func (Observer) ResultRecorded(_ *worker.BatchRun, result verifier.Result) {
	metricResults.WithLabelValues(string(result.Severity), categoryLabel(result.Category)).Inc()
}

func (Observer) RunCompleted(run *worker.BatchRun) {
	metricActiveRuns.Dec()
	metricRunDuration.Observe(run.CompletedAt().Sub(run.StartedAt).Seconds())
}

// categoryLabel keeps label cardinality bounded.
func categoryLabel(category string) string {
	for _, prefix := range []string{"Unknown error", "Unknown SMTP response"} {
		if strings.HasPrefix(category, prefix) {
			return prefix
		}
	}
	return category
}
