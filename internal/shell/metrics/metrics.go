// Package metrics records run outcomes in a Prometheus registry and writes
// them to a node-exporter textfile collector file.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the releaser metrics. The zero value is not usable; use
// NewRecorder.
type Recorder struct {
	registry *prometheus.Registry
	path     string
	now      func() time.Time

	builds       *prometheus.CounterVec
	runs         *prometheus.CounterVec
	lockRejected *prometheus.CounterVec
	duration     *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry. When path is empty,
// Flush is a no-op.
func NewRecorder(path string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		path:     path,
		now:      time.Now,

		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releaser",
			Name:      "builds_total",
			Help:      "Builds processed, by operation and outcome",
		}, []string{"operation", "status"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releaser",
			Name:      "runs_total",
			Help:      "Runs finished, by operation and result (ok, error)",
		}, []string{"operation", "result"}),

		lockRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releaser",
			Name:      "lock_rejected_total",
			Help:      "Unattended runs refused because another run holds the lock",
		}, []string{"operation"}),

		duration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "releaser",
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}, []string{"operation"}),

		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "releaser",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}, []string{"operation"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// BuildFinished counts one processed build.
func (r *Recorder) BuildFinished(operation, status string) {
	r.builds.WithLabelValues(operation, status).Inc()
}

// LockRejected counts an unattended run that could not take its lock.
func (r *Recorder) LockRejected(operation string) {
	r.lockRejected.WithLabelValues(operation).Inc()
}

// RunFinished records the duration and result of a run.
func (r *Recorder) RunFinished(operation string, elapsed time.Duration, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	r.runs.WithLabelValues(operation, result).Inc()
	r.duration.WithLabelValues(operation).Set(elapsed.Seconds())
	r.lastRun.WithLabelValues(operation).Set(float64(r.now().Unix()))
}

// Flush writes the registry to the textfile, atomically.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
