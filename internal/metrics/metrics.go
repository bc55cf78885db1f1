// Package metrics records session outcomes as Prometheus metrics and writes
// them to a node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/session"
)

// Outcome label values.
const (
	OutcomeDone        = "done"
	OutcomeFailed      = "failed"
	OutcomeCancelled   = "cancelled"
	OutcomeInterrupted = "interrupted"
)

// Recorder owns a private registry so textfiles contain only misty series.
type Recorder struct {
	registry *prometheus.Registry

	Sessions        *prometheus.CounterVec
	PollAttempts    prometheus.Counter
	TransportErrors prometheus.Counter
	CapturedBytes   prometheus.Counter
	Duration        prometheus.Histogram
	AttemptsPerJob  prometheus.Histogram
	LastSession     prometheus.Gauge
}

// New creates and registers all misty metrics.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "misty_sessions_total",
			Help: "Sessions by outcome and failure reason",
		}, []string{"outcome", "reason"}),
		PollAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "misty_poll_attempts_total",
			Help: "Status queries issued",
		}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "misty_poll_transport_errors_total",
			Help: "Status queries that failed in transport and were retried",
		}),
		CapturedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "misty_captured_bytes_total",
			Help: "PCM bytes captured across sessions",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "misty_session_duration_seconds",
			Help:    "Wall time from session start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		AttemptsPerJob: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "misty_poll_attempts_per_job",
			Help:    "Status queries needed per submitted job",
			Buckets: prometheus.LinearBuckets(1, 5, 12),
		}),
		LastSession: factory.NewGauge(prometheus.GaugeOpts{
			Name: "misty_last_session_timestamp_seconds",
			Help: "Unix time the last session finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveSession folds one finished session into the metrics.
func (r *Recorder) ObserveSession(result session.Result) {
	outcome := Outcome(result)
	r.Sessions.WithLabelValues(outcome, string(result.State.Reason())).Inc()

	r.PollAttempts.Add(float64(result.Attempts))
	r.TransportErrors.Add(float64(result.TransportErrors))
	r.CapturedBytes.Add(float64(result.BytesCaptured))

	if result.JobID != "" && result.Attempts > 0 {
		r.AttemptsPerJob.Observe(float64(result.Attempts))
	}
	if !result.StartedAt.IsZero() && result.FinishedAt.After(result.StartedAt) {
		r.Duration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	}
	if !result.FinishedAt.IsZero() {
		r.LastSession.Set(float64(result.FinishedAt.Unix()))
	}
}

// WriteTextfile atomically writes the current metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %q: %w", path, err)
	}
	return nil
}

// Outcome classifies a session result into a label value.
func Outcome(result session.Result) string {
	switch {
	case result.Cancelled:
		return OutcomeCancelled
	case result.State.Phase == fsm.StateDone:
		return OutcomeDone
	case result.State.Phase == fsm.StateFailed:
		return OutcomeFailed
	default:
		return OutcomeInterrupted
	}
}
