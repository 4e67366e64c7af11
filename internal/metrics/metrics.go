// Package metrics provides Prometheus collectors for resolution runs.
//
// Each Recorder owns its registry so runs and tests stay independent. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taxonmatch"

// Recorder collects run metrics.
type Recorder struct {
	registry       *prometheus.Registry
	submissions    prometheus.Gauge
	resolutions    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	disambiguation *prometheus.CounterVec
	knmsRequests   *prometheus.CounterVec
	knmsCacheHits  prometheus.Counter
	knmsSkipped    prometheus.Counter
}

// New registers the run collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		submissions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "unique_submissions",
			Help:      "Number of distinct submission keys in the last run",
		}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "resolutions_total",
			Help:      "Resolutions by matched_by tag",
		}, []string{"matched_by"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of each resolution stage in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		disambiguation: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disambiguation",
			Name:      "decisions_total",
			Help:      "Disambiguation outcomes by deciding step",
		}, []string{"step"}),
		knmsRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knms",
			Name:      "requests_total",
			Help:      "Match service requests by outcome",
		}, []string{"outcome"}),
		knmsCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knms",
			Name:      "cache_hits_total",
			Help:      "Names answered from the match cache",
		}),
		knmsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knms",
			Name:      "skipped_names_total",
			Help:      "Names not sent because they contain non-Latin letters",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) SetSubmissions(n int) {
	if r == nil {
		return
	}
	r.submissions.Set(float64(n))
}

func (r *Recorder) ObserveResolution(matchedBy string) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(matchedBy).Inc()
}

func (r *Recorder) ObserveStage(stage string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveDisambiguation(step string) {
	if r == nil {
		return
	}
	r.disambiguation.WithLabelValues(step).Inc()
}

// ObserveKNMS records one match run: requests by outcome plus cache hits and
// skipped names.
func (r *Recorder) ObserveKNMS(outcomes map[string]int, cacheHits, skipped int) {
	if r == nil {
		return
	}
	for outcome, n := range outcomes {
		r.knmsRequests.WithLabelValues(outcome).Add(float64(n))
	}
	r.knmsCacheHits.Add(float64(cacheHits))
	r.knmsSkipped.Add(float64(skipped))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
