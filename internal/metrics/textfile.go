// Package metrics publishes the outcome of each run as a Prometheus
// textfile, for node_exporter's textfile collector to pick up.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reportmailer/internal/runner"
)

type Textfile struct {
	path string
	reg  *prometheus.Registry

	generated    prometheus.Gauge
	sent         prometheus.Gauge
	failures     prometheus.Gauge
	success      prometheus.Gauge
	lastRun      prometheus.Gauge
	duration     prometheus.Gauge
	windowStart  prometheus.Gauge
	phaseReached *prometheus.GaugeVec
}

func NewTextfile(path string) *Textfile {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Textfile{
		path: path,
		reg:  reg,
		generated: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_reports_generated",
			Help: "Reports downloaded from the portal by the last run",
		}),
		sent: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_documents_sent",
			Help: "Reports mailed to recipients by the last run",
		}),
		failures: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_failures",
			Help: "Items the last run could not process",
		}),
		success: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_last_run_success",
			Help: "1 when the last run finished without failures",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_last_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		windowStart: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportmailer_window_start_timestamp_seconds",
			Help: "Start of the time window of the last run",
		}),
		phaseReached: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reportmailer_last_run_phase",
			Help: "1 for the phase the last run ended in",
		}, []string{"phase"}),
	}
}

// Observe sets the gauges from sum and rewrites the textfile atomically.
func (t *Textfile) Observe(sum *runner.Summary) error {
	t.generated.Set(float64(sum.Generated))
	t.sent.Set(float64(sum.Sent))
	t.failures.Set(float64(len(sum.Failures)))
	if sum.Err() == nil {
		t.success.Set(1)
	} else {
		t.success.Set(0)
	}
	t.lastRun.Set(float64(sum.Finished.Unix()))
	t.duration.Set(sum.Finished.Sub(sum.Started).Seconds())
	t.windowStart.Set(float64(sum.Window.Start.Unix()))
	t.phaseReached.Reset()
	t.phaseReached.WithLabelValues(sum.Phase.String()).Set(1)

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, t.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Gatherer exposes the registry, mainly for tests.
func (t *Textfile) Gatherer() prometheus.Gatherer {
	return t.reg
}
