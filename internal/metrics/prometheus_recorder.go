package metrics

import (
	"time"

	"github.com/born-ml/statetree/internal/state"
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "statetree"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	loadDuration     *prom.HistogramVec
	loadTensors      *prom.CounterVec
	reloads          *prom.CounterVec
	snapshotDuration *prom.HistogramVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		loadDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of structural loads into a live tree",
			Buckets:   prom.DefBuckets,
		}, []string{"source"}),
		loadTensors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "load_tensors_total",
			Help:      "Source leaves seen by loads, by outcome",
		}, []string{"source", "outcome"}),
		reloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Checkpoint hot reloads by result",
		}, []string{"result"}),
		snapshotDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of snapshot store operations",
			Buckets:   prom.DefBuckets,
		}, []string{"op", "result"}),
	}
	reg.MustRegister(pr.loadDuration, pr.loadTensors, pr.reloads, pr.snapshotDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveLoad(source string, stats state.LoadStats, d time.Duration) {
	if p == nil {
		return
	}
	p.loadDuration.WithLabelValues(source).Observe(d.Seconds())
	p.loadTensors.WithLabelValues(source, "copied").Add(float64(stats.Copied))
	p.loadTensors.WithLabelValues(source, "skipped").Add(float64(stats.Skipped))
	p.loadTensors.WithLabelValues(source, "incompatible").Add(float64(stats.Incompatible))
}

func (p *PrometheusRecorder) IncReload(result ResultLabel) {
	if p == nil {
		return
	}
	p.reloads.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveSnapshot(op string, d time.Duration, result ResultLabel) {
	if p == nil {
		return
	}
	p.snapshotDuration.WithLabelValues(op, string(result)).Observe(d.Seconds())
}
