package local

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

const (
	MetricJobsSubmitted = "jobs.submitted"
	MetricJobsCompleted = "jobs.completed"
	MetricJobsFailed    = "jobs.failed"
	MetricReducersFired = "reducers.fired"
	MetricLiveHandles   = "handles.live"
	MetricJobLatency    = "jobs.latency"
)

type poolMetrics struct {
	registry metrics.Registry

	submitted     metrics.Counter
	completed     metrics.Counter
	failed        metrics.Counter
	reducersFired metrics.Counter
	liveHandles   metrics.Gauge
	latency       metrics.Timer
}

func newPoolMetrics(registry metrics.Registry) *poolMetrics {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &poolMetrics{
		registry:      registry,
		submitted:     metrics.GetOrRegisterCounter(MetricJobsSubmitted, registry),
		completed:     metrics.GetOrRegisterCounter(MetricJobsCompleted, registry),
		failed:        metrics.GetOrRegisterCounter(MetricJobsFailed, registry),
		reducersFired: metrics.GetOrRegisterCounter(MetricReducersFired, registry),
		liveHandles:   metrics.GetOrRegisterGauge(MetricLiveHandles, registry),
		latency:       metrics.GetOrRegisterTimer(MetricJobLatency, registry),
	}
}

func (m *poolMetrics) jobFinished(start time.Time, err error) {
	m.latency.UpdateSince(start)
	m.completed.Inc(1)
	if err != nil {
		m.failed.Inc(1)
	}
}
