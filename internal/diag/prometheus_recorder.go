package diag

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	enqueued      prom.Counter
	dropped       *prom.CounterVec
	batches       *prom.CounterVec
	flushDuration prom.Histogram
	queueDepth    prom.Gauge
	sessions      prom.Counter
	flagRefresh   *prom.CounterVec
	crashReports  prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.enqueued = prom.NewCounter(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "events_enqueued_total",
			Help:      "Events accepted into the durable queue",
		})
		pr.dropped = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "events_dropped_total",
			Help:      "Events discarded from the queue by reason",
		}, []string{"reason"})
		pr.batches = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "batches_total",
			Help:      "Delivery attempts by result",
		}, []string{"result"})
		pr.flushDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "beacon",
			Name:      "flush_duration_seconds",
			Help:      "Duration of complete flush passes",
			Buckets:   prom.DefBuckets,
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "beacon",
			Name:      "queue_depth",
			Help:      "Events currently waiting in the durable queue",
		})
		pr.sessions = prom.NewCounter(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "sessions_started_total",
			Help:      "Session windows opened",
		})
		pr.flagRefresh = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "flag_refresh_total",
			Help:      "Feature flag refresh attempts by result",
		}, []string{"result"})
		pr.crashReports = prom.NewCounter(prom.CounterOpts{
			Namespace: "beacon",
			Name:      "crash_reports_total",
			Help:      "Crash reports captured",
		})
		reg.MustRegister(pr.enqueued, pr.dropped, pr.batches, pr.flushDuration, pr.queueDepth, pr.sessions, pr.flagRefresh, pr.crashReports)
	})
	return pr
}

func (p *PrometheusRecorder) IncEnqueued() {
	if p == nil || p.enqueued == nil {
		return
	}
	p.enqueued.Inc()
}

func (p *PrometheusRecorder) IncDropped(reason DropReason, n int) {
	if p == nil || p.dropped == nil || n <= 0 {
		return
	}
	p.dropped.WithLabelValues(string(reason)).Add(float64(n))
}

func (p *PrometheusRecorder) IncBatch(result ResultLabel) {
	if p == nil || p.batches == nil {
		return
	}
	p.batches.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveFlushDuration(d time.Duration) {
	if p == nil || p.flushDuration == nil {
		return
	}
	p.flushDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncSessionStarted() {
	if p == nil || p.sessions == nil {
		return
	}
	p.sessions.Inc()
}

func (p *PrometheusRecorder) IncFlagRefresh(result ResultLabel) {
	if p == nil || p.flagRefresh == nil {
		return
	}
	p.flagRefresh.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncCrashReport() {
	if p == nil || p.crashReports == nil {
		return
	}
	p.crashReports.Inc()
}
