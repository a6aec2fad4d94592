package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "stealthcrawl"

// Metrics 爬虫运行指标,方法允许在 nil 上调用
type Metrics struct {
	PagesTotal          *prometheus.CounterVec
	RecordsTotal        *prometheus.CounterVec
	NavigationRetries   *prometheus.CounterVec
	NavigationDuration  *prometheus.HistogramVec
	DetectionsTotal     *prometheus.CounterVec
	RemediationAttempts *prometheus.CounterVec
	CaptchaOutcomes     *prometheus.CounterVec
	CheckpointFlushes   *prometheus.CounterVec
	BackendWrites       *prometheus.CounterVec
	RunsTotal           *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		PagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "pages_total", Help: "Listing pages processed",
		}, []string{"crawler"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "records_total", Help: "Records persisted",
		}, []string{"crawler", "success"}),
		NavigationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "navigation_retries_total", Help: "Navigation attempts that failed and were retried",
		}, []string{"crawler"}),
		NavigationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "navigation_duration_seconds", Help: "Page navigation latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"crawler"}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "detections_total", Help: "Detection events by signal kind",
		}, []string{"kind", "severity"}),
		RemediationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "remediation_attempts_total", Help: "Remediation attempts by verdict",
		}, []string{"verdict"}),
		CaptchaOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "captcha_outcomes_total", Help: "Captcha solve attempts by kind and result",
		}, []string{"kind", "success"}),
		CheckpointFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "checkpoint_flushes_total", Help: "Checkpoint writes by trigger",
		}, []string{"trigger", "result"}),
		BackendWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "backend_writes_total", Help: "Storage backend writes",
		}, []string{"backend", "result"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "runs_total", Help: "Finished runs by status",
		}, []string{"status"}),
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Page(crawler string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(crawler).Inc()
}

func (m *Metrics) Record(crawler string, success bool) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(crawler, boolLabel(success)).Inc()
}

func (m *Metrics) NavigationRetry(crawler string) {
	if m == nil {
		return
	}
	m.NavigationRetries.WithLabelValues(crawler).Inc()
}

func (m *Metrics) Navigation(crawler string, d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.WithLabelValues(crawler).Observe(d.Seconds())
}

func (m *Metrics) Detection(kind, severity string) {
	if m == nil {
		return
	}
	m.DetectionsTotal.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) Remediation(verdict string) {
	if m == nil {
		return
	}
	m.RemediationAttempts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) Captcha(kind string, success bool) {
	if m == nil {
		return
	}
	m.CaptchaOutcomes.WithLabelValues(kind, boolLabel(success)).Inc()
}

func (m *Metrics) Flush(trigger string, err error) {
	if m == nil {
		return
	}
	m.CheckpointFlushes.WithLabelValues(trigger, resultLabel(err)).Inc()
}

func (m *Metrics) BackendWrite(backend string, err error) {
	if m == nil {
		return
	}
	m.BackendWrites.WithLabelValues(backend, resultLabel(err)).Inc()
}

func (m *Metrics) Run(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}
