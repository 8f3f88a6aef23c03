package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "market_relay"

// Metrics はパイプラインのPrometheusメトリクス
//
// nilのMetricsに対するメソッド呼び出しは何もしない。
type Metrics struct {
	ItemsScraped   *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	ParseFailures  *prometheus.CounterVec
	ItemsEnqueued  *prometheus.CounterVec
	IngestTotal    *prometheus.CounterVec
	SinkRetries    prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// NewMetrics はメトリクスを作成してregに登録する
// テストでは prometheus.NewRegistry() を渡す
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsScraped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_scraped_total",
			Help:      "New items written to a source log",
		}, []string{"source"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "source_failures_total",
			Help:      "Scrape cycles in which a source could not be fetched",
		}, []string{"source"}),
		ParseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parse_failures_total",
			Help:      "Candidates that failed to parse",
		}, []string{"source"}),
		ItemsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_enqueued_total",
			Help:      "Items moved from a source log onto the work queue",
		}, []string{"source"}),
		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_total",
			Help:      "Ingestion outcomes by result",
		}, []string{"result"}),
		SinkRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sink_retries_total",
			Help:      "Sink write attempts that failed and were retried",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Items waiting on the work queue",
		}),
	}
}

func (m *Metrics) scraped(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ItemsScraped.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) sourceFailed(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) parseFailed(source string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) enqueued(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ItemsEnqueued.WithLabelValues(source).Add(float64(n))
}

// ingested は結果ラベル（accepted / rejected / dropped / failed）を1件数える
func (m *Metrics) ingested(res IngestionResult) {
	if m == nil {
		return
	}
	label := "accepted"
	switch {
	case res.Accepted:
	case res.ErrorKind == ErrorKindSinkWrite:
		label = "dropped"
	case res.ErrorKind == ErrorKindValidation:
		label = "rejected"
	default:
		label = "failed"
	}
	m.IngestTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) sinkRetried() {
	if m == nil {
		return
	}
	m.SinkRetries.Inc()
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
