package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	FlushReason string
	RecordError string
)

const (
	FlushReasonSize     FlushReason = "size"
	FlushReasonIdle     FlushReason = "idle"
	FlushReasonAge      FlushReason = "age"
	FlushReasonShutdown FlushReason = "shutdown"

	RecordErrorMalformed RecordError = "malformed"
	RecordErrorRead      RecordError = "read"
)

const LogShipperMetricsPrefix = "logshipper_"

type Metrics struct {
	recordsReceived   prometheus.Counter
	recordsEnqueued   prometheus.Counter
	recordErrors      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	batchesFlushed    *prometheus.CounterVec
	batchSize         prometheus.Histogram
	flushLatency      prometheus.Histogram
	sinkErrors        *prometheus.CounterVec
	dispatchSubmitted *prometheus.CounterVec
	dispatchDropped   *prometheus.CounterVec
	dispatchFailed    *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with the default prometheus registry.
func NewMetrics(prefix string) *Metrics {
	return NewMetricsWithRegisterer(prefix, prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		recordsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_received",
			Help: "Number of non-empty lines read from the input stream",
		}),
		recordsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_enqueued",
			Help: "Number of records pushed to the batch queue",
		}),
		recordErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "record_errors",
			Help: "Number of input errors grouped by error type",
		}, []string{"error"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_depth",
			Help: "Number of items waiting in the batch queue",
		}),
		batchesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "batches_flushed",
			Help: "Number of batches written to the document store grouped by the reason the batch was closed",
		}, []string{"reason"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "batch_size",
			Help:    "Number of records per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		flushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "flush_latency_seconds",
			Help:    "Time taken to write a batch to the document store",
			Buckets: prometheus.DefBuckets,
		}),
		sinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "sink_errors",
			Help: "Number of failed sink writes grouped by sink",
		}, []string{"sink"}),
		dispatchSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "dispatch_submitted",
			Help: "Number of tasks submitted to the keyed dispatch pool grouped by worker",
		}, []string{"worker"}),
		dispatchDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "dispatch_dropped",
			Help: "Number of tasks dropped because the worker queue was full grouped by worker",
		}, []string{"worker"}),
		dispatchFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "dispatch_failed",
			Help: "Number of tasks whose handler failed grouped by worker",
		}, []string{"worker"}),
	}
}

func (m *Metrics) RecordReceived() {
	m.recordsReceived.Inc()
}

func (m *Metrics) RecordEnqueued() {
	m.recordsEnqueued.Inc()
}

func (m *Metrics) RecordError(error RecordError) {
	m.recordErrors.With(map[string]string{"error": string(error)}).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordFlush(reason FlushReason, size int, taken time.Duration) {
	m.batchesFlushed.With(map[string]string{"reason": string(reason)}).Inc()
	m.batchSize.Observe(float64(size))
	m.flushLatency.Observe(taken.Seconds())
}

func (m *Metrics) RecordSinkError(sink string) {
	m.sinkErrors.With(map[string]string{"sink": sink}).Inc()
}

func (m *Metrics) RecordDispatchSubmitted(worker string) {
	m.dispatchSubmitted.With(map[string]string{"worker": worker}).Inc()
}

func (m *Metrics) RecordDispatchDropped(worker string) {
	m.dispatchDropped.With(map[string]string{"worker": worker}).Inc()
}

func (m *Metrics) RecordDispatchFailed(worker string) {
	m.dispatchFailed.With(map[string]string{"worker": worker}).Inc()
}

// BatchesFlushed exposes the flush counter so that callers can inspect it, e.g. in tests.
func (m *Metrics) BatchesFlushed() *prometheus.CounterVec {
	return m.batchesFlushed
}

func (m *Metrics) RecordsEnqueued() prometheus.Counter {
	return m.recordsEnqueued
}
