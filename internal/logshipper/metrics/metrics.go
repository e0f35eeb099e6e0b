package metrics

import (
	"github.com/G-Research/logshipper/internal/common/ingest/metrics"
)

var m = metrics.NewMetrics(metrics.LogShipperMetricsPrefix)

// Get returns the metrics of the log shipper, registered with the default prometheus registry.
func Get() *metrics.Metrics {
	return m
}
