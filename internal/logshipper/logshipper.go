package logshipper

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common"
	"github.com/G-Research/logshipper/internal/common/app"
	"github.com/G-Research/logshipper/internal/common/util"
	"github.com/G-Research/logshipper/internal/logshipper/bus"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/docstore"
	"github.com/G-Research/logshipper/internal/logshipper/metrics"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

// Run ships the records read from stdin until stdin is closed or a SIGINT or SIGTERM is received, and then waits
// for everything read to be delivered. The returned error is non-nil if the document store could not be written to.
func Run(config configuration.LogShipperConfiguration) error {
	collectorId := uuid.NewString()
	log.Infof("Log shipper %s starting", collectorId)

	shutdownMetricsServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricsServer()

	parser, err := NewParser(config)
	if err != nil {
		return err
	}

	var sink docstore.Sink
	if config.DocumentStore.Enabled {
		sink, err = docstore.NewSink(context.Background(), config.DocumentStore)
		if err != nil {
			return err
		}
	}
	var sender bus.Sender
	if config.MessageBus.Enabled {
		sender, err = bus.NewSender(config.MessageBus, "logshipper-"+collectorId)
		if err != nil {
			if sink != nil {
				util.CloseResource(sink.Name(), sink)
			}
			return err
		}
	}

	m := metrics.Get()
	pipeline := NewPipeline(config, sink, sender, m)
	pipeline.Start(context.Background())

	ctx := app.CreateContextWithShutdown()
	collector := NewCollector(parser, pipeline, os.Stdout, m, config.MaxConsecutiveReadErrors)
	summary, runErr := collector.Run(ctx, os.Stdin)
	if runErr != nil {
		log.WithError(runErr).Error("Ingestion stopped early")
	}

	log.Infof("Draining %d queued records", pipeline.QueueLen())
	shutdownErr := pipeline.Shutdown(context.Background())

	log.WithFields(log.Fields{
		"collectorId": collectorId,
		"received":    summary.Received,
		"malformed":   summary.Malformed,
		"submitted":   summary.Submitted,
	}).Info("Log shipper exited")

	var result *multierror.Error
	if shutdownErr != nil {
		result = multierror.Append(result, shutdownErr)
	} else if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	return result.ErrorOrNil()
}

// NewParser returns the parser selected by config.UseDefaultProcess.
func NewParser(config configuration.LogShipperConfiguration) (record.Parser, error) {
	if !config.UseDefaultProcess {
		return record.NewPassthroughParser(), nil
	}
	decomposer, err := record.NewRegexpTraceDecomposer(config.TraceIdPattern)
	if err != nil {
		return nil, err
	}
	cached, err := record.NewCachingTraceDecomposer(decomposer, config.TraceIdCacheSize)
	if err != nil {
		return nil, err
	}
	return record.NewEnrichingParser(cached), nil
}
