// Package docstore contains the document store sinks that batches of log records are written to.
// The store is chosen by the scheme of the configured url.
package docstore

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/ingest"
	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

// Sink is a document store that batches of records can be written to.
type Sink interface {
	ingest.Sink[record.Record]
	// Name identifies the kind of store in logs and metrics.
	Name() string
	Close() error
}

// NewSink connects to the document store named by config.Url. If config.MaxRetries is non-zero, failed writes are
// retried with exponential backoff before the error is returned.
func NewSink(ctx context.Context, config configuration.DocumentStoreConfig) (Sink, error) {
	storeUrl, err := configuration.ParseDocumentStoreUrl(config.Url)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	var sink Sink
	switch storeUrl.Kind {
	case configuration.MongoScheme:
		sink, err = NewMongoSink(connectCtx, storeUrl, config.WriteTimeout)
	case configuration.PostgresScheme:
		sink, err = NewPostgresSink(connectCtx, storeUrl, config.WriteTimeout)
	case configuration.RedisScheme:
		sink, err = NewRedisSink(connectCtx, storeUrl)
	default:
		err = errors.Errorf("unsupported document store %s", storeUrl.Kind)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to %s document store at %s, writing to %s.%s",
		sink.Name(), storeUrl.Host, storeUrl.Database, storeUrl.Collection)

	if config.MaxRetries > 0 {
		sink = NewRetryingSink(sink, config.MaxRetries, config.RetryBackoff)
	}
	return sink, nil
}

func sinkError(sink string, count int, err error) error {
	return errors.WithStack(&shippererrors.ErrSink{Sink: sink, Count: count, Err: err})
}
