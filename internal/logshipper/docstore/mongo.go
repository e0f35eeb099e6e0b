package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

const mongoSinkName = "mongodb"

type mongoCollection interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// MongoSink inserts each batch into a mongo collection with a single ordered InsertMany.
type MongoSink struct {
	client       *mongo.Client
	collection   mongoCollection
	writeTimeout time.Duration
}

func NewMongoSink(ctx context.Context, storeUrl *configuration.DocumentStoreUrl, writeTimeout time.Duration) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(storeUrl.ConnectionUrl))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to mongodb at %s", storeUrl.Host)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrapf(err, "pinging mongodb at %s", storeUrl.Host)
	}
	return &MongoSink{
		client:       client,
		collection:   client.Database(storeUrl.Database).Collection(storeUrl.Collection),
		writeTimeout: writeTimeout,
	}, nil
}

func (s *MongoSink) Store(ctx context.Context, batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}
	documents := make([]interface{}, len(batch))
	for i, r := range batch {
		documents[i] = map[string]interface{}(r)
	}

	ctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	if _, err := s.collection.InsertMany(ctx, documents, options.InsertMany().SetOrdered(true)); err != nil {
		return sinkError(mongoSinkName, len(batch), err)
	}
	return nil
}

func (s *MongoSink) Name() string {
	return mongoSinkName
}

func (s *MongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.WithStack(s.client.Disconnect(ctx))
}

func withWriteTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
