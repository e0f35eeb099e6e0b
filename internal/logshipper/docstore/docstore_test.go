package docstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

var testBatch = []record.Record{
	{"trace_id": "u1:s1:1", "create_date": "2024-01-01", "msg": "hello"},
	{"trace_id": "", "msg": "world"},
}

type mockCollection struct {
	documents []interface{}
	ordered   *bool
	err       error
}

func (c *mockCollection) InsertMany(_ context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.documents = append(c.documents, documents...)
	c.ordered = options.MergeInsertManyOptions(opts...).Ordered
	return &mongo.InsertManyResult{}, nil
}

func TestMongoSink_Store(t *testing.T) {
	collection := &mockCollection{}
	sink := &MongoSink{collection: collection, writeTimeout: time.Second}

	require.NoError(t, sink.Store(context.Background(), testBatch))
	require.Len(t, collection.documents, 2)
	assert.Equal(t, map[string]interface{}(testBatch[0]), collection.documents[0])
	assert.Equal(t, map[string]interface{}(testBatch[1]), collection.documents[1])
	require.NotNil(t, collection.ordered)
	assert.True(t, *collection.ordered)
}

func TestMongoSink_EmptyBatch(t *testing.T) {
	collection := &mockCollection{err: errors.New("should not be called")}
	sink := &MongoSink{collection: collection}
	assert.NoError(t, sink.Store(context.Background(), nil))
}

func TestMongoSink_Error(t *testing.T) {
	insertErr := errors.New("connection reset")
	sink := &MongoSink{collection: &mockCollection{err: insertErr}}

	err := sink.Store(context.Background(), testBatch)
	require.Error(t, err)
	var sinkErr *shippererrors.ErrSink
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, "mongodb", sinkErr.Sink)
	assert.Equal(t, 2, sinkErr.Count)
	assert.True(t, errors.Is(err, insertErr))
}

type mockCopier struct {
	table   pgx.Identifier
	columns []string
	rows    [][]interface{}
	err     error
}

func (c *mockCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, rowSrc pgx.CopyFromSource) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.table = table
	c.columns = columns
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		c.rows = append(c.rows, values)
	}
	return int64(len(c.rows)), rowSrc.Err()
}

func TestPostgresSink_Store(t *testing.T) {
	db := &mockCopier{}
	sink := &PostgresSink{db: db, table: pgx.Identifier{"log_history"}}

	require.NoError(t, sink.Store(context.Background(), testBatch))
	assert.Equal(t, pgx.Identifier{"log_history"}, db.table)
	assert.Equal(t, []string{"trace_id", "create_date", "document"}, db.columns)
	require.Len(t, db.rows, 2)

	assert.Equal(t, "u1:s1:1", db.rows[0][0])
	assert.Equal(t, "2024-01-01", db.rows[0][1])
	assert.JSONEq(t, `{"trace_id": "u1:s1:1", "create_date": "2024-01-01", "msg": "hello"}`, string(db.rows[0][2].([]byte)))

	assert.Equal(t, "", db.rows[1][0])
	assert.Nil(t, db.rows[1][1])
}

func TestPostgresSink_Error(t *testing.T) {
	sink := &PostgresSink{db: &mockCopier{err: errors.New("relation does not exist")}}
	err := sink.Store(context.Background(), testBatch)
	assert.True(t, shippererrors.IsSinkError(err))
}

func TestRedisSink_Store(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	storeUrl, err := configuration.ParseDocumentStoreUrl("redis://" + server.Addr() + "/0/history")
	require.NoError(t, err)
	sink, err := NewRedisSink(context.Background(), storeUrl)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	// This miniredis has no stream commands, so the XADDs are captured rather than sent
	var captured []*redis.XAddArgs
	sink.exec = func(_ context.Context, adds []*redis.XAddArgs) error {
		captured = adds
		return nil
	}

	require.NoError(t, sink.Store(context.Background(), testBatch))
	require.Len(t, captured, 2)
	for i, add := range captured {
		assert.Equal(t, "history", add.Stream)
		assert.Equal(t, testBatch[i].TraceId(), add.Values["trace_id"])
		assert.Contains(t, string(add.Values["document"].([]byte)), `"msg":`)
	}

	sink.exec = func(context.Context, []*redis.XAddArgs) error { return errors.New("READONLY") }
	assert.True(t, shippererrors.IsSinkError(sink.Store(context.Background(), testBatch)))
}

func TestRedisSink_StoreSendsPipeline(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	storeUrl, err := configuration.ParseDocumentStoreUrl("redis://" + server.Addr() + "/0/history")
	require.NoError(t, err)
	sink, err := NewRedisSink(context.Background(), storeUrl)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	// The pipeline reaches the server, which rejects XADD as an unknown command
	err = sink.Store(context.Background(), testBatch)
	require.Error(t, err)
	assert.True(t, shippererrors.IsSinkError(err))
	assert.Contains(t, strings.ToLower(err.Error()), "xadd")
	assert.Equal(t, 0, len(server.Keys()))
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	addr := server.Addr()
	server.Close()

	storeUrl, err := configuration.ParseDocumentStoreUrl("redis://" + addr + "/0/history")
	require.NoError(t, err)
	_, err = NewRedisSink(context.Background(), storeUrl)
	assert.Error(t, err)
}

func TestNewSink_InvalidUrl(t *testing.T) {
	_, err := NewSink(context.Background(), configuration.DocumentStoreConfig{
		Enabled:        true,
		Url:            "mongodb://localhost:27017/logs",
		ConnectTimeout: time.Second,
	})
	require.Error(t, err)
	assert.True(t, shippererrors.IsInvalidConfig(err))
}

// flakySink fails the first `failures` writes.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	stored   [][]record.Record
}

func (s *flakySink) Store(_ context.Context, batch []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return &shippererrors.ErrSink{Sink: "flaky", Count: len(batch), Err: errors.New("unavailable")}
	}
	s.stored = append(s.stored, batch)
	return nil
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Close() error { return nil }

func TestRetryingSink_SucceedsWithinRetries(t *testing.T) {
	inner := &flakySink{failures: 2}
	sink := NewRetryingSink(inner, 2, time.Millisecond)

	require.NoError(t, sink.Store(context.Background(), testBatch))
	assert.Equal(t, 3, inner.attempts)
	assert.Equal(t, [][]record.Record{testBatch}, inner.stored)
}

func TestRetryingSink_GivesUp(t *testing.T) {
	inner := &flakySink{failures: 10}
	sink := NewRetryingSink(inner, 3, time.Millisecond)

	err := sink.Store(context.Background(), testBatch)
	require.Error(t, err)
	assert.Equal(t, 4, inner.attempts)
	var retriesErr *shippererrors.ErrMaxRetriesExceeded
	assert.True(t, errors.As(err, &retriesErr))
	assert.True(t, shippererrors.IsSinkError(err))
	assert.Empty(t, inner.stored)
}

func TestRetryingSink_StopsWhenContextCancelled(t *testing.T) {
	inner := &flakySink{failures: 10}
	sink := NewRetryingSink(inner, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := sink.Store(ctx, testBatch)
	require.Error(t, err)
	assert.Equal(t, 1, inner.attempts)
	assert.Equal(t, "flaky", sink.Name())
}
