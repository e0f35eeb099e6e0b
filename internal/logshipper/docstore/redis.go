package docstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

const (
	redisSinkName = "redis"
	documentKey   = "document"
)

// RedisSink appends each record of a batch to a redis stream, sending the whole batch in one pipeline.
type RedisSink struct {
	db     *redis.Client
	stream string
	exec   func(ctx context.Context, adds []*redis.XAddArgs) error
}

func NewRedisSink(ctx context.Context, storeUrl *configuration.DocumentStoreUrl) (*RedisSink, error) {
	database, err := strconv.Atoi(storeUrl.Database)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db := redis.NewClient(&redis.Options{
		Addr:     storeUrl.Host,
		Password: storeUrl.Password,
		DB:       database,
	})
	if err := db.WithContext(ctx).Ping().Err(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", storeUrl.Host)
	}
	sink := &RedisSink{db: db, stream: storeUrl.Collection}
	sink.exec = sink.execPipeline
	return sink, nil
}

func (s *RedisSink) Store(ctx context.Context, batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}
	adds := make([]*redis.XAddArgs, len(batch))
	for i, r := range batch {
		document, err := json.Marshal(r)
		if err != nil {
			return sinkError(redisSinkName, len(batch), errors.WithStack(err))
		}
		adds[i] = &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				record.TraceIdField: r.TraceId(),
				documentKey:         document,
			},
		}
	}
	if err := s.exec(ctx, adds); err != nil {
		return sinkError(redisSinkName, len(batch), err)
	}
	return nil
}

func (s *RedisSink) execPipeline(ctx context.Context, adds []*redis.XAddArgs) error {
	pipe := s.db.WithContext(ctx).Pipeline()
	for _, add := range adds {
		pipe.XAdd(add)
	}
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

func (s *RedisSink) Name() string {
	return redisSinkName
}

func (s *RedisSink) Close() error {
	return errors.WithStack(s.db.Close())
}
