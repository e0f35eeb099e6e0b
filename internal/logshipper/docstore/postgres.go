package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

const postgresSinkName = "postgres"

// The table written to must have at least these columns, e.g.
//
//	CREATE TABLE log_history (trace_id text, create_date text, document jsonb NOT NULL);
var postgresColumns = []string{"trace_id", "create_date", "document"}

type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink copies each batch into a table, one row per record, with the whole record kept in a jsonb column.
type PostgresSink struct {
	pool         *pgxpool.Pool
	db           copier
	table        pgx.Identifier
	writeTimeout time.Duration
}

func NewPostgresSink(ctx context.Context, storeUrl *configuration.DocumentStoreUrl, writeTimeout time.Duration) (*PostgresSink, error) {
	pool, err := pgxpool.Connect(ctx, storeUrl.ConnectionUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to postgres at %s", storeUrl.Host)
	}
	return &PostgresSink{
		pool:         pool,
		db:           pool,
		table:        pgx.Identifier{storeUrl.Collection},
		writeTimeout: writeTimeout,
	}, nil
}

func (s *PostgresSink) Store(ctx context.Context, batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(batch))
	for i, r := range batch {
		document, err := json.Marshal(r)
		if err != nil {
			return sinkError(postgresSinkName, len(batch), errors.WithStack(err))
		}
		rows[i] = []interface{}{nullableString(r, record.TraceIdField), nullableString(r, record.CreateDateField), document}
	}

	ctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	if _, err := s.db.CopyFrom(ctx, s.table, postgresColumns, pgx.CopyFromRows(rows)); err != nil {
		return sinkError(postgresSinkName, len(batch), err)
	}
	return nil
}

func (s *PostgresSink) Name() string {
	return postgresSinkName
}

func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func nullableString(r record.Record, field string) interface{} {
	if v, ok := r[field].(string); ok {
		return v
	}
	return nil
}
