package docstore

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

// RetryingSink retries failed writes to the sink it wraps, doubling the delay between attempts.
type RetryingSink struct {
	Sink
	maxRetries uint
	backoff    time.Duration
}

func NewRetryingSink(sink Sink, maxRetries uint, backoff time.Duration) *RetryingSink {
	return &RetryingSink{Sink: sink, maxRetries: maxRetries, backoff: backoff}
}

func (s *RetryingSink) Store(ctx context.Context, batch []record.Record) error {
	err := retry.Do(
		func() error {
			return s.Sink.Store(ctx, batch)
		},
		retry.Attempts(s.maxRetries+1),
		retry.Delay(s.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Write of %d records to %s failed on attempt %d, retrying", len(batch), s.Name(), n+1)
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return errors.WithStack(&shippererrors.ErrMaxRetriesExceeded{
		Message:   "writing batch to " + s.Name(),
		LastError: err,
	})
}
