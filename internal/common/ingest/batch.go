package ingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/logshipper/internal/common/ingest/metrics"
)

// Sink should be implemented by the struct responsible for putting batches in their final resting place, e.g. a
// database.
type Sink[T any] interface {
	// Store should persist the batch, preserving its order. The store is responsible for retrying failed attempts
	// and should only return an error when it is satisfied that the operation cannot be retried.
	Store(ctx context.Context, batch []T) error
}

// Dispatcher is the single consumer of a Queue. It drains the queue into batches and writes each batch to a Sink.
// A batch is closed, and written, when whichever of the following happens first:
//   - it holds batchSize items
//   - no item arrives within waitTime of the previous one
//   - maxWaitTime has elapsed since its first item was taken from the queue
//   - the Shutdown item is taken from the queue
//
// After writing the batch closed by Shutdown, Run returns.
type Dispatcher[T any] struct {
	queue       *Queue[Item[T]]
	sink        Sink[T]
	batchSize   int
	waitTime    time.Duration
	maxWaitTime time.Duration
	clock       clock.Clock
	metrics     *metrics.Metrics
}

func NewDispatcher[T any](
	queue *Queue[Item[T]],
	sink Sink[T],
	batchSize int,
	waitTime time.Duration,
	maxWaitTime time.Duration,
	metrics *metrics.Metrics,
) *Dispatcher[T] {
	return &Dispatcher[T]{
		queue:       queue,
		sink:        sink,
		batchSize:   batchSize,
		waitTime:    waitTime,
		maxWaitTime: maxWaitTime,
		clock:       clock.RealClock{},
		metrics:     metrics,
	}
}

// Run consumes the queue until the Shutdown item is seen, in which case it returns nil once everything queued before
// it has been stored. It returns an error if the sink fails to store a batch or if ctx is done; in both cases the
// records of the current batch have not been stored.
func (d *Dispatcher[T]) Run(ctx context.Context) error {
	for {
		first, err := d.queue.Pop(ctx, NoTimeout)
		if err != nil {
			return err
		}

		var batch []T
		switch item := first.(type) {
		case Shutdown[T]:
			log.Info("Batch dispatcher: shutdown received with no pending records")
			return nil
		case RecordItem[T]:
			batch = make([]T, 1, d.batchSize)
			batch[0] = item.Value
		}

		batch, reason, err := d.fill(ctx, batch)
		if err != nil {
			return err
		}
		if err := d.flush(ctx, batch, reason); err != nil {
			return err
		}
		if reason == metrics.FlushReasonShutdown {
			log.Info("Batch dispatcher: final batch stored")
			return nil
		}
	}
}

// fill takes items from the queue and appends them to batch until one of the flush conditions is met.
func (d *Dispatcher[T]) fill(ctx context.Context, batch []T) ([]T, metrics.FlushReason, error) {
	start := d.clock.Now()
	for len(batch) < d.batchSize {
		remaining := d.maxWaitTime - d.clock.Since(start)
		if remaining <= 0 {
			return batch, metrics.FlushReasonAge, nil
		}
		timeout := d.waitTime
		if remaining < timeout {
			timeout = remaining
		}

		next, err := d.queue.Pop(ctx, timeout)
		if errors.Is(err, ErrEmpty) {
			if d.clock.Since(start) >= d.maxWaitTime {
				return batch, metrics.FlushReasonAge, nil
			}
			return batch, metrics.FlushReasonIdle, nil
		}
		if err != nil {
			return batch, "", err
		}

		switch item := next.(type) {
		case Shutdown[T]:
			return batch, metrics.FlushReasonShutdown, nil
		case RecordItem[T]:
			batch = append(batch, item.Value)
		}
	}
	return batch, metrics.FlushReasonSize, nil
}

func (d *Dispatcher[T]) flush(ctx context.Context, batch []T, reason metrics.FlushReason) error {
	start := d.clock.Now()
	if err := d.sink.Store(ctx, batch); err != nil {
		return errors.WithMessagef(err, "storing batch of %d records closed by %s", len(batch), reason)
	}
	taken := d.clock.Since(start)
	d.metrics.RecordFlush(reason, len(batch), taken)
	d.metrics.SetQueueDepth(d.queue.Len())
	log.Debugf("Stored batch of %d records closed by %s in %dms", len(batch), reason, taken.Milliseconds())
	return nil
}
