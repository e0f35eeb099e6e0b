package logshipper

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/dispatch"
	"github.com/G-Research/logshipper/internal/common/ingest"
	"github.com/G-Research/logshipper/internal/common/ingest/metrics"
	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/bus"
	"github.com/G-Research/logshipper/internal/logshipper/configuration"
	"github.com/G-Research/logshipper/internal/logshipper/docstore"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

// Pipeline delivers records to the document store, in batches, and to the message bus, one at a time.
// Either destination may be absent.
//
// Records submitted to the pipeline are queued for the batch dispatcher, which owns the only connection to the
// document store. Records with a trace id are also handed to a pool of workers that send them to the message
// bus, with all records of one trace going through the same worker.
type Pipeline struct {
	queue      *ingest.Queue[ingest.Item[record.Record]]
	dispatcher *ingest.Dispatcher[record.Record]
	sink       docstore.Sink

	pool        *dispatch.Pool[bus.Message]
	sender      bus.Sender
	env         string
	sendTimeout time.Duration

	metrics *metrics.Metrics

	// Cancelled when the dispatcher stops, so that producers blocked on a full queue give up.
	runCtx        context.Context
	cancelRun     context.CancelFunc
	dispatcherErr error
	dispatcherRan chan struct{}

	startOnce sync.Once
	started   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewPipeline creates a pipeline writing to sink and sending to sender, either of which may be nil.
func NewPipeline(config configuration.LogShipperConfiguration, sink docstore.Sink, sender bus.Sender, m *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		sink:          sink,
		sender:        sender,
		metrics:       m,
		dispatcherRan: make(chan struct{}),
		started:       make(chan struct{}),
	}
	if sink != nil {
		p.queue = ingest.NewQueue[ingest.Item[record.Record]](config.MaxQueueSize)
		p.dispatcher = ingest.NewDispatcher[record.Record](p.queue, sink, config.BatchSize, config.WaitTime, config.MaxWaitTime, m)
	}
	if sender != nil {
		p.env = config.MessageBus.Env
		p.sendTimeout = config.MessageBus.SendTimeout
		p.pool = dispatch.NewPool[bus.Message](
			config.MessageBus.Workers,
			config.MessageBus.QueueSize,
			config.MessageBus.DropWhenFull,
			p.send,
			m)
	}
	return p
}

// Start launches the dispatcher and the message bus workers. They run until Shutdown is called or ctx is cancelled;
// cancelling ctx abandons whatever is still queued, so a graceful stop should use Shutdown instead. Only the first
// call has any effect.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.start(ctx)
	})
}

func (p *Pipeline) start(ctx context.Context) {
	defer close(p.started)
	p.runCtx, p.cancelRun = context.WithCancel(ctx)
	if p.pool != nil {
		p.pool.Start(ctx)
	}
	if p.dispatcher == nil {
		close(p.dispatcherRan)
		return
	}
	go func() {
		defer p.cancelRun()
		defer close(p.dispatcherRan)
		p.dispatcherErr = p.dispatcher.Run(p.runCtx)
		if p.dispatcherErr != nil {
			log.WithError(p.dispatcherErr).Error("Batch dispatcher stopped")
			var sinkErr *shippererrors.ErrSink
			if errors.As(p.dispatcherErr, &sinkErr) {
				p.metrics.RecordSinkError(sinkErr.Sink)
			}
		}
	}()
}

// Submit queues rec for the document store, blocking while the queue is full, and then hands it to the message bus
// workers if traceId is non-empty. It returns an error only if rec could not be queued for the document store, which
// happens if the pipeline hasn't been started or once the dispatcher has stopped. Failing to hand rec to the message
// bus is logged and otherwise ignored. rec must not be changed after it has been submitted.
func (p *Pipeline) Submit(ctx context.Context, traceId string, rec record.Record) error {
	if !p.isStarted() {
		return errors.New("pipeline has not been started")
	}
	if p.queue != nil {
		select {
		case <-p.dispatcherRan:
			return p.pushError(nil)
		default:
		}
		if err := p.queue.Push(p.runCtx, ingest.RecordItem[record.Record]{Value: rec}); err != nil {
			return p.pushError(err)
		}
		p.metrics.RecordEnqueued()
	}

	if p.pool == nil || traceId == "" {
		return nil
	}
	msg, err := bus.NewMessage(rec, p.env)
	if err != nil {
		log.WithError(err).Warnf("Unable to encode record with trace id %s for %s", traceId, p.sender.Name())
		return nil
	}
	task := dispatch.Task[bus.Message]{Payload: msg, Key: traceId, Source: rec.Source()}
	if err := p.pool.Submit(ctx, task); err != nil {
		log.WithError(err).Warnf("Record with trace id %s not sent to %s", traceId, p.sender.Name())
	}
	return nil
}

// Shutdown queues the end of stream marker and waits for the dispatcher to write everything queued before it.
// It then waits for the message bus workers to finish and closes both destinations. Only the first call does any
// work; later calls return the same result. If ctx is done before the dispatcher finishes, Shutdown stops waiting
// and the records still queued are lost.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	if !p.isStarted() {
		return p.closeDestinations(nil)
	}
	var result *multierror.Error

	if p.queue != nil {
		pending := p.queue.Len()
		if err := p.queue.Push(p.runCtx, ingest.Shutdown[record.Record]{}); err != nil {
			log.WithError(err).Warn("Unable to queue the end of stream marker")
		} else {
			log.Infof("Waiting for %d queued records to be written to %s", pending, p.sink.Name())
		}
	}
	select {
	case <-p.dispatcherRan:
		if p.dispatcherErr != nil {
			result = multierror.Append(result, p.dispatcherErr)
		}
	case <-ctx.Done():
		p.cancelRun()
		result = multierror.Append(result, errors.WithMessage(ctx.Err(), "waiting for the batch dispatcher to finish"))
	}
	return p.closeDestinations(result)
}

// closeDestinations stops the message bus workers, once they have sent what they hold, and closes both destinations.
func (p *Pipeline) closeDestinations(result *multierror.Error) error {
	if p.pool != nil {
		p.pool.Close()
	}
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "closing %s", p.sink.Name()))
		}
	}
	if p.sender != nil {
		if err := p.sender.Close(); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "closing %s", p.sender.Name()))
		}
	}
	return result.ErrorOrNil()
}

// QueueLen returns the number of records waiting for the dispatcher.
func (p *Pipeline) QueueLen() int {
	if p.queue == nil {
		return 0
	}
	return p.queue.Len()
}

func (p *Pipeline) isStarted() bool {
	select {
	case <-p.started:
		return true
	default:
		return false
	}
}

func (p *Pipeline) pushError(err error) error {
	select {
	case <-p.dispatcherRan:
		if p.dispatcherErr != nil {
			return p.dispatcherErr
		}
		return errors.New("batch dispatcher has stopped")
	default:
		return err
	}
}

func (p *Pipeline) send(ctx context.Context, task dispatch.Task[bus.Message]) error {
	if p.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sendTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := p.sender.Send(ctx, task.Payload, task.Key, task.Source); err != nil {
		p.metrics.RecordSinkError(p.sender.Name())
		return err
	}
	log.Debugf("Sent record with trace id %s to %s in %dms", task.Key, p.sender.Name(), time.Since(start).Milliseconds())
	return nil
}
