package dispatch

import (
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/ingest/metrics"
)

var ErrPoolClosed = errors.New("dispatch pool is closed")

// Task is a unit of work for the Pool. Tasks with the same Key are always handled by the same worker.
type Task[T any] struct {
	Payload T
	Key     string
	Source  string
}

// Handler processes a single task. Errors are logged and counted by the pool but go no further.
type Handler[T any] func(ctx context.Context, task Task[T]) error

// Pool is a fixed set of workers, each with its own bounded queue. Each task is routed to a worker by hashing its key,
// so tasks sharing a key are handled one at a time, in the order they were submitted.
type Pool[T any] struct {
	queues       []chan Task[T]
	handler      Handler[T]
	dropWhenFull bool
	metrics      *metrics.Metrics
	wg           sync.WaitGroup
	// Held for reading while submitting so that Close can't close a queue mid-send.
	mu      sync.RWMutex
	closed  bool
	started bool
}

func NewPool[T any](numWorkers int, queueSize int, dropWhenFull bool, handler Handler[T], metrics *metrics.Metrics) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	queues := make([]chan Task[T], numWorkers)
	for i := range queues {
		queues[i] = make(chan Task[T], queueSize)
	}
	return &Pool[T]{
		queues:       queues,
		handler:      handler,
		dropWhenFull: dropWhenFull,
		metrics:      metrics,
	}
}

// Start launches the workers. ctx is passed to every handler call.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.wg.Add(len(p.queues))
	for i := range p.queues {
		go p.work(ctx, i)
	}
	log.Infof("Started dispatch pool with %d workers", len(p.queues))
}

// Submit queues task on the worker its key routes to. If that worker's queue is full Submit blocks until there is
// room or ctx is done, unless the pool was created with dropWhenFull, in which case the task is discarded.
func (p *Pool[T]) Submit(ctx context.Context, task Task[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.WithStack(ErrPoolClosed)
	}

	idx := p.Route(task.Key)
	worker := strconv.Itoa(idx)
	if p.dropWhenFull {
		select {
		case p.queues[idx] <- task:
			p.metrics.RecordDispatchSubmitted(worker)
		default:
			p.metrics.RecordDispatchDropped(worker)
			log.WithField("key", task.Key).Warnf("Dispatch worker %d is full, dropping task", idx)
		}
		return nil
	}

	select {
	case p.queues[idx] <- task:
		p.metrics.RecordDispatchSubmitted(worker)
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Route returns the index of the worker that handles tasks with the given key.
func (p *Pool[T]) Route(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.queues)))
}

// Close stops accepting tasks, waits for the workers to finish everything already queued and then returns.
// Calling Close more than once is safe.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	log.Info("Dispatch pool closed")
}

func (p *Pool[T]) work(ctx context.Context, idx int) {
	defer p.wg.Done()
	worker := strconv.Itoa(idx)
	for task := range p.queues[idx] {
		p.handle(ctx, worker, task)
	}
}

func (p *Pool[T]) handle(ctx context.Context, worker string, task Task[T]) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordDispatchFailed(worker)
			log.WithField("key", task.Key).Errorf("Dispatch handler panicked: %v", r)
		}
	}()
	if err := p.handler(ctx, task); err != nil {
		p.metrics.RecordDispatchFailed(worker)
		log.WithError(err).WithField("key", task.Key).Warn("Dispatch failed")
	}
}
