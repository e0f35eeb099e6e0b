package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"
)

// NoTimeout can be passed to Queue.Pop to wait indefinitely for an item.
const NoTimeout time.Duration = -1

// ErrEmpty is returned by Queue.Pop when no item arrived before the timeout expired.
var ErrEmpty = errors.New("queue is empty")

// Queue is a FIFO queue with a fixed capacity that is safe for concurrent use.
// Push blocks while the queue is full, with blocked producers admitted in the order they arrived.
// Storage grows with the number of queued items rather than being allocated up front, so large
// capacities only cost memory when they are actually used.
type Queue[T any] struct {
	capacity int
	// One unit per free slot.
	slots    *semaphore.Weighted
	clock    clock.Clock
	mu       sync.Mutex
	items    []T
	notEmpty chan struct{}
}

func NewQueue[T any](capacity int) *Queue[T] {
	return NewQueueWithClock[T](capacity, clock.RealClock{})
}

func NewQueueWithClock[T any](capacity int, clock clock.Clock) *Queue[T] {
	if capacity < 1 {
		panic(errors.Errorf("queue capacity must be positive but was %d", capacity))
	}
	return &Queue[T]{
		capacity: capacity,
		slots:    semaphore.NewWeighted(int64(capacity)),
		clock:    clock,
		notEmpty: make(chan struct{}, 1),
	}
}

// Push appends item to the back of the queue, blocking until there is room for it.
// An error is returned if ctx is already done, or becomes done before the item could be added, in which case the item
// was not queued.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	// Acquire succeeds on a done context whenever a slot is free.
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if err := q.slots.Acquire(ctx, 1); err != nil {
		return errors.WithStack(err)
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes and returns the item at the front of the queue. If the queue is empty it waits up to timeout for an
// item to arrive and returns ErrEmpty if none does. A negative timeout waits until an item arrives or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if item, ok := q.tryPop(); ok {
		return item, nil
	}
	if timeout == 0 {
		return zero, ErrEmpty
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := q.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C()
	}

	for {
		select {
		case <-q.notEmpty:
			if item, ok := q.tryPop(); ok {
				return item, nil
			}
		case <-expired:
			// An item may have been pushed at the same moment the timer fired.
			if item, ok := q.tryPop(); ok {
				return item, nil
			}
			return zero, ErrEmpty
		case <-ctx.Done():
			return zero, errors.WithStack(ctx.Err())
		}
	}
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the maximum number of items the queue can hold.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

func (q *Queue[T]) tryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	q.slots.Release(1)
	// Only one wake-up is buffered, so pass it on if there is more for another consumer to take.
	if remaining > 0 {
		q.signal()
	}
	return item, true
}

func (q *Queue[T]) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
