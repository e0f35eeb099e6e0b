package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"
)

func TestQueue_FIFO(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := NewQueue[int](10)

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(ctx, i))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 10, q.Cap())

	for i := 1; i <= 5; i++ {
		v, err := q.Pop(ctx, NoTimeout)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopZeroTimeout(t *testing.T) {
	q := NewQueue[int](1)
	_, err := q.Pop(context.Background(), 0)
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestQueue_PopTimeout(t *testing.T) {
	testClock := clock.NewFakeClock(time.Now())
	q := NewQueueWithClock[int](1, testClock)

	result := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background(), time.Second)
		result <- err
	}()

	require.Eventually(t, testClock.HasWaiters, time.Second, time.Millisecond)
	testClock.Step(999 * time.Millisecond)
	select {
	case err := <-result:
		t.Fatalf("Pop returned early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	testClock.Step(time.Millisecond)
	select {
	case err := <-result:
		assert.True(t, errors.Is(err, ErrEmpty))
	case <-time.After(time.Second):
		t.Fatal("Pop did not time out")
	}
}

func TestQueue_PopWaitsForPush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := NewQueue[string](1)

	result := make(chan string, 1)
	go func() {
		v, err := q.Pop(ctx, NoTimeout)
		assert.NoError(t, err)
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, "hello"))
	select {
	case v := <-result:
		assert.Equal(t, "hello", v)
	case <-ctx.Done():
		t.Fatal("Pop never returned")
	}
}

func TestQueue_PopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue[int](1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := q.Pop(ctx, NoTimeout)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQueue_PushBlocksWhenFull(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := NewQueue[int](2)
	require.NoError(t, q.Push(ctx, 1))
	require.NoError(t, q.Push(ctx, 2))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, 3)
	}()

	select {
	case <-pushed:
		t.Fatal("Push to a full queue did not block")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, q.Len())

	v, err := q.Pop(ctx, NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Push was not released after Pop")
	}
	assert.Equal(t, 2, q.Len())
	for _, expected := range []int{2, 3} {
		v, err := q.Pop(ctx, NoTimeout)
		require.NoError(t, err)
		assert.Equal(t, expected, v)
	}
}

func TestQueue_PushCancelledWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Push(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, 2)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PushWithDoneContextWhileNotFull(t *testing.T) {
	q := NewQueue[int](10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Push(ctx, 1)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, q.Len())

	// The rejected push didn't take a slot
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(context.Background(), i))
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const (
		numProducers = 4
		numItems     = 1000
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type item struct {
		producer int
		seq      int
	}
	q := NewQueue[item](10)

	wg := sync.WaitGroup{}
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < numItems; i++ {
				assert.NoError(t, q.Push(ctx, item{producer: p, seq: i}))
			}
		}(p)
	}

	next := make([]int, numProducers)
	for received := 0; received < numProducers*numItems; received++ {
		v, err := q.Pop(ctx, NoTimeout)
		require.NoError(t, err)
		// Items from a single producer come out in the order they went in
		require.Equal(t, next[v.producer], v.seq)
		next[v.producer]++
		require.LessOrEqual(t, q.Len(), q.Cap())
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}
