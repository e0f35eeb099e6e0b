package ingest

// Item is an entry of the batch queue. It is either a RecordItem carrying a value to be batched, or
// Shutdown, which marks the end of the stream. Consumers should type switch over the two.
type Item[T any] interface {
	isItem()
}

// RecordItem carries a single value through the queue.
type RecordItem[T any] struct {
	Value T
}

// Shutdown signals that nothing more will be pushed. It must be the last item pushed to a queue.
type Shutdown[T any] struct{}

func (RecordItem[T]) isItem() {}

func (Shutdown[T]) isItem() {}
