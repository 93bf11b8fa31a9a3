package queue

// Option configures an InMemoryQueue of raw notices.
type Option func(*InMemoryQueue)

// WithCapacity bounds how many undelivered notices the queue holds. Enqueue
// refuses a notice once the bound is reached and counts it as an enqueue error.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sizes the notice channel. It is raised to the capacity when
// smaller, so a full queue is decided by the capacity alone.
func WithBufferSize(size int) Option {
	return func(q *InMemoryQueue) {
		if size > 0 {
			q.bufferSize = size
		}
	}
}
