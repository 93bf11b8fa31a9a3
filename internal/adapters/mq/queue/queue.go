// Package queue provides an in-memory bounded stream of raw notices.
//
// InMemoryQueue satisfies the stream source contract: producers Enqueue raw
// messages and the consume loop polls them one at a time in arrival order.
// It backs in-process producers and the service tests.
package queue

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Message is the payload type flowing through the queue.
type Message = model.RawMessage

// Queue provides non-blocking enqueue and bounded-wait polling.
type Queue interface {
	// Enqueue adds a message to the queue.
	// Returns false if the queue is full, closed, or the message topic is not subscribed.
	Enqueue(ctx context.Context, m Message) bool

	// Poll waits up to timeout for the next message. ok is false on timeout.
	Poll(ctx context.Context, timeout time.Duration) (m Message, ok bool, err error)

	// Len returns the current number of queued messages.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new messages can be enqueued and Poll returns ErrClosed once drained.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	messages   chan Message
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	topics     []string
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}

	q.messages = make(chan Message, q.bufferSize)
	metrics.UpdateQueueSize(0)

	return q
}

// Subscribe limits accepted messages to those whose topic contains one of
// topics. An empty list accepts everything.
func (q *InMemoryQueue) Subscribe(_ context.Context, topics []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.topics = slices.Clone(topics)
	return nil
}

func subscribed(topics []string, topic string) bool {
	if len(topics) == 0 {
		return true
	}
	return slices.ContainsFunc(topics, func(t string) bool { return strings.Contains(topic, t) })
}

// Enqueue adds a message to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, m Message) bool { //nolint:gocritic // hugeParam: Message must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if !subscribed(q.topics, m.Topic) {
		return false
	}
	if len(q.messages) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	select {
	case q.messages <- m:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.messages))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Poll returns the next message, waiting at most timeout.
func (q *InMemoryQueue) Poll(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m, ok := <-q.messages:
		if !ok {
			return Message{}, false, ErrClosed
		}
		metrics.UpdateQueueSize(len(q.messages))
		return m, true, nil
	case <-timer.C:
		return Message{}, false, nil
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	}
}

// Len returns the current number of queued messages.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.messages)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue. Messages already queued can still be polled.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.messages)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
