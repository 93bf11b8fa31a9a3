// Package worker runs the single sequential consume loop.
//
// Notices are handled one at a time in poll order. There is deliberately no
// pool: identity resolution and merge must see every notice of an identity in
// receipt order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultPollTimeout  = time.Second
	defaultErrorBackoff = 500 * time.Millisecond
)

// Poller is the stream side the worker reads from.
type Poller interface {
	Poll(ctx context.Context, timeout time.Duration) (model.RawMessage, bool, error)
}

// Acker is implemented by pollers that keep a message until its handling is
// reported. err is the handler result.
type Acker interface {
	Ack(ctx context.Context, m model.RawMessage, err error)
}

// Handler processes one raw message.
type Handler interface {
	Handle(ctx context.Context, m model.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m model.RawMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, m model.RawMessage) error { //nolint:gocritic // hugeParam: RawMessage passed by value
	return f(ctx, m)
}

// Worker consumes messages until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is called or the source stops.
	Run(ctx context.Context)

	// Shutdown stops polling. A message already being handled is finished first.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker polls a source and hands each message to a handler.
type InMemoryWorker struct {
	source       Poller
	handler      Handler
	name         string
	pollTimeout  time.Duration
	errorBackoff time.Duration
	stopOn       []error

	processed atomic.Int64
	failed    atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(source Poller, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:       source,
		handler:      handler,
		name:         "worker",
		pollTimeout:  defaultPollTimeout,
		errorBackoff: defaultErrorBackoff,
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Or("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		default:
		}

		m, ok, err := w.source.Poll(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || w.stops(err) {
				w.logger.Info(ctx, "worker stopping", logger.String("reason", err.Error()))
				return
			}
			metrics.RecordErrorByComponent("worker", "poll_error")
			w.logger.Warn(ctx, "poll failed", logger.Error(err))
			if !w.sleep(ctx, w.errorBackoff) {
				return
			}
			continue
		}
		if !ok {
			continue
		}

		err = w.handler.Handle(ctx, m)
		if a, ok := w.source.(Acker); ok {
			a.Ack(ctx, m, err)
		}
		if err != nil {
			w.failed.Add(1)
			w.logger.Error(ctx, "error processing message",
				logger.String("topic", m.Topic),
				logger.Error(err))
			continue
		}
		w.processed.Add(1)
	}
}

func (w *InMemoryWorker) stops(err error) bool {
	for _, target := range w.stopOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (w *InMemoryWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.shutdown:
		return false
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Processed returns the number of messages handled without error.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of messages whose handler returned an error.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }
