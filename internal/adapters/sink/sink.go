// Package sink delivers per-notice summaries to notification collaborators.
//
// The engine never waits on delivery: Async queues summaries on a bounded
// channel and a single goroutine hands them to every configured Sink in
// order. When the queue is full the summary is dropped and counted.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

const defaultBuffer = 1024

// ErrClosed is returned by Close when the dispatcher was already closed.
var ErrClosed = errors.New("sink: closed")

// Sink receives summaries. Deliver may block; Async calls it from its own goroutine.
type Sink interface {
	Deliver(ctx context.Context, s model.Summary) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, s model.Summary) error

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, s model.Summary) error { //nolint:gocritic // hugeParam: summaries passed by value
	return f(ctx, s)
}

// Async fans summaries out to sinks without blocking the caller.
type Async struct {
	sinks  []Sink
	buffer int
	logger logger.Logger

	mu        sync.RWMutex
	ch        chan model.Summary
	started   bool
	closed    bool
	done      chan struct{}
	delivered atomic.Int64
	dropped   atomic.Int64
}

// Option configures Async.
type Option func(*Async)

// WithBuffer sets the queue length.
func WithBuffer(n int) Option {
	return func(a *Async) {
		if n > 0 {
			a.buffer = n
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAsync creates a dispatcher for sinks. Call Start before Notify.
func NewAsync(sinks []Sink, opts ...Option) *Async {
	a := &Async{
		sinks:  sinks,
		buffer: defaultBuffer,
		logger: logger.Or("sink"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.Summary, a.buffer)
	return a
}

// Start runs the delivery goroutine. Later calls, and calls after Close, do nothing.
func (a *Async) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	go a.run(context.WithoutCancel(ctx))
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)
	for s := range a.ch {
		for _, sk := range a.sinks {
			if err := sk.Deliver(ctx, s); err != nil {
				metrics.RecordErrorByComponent("sink", "deliver")
				a.logger.Warn(ctx, "summary delivery failed",
					logger.String("name", s.CanonicalName),
					logger.Error(err))
				continue
			}
		}
		a.delivered.Add(1)
		metrics.RecordSinkDelivered()
	}
}

// Notify queues s and reports whether it was accepted.
func (a *Async) Notify(ctx context.Context, s model.Summary) bool { //nolint:gocritic // hugeParam: summaries passed by value
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.ch <- s:
		return true
	default:
		a.dropped.Add(1)
		metrics.RecordSinkDropped()
		a.logger.Warn(ctx, "sink queue full, dropping summary", logger.String("name", s.CanonicalName))
		return false
	}
}

// Close stops accepting summaries and waits for queued ones to be delivered.
// A dispatcher that was never started returns at once.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.ch)
	started := a.started
	a.mu.Unlock()

	if !started {
		// Nothing will deliver what was queued.
		if n := len(a.ch); n > 0 {
			a.dropped.Add(int64(n))
		}
		return nil
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink: close: %w", ctx.Err())
	}
}

// Delivered returns the number of summaries handed to all sinks.
func (a *Async) Delivered() int64 { return a.delivered.Load() }

// Dropped returns the number of summaries dropped on a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// LogSink writes every summary to a logger.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink returns a sink logging through l, or the named global logger when l is nil.
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.Or("notice")
	}
	return &LogSink{logger: l}
}

// Deliver logs s.
func (l *LogSink) Deliver(ctx context.Context, s model.Summary) error { //nolint:gocritic // hugeParam: summaries passed by value
	fields := []logger.Field{
		logger.String("name", s.CanonicalName),
		logger.String("trigger_id", s.TriggerID),
		logger.String("topic", s.Topic),
		logger.String("best_facility", s.BestFacility),
		logger.String("facilities", strings.Join(s.Facilities, ",")),
		logger.Bool("new", s.IsNew),
		logger.Bool("retracted", s.Retracted),
		logger.String("changed", strings.Join(s.ChangedFields, ",")),
	}
	if p := s.BestPosition; p != nil {
		fields = append(fields, logger.Float64("ra", p.RA), logger.Float64("dec", p.Dec))
		if p.HasError() {
			fields = append(fields, logger.Float64("error_deg", p.Error))
		}
	}
	l.logger.Info(ctx, "notice processed", fields...)
	return nil
}

// ChannelSink forwards summaries to a channel, blocking until received or ctx is done.
type ChannelSink chan model.Summary

// Deliver sends s on the channel.
func (c ChannelSink) Deliver(ctx context.Context, s model.Summary) error { //nolint:gocritic // hugeParam: summaries passed by value
	select {
	case c <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
