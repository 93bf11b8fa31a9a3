package worker

import (
	"time"

	"github.com/okian/noticeledger/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithPollTimeout bounds each poll.
func WithPollTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithErrorBackoff sets the pause after a failed poll.
func WithErrorBackoff(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.errorBackoff = d
		}
	}
}

// WithStopOn makes Run return when a poll error matches one of errs.
func WithStopOn(errs ...error) Option {
	return func(w *InMemoryWorker) {
		w.stopOn = append(w.stopOn, errs...)
	}
}
