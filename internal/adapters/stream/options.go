package stream

import (
	"time"

	"github.com/okian/noticeledger/pkg/logger"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHeartbeatTopic sets the topic whose messages only feed the watchdog.
func WithHeartbeatTopic(topic string) Option {
	return func(s *Supervisor) {
		s.heartbeatTopic = topic
	}
}

// WithHeartbeatTimeout sets the silence after which the stream is declared disconnected.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCheckInterval sets how often the watchdog runs.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBackoff sets the reconnect delay shape.
func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) {
		if b.Base > 0 && b.Max >= b.Base {
			s.backoff = b
		}
	}
}

// WithMaxAttempts sets the consecutive failures allowed before a cooldown.
func WithMaxAttempts(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCooldown sets the pause taken after MaxAttempts failures.
func WithCooldown(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithProbeTimeout bounds the fetch a new handle must pass before it is used.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for heartbeat age.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}
