// Package stream holds the stream source contract, the connection
// supervisor that watches heartbeats and reconnects, and a spool-directory
// source.
package stream

import (
	"context"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
)

// Source is one live stream handle.
type Source interface {
	// Subscribe selects the topics to receive. A message is delivered when its
	// topic contains one of topics.
	Subscribe(ctx context.Context, topics []string) error
	// Poll waits up to timeout for one message. ok is false when none arrived.
	Poll(ctx context.Context, timeout time.Duration) (m model.RawMessage, ok bool, err error)
	Close() error
}

// Acker is a Source that keeps each delivered message until Ack reports
// whether handling it succeeded.
type Acker interface {
	Ack(ctx context.Context, m model.RawMessage, err error)
}

// Dialer opens a new Source handle.
type Dialer func(ctx context.Context) (Source, error)

// State is the connection state reported by the Supervisor.
type State int32

// Connection states. Values match the stream state gauge.
const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
