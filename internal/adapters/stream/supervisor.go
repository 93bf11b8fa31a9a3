package stream

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

// Default supervisor configuration constants.
const (
	defaultHeartbeatTimeout = 5 * time.Minute
	defaultCheckInterval    = 10 * time.Second
	defaultMaxAttempts      = 5
	defaultCooldown         = 5 * time.Minute
	defaultProbeTimeout     = 5 * time.Second
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = time.Minute
)

// Supervisor owns the live stream handle. It is itself a Source: the consume
// loop polls it, while its watchdog swaps the underlying handle after a
// heartbeat timeout. The handle mutex is held for a whole poll, so a swap
// only happens between polls and the loop never sees a half-closed handle.
type Supervisor struct {
	dial           Dialer
	topics         []string
	heartbeatTopic string
	timeout        time.Duration
	interval       time.Duration
	backoff        Backoff
	maxAttempts    int
	cooldown       time.Duration
	probeTimeout   time.Duration
	now            func() time.Time
	logger         logger.Logger

	handleMu sync.Mutex
	src      Source
	pending  []model.RawMessage
	closed   bool

	lastBeat atomic.Int64
	state    atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	closing sync.WaitGroup
}

// NewSupervisor creates a supervisor that opens handles with dial.
func NewSupervisor(dial Dialer, opts ...Option) *Supervisor {
	s := &Supervisor{
		dial:         dial,
		timeout:      defaultHeartbeatTimeout,
		interval:     defaultCheckInterval,
		backoff:      Backoff{Base: defaultBaseDelay, Max: defaultMaxDelay},
		maxAttempts:  defaultMaxAttempts,
		cooldown:     defaultCooldown,
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
		logger:       logger.Or("stream"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(Disconnected)
	return s
}

// Subscribe records topics and subscribes the current handle, if any.
// Handles opened later are subscribed to the same topics.
func (s *Supervisor) Subscribe(ctx context.Context, topics []string) error {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.topics = slices.Clone(topics)
	if s.heartbeatTopic != "" && !slices.Contains(s.topics, s.heartbeatTopic) {
		s.topics = append(s.topics, s.heartbeatTopic)
	}
	if s.src == nil {
		return nil
	}
	return s.src.Subscribe(ctx, s.topics)
}

// Connect opens the first handle. On failure the state stays Disconnected
// and the watchdog retries.
func (s *Supervisor) Connect(ctx context.Context) error {
	src, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.swap(ctx, src, nil)
	s.beat()
	s.setState(Connected)
	return nil
}

// Poll returns the next non-heartbeat message from the live handle.
func (s *Supervisor) Poll(ctx context.Context, timeout time.Duration) (model.RawMessage, bool, error) {
	s.handleMu.Lock()
	if s.closed {
		s.handleMu.Unlock()
		return model.RawMessage{}, false, ErrClosed
	}
	if len(s.pending) > 0 {
		m := s.pending[0]
		s.pending = s.pending[1:]
		s.handleMu.Unlock()
		return m, true, nil
	}
	src := s.src
	if src == nil {
		s.handleMu.Unlock()
		return model.RawMessage{}, false, wait(ctx, timeout)
	}
	m, ok, err := src.Poll(ctx, timeout)
	s.handleMu.Unlock()

	if err != nil || !ok {
		return m, false, err
	}
	s.beat()
	if s.isHeartbeat(m) {
		return model.RawMessage{}, false, nil
	}
	return m, true, nil
}

// Ack reports the handling of m to the live handle when it holds deliveries.
// Spool handles act on the receipt alone, so a handle swapped in after the
// poll can settle it.
func (s *Supervisor) Ack(ctx context.Context, m model.RawMessage, err error) { //nolint:gocritic // hugeParam: RawMessage passed by value
	if m.Receipt == "" {
		return
	}
	s.handleMu.Lock()
	src := s.src
	s.handleMu.Unlock()
	if a, ok := src.(Acker); ok {
		a.Ack(ctx, m, err)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) isHeartbeat(m model.RawMessage) bool { //nolint:gocritic // hugeParam: RawMessage passed by value
	return s.heartbeatTopic != "" && m.Topic == s.heartbeatTopic
}

// beat records that the stream is alive. Any delivered message counts.
func (s *Supervisor) beat() { s.lastBeat.Store(s.now().UnixNano()) }

// LastHeartbeat returns when the stream last proved alive.
func (s *Supervisor) LastHeartbeat() time.Time { return time.Unix(0, s.lastBeat.Load()) }

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	metrics.UpdateStreamState(int(st))
}

// Check runs one watchdog step. A connected stream silent for longer than
// the heartbeat timeout, or a stream that never connected, is reconnected.
// Check blocks until the reconnect succeeds or ctx is done.
func (s *Supervisor) Check(ctx context.Context) State {
	age := s.now().Sub(s.LastHeartbeat())
	metrics.UpdateHeartbeatAge(age)

	switch s.State() {
	case Connected:
		if age <= s.timeout {
			return Connected
		}
		s.logger.Warn(ctx, "heartbeat timeout, declaring stream disconnected",
			logger.Duration("age", age),
			logger.Duration("timeout", s.timeout))
		s.setState(Disconnected)
	case Reconnecting:
		return Reconnecting
	}

	if err := s.reconnect(ctx); err != nil {
		s.logger.Info(ctx, "reconnect abandoned", logger.Error(err))
	}
	return s.State()
}

// reconnect retries until a new handle passes its probe. After maxAttempts
// consecutive failures it waits out the cooldown and starts counting again.
func (s *Supervisor) reconnect(ctx context.Context) error {
	s.setState(Reconnecting)
	attempt := 0
	for {
		if attempt >= s.maxAttempts {
			s.logger.Warn(ctx, "reconnect attempts exhausted, cooling down",
				logger.Int("attempts", attempt),
				logger.Duration("cooldown", s.cooldown))
			if err := wait(ctx, s.cooldown); err != nil {
				s.setState(Disconnected)
				return err
			}
			attempt = 0
		}

		delay := s.backoff.Delay(attempt)
		if err := wait(ctx, delay); err != nil {
			s.setState(Disconnected)
			return err
		}
		metrics.RecordReconnectAttempt()

		src, err := s.open(ctx)
		if err != nil {
			attempt++
			s.logger.Warn(ctx, "reconnect attempt failed",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err))
			continue
		}

		buffered, err := s.probe(ctx, src)
		if err != nil {
			attempt++
			s.closeAsync(ctx, src)
			s.logger.Warn(ctx, "new stream handle failed its probe",
				logger.Int("attempt", attempt),
				logger.Error(err))
			continue
		}

		s.swap(ctx, src, buffered)
		s.beat()
		s.setState(Connected)
		metrics.RecordReconnectSuccess()
		s.logger.Info(ctx, "stream reconnected", logger.Int("attempts", attempt+1))
		return nil
	}
}

func (s *Supervisor) open(ctx context.Context) (Source, error) {
	src, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrDisconnected, err)
	}
	s.handleMu.Lock()
	topics := slices.Clone(s.topics)
	s.handleMu.Unlock()
	if len(topics) > 0 {
		if err := src.Subscribe(ctx, topics); err != nil {
			s.closeAsync(ctx, src)
			return nil, fmt.Errorf("%w: subscribe: %w", ErrDisconnected, err)
		}
	}
	return src, nil
}

// probe proves src can fetch. A message returned by the probe is kept so it
// is not lost.
func (s *Supervisor) probe(ctx context.Context, src Source) ([]model.RawMessage, error) {
	m, ok, err := src.Poll(ctx, s.probeTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	if !ok || s.isHeartbeat(m) {
		return nil, nil
	}
	return []model.RawMessage{m}, nil
}

// swap installs src as the live handle and closes the previous one in the background.
func (s *Supervisor) swap(ctx context.Context, src Source, buffered []model.RawMessage) {
	s.handleMu.Lock()
	if s.closed {
		s.handleMu.Unlock()
		s.closeAsync(ctx, src)
		return
	}
	old := s.src
	s.src = src
	s.pending = append(s.pending, buffered...)
	s.handleMu.Unlock()

	if old != nil {
		s.closeAsync(ctx, old)
	}
}

func (s *Supervisor) closeAsync(ctx context.Context, src Source) {
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		if err := src.Close(); err != nil {
			s.logger.Warn(ctx, "closing stream handle", logger.Error(err))
		}
	}()
}

// Start runs the watchdog in the background until Stop or Close.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx, s.done)
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop halts the watchdog and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Close stops the watchdog and closes the live handle. Later polls return ErrClosed.
func (s *Supervisor) Close() error {
	s.Stop()

	s.handleMu.Lock()
	src := s.src
	s.src = nil
	s.pending = nil
	s.closed = true
	s.handleMu.Unlock()

	var err error
	if src != nil {
		err = src.Close()
	}
	s.closing.Wait()
	s.setState(Disconnected)
	return err
}
