// Package service runs the notice transaction: extract, resolve, merge and
// persist, one notice at a time, and owns the identity state rebuilt from
// the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/noticeledger/internal/adapters/stream"
	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/extract"
	"github.com/okian/noticeledger/internal/domain/identity"
	"github.com/okian/noticeledger/internal/domain/merge"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultAppendAttempts = 3
	defaultAppendDelay    = 100 * time.Millisecond
	defaultAppendMaxDelay = time.Second
	testTopicMarker       = "_TEST"
)

// Ledger is the append-only notice history.
type Ledger interface {
	Append(ctx context.Context, row model.LedgerRow) (model.LedgerRow, error)
	Scan(ctx context.Context) iter.Seq2[model.LedgerRow, error]
}

// Window is the bounded table of active events.
type Window interface {
	Upsert(ctx context.Context, ev model.Event) ([]string, error)
	Remove(ctx context.Context, name string) (bool, error)
	Replace(ctx context.Context, events []model.Event) error
	Get(name string) (model.Event, error)
	Lookup(name string) (model.Event, bool)
	List() []model.Event
	Len() int
	Capacity() int
}

// Notifier receives a summary of every processed notice. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, s model.Summary) bool
}

// StreamStatus reports the health of the stream connection.
type StreamStatus interface {
	State() stream.State
	LastHeartbeat() time.Time
}

// Service processes notices against the ledger and active window.
type Service struct {
	mu sync.RWMutex

	// storeMu is held for a whole notice transaction and guards state.
	storeMu sync.Mutex
	state   *identity.State

	ledger    Ledger
	window    Window
	extractor *extract.Extractor
	resolver  *identity.Resolver
	catalog   atomic.Pointer[catalog.Catalog]
	notifier  Notifier
	stream    StreamStatus

	heartbeatTopic string
	skipTestTopics bool
	refresh        time.Duration
	appendAttempts int
	appendDelay    time.Duration
	appendMaxDelay time.Duration

	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCatalog sets the facility catalog. SetCatalog swaps it at runtime.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(s *Service) {
		if cat != nil {
			s.catalog.Store(cat)
		}
	}
}

// WithExtractor sets the extractor; the default is lenient.
func WithExtractor(e *extract.Extractor) Option {
	return func(s *Service) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithNotifier sets the sink every processed notice is summarized to.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithStream reports stream health in GetStats.
func WithStream(st StreamStatus) Option {
	return func(s *Service) {
		s.stream = st
	}
}

// WithHeartbeatTopic sets the topic whose messages are never processed.
func WithHeartbeatTopic(topic string) Option {
	return func(s *Service) {
		s.heartbeatTopic = topic
	}
}

// WithSkipTestTopics drops notices from topics containing "_TEST".
func WithSkipTestTopics(skip bool) Option {
	return func(s *Service) {
		s.skipTestTopics = skip
	}
}

// WithStateRefresh re-folds identity state from the ledger every d. Zero disables.
func WithStateRefresh(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.refresh = d
		}
	}
}

// WithAppendRetry sets how often a failed ledger append is retried.
func WithAppendRetry(attempts int, initial, maxDelay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 && initial > 0 && maxDelay >= initial {
			s.appendAttempts = attempts
			s.appendDelay = initial
			s.appendMaxDelay = maxDelay
		}
	}
}

// New constructs a Service over a ledger and an active window.
func New(ledger Ledger, window Window, opts ...Option) *Service {
	s := &Service{
		state:          identity.NewState(),
		ledger:         ledger,
		window:         window,
		skipTestTopics: true,
		appendAttempts: defaultAppendAttempts,
		appendDelay:    defaultAppendDelay,
		appendMaxDelay: defaultAppendMaxDelay,
		logger:         logger.Or("service"),
	}
	s.catalog.Store(catalog.Default())
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = extract.New(extract.WithLogger(s.logger))
	}
	s.resolver = identity.NewResolver(ledger, window, s.fold, identity.WithLogger(s.logger))
	return s
}

func (s *Service) fold(ev model.Event, rec model.PartialRecord) model.Event { //nolint:gocritic // hugeParam: events are passed by value
	return merge.Merge(s.Catalog(), ev, rec).Event
}

// Catalog returns the catalog in use.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog.Load() }

// SetCatalog swaps the catalog. Notices already in flight finish with the old one.
func (s *Service) SetCatalog(cat *catalog.Catalog) {
	if cat == nil {
		return
	}
	s.catalog.Store(cat)
	s.logger.Info(context.Background(), "catalog swapped",
		logger.Int("topics", len(cat.Topics())))
}

// Topics returns the stream topics the catalog's facilities publish on.
func (s *Service) Topics() []string {
	topics := s.Catalog().Topics()
	if s.heartbeatTopic != "" {
		topics = append(topics, s.heartbeatTopic)
	}
	return topics
}

// Start rebuilds identity state from the ledger and starts the refresh loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting notice service...")
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.refreshLoop(runCtx, s.done)

	s.started = true
	s.logger.Info(ctx, "notice service started",
		logger.Int("activeEvents", s.window.Len()),
		logger.Int("capacity", s.window.Capacity()),
		logger.Duration("stateRefresh", s.refresh),
	)
	return nil
}

// Stop ends the refresh loop and waits for an in-flight transaction.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping notice service...")
	s.cancel()
	<-s.done

	s.storeMu.Lock()
	s.started = false
	s.storeMu.Unlock()
	s.logger.Info(context.Background(), "notice service stopped")
}

// Rebuild replaces identity state with a fold of the whole ledger and brings
// the active window back in line with it. An empty window is repopulated from
// the most recently updated live events.
func (s *Service) Rebuild(ctx context.Context) error {
	snap, err := identity.Replay(ctx, s.ledger, s.Catalog(), s.fold)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebuild, err)
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	s.state = snap.State
	if err := s.reconcile(ctx, snap); err != nil {
		return fmt.Errorf("%w: %w", ErrRebuild, err)
	}
	s.logger.Info(ctx, "identity state rebuilt",
		logger.Int("ledgerRows", snap.Rows),
		logger.Int("identities", len(snap.Events)),
		logger.Int("triggers", snap.State.Index.Len()),
		logger.Int("sequences", snap.State.Names.Len()),
	)
	return nil
}

// reconcile rewrites the window when a row disagrees with the ledger fold.
// Lagging rows take the ledger state; retracted rows and rows without ledger
// history are dropped. Row order is kept. The caller holds storeMu.
func (s *Service) reconcile(ctx context.Context, snap *identity.Snapshot) error {
	if s.window.Len() == 0 {
		active := snap.Active()
		if len(active) == 0 {
			return nil
		}
		if err := s.window.Replace(ctx, active); err != nil {
			return err
		}
		s.logger.Info(ctx, "active window rebuilt from ledger",
			logger.Int("events", s.window.Len()))
		return nil
	}

	rows := s.window.List()
	kept := make([]model.Event, 0, len(rows))
	var lagging, dropped int
	for _, row := range slices.Backward(rows) {
		ev, ok := snap.Events[row.CanonicalName]
		switch {
		case !ok || ev.Retracted:
			dropped++
			continue
		case len(merge.Diff(row, ev)) > 0:
			lagging++
			row = ev
		}
		kept = append(kept, row)
	}
	if lagging == 0 && dropped == 0 {
		return nil
	}
	if err := s.window.Replace(ctx, kept); err != nil {
		return err
	}
	s.logger.Warn(ctx, "active window reconciled with ledger",
		logger.Int("lagging", lagging),
		logger.Int("dropped", dropped))
	return nil
}

// Refresh folds the ledger again and merges the result into the live state.
// Sequence state only moves forward.
func (s *Service) Refresh(ctx context.Context) error {
	cat := s.Catalog()
	snap, err := identity.Replay(ctx, s.ledger, cat, s.fold)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRebuild, err)
	}
	s.storeMu.Lock()
	s.state.Index.Merge(snap.State.Index)
	s.state.Names.Merge(cat, snap.State.Names)
	s.storeMu.Unlock()
	s.logger.Debug(ctx, "identity state refreshed", logger.Int("ledgerRows", snap.Rows))
	return nil
}

func (s *Service) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if s.refresh <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(s.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				metrics.RecordErrorByComponent("service", "refresh")
				s.logger.Warn(ctx, "identity state refresh failed", logger.Error(err))
			}
		}
	}
}

// Handle processes one raw message. Extraction failures and skipped topics
// are not errors; a failed ledger or window write is.
func (s *Service) Handle(ctx context.Context, msg model.RawMessage) error { //nolint:gocritic // hugeParam: RawMessage passed by value
	if reason, skip := s.skipReason(msg.Topic); skip {
		s.skipped.Add(1)
		metrics.RecordNoticeSkipped(reason)
		s.logger.Debug(ctx, "notice skipped",
			logger.String("topic", msg.Topic),
			logger.String("reason", reason))
		return nil
	}
	metrics.RecordNoticeReceived()

	cat := s.Catalog()
	rec, err := s.extractor.Message(ctx, cat, msg)
	if err != nil {
		s.skipped.Add(1)
		metrics.RecordNoticeSkipped("extraction")
		fields := []logger.Field{logger.String("topic", msg.Topic), logger.Error(err)}
		var xerr *extract.Error
		if errors.As(err, &xerr) && xerr.Facility != "" {
			fields = append(fields, logger.String("facility", xerr.Facility))
		}
		s.logger.Warn(ctx, "notice discarded", fields...)
		return nil
	}

	// The transaction finishes even when shutdown cancels ctx mid-way.
	txCtx := context.WithoutCancel(ctx)
	start := time.Now()
	s.storeMu.Lock()
	sum, notify, err := s.transact(txCtx, cat, msg, rec)
	s.storeMu.Unlock()
	metrics.RecordTransactionLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		s.failed.Add(1)
		metrics.RecordErrorByComponent("service", "transaction")
		s.logger.Error(ctx, "notice transaction failed",
			logger.String("topic", msg.Topic),
			logger.String("facility", rec.Facility),
			logger.String("triggerId", rec.TriggerID),
			logger.Error(err))
		return err
	}
	s.processed.Add(1)
	metrics.RecordNoticeProcessed()
	if notify && s.notifier != nil {
		s.notifier.Notify(ctx, sum)
	}
	return nil
}

func (s *Service) skipReason(topic string) (string, bool) {
	switch {
	case s.heartbeatTopic != "" && topic == s.heartbeatTopic:
		return "heartbeat", true
	case s.skipTestTopics && strings.Contains(topic, testTopicMarker):
		return "test_topic", true
	default:
		return "", false
	}
}

// transact resolves, merges and persists rec. The caller holds storeMu.
func (s *Service) transact(ctx context.Context, cat *catalog.Catalog, msg model.RawMessage, rec model.PartialRecord) (model.Summary, bool, error) { //nolint:gocritic // hugeParam: records are passed by value
	res, err := s.resolver.Resolve(ctx, cat, s.state, rec)
	if errors.Is(err, identity.ErrAmbiguous) {
		metrics.RecordIdentityAmbiguous()
		s.logger.Error(ctx, "identity invariant violated, window update skipped",
			logger.String("topic", msg.Topic),
			logger.String("facility", rec.Facility),
			logger.String("triggerId", rec.TriggerID),
			logger.Error(err))
		_, aerr := s.append(ctx, model.LedgerRow{ReceivedAt: msg.ReceivedAt, Topic: msg.Topic, Record: rec})
		return model.Summary{}, false, aerr
	}
	if err != nil {
		return model.Summary{}, false, err
	}

	wasRetracted := res.Event.Retracted
	m := merge.Merge(cat, res.Event, rec)
	name := m.Event.CanonicalName

	if _, err := s.append(ctx, model.LedgerRow{
		ReceivedAt:    msg.ReceivedAt,
		Topic:         msg.Topic,
		CanonicalName: name,
		Record:        rec,
	}); err != nil {
		return model.Summary{}, false, err
	}
	res.Commit(s.state)

	if res.IsNew {
		metrics.RecordIdentityCreated()
		s.logger.Info(ctx, "new identity",
			logger.String("name", name),
			logger.String("facility", rec.Facility),
			logger.String("triggerId", rec.TriggerID))
	}

	if err := s.applyWindow(ctx, rec, m, wasRetracted); err != nil {
		s.resolver.MarkStale(name)
		return model.Summary{}, false, fmt.Errorf("%w: %w", ErrWindow, err)
	}
	s.resolver.Settle(name)

	return model.Summary{
		CanonicalName: name,
		TriggerID:     m.Event.TriggerID,
		Topic:         msg.Topic,
		BestFacility:  m.Event.BestFacility,
		BestPosition:  m.Event.BestPosition,
		Facilities:    m.Event.Facilities,
		IsNew:         res.IsNew,
		ChangedFields: m.Changed,
		Retracted:     m.Event.Retracted,
	}, true, nil
}

func (s *Service) append(ctx context.Context, row model.LedgerRow) (model.LedgerRow, error) { //nolint:gocritic // hugeParam: row is returned by value
	var out model.LedgerRow
	err := retry(ctx, s.appendAttempts, s.appendDelay, s.appendMaxDelay, func() error {
		var err error
		out, err = s.ledger.Append(ctx, row)
		if err != nil {
			s.logger.Warn(ctx, "ledger append attempt failed",
				logger.String("name", row.CanonicalName),
				logger.Error(err))
		}
		return err
	})
	if err != nil {
		return model.LedgerRow{}, fmt.Errorf("%w: %w", ErrAppend, err)
	}
	return out, nil
}

// applyWindow brings the window row of m's identity in line with the merge.
func (s *Service) applyWindow(ctx context.Context, rec model.PartialRecord, m merge.Result, wasRetracted bool) error { //nolint:gocritic // hugeParam: records are passed by value
	name := m.Event.CanonicalName
	switch {
	case m.Evict:
		metrics.RecordRetraction()
		if _, err := s.window.Remove(ctx, name); err != nil {
			return err
		}
		s.logger.Info(ctx, "identity retracted",
			logger.String("name", name),
			logger.String("facility", rec.Facility),
			logger.String("triggerId", rec.TriggerID))
	case wasRetracted:
		// A row left behind by a failed retraction write goes now.
		if _, err := s.window.Remove(ctx, name); err != nil {
			return err
		}
		s.logger.Debug(ctx, "notice for retracted identity ledgered only",
			logger.String("name", name),
			logger.String("facility", rec.Facility))
	default:
		evicted, err := s.window.Upsert(ctx, m.Event)
		if err != nil {
			return err
		}
		for _, e := range evicted {
			s.logger.Debug(ctx, "evicted from active window", logger.String("name", e))
		}
	}
	return nil
}

// List returns the active events, most recently updated first.
func (s *Service) List() []model.Event { return s.window.List() }

// Get returns one active event.
func (s *Service) Get(name string) (model.Event, error) { return s.window.Get(name) }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	s.storeMu.Lock()
	identities := s.state.Index.Len()
	sequences := s.state.Names.Len()
	s.storeMu.Unlock()

	stats := map[string]any{
		"started":      started,
		"activeEvents": s.window.Len(),
		"capacity":     s.window.Capacity(),
		"processed":    s.processed.Load(),
		"skipped":      s.skipped.Load(),
		"failed":       s.failed.Load(),
		"triggers":     identities,
		"sequences":    sequences,
	}
	if s.stream != nil {
		stats["streamState"] = s.stream.State().String()
		if hb := s.stream.LastHeartbeat(); hb.Unix() > 0 {
			stats["lastHeartbeat"] = hb.UTC().Format(time.RFC3339)
		}
	}
	if c, ok := s.notifier.(interface {
		Delivered() int64
		Dropped() int64
	}); ok {
		stats["sinkDelivered"] = c.Delivered()
		stats["sinkDropped"] = c.Dropped()
	}
	return stats
}
