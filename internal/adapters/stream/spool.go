package stream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/noticeledger/internal/domain/dedupe"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

const (
	defaultSpoolScan = 500 * time.Millisecond
	topicSeparator   = "@"
	inflightPrefix   = ".inflight-"
)

// Spool is a Source reading notices dropped as files into a directory.
//
// A file named "<topic>@<anything>" delivers its content as one message on
// topic. Files starting with "." or ending in ".tmp" are ignored so writers
// can rename complete files into place. Content already delivered, identified
// by SHA-256 digest, is dropped.
//
// A polled file is renamed to ".inflight-<name>" and the message carries that
// path as its receipt. Ack removes it after successful handling; a failed or
// unacknowledged file stays in flight and is requeued when the next process
// opens the spool. Files are only read inside Poll, so closing a spool never
// loses a notice.
type Spool struct {
	dir       string
	heartbeat string
	scanEvery time.Duration
	seen      dedupe.Deduper
	now       func() time.Time
	logger    logger.Logger

	mu     sync.RWMutex
	topics []string

	pollMu   sync.Mutex
	backlog  []string
	lastBeat time.Time
	requeue  bool

	wake     chan struct{}
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// SpoolOption configures a Spool.
type SpoolOption func(*Spool)

// WithSpoolHeartbeat sets the heartbeat topic. An empty listing of the
// directory yields a heartbeat message at most once per scan interval.
func WithSpoolHeartbeat(topic string) SpoolOption {
	return func(s *Spool) {
		s.heartbeat = topic
	}
}

// WithSpoolScanInterval sets the rescan interval that backs up fsnotify.
func WithSpoolScanInterval(d time.Duration) SpoolOption {
	return func(s *Spool) {
		if d > 0 {
			s.scanEvery = d
		}
	}
}

// WithSpoolDeduper replaces the content deduper. Sharing one deduper across
// reconnects keeps duplicates out after a handle swap.
func WithSpoolDeduper(d dedupe.Deduper) SpoolOption {
	return func(s *Spool) {
		if d != nil {
			s.seen = d
		}
	}
}

// WithSpoolRequeue controls whether opening the spool moves files left in
// flight by an earlier process back into the queue. It is on by default.
func WithSpoolRequeue(on bool) SpoolOption {
	return func(s *Spool) {
		s.requeue = on
	}
}

// WithSpoolLogger sets the spool logger.
func WithSpoolLogger(l logger.Logger) SpoolOption {
	return func(s *Spool) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSpool creates dir if needed and starts watching it.
func OpenSpool(ctx context.Context, dir string, opts ...SpoolOption) (*Spool, error) {
	s := &Spool{
		dir:       dir,
		scanEvery: defaultSpoolScan,
		now:       time.Now,
		logger:    logger.Or("spool"),
		requeue:   true,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seen == nil {
		s.seen = dedupe.NewInMemoryDeduper()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: spool dir: %w", ErrDisconnected, err)
	}
	if s.requeue {
		s.requeueInflight(ctx)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: spool watcher: %w", ErrDisconnected, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: spool watch %s: %w", ErrDisconnected, dir, err)
	}
	s.watcher = w

	go s.loop(context.WithoutCancel(ctx))
	return s, nil
}

// SpoolDialer returns a Dialer opening spools on dir that share one deduper.
// Only the first handle requeues in-flight files; later handles would steal
// deliveries the consume loop is still handling.
func SpoolDialer(dir string, opts ...SpoolOption) Dialer {
	seen := dedupe.NewInMemoryDeduper()
	var dialed atomic.Bool
	return func(ctx context.Context) (Source, error) {
		all := append([]SpoolOption{WithSpoolDeduper(seen), WithSpoolRequeue(!dialed.Swap(true))}, opts...)
		return OpenSpool(ctx, dir, all...)
	}
}

// Subscribe limits delivered files to topics containing one of topics.
func (s *Spool) Subscribe(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = slices.Clone(topics)
	return nil
}

func (s *Spool) wants(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.topics) == 0 {
		return true
	}
	return slices.ContainsFunc(s.topics, func(t string) bool { return strings.Contains(topic, t) })
}

// Poll returns the next spooled message, waiting up to timeout for one.
func (s *Spool) Poll(ctx context.Context, timeout time.Duration) (model.RawMessage, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return model.RawMessage{}, false, ErrClosed
		default:
		}
		if m, ok := s.next(ctx); ok {
			return m, true, nil
		}
		select {
		case <-s.wake:
		case <-s.done:
			return model.RawMessage{}, false, ErrClosed
		case <-t.C:
			return model.RawMessage{}, false, nil
		case <-ctx.Done():
			return model.RawMessage{}, false, ctx.Err()
		}
	}
}

// Close stops watching. Files not yet polled stay in the directory.
func (s *Spool) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Spool) loop(ctx context.Context) {
	defer close(s.done)
	defer func() { _ = s.watcher.Close() }()

	ticker := time.NewTicker(s.scanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				s.signal()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "spool watcher error", logger.Error(err))
		case <-ticker.C:
			s.signal()
		}
	}
}

func (s *Spool) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next returns the next deliverable file, refilling the backlog from the
// directory when it runs dry.
func (s *Spool) next(ctx context.Context) (model.RawMessage, bool) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if len(s.backlog) == 0 {
		names, err := s.list()
		if err != nil {
			s.logger.Warn(ctx, "reading spool dir", logger.String("dir", s.dir), logger.Error(err))
			return model.RawMessage{}, false
		}
		if len(names) == 0 {
			return s.beat()
		}
		s.backlog = names
	}
	for len(s.backlog) > 0 {
		name := s.backlog[0]
		s.backlog = s.backlog[1:]
		if m, ok := s.take(ctx, name); ok {
			return m, true
		}
	}
	return model.RawMessage{}, false
}

func (s *Spool) beat() (model.RawMessage, bool) {
	if s.heartbeat == "" {
		return model.RawMessage{}, false
	}
	now := s.now()
	if !s.lastBeat.IsZero() && now.Sub(s.lastBeat) < s.scanEvery {
		return model.RawMessage{}, false
	}
	s.lastBeat = now
	return model.RawMessage{Topic: s.heartbeat, ReceivedAt: now}, true
}

// list returns complete spool files, oldest first.
func (s *Spool) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	type file struct {
		name string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{name: name, mod: info.ModTime()})
	}
	slices.SortFunc(files, func(a, b file) int {
		if c := a.mod.Compare(b.mod); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// take reads one file and moves it in flight. Files without a topic, for
// unsubscribed topics or with already seen content are removed without
// delivery. Heartbeat files are removed at once since nothing acknowledges them.
func (s *Spool) take(ctx context.Context, name string) (model.RawMessage, bool) {
	path := filepath.Join(s.dir, name)
	topic, _, found := strings.Cut(name, topicSeparator)
	if !found || topic == "" {
		s.logger.Warn(ctx, "dropping spool file without a topic", logger.String("file", name))
		s.remove(ctx, path)
		return model.RawMessage{}, false
	}
	if topic != s.heartbeat && !s.wants(topic) {
		s.logger.Debug(ctx, "dropping spool file for unsubscribed topic",
			logger.String("file", name),
			logger.String("topic", topic))
		s.remove(ctx, path)
		return model.RawMessage{}, false
	}

	payload, err := os.ReadFile(path) //nolint:gosec // files inside the configured spool dir
	if errors.Is(err, fs.ErrNotExist) {
		return model.RawMessage{}, false
	}
	if err != nil {
		s.logger.Warn(ctx, "reading spool file", logger.String("file", name), logger.Error(err))
		return model.RawMessage{}, false
	}

	if topic == s.heartbeat {
		s.remove(ctx, path)
		return model.RawMessage{Topic: topic, Payload: payload, ReceivedAt: s.now()}, true
	}

	digest := dedupe.Digest(payload)
	if s.seen.SeenAndRecord(ctx, digest) {
		metrics.RecordSpoolDuplicate()
		s.logger.Debug(ctx, "dropping duplicate spool file",
			logger.String("file", name),
			logger.String("digest", digest))
		s.remove(ctx, path)
		return model.RawMessage{}, false
	}

	inflight := filepath.Join(s.dir, inflightPrefix+name)
	if err := os.Rename(path, inflight); err != nil {
		s.seen.Unrecord(ctx, digest)
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "moving spool file in flight", logger.String("file", name), logger.Error(err))
		}
		return model.RawMessage{}, false
	}
	metrics.RecordQueueEnqueue()
	return model.RawMessage{Topic: topic, Payload: payload, ReceivedAt: s.now(), Receipt: inflight}, true
}

// Ack settles a delivered file. Success removes it; a failure keeps it in
// flight for the next process and forgets its digest so a fresh copy is not
// taken for a duplicate. Ack works on the receipt alone, so it is safe after
// Close and from another handle on the same directory.
func (s *Spool) Ack(ctx context.Context, m model.RawMessage, err error) { //nolint:gocritic // hugeParam: RawMessage passed by value
	if m.Receipt == "" || filepath.Dir(m.Receipt) != filepath.Clean(s.dir) {
		return
	}
	if err == nil {
		s.remove(ctx, m.Receipt)
		return
	}
	s.seen.Unrecord(ctx, dedupe.Digest(m.Payload))
	s.logger.Warn(ctx, "spool file kept in flight after failed handling",
		logger.String("file", filepath.Base(m.Receipt)),
		logger.String("topic", m.Topic),
		logger.Error(err))
}

// requeueInflight moves files left in flight back into the spool. Renaming
// keeps their modification time, so they are delivered before newer files.
func (s *Spool) requeueInflight(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn(ctx, "reading spool dir", logger.String("dir", s.dir), logger.Error(err))
		return
	}
	n := 0
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), inflightPrefix)
		if !ok || name == "" || e.IsDir() {
			continue
		}
		if err := os.Rename(filepath.Join(s.dir, e.Name()), filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn(ctx, "requeueing spool file", logger.String("file", name), logger.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info(ctx, "requeued in-flight spool files", logger.Int("count", n))
	}
}

func (s *Spool) remove(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn(ctx, "removing spool file", logger.String("file", path), logger.Error(err))
	}
}
