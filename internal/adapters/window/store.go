// Package window implements the bounded active window of consolidated events.
//
// The table lives in memory as a recency list and is rewritten in full to a
// space delimited file after every change, most recently updated first. The
// previous file is copied to <path>.backup.<timestamp> before each rewrite and
// only the newest K backups are kept.
package window

import (
	"bufio"
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/noticeledger/internal/adapters/tabular"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

const (
	backupInfix  = ".backup."
	backupLayout = "20060102T150405.000000000"
	headerPrefix = "#"
	maxLine      = 1 << 20
)

// FileStore is the Active Window Store. It is safe for concurrent use.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	capacity int
	keep     int
	codec    tabular.Codec
	ll       *list.List // front is the most recently updated event
	items    map[string]*list.Element
	now      func() time.Time
	logger   logger.Logger
}

// Open creates the store and loads path if it exists.
func Open(ctx context.Context, path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		capacity: defaultCapacity,
		keep:     defaultBackups,
		codec:    tabular.Space(),
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
		logger:   logger.Or("window"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
	}
	if _, err := s.Load(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return s, nil
}

// Path returns the table file path.
func (s *FileStore) Path() string { return s.path }

// Capacity returns N.
func (s *FileStore) Capacity() int { return s.capacity }

// Load replaces the in-memory table with the file contents and returns the
// number of events loaded. Malformed rows are dropped individually.
func (s *FileStore) Load(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return 0, err
	}
	return s.ll.Len(), nil
}

func (s *FileStore) loadLocked(ctx context.Context) error {
	s.ll.Init()
	clear(s.items)
	defer func() { metrics.UpdateWindowSize(s.ll.Len()) }()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for n := 1; sc.Scan(); n++ {
		text := sc.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, headerPrefix) {
			continue
		}
		ev, err := s.parse(text)
		if err != nil {
			metrics.RecordWindowCorruptRow()
			s.logger.Warn(ctx, "dropping malformed window row",
				logger.String("file", s.path),
				logger.Int("line", n),
				logger.Error(err))
			continue
		}
		if _, dup := s.items[ev.CanonicalName]; dup {
			s.logger.Warn(ctx, "dropping duplicate window row",
				logger.String("file", s.path),
				logger.Int("line", n),
				logger.String("name", ev.CanonicalName))
			continue
		}
		if s.ll.Len() >= s.capacity {
			s.logger.Warn(ctx, "window file holds more rows than capacity, dropping the rest",
				logger.String("file", s.path),
				logger.Int("capacity", s.capacity))
			break
		}
		s.items[ev.CanonicalName] = s.ll.PushBack(ev)
	}
	return sc.Err()
}

func (s *FileStore) parse(text string) (model.Event, error) {
	fields, err := s.codec.DecodeN(text, len(Columns))
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	return decodeEvent(fields)
}

// Upsert stores ev as the most recently updated event and returns the names
// evicted to stay within capacity.
func (s *FileStore) Upsert(ctx context.Context, ev model.Event) ([]string, error) { //nolint:gocritic // hugeParam: stored by value
	if ev.CanonicalName == "" {
		return nil, fmt.Errorf("%w: empty canonical name", ErrInvalid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev = ev.Clone()
	if el, ok := s.items[ev.CanonicalName]; ok {
		el.Value = ev
		s.ll.MoveToFront(el)
	} else {
		s.items[ev.CanonicalName] = s.ll.PushFront(ev)
	}

	var evicted []string
	for s.ll.Len() > s.capacity {
		back := s.ll.Back()
		name := back.Value.(model.Event).CanonicalName //nolint:forcetypeassert // list only holds events
		s.ll.Remove(back)
		delete(s.items, name)
		evicted = append(evicted, name)
	}

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	for _, name := range evicted {
		metrics.RecordWindowEviction()
		s.logger.Info(ctx, "evicted event from active window", logger.String("name", name))
	}
	return evicted, nil
}

// Remove deletes name from the table. It reports whether the event was present.
func (s *FileStore) Remove(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[name]
	if !ok {
		return false, nil
	}
	s.ll.Remove(el)
	delete(s.items, name)
	if err := s.persistLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Replace writes events as the whole table. events are ordered oldest update
// first; only the newest capacity events are kept.
func (s *FileStore) Replace(ctx context.Context, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ll.Init()
	clear(s.items)
	for i := len(events) - 1; i >= 0 && s.ll.Len() < s.capacity; i-- {
		ev := events[i]
		if ev.CanonicalName == "" {
			continue
		}
		if _, dup := s.items[ev.CanonicalName]; dup {
			continue
		}
		s.items[ev.CanonicalName] = s.ll.PushBack(ev.Clone())
	}
	return s.persistLocked(ctx)
}

// Get returns the event named name or ErrNotFound.
func (s *FileStore) Get(name string) (model.Event, error) {
	ev, ok := s.Lookup(name)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ev, nil
}

// Lookup returns a copy of the event named name.
func (s *FileStore) Lookup(name string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.items[name]
	if !ok {
		return model.Event{}, false
	}
	return el.Value.(model.Event).Clone(), true //nolint:forcetypeassert // list only holds events
}

// List returns copies of all events, most recently updated first.
func (s *FileStore) List() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0, s.ll.Len())
	for el := s.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(model.Event).Clone()) //nolint:forcetypeassert // list only holds events
	}
	return out
}

// Len returns the number of events held.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ll.Len()
}

// persistLocked backs up the current file and rewrites it from memory. On a
// failed write the in-memory table is reloaded from the file so memory never
// runs ahead of disk.
func (s *FileStore) persistLocked(ctx context.Context) error {
	if err := s.backupLocked(); err != nil {
		metrics.RecordBackupFailure()
		s.logger.Warn(ctx, "window backup failed, writing anyway",
			logger.String("file", s.path),
			logger.Error(err))
	}

	if err := s.writeLocked(); err != nil {
		metrics.RecordWindowWriteError()
		if lerr := s.loadLocked(ctx); lerr != nil {
			s.logger.Error(ctx, "reloading window after failed write",
				logger.String("file", s.path),
				logger.Error(lerr))
		}
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	metrics.UpdateWindowSize(s.ll.Len())
	return nil
}

func (s *FileStore) writeLocked() (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err = w.WriteString(headerPrefix + " " + strings.Join(Columns, " ") + "\n"); err != nil {
		return err
	}
	for el := s.ll.Front(); el != nil; el = el.Next() {
		row := s.codec.Encode(encodeEvent(el.Value.(model.Event))) //nolint:forcetypeassert // list only holds events
		if _, err = w.WriteString(row + "\n"); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) backupLocked() error {
	if s.keep == 0 {
		return nil
	}
	src, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackup, err)
	}
	defer func() { _ = src.Close() }()

	name := s.path + backupInfix + s.now().UTC().Format(backupLayout)
	dst, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // derived from the configured path
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackup, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("%w: %w", ErrBackup, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackup, err)
	}
	metrics.RecordBackup()
	return s.pruneLocked()
}

// Backups returns the backup files of this store, oldest first.
func (s *FileStore) Backups() ([]string, error) {
	matches, err := filepath.Glob(globEscape(s.path) + backupInfix + "*")
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	return matches, nil
}

func (s *FileStore) pruneLocked() error {
	backups, err := s.Backups()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackup, err)
	}
	var errs []error
	for len(backups) > s.keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		backups = backups[1:]
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: prune: %w", ErrBackup, errors.Join(errs...))
	}
	return nil
}

func globEscape(p string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`).Replace(p)
}
