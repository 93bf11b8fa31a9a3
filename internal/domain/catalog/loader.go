package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

// Parse decodes a YAML catalog and compiles it. Sections left out of the
// document fall back to the built-in catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrLoadCatalog, err)
	}

	def := defaultCatalog()
	if c.Epoch == "" {
		c.Epoch = def.Epoch
	}
	if c.SupersededEpochs == nil {
		c.SupersededEpochs = def.SupersededEpochs
	}
	if c.FalseTriggerPhrases == nil {
		c.FalseTriggerPhrases = def.FalseTriggerPhrases
	}
	if len(c.Prefixes) == 0 {
		c.Prefixes = def.Prefixes
	}
	if c.DefaultPrefix == "" {
		c.DefaultPrefix = def.DefaultPrefix
	}
	if len(c.Facilities) == 0 {
		c.Facilities = def.Facilities
	}

	if err := c.Compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and compiles the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrLoadCatalog, path, err)
	}
	// an empty file is usually a writer caught mid-save
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrLoadCatalog, path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Loader keeps the current catalog and hot-reloads it when its file changes.
// A reload that fails to parse keeps the previous catalog.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Catalog
	onChange []func(*Catalog)
	logger   logger.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(l logger.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a Loader. An empty path serves the built-in catalog and never reloads.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{path: path, logger: logger.Or("catalog")}
	for _, opt := range opts {
		opt(l)
	}
	if path == "" {
		l.current = Default()
		return l, nil
	}
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	l.current = c
	return l, nil
}

// Current returns the latest successfully loaded catalog.
func (l *Loader) Current() *Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Catalog)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload re-reads the catalog file immediately.
func (l *Loader) Reload() (*Catalog, error) {
	if l.path == "" {
		return l.Current(), nil
	}
	c, err := LoadFile(l.path)
	if err != nil {
		return nil, err
	}
	metrics.RecordCatalogReload()
	l.mu.Lock()
	l.current = c
	callbacks := make([]func(*Catalog), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(c)
	}
	return c, nil
}

// Watch hot-reloads the catalog on file changes until ctx is done or stop is called.
// The parent directory is watched so editors that replace the file are handled.
func (l *Loader) Watch(ctx context.Context) (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("catalog watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					l.logger.Error(ctx, "catalog reload failed; keeping previous catalog",
						logger.String("path", l.path), logger.Error(err))
					continue
				}
				l.logger.Info(ctx, "catalog reloaded", logger.String("path", l.path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn(ctx, "catalog watcher error", logger.Error(err))
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}
