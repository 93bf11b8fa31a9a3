// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const defaultMaxSize = 50000

// Deduper records seen content digests so a re-delivered payload is processed once.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when a payload was marked as seen but could not be handed on.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// Digest returns the hex SHA-256 of payload, the id used for spool files.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	id  string
	exp time.Time
}

// inMemoryDeduper is a bounded LRU of ids, most recent at the front.
// For maxSize <= 0 it never evicts.
type inMemoryDeduper struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	ll      *list.List
	items   map[string]*list.Element
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ll = list.New()
	d.items = make(map[string]*list.Element)
	return d
}

// SeenAndRecord reports whether id is already recorded, touching it if so and
// recording it otherwise. Expired ids count as unseen.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.items[id]; ok {
		en := el.Value.(entry) //nolint:forcetypeassert // list only holds entry values
		if d.ttl <= 0 || now.Before(en.exp) {
			d.ll.MoveToFront(el)
			return true
		}
		d.ll.Remove(el)
		delete(d.items, id)
	}

	en := entry{id: id}
	if d.ttl > 0 {
		en.exp = now.Add(d.ttl)
	}
	d.items[id] = d.ll.PushFront(en)
	if d.maxSize > 0 {
		for d.ll.Len() > d.maxSize {
			d.evictOldest()
		}
	}
	return false
}

// Unrecord removes an ID from the seen list, allowing it to be retried.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.items[id]; ok {
		d.ll.Remove(el)
		delete(d.items, id)
	}
}

// evictOldest drops the least recently seen id. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	back := d.ll.Back()
	if back == nil {
		return
	}
	d.ll.Remove(back)
	delete(d.items, back.Value.(entry).id) //nolint:forcetypeassert // list only holds entry values
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.ll.Len())
}
