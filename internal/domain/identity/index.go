package identity

import (
	"maps"
	"strings"
	"sync"

	"github.com/okian/noticeledger/internal/domain/catalog"
)

// Key identifies an event: the mission family of the reporting facility and
// its normalized trigger id.
type Key struct {
	Family  string
	Trigger string
}

// KeyFor builds the match key for a facility and trigger. A notice without a
// trigger id has no key and never matches an existing identity.
func KeyFor(cat *catalog.Catalog, facility, trigger string) (Key, bool) {
	t := NormalizeTrigger(trigger)
	if t == "" {
		return Key{}, false
	}
	return Key{Family: cat.Family(facility), Trigger: t}, true
}

// NormalizeTrigger trims whitespace and a float suffix such as "1234.0".
func NormalizeTrigger(trigger string) string {
	t := strings.TrimSpace(trigger)
	if strings.HasSuffix(t, ".0") && len(t) > 2 {
		t = strings.TrimSuffix(t, ".0")
	}
	return t
}

// Index maps identity keys to canonical names. A key seen with two different
// names is marked ambiguous and no longer resolves.
type Index struct {
	mu        sync.RWMutex
	names     map[Key]string
	ambiguous map[Key]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{names: make(map[Key]string), ambiguous: make(map[Key]struct{})}
}

// Lookup returns the name for k. ErrAmbiguous is returned for ambiguous keys.
func (x *Index) Lookup(k Key) (string, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if _, bad := x.ambiguous[k]; bad {
		return "", false, ErrAmbiguous
	}
	name, ok := x.names[k]
	return name, ok, nil
}

// Put records name for k.
func (x *Index) Put(k Key, name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.put(k, name)
}

func (x *Index) put(k Key, name string) {
	if cur, ok := x.names[k]; ok && cur != name {
		x.ambiguous[k] = struct{}{}
		return
	}
	x.names[k] = name
}

// Len returns the number of keys indexed.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.names)
}

// Clone returns an independent copy.
func (x *Index) Clone() *Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return &Index{names: maps.Clone(x.names), ambiguous: maps.Clone(x.ambiguous)}
}

// Merge adds the entries of other to x.
func (x *Index) Merge(other *Index) {
	other.mu.RLock()
	names := maps.Clone(other.names)
	ambiguous := maps.Clone(other.ambiguous)
	other.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	for k, n := range names {
		x.put(k, n)
	}
	for k := range ambiguous {
		x.ambiguous[k] = struct{}{}
	}
}
