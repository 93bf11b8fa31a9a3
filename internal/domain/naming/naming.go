// Package naming allocates canonical event names per prefix and calendar day.
package naming

import (
	"maps"
	"sync"

	"github.com/okian/noticeledger/internal/domain/catalog"
)

type key struct {
	prefix string
	day    string
}

// Sequencer tracks the last letter used for each (prefix, day). Its state is a
// pure fold over the names it has issued or been told about, so replaying the
// ledger in receipt order rebuilds it exactly.
type Sequencer struct {
	mu   sync.RWMutex
	last map[key]rune
}

// New creates an empty Sequencer.
func New() *Sequencer {
	return &Sequencer{last: make(map[key]rune)}
}

// Peek returns the name NextName would return without recording it.
func (s *Sequencer) Peek(p *catalog.Prefix, day string) (name string, letter rune) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	letter = s.successor(p, day)
	return p.Format(day, letter), letter
}

// Commit records letter as used for (prefix, day).
func (s *Sequencer) Commit(p *catalog.Prefix, day string, letter rune) {
	s.RecordExisting(p, day, letter)
}

// NextName allocates the next name for (prefix, day). The first name of a day
// uses the alphabet's first letter; the sequence stops at the last letter.
func (s *Sequencer) NextName(p *catalog.Prefix, day string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	letter := s.successor(p, day)
	s.last[key{p.Name, day}] = letter
	return p.Format(day, letter)
}

// RecordExisting notes that letter was used for (prefix, day). State only
// moves forward: an earlier letter never lowers the recorded one.
func (s *Sequencer) RecordExisting(p *catalog.Prefix, day string, letter rune) {
	idx := p.Index(letter)
	if idx < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{p.Name, day}
	if cur, ok := s.last[k]; ok && p.Index(cur) >= idx {
		return
	}
	s.last[k] = letter
}

// RecordName parses a canonical name and records its letter. Names that match
// no prefix, such as catalog name overrides, are ignored.
func (s *Sequencer) RecordName(cat *catalog.Catalog, name string) bool {
	p, day, letter, ok := cat.ParseName(name)
	if !ok {
		return false
	}
	s.RecordExisting(p, day, letter)
	return true
}

// Last returns the last letter recorded for (prefix, day).
func (s *Sequencer) Last(prefix, day string) (rune, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.last[key{prefix, day}]
	return l, ok
}

// Len returns the number of (prefix, day) keys tracked.
func (s *Sequencer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.last)
}

// Clone returns an independent copy.
func (s *Sequencer) Clone() *Sequencer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Sequencer{last: maps.Clone(s.last)}
}

// Merge folds other into s, keeping the later letter per key.
func (s *Sequencer) Merge(cat *catalog.Catalog, other *Sequencer) {
	other.mu.RLock()
	snapshot := maps.Clone(other.last)
	other.mu.RUnlock()
	for k, letter := range snapshot {
		p, ok := cat.Prefix(k.prefix)
		if !ok {
			continue
		}
		s.RecordExisting(p, k.day, letter)
	}
}

func (s *Sequencer) successor(p *catalog.Prefix, day string) rune {
	letters := p.Letters()
	cur, ok := s.last[key{p.Name, day}]
	if !ok {
		return letters[0]
	}
	idx := p.Index(cur)
	if idx < 0 || idx+1 >= len(letters) {
		return letters[len(letters)-1]
	}
	return letters[idx+1]
}
