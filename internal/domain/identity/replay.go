package identity

import (
	"context"
	"fmt"
	"slices"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
)

// Snapshot is the result of folding the whole ledger.
type Snapshot struct {
	State  *State
	Events map[string]model.Event
	// Order lists canonical names from least to most recently updated,
	// by ledger position.
	Order []string
	Rows  int
}

// Replay folds every ledger row, in append order, into identity state and
// per-identity events. Two replays of the same ledger produce the same state.
func Replay(ctx context.Context, ledger Scanner, cat *catalog.Catalog, fold Fold) (*Snapshot, error) {
	snap := &Snapshot{State: NewState(), Events: make(map[string]model.Event)}
	last := make(map[string]int)

	for row, err := range ledger.Scan(ctx) {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScan, err)
		}
		name := row.CanonicalName
		if name == "" {
			continue
		}
		if k, ok := KeyFor(cat, row.Record.Facility, row.Record.TriggerID); ok {
			snap.State.Index.Put(k, name)
		}
		snap.State.Names.RecordName(cat, name)

		ev, seen := snap.Events[name]
		if !seen {
			ev = model.Event{CanonicalName: name, FirstNoticeTime: row.Record.NoticeTime}
		}
		snap.Events[name] = fold(ev, row.Record)
		last[name] = snap.Rows
		snap.Rows++
	}

	snap.Order = make([]string, 0, len(last))
	for name := range last {
		snap.Order = append(snap.Order, name)
	}
	slices.SortFunc(snap.Order, func(a, b string) int { return last[a] - last[b] })
	return snap, nil
}

// Active returns the non-retracted events, most recently updated last.
func (s *Snapshot) Active() []model.Event {
	out := make([]model.Event, 0, len(s.Order))
	for _, name := range s.Order {
		if ev := s.Events[name]; !ev.Retracted {
			out = append(out, ev)
		}
	}
	return out
}
