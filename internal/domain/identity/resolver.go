// Package identity resolves partial records to event identities.
//
// Matching uses the catalog family of the reporting facility and the
// normalized trigger id. The in-memory Index is consulted first; on a miss
// the ledger is scanned before an identity is declared new, so a stale or
// freshly started index never splits one event into two names.
package identity

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/internal/domain/naming"
	"github.com/okian/noticeledger/pkg/logger"
)

// Scanner reads the ledger from the first row.
type Scanner interface {
	Scan(ctx context.Context) iter.Seq2[model.LedgerRow, error]
}

// Window returns cached event state by canonical name.
type Window interface {
	Lookup(name string) (model.Event, bool)
}

// Fold applies one record to an event. The app wires it to merge.Merge.
type Fold func(ev model.Event, rec model.PartialRecord) model.Event

// State is the rebuildable resolver state: identity index and name sequence.
type State struct {
	Index *Index
	Names *naming.Sequencer
}

// NewState creates empty state.
func NewState() *State {
	return &State{Index: NewIndex(), Names: naming.New()}
}

// Resolution is the outcome of Resolve. Nothing is recorded in State until
// Commit is called, so a notice whose ledger append fails leaves no trace.
type Resolution struct {
	Event model.Event
	IsNew bool
	// FromLedger is set when the event state was rebuilt from the ledger.
	FromLedger bool

	key    Key
	hasKey bool
	prefix *catalog.Prefix
	day    string
	letter rune
}

// Commit records the resolved identity in st.
func (r *Resolution) Commit(st *State) {
	if r.hasKey {
		st.Index.Put(r.key, r.Event.CanonicalName)
	}
	if r.prefix != nil {
		st.Names.Commit(r.prefix, r.day, r.letter)
	}
}

// Resolver maps partial records to events.
type Resolver struct {
	ledger Scanner
	window Window
	fold   Fold
	logger logger.Logger

	mu    sync.Mutex
	stale map[string]struct{} // window rows known to lag the ledger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver over the ledger and active window.
func NewResolver(ledger Scanner, window Window, fold Fold, opts ...Option) *Resolver {
	r := &Resolver{
		ledger: ledger,
		window: window,
		fold:   fold,
		logger: logger.Or("identity"),
		stale:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the event rec belongs to, creating a new identity when no
// existing one matches. Resolving the same family and trigger twice yields the
// same canonical name in any process that has the same ledger.
func (r *Resolver) Resolve(ctx context.Context, cat *catalog.Catalog, st *State, rec model.PartialRecord) (*Resolution, error) { //nolint:gocritic // hugeParam: records are passed by value
	key, hasKey := KeyFor(cat, rec.Facility, rec.TriggerID)
	if hasKey {
		name, ok, err := st.Index.Lookup(key)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", key.Family, key.Trigger, err)
		}
		if ok {
			return r.existing(ctx, key, name)
		}

		names, events, err := r.scanKey(ctx, cat, key)
		if err != nil {
			return nil, err
		}
		switch len(names) {
		case 0:
		case 1:
			r.logger.Info(ctx, "identity recovered from ledger",
				logger.String("family", key.Family),
				logger.String("triggerId", key.Trigger),
				logger.String("name", names[0]))
			return &Resolution{Event: events[names[0]], FromLedger: true, key: key, hasKey: true}, nil
		default:
			st.Index.Put(key, names[0])
			for _, n := range names[1:] {
				st.Index.Put(key, n)
			}
			return nil, fmt.Errorf("%s %s matches %v: %w", key.Family, key.Trigger, names, ErrAmbiguous)
		}
	}
	return r.create(cat, st, rec, key, hasKey), nil
}

// MarkStale stops the window row of name from being trusted until Settle is
// called. The next resolve folds the identity from the ledger instead.
func (r *Resolver) MarkStale(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale[name] = struct{}{}
}

// Settle records that the window row of name matches the ledger again.
func (r *Resolver) Settle(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stale, name)
}

// Stale reports whether name is marked stale.
func (r *Resolver) Stale(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stale[name]
	return ok
}

func (r *Resolver) existing(ctx context.Context, key Key, name string) (*Resolution, error) {
	if !r.Stale(name) {
		if ev, ok := r.window.Lookup(name); ok {
			return &Resolution{Event: ev, key: key, hasKey: true}, nil
		}
	}
	ev, found, err := r.rebuild(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		r.logger.Warn(ctx, "indexed identity has no ledger rows",
			logger.String("name", name), logger.String("triggerId", key.Trigger))
		ev = model.Event{CanonicalName: name}
	}
	return &Resolution{Event: ev, FromLedger: found, key: key, hasKey: true}, nil
}

// create names a new identity. A facility name field overrides sequencing.
func (r *Resolver) create(cat *catalog.Catalog, st *State, rec model.PartialRecord, key Key, hasKey bool) *Resolution { //nolint:gocritic // hugeParam: records are passed by value
	res := &Resolution{IsNew: true, key: key, hasKey: hasKey}
	name := ""
	if field := cat.NameField(rec.Facility); field != "" {
		name = rec.Aux[field]
	}
	if name == "" {
		p := cat.PrefixFor(rec.Facility)
		day := p.Day(NamingTime(rec))
		var letter rune
		name, letter = st.Names.Peek(p, day)
		res.prefix, res.day, res.letter = p, day, letter
	}
	res.Event = model.Event{
		CanonicalName:   name,
		FirstNoticeTime: rec.NoticeTime,
		LastUpdateTime:  rec.NoticeTime,
	}
	return res
}

// NamingTime is the instant whose calendar day names a new identity:
// the discovery time, or the notice time when discovery is unknown.
func NamingTime(rec model.PartialRecord) time.Time { //nolint:gocritic // hugeParam: records are passed by value
	if !rec.DiscoveryTime.IsZero() {
		return rec.DiscoveryTime
	}
	return rec.NoticeTime
}

// rebuild folds every ledger row of name into an event.
func (r *Resolver) rebuild(ctx context.Context, name string) (model.Event, bool, error) {
	var (
		ev    model.Event
		found bool
	)
	for row, err := range r.ledger.Scan(ctx) {
		if err != nil {
			return model.Event{}, false, fmt.Errorf("%w: %w", ErrScan, err)
		}
		if row.CanonicalName != name {
			continue
		}
		if !found {
			ev = model.Event{CanonicalName: name, FirstNoticeTime: row.Record.NoticeTime}
			found = true
		}
		ev = r.fold(ev, row.Record)
	}
	return ev, found, nil
}

// scanKey returns the distinct names ledgered under key, in first-seen order,
// with each name's folded state.
func (r *Resolver) scanKey(ctx context.Context, cat *catalog.Catalog, key Key) ([]string, map[string]model.Event, error) {
	var names []string
	events := make(map[string]model.Event)
	for row, err := range r.ledger.Scan(ctx) {
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrScan, err)
		}
		name := row.CanonicalName
		if name == "" {
			continue
		}
		if k, ok := KeyFor(cat, row.Record.Facility, row.Record.TriggerID); !ok || k != key {
			continue
		}
		ev, seen := events[name]
		if !seen {
			names = append(names, name)
			ev = model.Event{CanonicalName: name, FirstNoticeTime: row.Record.NoticeTime}
		}
		events[name] = r.fold(ev, row.Record)
	}
	return names, events, nil
}
