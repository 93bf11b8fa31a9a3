// Package merge folds a partial record into a consolidated event.
package merge

import (
	"maps"
	"slices"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
)

// Result is the outcome of one merge.
type Result struct {
	Event model.Event
	// Evict is set when the notice retracted the event; the caller removes it
	// from the active window.
	Evict bool
	// PositionReplaced is set when the incoming position became the best one.
	PositionReplaced bool
	// Changed lists the fields that differ from the input event, sorted.
	Changed []string
}

// Merge applies rec to ev. It never fails: facilities missing from the catalog
// rank at catalog.UnknownPriority. ev is not modified.
func Merge(cat *catalog.Catalog, ev model.Event, rec model.PartialRecord) Result { //nolint:gocritic // hugeParam: events are passed by value
	out := ev.Clone()
	var res Result

	if rec.FalseTrigger {
		out.Retracted = true
		res.Evict = true
	} else if outranks(cat, out, rec) {
		out.BestFacility = rec.Facility
		if rec.Position != nil {
			p := *rec.Position
			out.BestPosition = &p
			res.PositionReplaced = true
		}
	}
	if out.BestFacility == "" {
		out.BestFacility = rec.Facility
	}

	out.AddFacility(rec.Facility)

	if out.TriggerID == "" {
		out.TriggerID = rec.TriggerID
	}
	if rec.Redshift != "" {
		out.Redshift = rec.Redshift
	}
	if rec.HostInfo != "" {
		out.HostInfo = rec.HostInfo
	}
	if !rec.DiscoveryTime.IsZero() {
		out.DiscoveryTime = rec.DiscoveryTime
	}
	for k, v := range rec.Aux {
		if v == "" {
			continue
		}
		if out.Aux == nil {
			out.Aux = make(map[string]string, len(rec.Aux))
		}
		out.Aux[k] = v
	}

	out.LastUpdateTime = rec.NoticeTime

	res.Event = out
	res.Changed = Diff(ev, out)
	return res
}

// outranks reports whether rec's facility and position replace the current best.
// Priority decides first. A record without a position never displaces an
// existing position. At equal priority a position beats none and the smaller
// error radius wins.
func outranks(cat *catalog.Catalog, ev model.Event, rec model.PartialRecord) bool { //nolint:gocritic // hugeParam: events are passed by value
	if ev.BestFacility == "" {
		return true
	}
	if rec.Position == nil && ev.BestPosition != nil {
		return false
	}

	incoming := cat.Priority(rec.Facility)
	current := cat.Priority(ev.BestFacility)
	if incoming != current {
		return incoming > current
	}
	switch {
	case rec.Position == nil:
		return false
	case ev.BestPosition == nil:
		return true
	}
	return rec.Position.ErrorRadius() < ev.BestPosition.ErrorRadius()
}

// Diff lists the fields that differ between two states of an event, sorted.
// Auxiliary keys are reported as "aux.<key>".
func Diff(before, after model.Event) []string { //nolint:gocritic // hugeParam: events are passed by value
	var changed []string
	if before.BestFacility != after.BestFacility {
		changed = append(changed, model.FieldBestFacility)
	}
	if !samePosition(before.BestPosition, after.BestPosition) {
		changed = append(changed, model.FieldBestPosition)
	}
	if !slices.Equal(before.Facilities, after.Facilities) {
		changed = append(changed, model.FieldFacilities)
	}
	if !before.DiscoveryTime.Equal(after.DiscoveryTime) {
		changed = append(changed, model.FieldDiscoveryTime)
	}
	if !before.LastUpdateTime.Equal(after.LastUpdateTime) {
		changed = append(changed, model.FieldLastUpdate)
	}
	if before.Redshift != after.Redshift {
		changed = append(changed, model.FieldRedshift)
	}
	if before.HostInfo != after.HostInfo {
		changed = append(changed, model.FieldHostInfo)
	}
	if before.Retracted != after.Retracted {
		changed = append(changed, model.FieldRetracted)
	}
	keys := make(map[string]struct{}, len(before.Aux)+len(after.Aux))
	for k := range maps.Keys(before.Aux) {
		keys[k] = struct{}{}
	}
	for k := range maps.Keys(after.Aux) {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if before.Aux[k] != after.Aux[k] {
			changed = append(changed, model.FieldAuxPrefix+k)
		}
	}
	slices.Sort(changed)
	return changed
}

func samePosition(a, b *model.Position) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
