package model

import (
	"maps"
	"slices"
	"time"
)

// Field names reported in Summary.ChangedFields.
const (
	FieldBestFacility  = "bestFacility"
	FieldBestPosition  = "bestPosition"
	FieldFacilities    = "allObservedFacilities"
	FieldDiscoveryTime = "discoveryTime"
	FieldLastUpdate    = "lastUpdateTime"
	FieldRedshift      = "redshift"
	FieldHostInfo      = "hostInfo"
	FieldRetracted     = "retracted"
	FieldAuxPrefix     = "aux."
)

// Event is the consolidated state of one physical occurrence.
type Event struct {
	CanonicalName   string
	TriggerID       string
	BestFacility    string
	BestPosition    *Position
	Facilities      []string // sorted, no duplicates
	DiscoveryTime   time.Time
	FirstNoticeTime time.Time
	LastUpdateTime  time.Time
	Redshift        string
	HostInfo        string
	Aux             map[string]string
	Retracted       bool
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event { //nolint:gocritic // hugeParam: value receiver keeps Clone usable on copies
	out := e
	if e.BestPosition != nil {
		p := *e.BestPosition
		out.BestPosition = &p
	}
	out.Facilities = slices.Clone(e.Facilities)
	if e.Aux != nil {
		out.Aux = maps.Clone(e.Aux)
	}
	return out
}

// HasFacility reports whether facility was already observed for this event.
func (e *Event) HasFacility(facility string) bool {
	_, found := slices.BinarySearch(e.Facilities, facility)
	return found
}

// AddFacility records facility as observed and reports whether it was new.
func (e *Event) AddFacility(facility string) bool {
	if facility == "" {
		return false
	}
	i, found := slices.BinarySearch(e.Facilities, facility)
	if found {
		return false
	}
	e.Facilities = slices.Insert(e.Facilities, i, facility)
	return true
}

// Summary is emitted to the notification sink for every processed notice.
type Summary struct {
	CanonicalName string
	TriggerID     string
	Topic         string
	BestFacility  string
	BestPosition  *Position
	Facilities    []string
	IsNew         bool
	ChangedFields []string
	Retracted     bool
}
