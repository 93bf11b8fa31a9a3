// Package model contains domain models passed between layers.
package model

import (
	"math"
	"time"
)

// SourceFormat names the wire format a notice arrived in.
type SourceFormat string

// Known source formats.
const (
	FormatKeyValue SourceFormat = "text"
	FormatJSON     SourceFormat = "json"
)

// Error radius units. Extracted positions always carry UnitDegree.
const (
	UnitDegree = "deg"
	UnitArcmin = "arcmin"
	UnitArcsec = "arcsec"
)

// RawMessage is one inbound alert as delivered by a stream source.
type RawMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
	// Receipt identifies the delivery to a source that holds the message until
	// it is acknowledged. Empty for sources that forget a message once polled.
	Receipt string
}

// Position is a sky position in J2000 degrees with an optional error radius.
type Position struct {
	RA        float64
	Dec       float64
	Error     float64 // radius in ErrorUnit
	ErrorUnit string  // empty when the radius is unknown
}

// HasError reports whether the error radius is known.
func (p Position) HasError() bool { return p.ErrorUnit != "" }

// ErrorRadius returns the error radius, or +Inf when it is unknown.
func (p Position) ErrorRadius() float64 {
	if !p.HasError() {
		return math.Inf(1)
	}
	return p.Error
}

// PartialRecord holds the fields extracted from a single notice.
type PartialRecord struct {
	Facility      string
	TriggerID     string
	Position      *Position
	DiscoveryTime time.Time
	NoticeTime    time.Time
	Redshift      string
	HostInfo      string
	// Aux holds facility specific scalars such as energy, signalness or far.
	Aux          map[string]string
	FalseTrigger bool
	Format       SourceFormat
}

// LedgerRow is the immutable audit record of one processed notice.
type LedgerRow struct {
	NoticeID      string
	ReceivedAt    time.Time
	Topic         string
	CanonicalName string
	Record        PartialRecord
}
