// Package types contains the JSON shapes served by the HTTP API.
package types

import (
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
)

// Position is the JSON form of a sky position.
type Position struct {
	RA       float64  `json:"ra"`
	Dec      float64  `json:"dec"`
	ErrorDeg *float64 `json:"error_deg,omitempty"`
}

// EventView is the read shape of one active-window event.
type EventView struct {
	Name            string            `json:"name"`
	TriggerID       string            `json:"trigger_id,omitempty"`
	BestFacility    string            `json:"best_facility"`
	Position        *Position         `json:"position,omitempty"`
	Facilities      []string          `json:"facilities"`
	DiscoveryTime   *time.Time        `json:"discovery_utc,omitempty"`
	FirstNoticeTime time.Time         `json:"first_notice_utc"`
	LastUpdateTime  time.Time         `json:"last_update_utc"`
	Redshift        string            `json:"redshift,omitempty"`
	HostInfo        string            `json:"host_info,omitempty"`
	Aux             map[string]string `json:"aux,omitempty"`
}

// FromEvent converts a domain event into its read shape.
func FromEvent(ev model.Event) EventView { //nolint:gocritic // hugeParam: read-side conversion
	v := EventView{
		Name:            ev.CanonicalName,
		TriggerID:       ev.TriggerID,
		BestFacility:    ev.BestFacility,
		Facilities:      ev.Facilities,
		FirstNoticeTime: ev.FirstNoticeTime,
		LastUpdateTime:  ev.LastUpdateTime,
		Redshift:        ev.Redshift,
		HostInfo:        ev.HostInfo,
		Aux:             ev.Aux,
	}
	if v.Facilities == nil {
		v.Facilities = []string{}
	}
	if p := ev.BestPosition; p != nil {
		v.Position = &Position{RA: p.RA, Dec: p.Dec}
		if p.HasError() {
			e := p.Error
			v.Position.ErrorDeg = &e
		}
	}
	if !ev.DiscoveryTime.IsZero() {
		t := ev.DiscoveryTime
		v.DiscoveryTime = &t
	}
	return v
}
