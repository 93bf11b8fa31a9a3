package window

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
)

// Columns is the fixed column order of the window table.
var Columns = []string{
	"name", "trigger_id", "best_facility", "ra", "dec", "error_deg", "facilities",
	"discovery_utc", "first_notice_utc", "last_update_utc", "redshift", "host_info", "aux",
}

const facilitySep = ","

func encodeEvent(ev model.Event) []string { //nolint:gocritic // hugeParam: one row per event
	var ra, dec, errDeg, aux string
	if p := ev.BestPosition; p != nil {
		ra, dec = formatFloat(p.RA), formatFloat(p.Dec)
		if p.HasError() {
			errDeg = formatFloat(p.Error)
		}
	}
	if len(ev.Aux) > 0 {
		v := make(url.Values, len(ev.Aux))
		for k, val := range ev.Aux {
			v.Set(k, val)
		}
		aux = v.Encode()
	}
	return []string{
		ev.CanonicalName,
		ev.TriggerID,
		ev.BestFacility,
		ra, dec, errDeg,
		strings.Join(ev.Facilities, facilitySep),
		formatTime(ev.DiscoveryTime),
		formatTime(ev.FirstNoticeTime),
		formatTime(ev.LastUpdateTime),
		ev.Redshift,
		ev.HostInfo,
		aux,
	}
}

func decodeEvent(f []string) (model.Event, error) {
	var (
		ev  model.Event
		err error
	)
	ev.CanonicalName = f[0]
	if ev.CanonicalName == "" {
		return ev, fmt.Errorf("%w: empty name", ErrCorruptRow)
	}
	ev.TriggerID = f[1]
	ev.BestFacility = f[2]

	if f[3] != "" || f[4] != "" {
		p := &model.Position{}
		if p.RA, err = strconv.ParseFloat(f[3], 64); err != nil {
			return ev, fmt.Errorf("%w: ra: %w", ErrCorruptRow, err)
		}
		if p.Dec, err = strconv.ParseFloat(f[4], 64); err != nil {
			return ev, fmt.Errorf("%w: dec: %w", ErrCorruptRow, err)
		}
		if f[5] != "" {
			if p.Error, err = strconv.ParseFloat(f[5], 64); err != nil {
				return ev, fmt.Errorf("%w: error_deg: %w", ErrCorruptRow, err)
			}
			p.ErrorUnit = model.UnitDegree
		}
		ev.BestPosition = p
	}
	if f[6] != "" {
		for _, fac := range strings.Split(f[6], facilitySep) {
			ev.AddFacility(fac)
		}
	}
	if ev.DiscoveryTime, err = parseTime(f[7]); err != nil {
		return ev, fmt.Errorf("%w: discovery_utc: %w", ErrCorruptRow, err)
	}
	if ev.FirstNoticeTime, err = parseTime(f[8]); err != nil {
		return ev, fmt.Errorf("%w: first_notice_utc: %w", ErrCorruptRow, err)
	}
	if ev.LastUpdateTime, err = parseTime(f[9]); err != nil {
		return ev, fmt.Errorf("%w: last_update_utc: %w", ErrCorruptRow, err)
	}
	ev.Redshift = f[10]
	ev.HostInfo = f[11]
	if f[12] != "" {
		v, err := url.ParseQuery(f[12])
		if err != nil {
			return ev, fmt.Errorf("%w: aux: %w", ErrCorruptRow, err)
		}
		ev.Aux = make(map[string]string, len(v))
		for k := range v {
			ev.Aux[k] = v.Get(k)
		}
	}
	return ev, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
