package extract

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
)

var (
	errRange = errors.New("out of range")
	errUnit  = errors.New("unknown unit")
)

// Layouts accepted for a single-field timestamp such as a JSON trigger_time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"06/01/02 15:04:05",
}

// builder turns captures into a PartialRecord. Fields that matched but did not
// parse are recorded in invalid and count as missing.
type builder struct {
	precision int
	facility  *catalog.Facility
	caps      captures
	invalid   map[string]error
}

func (b *builder) build(receivedAt time.Time) model.PartialRecord {
	f := b.facility
	rec := model.PartialRecord{
		Facility: f.Name,
		Format:   f.Format,
	}

	if v, ok := b.caps.first(catalog.FieldTriggerID); ok {
		rec.TriggerID = v
	}

	if g, ok := b.caps[catalog.FieldNoticeDate]; ok {
		t, err := parseNoticeDate(g)
		b.check(catalog.FieldNoticeDate, err)
		rec.NoticeTime = t
	}
	if rec.NoticeTime.IsZero() {
		rec.NoticeTime = receivedAt
	}
	rec.NoticeTime = truncate(rec.NoticeTime)

	rec.DiscoveryTime = truncate(b.discovery())
	rec.Position = b.position()

	if v, ok := b.caps.first(catalog.FieldRedshift); ok {
		rec.Redshift = b.number(v)
	}
	if v, ok := b.caps.first(catalog.FieldHostInfo); ok {
		rec.HostInfo = v
	}

	for field := range b.caps {
		if isCore(field) {
			continue
		}
		v, ok := b.caps.first(field)
		if !ok {
			continue
		}
		if rec.Aux == nil {
			rec.Aux = make(map[string]string)
		}
		rec.Aux[field] = b.number(v)
	}
	return rec
}

func (b *builder) check(field string, err error) {
	if err != nil {
		b.invalid[field] = err
	}
}

// discovery combines the date and time captures, or parses a single
// discovery_time capture.
func (b *builder) discovery() time.Time {
	if v, ok := b.caps.first(catalog.FieldDiscovery); ok {
		t, err := parseTimestamp(v)
		b.check(catalog.FieldDiscovery, err)
		if err == nil {
			return t
		}
	}

	g, ok := b.caps[catalog.FieldDate]
	if !ok {
		return time.Time{}
	}
	day, err := parseDate(g)
	if err != nil {
		b.check(catalog.FieldDate, err)
		return time.Time{}
	}
	clock, ok := b.caps.first(catalog.FieldTime)
	if !ok {
		return day
	}
	offset, err := parseClock(clock)
	if err != nil {
		b.check(catalog.FieldTime, err)
		return day
	}
	return day.Add(offset)
}

func (b *builder) position() *model.Position {
	raText, raOK := b.caps.first(catalog.FieldRA)
	decText, decOK := b.caps.first(catalog.FieldDec)
	if !raOK || !decOK {
		return nil
	}
	ra, err := strconv.ParseFloat(raText, 64)
	if err == nil && (ra < 0 || ra >= 360) {
		err = fmt.Errorf("ra %v: %w", ra, errRange)
	}
	b.check(catalog.FieldRA, err)
	dec, derr := strconv.ParseFloat(decText, 64)
	if derr == nil && (dec < -90 || dec > 90) {
		derr = fmt.Errorf("dec %v: %w", dec, errRange)
	}
	b.check(catalog.FieldDec, derr)
	if err != nil || derr != nil {
		return nil
	}

	p := &model.Position{RA: round(ra, b.precision), Dec: round(dec, b.precision)}
	if deg, ok := b.errorRadius(); ok {
		p.Error = deg
		p.ErrorUnit = model.UnitDegree
	}
	return p
}

// errorRadius returns the extracted or default error radius in degrees.
// Radii keep two more decimals than coordinates so arcsecond errors stay distinct.
func (b *builder) errorRadius() (float64, bool) {
	f := b.facility
	if g, ok := b.caps[catalog.FieldError]; ok && len(g) > 0 {
		v, err := strconv.ParseFloat(strings.TrimSpace(g[0]), 64)
		if err == nil && v < 0 {
			err = fmt.Errorf("error radius %v: %w", v, errRange)
		}
		unit := f.ErrorUnit
		if len(g) > 1 && strings.TrimSpace(g[1]) != "" {
			unit = g[1]
		}
		if err == nil {
			var deg float64
			deg, err = toDegrees(v, unit)
			if err == nil {
				return round(deg, b.precision+2), true
			}
		}
		b.check(catalog.FieldError, err)
	}
	if f.DefaultError != nil {
		deg, err := toDegrees(*f.DefaultError, f.ErrorUnit)
		if err == nil {
			return round(deg, b.precision+2), true
		}
	}
	return 0, false
}

// number rounds numeric text to the configured precision and leaves other text alone.
func (b *builder) number(v string) string {
	x, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return v
	}
	return strconv.FormatFloat(round(x, b.precision), 'f', -1, 64)
}

// missing lists the required fields that were not usable, sorted.
func (b *builder) missing() []string {
	var out []string
	for _, field := range b.facility.RequiredFields() {
		if _, bad := b.invalid[field]; bad {
			out = append(out, field)
			continue
		}
		if _, ok := b.caps.first(field); !ok {
			out = append(out, field)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// found counts captured fields that were usable.
func (b *builder) found() int {
	n := 0
	for field := range b.caps {
		if _, bad := b.invalid[field]; bad {
			continue
		}
		if _, ok := b.caps.first(field); ok {
			n++
		}
	}
	return n
}

func isCore(field string) bool {
	switch field {
	case catalog.FieldNoticeDate, catalog.FieldTriggerID, catalog.FieldDate, catalog.FieldTime,
		catalog.FieldDiscovery, catalog.FieldRA, catalog.FieldDec, catalog.FieldError,
		catalog.FieldRedshift, catalog.FieldHostInfo:
		return true
	}
	return false
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func toDegrees(v float64, unit string) (float64, error) {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch {
	case u == "" || strings.HasPrefix(u, "deg"):
		return v, nil
	case strings.HasPrefix(u, "arcmin"):
		return v / 60, nil
	case strings.HasPrefix(u, "arcsec"):
		return v / 3600, nil
	default:
		return 0, fmt.Errorf("%q: %w", unit, errUnit)
	}
}

// parseNoticeDate reads the seven NOTICE_DATE groups:
// weekday, day, month, two-digit year, hour, minute, second.
func parseNoticeDate(g []string) (time.Time, error) {
	if len(g) < 7 {
		return time.Time{}, fmt.Errorf("notice date: %d groups", len(g))
	}
	sec, _, _ := strings.Cut(g[6], ".")
	s := fmt.Sprintf("%s %s %s %s:%s:%s", g[1], g[2], g[3], g[4], g[5], sec)
	t, err := time.Parse("2 Jan 06 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("notice date %q: %w", s, err)
	}
	return t, nil
}

// parseDate reads yy, mm, dd groups as a UTC midnight.
func parseDate(g []string) (time.Time, error) {
	if len(g) < 3 {
		return time.Time{}, fmt.Errorf("date: %d groups", len(g))
	}
	s := g[0] + "/" + g[1] + "/" + g[2]
	t, err := time.Parse("06/01/02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}

// parseClock reads "hh:mm:ss[.fff]" as an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	whole, _, _ := strings.Cut(strings.TrimSpace(s), ".")
	t, err := time.Parse("15:04:05", whole)
	if err != nil {
		return 0, fmt.Errorf("time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: no known layout", s)
}
