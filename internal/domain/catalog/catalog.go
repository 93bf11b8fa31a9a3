// Package catalog holds the declarative facility table that drives extraction,
// identity matching, position priority and canonical naming.
//
// A Catalog is data: which topics belong to which facility, the ordered rule
// table used to pull fields out of a payload, the mission family a facility
// is matched under, its position priority and the name prefix assigned to new
// identities. The built-in table is returned by Default; Parse and Loader read
// an override from YAML. A Catalog must be compiled before use and is
// read-only afterwards, so it can be shared between goroutines.
package catalog

import (
	"regexp"
	"slices"
	"strings"

	"github.com/expr-lang/expr/vm"

	"github.com/okian/noticeledger/internal/domain/model"
)

// UnknownPriority is the position priority of a facility missing from the catalog.
// It ranks below every configured facility.
const UnknownPriority = -1

// Extraction targets understood by the extractor. Any other field name is kept
// verbatim as an auxiliary value.
const (
	FieldNoticeDate = "notice_date"
	FieldTriggerID  = "trigger_id"
	FieldDate       = "date"
	FieldTime       = "time"
	FieldDiscovery  = "discovery_time"
	FieldRA         = "ra"
	FieldDec        = "dec"
	FieldError      = "error"
	FieldRedshift   = "redshift"
	FieldHostInfo   = "host_info"
)

// Rule is one row of a facility's extraction table.
//
// Key-value facilities use Pattern, a regular expression whose capture groups
// depend on Field (see the extract package); "{epoch}" in a pattern stands for
// the catalog epoch. JSON facilities use Path, a dotted
// lookup with optional indexes such as "id[0]", evaluated as an expr-lang
// member expression over the decoded document. A JSON rule with a Pattern as
// well matches it against the string found at Path, which is how free-text
// members such as a circular body are mined.
type Rule struct {
	Field    string `yaml:"field"`
	Pattern  string `yaml:"pattern,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Required bool   `yaml:"required,omitempty"`

	re   *regexp.Regexp
	path *vm.Program
}

// Regexp returns the compiled pattern, nil for JSON rules without one.
func (r *Rule) Regexp() *regexp.Regexp { return r.re }

// Facility describes one notice-issuing instrument.
type Facility struct {
	Name     string             `yaml:"name"`
	Family   string             `yaml:"family,omitempty"`
	Priority int                `yaml:"priority"`
	Prefix   string             `yaml:"prefix,omitempty"`
	Format   model.SourceFormat `yaml:"format"`
	Topics   []string           `yaml:"topics"`
	Rules    []Rule             `yaml:"rules"`

	// ErrorUnit applies when a rule captures no unit, and to JSON error values.
	ErrorUnit string `yaml:"error-unit,omitempty"`
	// DefaultError is used when no error radius is extracted.
	DefaultError *float64 `yaml:"default-error,omitempty"`
	// RetractWhen is an expr-lang boolean over {fields, facility, text}.
	RetractWhen string `yaml:"retract-when,omitempty"`
	// NameField names an auxiliary field whose value becomes the canonical
	// name of a new identity instead of a sequenced one.
	NameField string `yaml:"name-field,omitempty"`

	retract *vm.Program
}

// Prefix is a canonical naming scheme: template, alphabet and day layout.
type Prefix struct {
	Name string `yaml:"name"`
	// Alphabet lists the sequence letters in order, e.g. "ABCDEFGHIJKLMNOPQRSTUVWXYZ".
	Alphabet string `yaml:"alphabet"`
	// Template uses {day} and {letter}, e.g. "GRB {day}{letter}" or "IceCube-{day}{letter}".
	Template string `yaml:"template"`
	// DayLayout is a Go time layout for {day}; defaults to "060102".
	DayLayout string `yaml:"day-layout,omitempty"`

	letters []rune
	nameRe  *regexp.Regexp
}

// Catalog is the complete facility table.
type Catalog struct {
	// Epoch is the coordinate epoch kept by extraction, e.g. "J2000".
	Epoch string `yaml:"epoch"`
	// SupersededEpochs tags coordinate lines that are dropped before matching.
	SupersededEpochs []string `yaml:"superseded-epochs"`
	// FalseTriggerPhrases mark a notice as a false trigger when found in the payload.
	FalseTriggerPhrases []string `yaml:"false-trigger-phrases"`
	// DefaultPrefix names new identities of facilities without a prefix.
	DefaultPrefix string     `yaml:"default-prefix"`
	Facilities    []Facility `yaml:"facilities"`
	Prefixes      []Prefix   `yaml:"prefixes"`

	byName     map[string]*Facility
	byPrefix   map[string]*Prefix
	phrases    []*regexp.Regexp
	superseded *regexp.Regexp
	compiled   bool
}

// Facility returns the facility with the given name.
func (c *Catalog) Facility(name string) (*Facility, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// FacilityForTopic returns the first facility one of whose topics is a substring of topic.
func (c *Catalog) FacilityForTopic(topic string) (*Facility, bool) {
	for i := range c.Facilities {
		f := &c.Facilities[i]
		for _, t := range f.Topics {
			if t != "" && strings.Contains(topic, t) {
				return f, true
			}
		}
	}
	return nil, false
}

// Topics returns every facility topic, sorted and without duplicates.
func (c *Catalog) Topics() []string {
	var out []string
	for i := range c.Facilities {
		out = append(out, c.Facilities[i].Topics...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Family returns the mission family used for identity matching.
// Facilities missing from the catalog, or without a family, form their own family.
func (c *Catalog) Family(facility string) string {
	if f, ok := c.byName[facility]; ok && f.Family != "" {
		return f.Family
	}
	return facility
}

// Priority returns the position priority of facility, UnknownPriority when unknown.
func (c *Catalog) Priority(facility string) int {
	if f, ok := c.byName[facility]; ok {
		return f.Priority
	}
	return UnknownPriority
}

// PrefixFor returns the naming prefix used for new identities first seen by facility.
func (c *Catalog) PrefixFor(facility string) *Prefix {
	name := c.DefaultPrefix
	if f, ok := c.byName[facility]; ok && f.Prefix != "" {
		name = f.Prefix
	}
	return c.byPrefix[name]
}

// Prefix returns the prefix with the given name.
func (c *Catalog) Prefix(name string) (*Prefix, bool) {
	p, ok := c.byPrefix[name]
	return p, ok
}

// NameField returns the override name field for facility, if any.
func (c *Catalog) NameField(facility string) string {
	if f, ok := c.byName[facility]; ok {
		return f.NameField
	}
	return ""
}

// HasFalseTriggerPhrase reports whether text contains one of the false-trigger phrases.
func (c *Catalog) HasFalseTriggerPhrase(text string) bool {
	for _, re := range c.phrases {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsSuperseded reports whether line is tagged with a superseded coordinate epoch.
func (c *Catalog) IsSuperseded(line string) bool {
	return c.superseded != nil && c.superseded.MatchString(line)
}

// ParseName splits a canonical name into its prefix, day and letter.
// It is the inverse of Prefix.Format and is used when replaying the ledger.
func (c *Catalog) ParseName(name string) (prefix *Prefix, day string, letter rune, ok bool) {
	for i := range c.Prefixes {
		p := &c.Prefixes[i]
		if d, l, matched := p.Parse(name); matched {
			return p, d, l, true
		}
	}
	return nil, "", 0, false
}
