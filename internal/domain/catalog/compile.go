package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/okian/noticeledger/internal/domain/model"
)

// Compile validates the catalog and prepares its regular expressions, retraction
// expressions and lookup indexes. It must be called once before lookups.
func (c *Catalog) Compile() error {
	c.byName = make(map[string]*Facility, len(c.Facilities))
	c.byPrefix = make(map[string]*Prefix, len(c.Prefixes))

	for i := range c.Prefixes {
		p := &c.Prefixes[i]
		if p.Name == "" {
			return errorf("prefix %d: missing name", i)
		}
		if _, dup := c.byPrefix[p.Name]; dup {
			return errorf("duplicate prefix %q", p.Name)
		}
		if err := p.compile(); err != nil {
			return err
		}
		c.byPrefix[p.Name] = p
	}
	if _, ok := c.byPrefix[c.DefaultPrefix]; !ok {
		return errorf("default prefix %q is not defined", c.DefaultPrefix)
	}

	for i := range c.Facilities {
		f := &c.Facilities[i]
		if err := c.compileFacility(f); err != nil {
			return err
		}
		c.byName[f.Name] = f
	}

	c.phrases = c.phrases[:0]
	for _, phrase := range c.FalseTriggerPhrases {
		re, err := regexp.Compile(`(?i)` + phrase)
		if err != nil {
			return errorf("false-trigger phrase %q: %v", phrase, err)
		}
		c.phrases = append(c.phrases, re)
	}

	c.superseded = nil
	if len(c.SupersededEpochs) > 0 {
		tags := make([]string, len(c.SupersededEpochs))
		for i, t := range c.SupersededEpochs {
			tags[i] = regexp.QuoteMeta(t)
		}
		c.superseded = regexp.MustCompile(`\((?:` + strings.Join(tags, "|") + `)\)`)
	}

	c.compiled = true
	return nil
}

// Compiled reports whether Compile succeeded.
func (c *Catalog) Compiled() bool { return c.compiled }

func (c *Catalog) compileFacility(f *Facility) error {
	if f.Name == "" {
		return errorf("facility without name")
	}
	if _, dup := c.byName[f.Name]; dup {
		return errorf("duplicate facility %q", f.Name)
	}
	if f.Prefix != "" {
		if _, ok := c.byPrefix[f.Prefix]; !ok {
			return errorf("facility %q: unknown prefix %q", f.Name, f.Prefix)
		}
	}
	switch f.Format {
	case model.FormatKeyValue, model.FormatJSON:
	case "":
		f.Format = model.FormatKeyValue
	default:
		return errorf("facility %q: unknown format %q", f.Name, f.Format)
	}
	switch strings.ToLower(f.ErrorUnit) {
	case "", model.UnitDegree, model.UnitArcmin, model.UnitArcsec:
	default:
		return errorf("facility %q: unknown error unit %q", f.Name, f.ErrorUnit)
	}

	for j := range f.Rules {
		r := &f.Rules[j]
		if r.Field == "" {
			return errorf("facility %q rule %d: missing field", f.Name, j)
		}
		if f.Format == model.FormatJSON {
			if r.Path == "" {
				return errorf("facility %q rule %q: json rules need a path", f.Name, r.Field)
			}
			prog, err := expr.Compile(r.Path, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
			if err != nil {
				return errorf("facility %q rule %q path: %v", f.Name, r.Field, err)
			}
			r.path = prog
			if r.Pattern == "" {
				continue
			}
		}
		re, err := regexp.Compile(strings.ReplaceAll(r.Pattern, "{epoch}", regexp.QuoteMeta(c.Epoch)))
		if err != nil {
			return errorf("facility %q rule %q: %v", f.Name, r.Field, err)
		}
		if want := minGroups(r.Field); re.NumSubexp() < want {
			return errorf("facility %q rule %q: pattern needs %d capture groups", f.Name, r.Field, want)
		}
		r.re = re
	}

	f.retract = nil
	if f.RetractWhen != "" {
		prog, err := expr.Compile(f.RetractWhen, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
		if err != nil {
			return errorf("facility %q retract-when: %v", f.Name, err)
		}
		f.retract = prog
	}
	return nil
}

// Retracted evaluates the facility's retract-when expression.
// A facility without an expression never retracts.
func (f *Facility) Retracted(fields map[string]string, text string) (bool, error) {
	if f.retract == nil {
		return false, nil
	}
	env := map[string]any{
		"fields":   toAny(fields),
		"facility": f.Name,
		"text":     text,
	}
	out, err := expr.Run(f.retract, env)
	if err != nil {
		return false, fmt.Errorf("retract-when %s: %w", f.Name, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("retract-when %s: result %T is not a bool", f.Name, out)
	}
	return b, nil
}

// Lookup evaluates a JSON rule's path against a decoded document.
// A path that does not resolve reports false. A rule that also carries a
// pattern applies it to the looked-up text; see Regexp.
func (r *Rule) Lookup(doc map[string]any) (any, bool) {
	if r.path == nil {
		return nil, false
	}
	out, err := expr.Run(r.path, doc)
	if err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// RequiredFields lists the fields a strict extraction must find.
func (f *Facility) RequiredFields() []string {
	var out []string
	for _, r := range f.Rules {
		if r.Required {
			out = append(out, r.Field)
		}
	}
	return out
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// minGroups is the number of capture groups a key-value rule must provide.
func minGroups(field string) int {
	switch field {
	case FieldDate:
		return 3
	case FieldNoticeDate:
		return 7
	default:
		return 1
	}
}
