package catalog

import (
	"regexp"
	"strings"
	"time"
)

const defaultDayLayout = "060102"

// Letters returns the prefix alphabet in sequence order.
func (p *Prefix) Letters() []rune { return p.letters }

// Index returns the position of letter in the alphabet, or -1.
func (p *Prefix) Index(letter rune) int {
	for i, l := range p.letters {
		if l == letter {
			return i
		}
	}
	return -1
}

// Day formats t as the {day} component of a name.
func (p *Prefix) Day(t time.Time) string {
	return t.UTC().Format(p.layout())
}

// Format renders a canonical name for day and letter.
func (p *Prefix) Format(day string, letter rune) string {
	return strings.NewReplacer("{day}", day, "{letter}", string(letter)).Replace(p.Template)
}

// Parse extracts day and letter from a name produced by Format.
func (p *Prefix) Parse(name string) (day string, letter rune, ok bool) {
	if p.nameRe == nil {
		return "", 0, false
	}
	m := p.nameRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	r := []rune(m[2])
	if len(r) != 1 {
		return "", 0, false
	}
	return m[1], r[0], true
}

func (p *Prefix) layout() string {
	if p.DayLayout == "" {
		return defaultDayLayout
	}
	return p.DayLayout
}

// compile builds the letter table and the reverse-parse expression.
func (p *Prefix) compile() error {
	p.letters = []rune(p.Alphabet)
	if len(p.letters) == 0 {
		return errorf("prefix %q: empty alphabet", p.Name)
	}
	seen := make(map[rune]bool, len(p.letters))
	for _, l := range p.letters {
		if seen[l] {
			return errorf("prefix %q: duplicate letter %q", p.Name, l)
		}
		seen[l] = true
	}
	dayAt := strings.Index(p.Template, "{day}")
	letterAt := strings.Index(p.Template, "{letter}")
	if dayAt < 0 || letterAt < 0 || letterAt < dayAt {
		return errorf("prefix %q: template %q needs {day} before {letter}", p.Name, p.Template)
	}

	var b strings.Builder
	b.WriteString("^")
	b.WriteString(regexp.QuoteMeta(p.Template[:dayAt]))
	b.WriteString(`(\d{` + itoa(len(p.layout())) + `})`)
	b.WriteString(regexp.QuoteMeta(p.Template[dayAt+len("{day}") : letterAt]))
	b.WriteString("([")
	for _, l := range p.letters {
		b.WriteString(regexp.QuoteMeta(string(l)))
	}
	b.WriteString("])")
	b.WriteString(regexp.QuoteMeta(p.Template[letterAt+len("{letter}"):]))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return errorf("prefix %q: %v", p.Name, err)
	}
	p.nameRe = re
	return nil
}
