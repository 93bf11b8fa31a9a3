// Package tabular encodes and decodes the delimited rows used by the store files.
//
// A field is quoted when it contains the delimiter, a double quote or any
// whitespace; quotes inside a quoted field are doubled. Line breaks inside a
// field are replaced by a single space so every row stays on one line. With a
// space delimiter any run of spaces and tabs separates fields and empty fields
// are written as "".
package tabular

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrMalformed is returned when a row cannot be split into fields.
var ErrMalformed = errors.New("tabular: malformed row")

const quote = '"'

// Codec splits and joins rows for one delimiter.
type Codec struct {
	delim rune
}

// Comma returns the codec used by the ledger.
func Comma() Codec { return Codec{delim: ','} }

// Space returns the codec used by the active window table.
func Space() Codec { return Codec{delim: ' '} }

// New returns a codec for delim. Only printable, non-quote delimiters are supported.
func New(delim rune) (Codec, error) {
	if delim == quote || delim == '\n' || delim == '\r' || !unicode.IsPrint(delim) {
		return Codec{}, fmt.Errorf("tabular: unsupported delimiter %q", delim)
	}
	return Codec{delim: delim}, nil
}

// Delimiter returns the configured delimiter.
func (c Codec) Delimiter() rune { return c.delim }

func (c Codec) spaced() bool { return c.delim == ' ' }

// Encode joins fields into one row without a trailing newline.
func (c Codec) Encode(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteRune(c.delim)
		}
		f = sanitize(f)
		if !c.needsQuote(f) {
			b.WriteString(f)
			continue
		}
		b.WriteRune(quote)
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteRune(quote)
	}
	return b.String()
}

func (c Codec) needsQuote(f string) bool {
	if f == "" {
		return c.spaced()
	}
	return strings.ContainsFunc(f, func(r rune) bool {
		return r == c.delim || r == quote || unicode.IsSpace(r)
	})
}

func sanitize(f string) string {
	if !strings.ContainsAny(f, "\r\n") {
		return f
	}
	f = strings.ReplaceAll(f, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(f)
}

// Decode splits one row into fields.
func (c Codec) Decode(line string) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")
	if c.spaced() {
		line = strings.TrimFunc(line, isBlank)
		if line == "" {
			return nil, nil
		}
	}

	var (
		fields []string
		field  strings.Builder
		rs     = []rune(line)
	)
	for i := 0; i <= len(rs); {
		// start of a field
		if i < len(rs) && rs[i] == quote {
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == quote {
					if i+1 < len(rs) && rs[i+1] == quote {
						field.WriteRune(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				field.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote", ErrMalformed)
			}
			if i < len(rs) && !c.isDelim(rs[i]) {
				return nil, fmt.Errorf("%w: unexpected %q after quoted field", ErrMalformed, rs[i])
			}
		} else {
			for i < len(rs) && !c.isDelim(rs[i]) {
				if rs[i] == quote {
					return nil, fmt.Errorf("%w: bare quote in field %d", ErrMalformed, len(fields)+1)
				}
				field.WriteRune(rs[i])
				i++
			}
		}

		fields = append(fields, field.String())
		field.Reset()
		if i >= len(rs) {
			break
		}
		// skip the delimiter, or the whole blank run for spaced rows
		if c.spaced() {
			for i < len(rs) && isBlank(rs[i]) {
				i++
			}
		} else {
			i++
			if i == len(rs) {
				fields = append(fields, "")
				break
			}
		}
	}
	return fields, nil
}

// DecodeN decodes line and checks it has exactly n fields.
func (c Codec) DecodeN(line string, n int) ([]string, error) {
	fields, err := c.Decode(line)
	if err != nil {
		return nil, err
	}
	if len(fields) != n {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrMalformed, len(fields), n)
	}
	return fields, nil
}

func (c Codec) isDelim(r rune) bool {
	if c.spaced() {
		return isBlank(r)
	}
	return r == c.delim
}

func isBlank(r rune) bool { return r == ' ' || r == '\t' }
