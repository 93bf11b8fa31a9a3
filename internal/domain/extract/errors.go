package extract

import (
	"errors"
	"strings"
)

// Sentinel kinds for extraction errors.
var (
	ErrExtraction   = errors.New("extraction failed")
	ErrUnknownTopic = errors.New("no facility for topic")
	ErrNoFields     = errors.New("no fields extracted")
	ErrUnparsable   = errors.New("payload unparsable")
)

// Error describes a rejected notice. It matches ErrExtraction with errors.Is.
type Error struct {
	Facility string
	Topic    string
	Missing  []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("extract ")
	b.WriteString(e.Facility)
	if e.Topic != "" {
		b.WriteString(" (")
		b.WriteString(e.Topic)
		b.WriteString(")")
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing ")
		b.WriteString(strings.Join(e.Missing, ","))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports ErrExtraction.
func (e *Error) Is(target error) bool { return target == ErrExtraction }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }
