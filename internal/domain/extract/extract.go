// Package extract turns raw notice payloads into partial records.
//
// Extraction is table driven: the facility's catalog entry lists which fields
// to pull and how, so there is no per-facility code here. Key-value payloads
// are matched with the rule regexes after superseded-epoch coordinate lines are
// dropped; JSON payloads are decoded and looked up by rule path, optionally
// followed by a rule regex over the text found there. In strict mode
// every required field must be found; in lenient mode anything found is kept
// and each missing field is logged.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

const defaultPrecision = 2

// Extractor converts payloads to partial records. It holds no per-notice state
// and is safe for concurrent use.
type Extractor struct {
	strict    bool
	precision int
	logger    logger.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStrict rejects notices missing any required field.
func WithStrict(strict bool) Option {
	return func(e *Extractor) {
		e.strict = strict
	}
}

// WithPrecision sets the number of decimals kept for numeric fields.
func WithPrecision(decimals int) Option {
	return func(e *Extractor) {
		if decimals >= 0 {
			e.precision = decimals
		}
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates a lenient Extractor rounding to two decimals.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		precision: defaultPrecision,
		logger:    logger.Or("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strict reports whether the extractor runs in strict mode.
func (e *Extractor) Strict() bool { return e.strict }

// Message resolves the facility publishing msg.Topic and extracts the notice.
func (e *Extractor) Message(ctx context.Context, cat *catalog.Catalog, msg model.RawMessage) (model.PartialRecord, error) {
	f, ok := cat.FacilityForTopic(msg.Topic)
	if !ok {
		return model.PartialRecord{}, &Error{Topic: msg.Topic, Err: ErrUnknownTopic}
	}
	return e.Extract(ctx, cat, f, msg)
}

// Extract pulls the fields of facility f out of msg.
func (e *Extractor) Extract(ctx context.Context, cat *catalog.Catalog, f *catalog.Facility, msg model.RawMessage) (model.PartialRecord, error) {
	text := string(msg.Payload)

	var (
		caps captures
		err  error
	)
	switch f.Format {
	case model.FormatJSON:
		caps, err = captureJSON(f, msg.Payload)
	default:
		caps = captureText(cat, f, text)
	}
	if err != nil {
		metrics.RecordExtractionError(f.Name)
		return model.PartialRecord{}, &Error{Facility: f.Name, Topic: msg.Topic, Err: fmt.Errorf("%w: %w", ErrUnparsable, err)}
	}

	b := builder{precision: e.precision, facility: f, caps: caps, invalid: map[string]error{}}
	rec := b.build(msg.ReceivedAt)

	for _, field := range sortedKeys(b.invalid) {
		cause := b.invalid[field]
		e.logger.Warn(ctx, "extracted field rejected",
			logger.String("topic", msg.Topic),
			logger.String("facility", f.Name),
			logger.String("field", field),
			logger.String("triggerId", rec.TriggerID),
			logger.Error(cause))
	}

	missing := b.missing()
	if e.strict && len(missing) > 0 {
		metrics.RecordExtractionError(f.Name)
		return model.PartialRecord{}, &Error{Facility: f.Name, Topic: msg.Topic, Missing: missing}
	}
	for _, field := range missing {
		e.logger.Warn(ctx, "required field not found",
			logger.String("topic", msg.Topic),
			logger.String("facility", f.Name),
			logger.String("field", field),
			logger.String("triggerId", rec.TriggerID))
	}
	if b.found() == 0 {
		metrics.RecordExtractionError(f.Name)
		return model.PartialRecord{}, &Error{Facility: f.Name, Topic: msg.Topic, Missing: missing, Err: ErrNoFields}
	}

	rec.FalseTrigger = cat.HasFalseTriggerPhrase(text)
	if !rec.FalseTrigger {
		retracted, rerr := f.Retracted(caps.firsts(), text)
		if rerr != nil {
			e.logger.Warn(ctx, "retract-when evaluation failed",
				logger.String("topic", msg.Topic),
				logger.String("facility", f.Name),
				logger.Error(rerr))
		}
		rec.FalseTrigger = retracted
	}
	return rec, nil
}

// captures maps a rule field to its capture groups. JSON rules yield one group.
type captures map[string][]string

func (c captures) first(field string) (string, bool) {
	g, ok := c[field]
	if !ok || len(g) == 0 {
		return "", false
	}
	v := strings.TrimSpace(g[0])
	return v, v != ""
}

func (c captures) firsts() map[string]string {
	out := make(map[string]string, len(c))
	for k := range c {
		if v, ok := c.first(k); ok {
			out[k] = v
		}
	}
	return out
}

// captureText applies the rule regexes to the payload with superseded-epoch
// lines removed. The first matching rule for a field wins.
func captureText(cat *catalog.Catalog, f *catalog.Facility, text string) captures {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if cat.IsSuperseded(line) {
			continue
		}
		kept = append(kept, line)
	}
	body := strings.Join(kept, "\n")

	caps := captures{}
	for i := range f.Rules {
		r := &f.Rules[i]
		if _, done := caps[r.Field]; done {
			continue
		}
		re := r.Regexp()
		if re == nil {
			continue
		}
		if m := re.FindStringSubmatch(body); m != nil {
			caps[r.Field] = m[1:]
		}
	}
	return caps
}

func captureJSON(f *catalog.Facility, payload []byte) (captures, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	caps := captures{}
	for i := range f.Rules {
		r := &f.Rules[i]
		if _, done := caps[r.Field]; done {
			continue
		}
		v, ok := r.Lookup(doc)
		if !ok {
			continue
		}
		s, ok := scalar(v)
		if !ok || s == "" {
			continue
		}
		if re := r.Regexp(); re != nil {
			if m := re.FindStringSubmatch(s); m != nil {
				caps[r.Field] = m[1:]
			}
			continue
		}
		caps[r.Field] = []string{s}
	}
	return caps, nil
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64, int, int64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// truncate drops sub-second precision.
func truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}
