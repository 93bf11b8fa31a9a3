// Package ledger implements the append-only notice ledger on a delimited file.
//
// Every processed notice becomes one row. Rows are never rewritten; Scan
// reopens the file on each call and reads it from the first row, skipping
// rows that do not parse.
package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/noticeledger/internal/adapters/tabular"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
	"github.com/okian/noticeledger/pkg/metrics"
)

const maxLine = 1 << 20

// FileLedger is a Ledger Store backed by one comma delimited file.
// Append is safe for concurrent use.
type FileLedger struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	codec  tabular.Codec
	sync   bool
	newID  func() string
	now    func() time.Time
	logger logger.Logger
}

// Open opens or creates the ledger file at path and writes the header to a new file.
func Open(path string, opts ...Option) (*FileLedger, error) {
	l := &FileLedger{
		path:   path,
		codec:  tabular.Comma(),
		sync:   true,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: logger.Or("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if st.Size() == 0 {
		if _, err := f.WriteString(l.codec.Encode(Columns) + "\n"); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: header: %w", ErrOpen, err)
		}
	}
	l.file = f
	return l, nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string { return l.path }

// Append writes row and returns it with NoticeID and ReceivedAt filled in.
func (l *FileLedger) Append(ctx context.Context, row model.LedgerRow) (model.LedgerRow, error) { //nolint:gocritic // hugeParam: row is returned by value
	if err := ctx.Err(); err != nil {
		return row, err
	}
	if row.NoticeID == "" {
		row.NoticeID = l.newID()
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = l.now()
	}
	line := l.codec.Encode(encodeRow(row)) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return row, ErrClosed
	}
	if _, err := l.file.WriteString(line); err != nil {
		metrics.RecordLedgerAppendError()
		return row, fmt.Errorf("%w: %w", ErrAppend, err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			metrics.RecordLedgerAppendError()
			return row, fmt.Errorf("%w: sync: %w", ErrAppend, err)
		}
	}
	metrics.RecordLedgerAppend()
	return row, nil
}

// Scan yields every readable row in append order. A malformed row is logged
// and skipped. Errors reading the file itself end the sequence.
func (l *FileLedger) Scan(ctx context.Context) iter.Seq2[model.LedgerRow, error] {
	return func(yield func(model.LedgerRow, error) bool) {
		f, err := os.Open(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(model.LedgerRow{}, fmt.Errorf("ledger: scan: %w", err))
			return
		}
		defer func() { _ = f.Close() }()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for n := 1; sc.Scan(); n++ {
			if err := ctx.Err(); err != nil {
				yield(model.LedgerRow{}, err)
				return
			}
			text := sc.Text()
			if text == "" {
				continue
			}
			row, err := l.parse(text)
			if err != nil {
				if n == 1 && text == l.codec.Encode(Columns) {
					continue
				}
				metrics.RecordLedgerCorruptRow()
				l.logger.Warn(ctx, "skipping malformed ledger row",
					logger.String("file", l.path),
					logger.Int("line", n),
					logger.Error(err))
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(model.LedgerRow{}, fmt.Errorf("ledger: scan: %w", err))
		}
	}
}

// Rows returns every readable row. It is a convenience for tools and tests.
func (l *FileLedger) Rows(ctx context.Context) ([]model.LedgerRow, error) {
	var out []model.LedgerRow
	for row, err := range l.Scan(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (l *FileLedger) parse(text string) (model.LedgerRow, error) {
	fields, err := l.codec.DecodeN(text, len(Columns))
	if err != nil {
		return model.LedgerRow{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	row, err := decodeRow(fields)
	if err != nil {
		return model.LedgerRow{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	return row, nil
}

// Close flushes and closes the file. Further appends fail with ErrClosed.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
