package ledger

import (
	"time"

	"github.com/okian/noticeledger/pkg/logger"
)

// Option configures a FileLedger.
type Option func(*FileLedger)

// WithLogger sets the logger used for malformed rows.
func WithLogger(l logger.Logger) Option {
	return func(f *FileLedger) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSync controls whether every append is flushed to disk before returning.
func WithSync(enabled bool) Option {
	return func(f *FileLedger) {
		f.sync = enabled
	}
}

// WithIDFunc overrides the notice id generator.
func WithIDFunc(fn func() string) Option {
	return func(f *FileLedger) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// WithClock overrides the time source used for rows without a receipt time.
func WithClock(now func() time.Time) Option {
	return func(f *FileLedger) {
		if now != nil {
			f.now = now
		}
	}
}
