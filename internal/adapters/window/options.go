package window

import (
	"time"

	"github.com/okian/noticeledger/pkg/logger"
)

const (
	defaultCapacity = 100
	defaultBackups  = 5
)

// Option configures a FileStore.
type Option func(*FileStore)

// WithCapacity sets N, the maximum number of events kept.
func WithCapacity(n int) Option {
	return func(s *FileStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithBackupRetention sets K, the number of backups kept. Zero disables backups.
func WithBackupRetention(k int) Option {
	return func(s *FileStore) {
		if k >= 0 {
			s.keep = k
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}
