package window

import "errors"

// Sentinel errors for the active window store.
var (
	ErrOpen       = errors.New("window: open failed")
	ErrNotFound   = errors.New("window: event not found")
	ErrWrite      = errors.New("window: write failed")
	ErrBackup     = errors.New("window: backup failed")
	ErrCorruptRow = errors.New("window: corrupt row")
	ErrInvalid    = errors.New("window: invalid event")
)
