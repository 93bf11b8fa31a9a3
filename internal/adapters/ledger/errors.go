package ledger

import "errors"

// Sentinel errors for the ledger store.
var (
	ErrOpen       = errors.New("ledger: open failed")
	ErrAppend     = errors.New("ledger: append failed")
	ErrCorruptRow = errors.New("ledger: corrupt row")
	ErrClosed     = errors.New("ledger: closed")
)
