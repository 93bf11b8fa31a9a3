package replay

import "errors"

// Sentinel kinds for replay errors.
var (
	ErrNoLedger = errors.New("ledger not found")
	ErrReport   = errors.New("write report failed")
)
