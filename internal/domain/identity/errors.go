package identity

import "errors"

// Sentinel kinds for identity errors.
var (
	// ErrAmbiguous means a notice matched more than one existing identity.
	ErrAmbiguous = errors.New("identity ambiguous")
	ErrScan      = errors.New("ledger scan failed")
)
