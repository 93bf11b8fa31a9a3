package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrAppend  = errors.New("ledger append failed")
	ErrWindow  = errors.New("active window update failed")
	ErrRebuild = errors.New("state rebuild failed")
)
