// Package replay folds a notice ledger offline: it reports the identities the
// ledger holds, checks an active window file against them and can rebuild the
// window from scratch.
package replay

import (
	"time"

	"github.com/okian/noticeledger/internal/domain/types"
)

// Config holds the replay tool options.
type Config struct {
	LedgerPath      string // ledger to fold
	CatalogPath     string // optional YAML catalog; empty uses the built-in one
	WindowPath      string // active window file to verify or rebuild
	Rebuild         bool   // rewrite WindowPath from the ledger
	Capacity        int    // window capacity used when rebuilding
	BackupRetention int    // backups kept when rebuilding
	OutputFile      string // optional JSON report path
	Verbose         bool   // log every active identity
}

// Mismatch is a window row that disagrees with the ledger.
type Mismatch struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Report is the outcome of one replay.
type Report struct {
	Rows       int               `json:"rows"`
	Identities int               `json:"identities"`
	Retracted  int               `json:"retracted"`
	Active     []types.EventView `json:"active"`
	Mismatches []Mismatch        `json:"mismatches,omitempty"`
	Rebuilt    int               `json:"rebuilt,omitempty"`
	Duration   time.Duration     `json:"duration"`
}
