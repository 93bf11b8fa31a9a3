package replay

import "os"

// ShowHelp prints usage information for the replay tool.
func ShowHelp() {
	os.Stdout.WriteString(`noticeledger replay
===================

Folds a notice ledger into event identities without running the daemon.

Usage:
  go run ./cmd/replay [options]

Options:
  -ledger string
        Ledger file to replay (default "notices_ledger.csv")
  -catalog string
        YAML facility catalog (default: built-in catalog)
  -window string
        Active window file to verify against the ledger (default "active_events.ascii")
  -rebuild
        Rewrite the active window file from the ledger
  -capacity int
        Active window capacity used by -rebuild (default 100)
  -backups int
        Window backups kept by -rebuild (default 5)
  -output string
        Write the JSON report to this file
  -verbose
        Log every active identity
  -help
        Show this help message

Examples:
  # Summarize the ledger and check the window file
  go run ./cmd/replay -ledger notices_ledger.csv -window active_events.ascii

  # Recreate a lost or corrupted window file
  go run ./cmd/replay -rebuild -capacity 100
`)
}
