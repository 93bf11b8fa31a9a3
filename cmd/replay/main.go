package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/noticeledger/internal/replay"
	"github.com/okian/noticeledger/pkg/logger"
)

// Default configuration constants.
const (
	defaultCapacity = 100
	defaultBackups  = 5
	defaultTimeout  = 10 * time.Minute
)

func main() {
	var (
		ledgerPath  = flag.String("ledger", "notices_ledger.csv", "Ledger file to replay")
		catalogPath = flag.String("catalog", "", "Facility catalog YAML (default: built-in catalog)")
		windowPath  = flag.String("window", "active_events.ascii", "Active window file to verify or rebuild")
		rebuild     = flag.Bool("rebuild", false, "Rewrite the window file from the ledger")
		capacity    = flag.Int("capacity", defaultCapacity, "Window capacity used when rebuilding")
		backups     = flag.Int("backups", defaultBackups, "Window backups kept when rebuilding")
		outputFile  = flag.String("output", "", "Write a JSON report to this file")
		verbose     = flag.Bool("verbose", false, "Log every active identity")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		replay.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	cfg := &replay.Config{
		LedgerPath:      *ledgerPath,
		CatalogPath:     *catalogPath,
		WindowPath:      *windowPath,
		Rebuild:         *rebuild,
		Capacity:        *capacity,
		BackupRetention: *backups,
		OutputFile:      *outputFile,
		Verbose:         *verbose,
	}

	report, err := replay.Run(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("Replay failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if len(report.Mismatches) > 0 {
		os.Exit(2)
	}
}
