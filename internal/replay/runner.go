package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/okian/noticeledger/internal/adapters/ledger"
	"github.com/okian/noticeledger/internal/adapters/window"
	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/identity"
	"github.com/okian/noticeledger/internal/domain/merge"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/internal/domain/types"
	"github.com/okian/noticeledger/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	reportPermission    = 0o600
	defaultCapacity     = 100
)

// Run folds the ledger and then verifies or rebuilds the window file.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	start := time.Now()
	log := logger.Or("replay")

	if _, err := os.Stat(cfg.LedgerPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoLedger, cfg.LedgerPath)
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		var err error
		if cat, err = catalog.LoadFile(cfg.CatalogPath); err != nil {
			return nil, err
		}
	}

	led, err := ledger.Open(cfg.LedgerPath, ledger.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer func() { _ = led.Close() }()

	fold := func(ev model.Event, rec model.PartialRecord) model.Event { //nolint:gocritic // hugeParam: events are passed by value
		return merge.Merge(cat, ev, rec).Event
	}
	snap, err := identity.Replay(ctx, led, cat, fold)
	if err != nil {
		return nil, err
	}

	active := snap.Active()
	report := &Report{
		Rows:       snap.Rows,
		Identities: len(snap.Events),
		Retracted:  len(snap.Events) - len(active),
		Active:     make([]types.EventView, 0, len(active)),
	}
	for _, ev := range slices.Backward(active) {
		report.Active = append(report.Active, types.FromEvent(ev))
		if cfg.Verbose {
			log.Info(ctx, "active identity",
				logger.String("name", ev.CanonicalName),
				logger.String("bestFacility", ev.BestFacility),
				logger.Int("facilities", len(ev.Facilities)))
		}
	}

	if cfg.WindowPath != "" {
		if err := windowStep(ctx, cfg, snap, active, report, log); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, report); err != nil {
			return nil, err
		}
		log.Info(ctx, "report saved", logger.String("filename", cfg.OutputFile))
	}

	displayStats(ctx, log, report)
	return report, nil
}

func windowStep(ctx context.Context, cfg *Config, snap *identity.Snapshot, active []model.Event, report *Report, log logger.Logger) error {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = defaultCapacity
	}
	if cfg.Rebuild {
		win, err := window.Open(ctx, cfg.WindowPath,
			window.WithCapacity(capacity),
			window.WithBackupRetention(cfg.BackupRetention),
			window.WithLogger(log))
		if err != nil {
			return err
		}
		if err := win.Replace(ctx, active); err != nil {
			return err
		}
		report.Rebuilt = win.Len()
		log.Info(ctx, "active window rebuilt",
			logger.String("file", cfg.WindowPath),
			logger.Int("events", report.Rebuilt))
		return nil
	}

	if _, err := os.Stat(cfg.WindowPath); errors.Is(err, fs.ErrNotExist) {
		log.Warn(ctx, "window file not found, nothing to verify", logger.String("file", cfg.WindowPath))
		return nil
	}
	win, err := window.Open(ctx, cfg.WindowPath, window.WithCapacity(capacity), window.WithLogger(log))
	if err != nil {
		return err
	}
	report.Mismatches = verify(snap, win.List())
	for _, m := range report.Mismatches {
		log.Warn(ctx, "window row disagrees with ledger",
			logger.String("name", m.Name),
			logger.String("reason", m.Reason))
	}
	return nil
}

// verify checks every window row against the identity folded from the ledger.
func verify(snap *identity.Snapshot, rows []model.Event) []Mismatch {
	var out []Mismatch
	for _, row := range rows {
		ev, ok := snap.Events[row.CanonicalName]
		switch {
		case !ok:
			out = append(out, Mismatch{Name: row.CanonicalName, Reason: "no ledger history"})
		case ev.Retracted:
			out = append(out, Mismatch{Name: row.CanonicalName, Reason: "retracted in ledger"})
		case ev.BestFacility != row.BestFacility:
			out = append(out, Mismatch{
				Name:   row.CanonicalName,
				Reason: fmt.Sprintf("best facility %s, ledger has %s", row.BestFacility, ev.BestFacility),
			})
		case !ev.LastUpdateTime.Equal(row.LastUpdateTime):
			out = append(out, Mismatch{Name: row.CanonicalName, Reason: "stale last update"})
		}
	}
	return out
}

// saveReport writes report as indented JSON.
func saveReport(filename string, report *Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("%w: %w", ErrReport, err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReport, err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), reportPermission); err != nil {
		return fmt.Errorf("%w: %w", ErrReport, err)
	}
	return nil
}

// displayStats logs the final replay statistics.
func displayStats(ctx context.Context, log logger.Logger, report *Report) {
	log.Info(ctx, "replay statistics",
		logger.Int("ledgerRows", report.Rows),
		logger.Int("identities", report.Identities),
		logger.Int("active", len(report.Active)),
		logger.Int("retracted", report.Retracted),
		logger.Int("mismatches", len(report.Mismatches)),
		logger.Int("rebuilt", report.Rebuilt),
		logger.Duration("duration", report.Duration))
}
