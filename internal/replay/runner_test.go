package replay_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/adapters/ledger"
	"github.com/okian/noticeledger/internal/adapters/window"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/internal/replay"
	. "github.com/smartystreets/goconvey/convey"
)

var day = time.Date(2025, 1, 13, 5, 0, 0, 0, time.UTC)

func record(facility, trigger string, minute int, falseTrigger bool) model.PartialRecord {
	return model.PartialRecord{
		Facility:     facility,
		TriggerID:    trigger,
		Position:     &model.Position{RA: 10, Dec: 20, Error: 0.1, ErrorUnit: model.UnitDegree},
		NoticeTime:   day.Add(time.Duration(minute) * time.Minute),
		FalseTrigger: falseTrigger,
		Format:       model.FormatKeyValue,
	}
}

func writeLedger(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	led, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = led.Close() }()
	rows := []model.LedgerRow{
		{Topic: "SWIFT_BAT_GRB_POS_ACK", CanonicalName: "GRB 250113A", Record: record("SwiftBAT", "100042", 1, false)},
		{Topic: "SWIFT_XRT_POSITION", CanonicalName: "GRB 250113A", Record: record("SwiftXRT", "100042", 2, false)},
		{Topic: "FERMI_GBM_FLT_POS", CanonicalName: "GRB 250113B", Record: record("FermiGBM", "7777", 3, false)},
		{Topic: "FERMI_GBM_FLT_POS", CanonicalName: "GRB 250113B", Record: record("FermiGBM", "7777", 4, true)},
	}
	for _, r := range rows {
		if _, err := led.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestRun(t *testing.T) {
	Convey("Given a ledger with one live and one retracted identity", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		ledgerPath := filepath.Join(dir, "notices_ledger.csv")
		windowPath := filepath.Join(dir, "active_events.ascii")
		writeLedger(t, ledgerPath)

		Convey("When replaying without a window", func() {
			report, err := replay.Run(ctx, &replay.Config{LedgerPath: ledgerPath})

			Convey("Then the identities are summarized", func() {
				So(err, ShouldBeNil)
				So(report.Rows, ShouldEqual, 4)
				So(report.Identities, ShouldEqual, 2)
				So(report.Retracted, ShouldEqual, 1)
				So(report.Active, ShouldHaveLength, 1)
				So(report.Active[0].Name, ShouldEqual, "GRB 250113A")
				So(report.Active[0].BestFacility, ShouldEqual, "SwiftXRT")
			})
		})

		Convey("When rebuilding the window", func() {
			report, err := replay.Run(ctx, &replay.Config{
				LedgerPath: ledgerPath,
				WindowPath: windowPath,
				Rebuild:    true,
				Capacity:   10,
			})
			So(err, ShouldBeNil)

			Convey("Then the window file holds the live identity", func() {
				So(report.Rebuilt, ShouldEqual, 1)
				win, err := window.Open(ctx, windowPath)
				So(err, ShouldBeNil)
				ev, err := win.Get("GRB 250113A")
				So(err, ShouldBeNil)
				So(ev.Facilities, ShouldResemble, []string{"SwiftBAT", "SwiftXRT"})
			})

			Convey("Then verifying it finds no mismatch", func() {
				report, err := replay.Run(ctx, &replay.Config{LedgerPath: ledgerPath, WindowPath: windowPath})
				So(err, ShouldBeNil)
				So(report.Mismatches, ShouldBeEmpty)
			})
		})

		Convey("When the window disagrees with the ledger", func() {
			win, err := window.Open(ctx, windowPath)
			So(err, ShouldBeNil)
			_, err = win.Upsert(ctx, model.Event{CanonicalName: "GRB 250113B", BestFacility: "FermiGBM", LastUpdateTime: day})
			So(err, ShouldBeNil)
			_, err = win.Upsert(ctx, model.Event{CanonicalName: "GRB 990101A", BestFacility: "SwiftBAT", LastUpdateTime: day})
			So(err, ShouldBeNil)

			report, err := replay.Run(ctx, &replay.Config{
				LedgerPath: ledgerPath,
				WindowPath: windowPath,
				OutputFile: filepath.Join(dir, "out", "report.json"),
			})

			Convey("Then every bad row is reported", func() {
				So(err, ShouldBeNil)
				So(report.Mismatches, ShouldHaveLength, 2)
				reasons := map[string]string{}
				for _, m := range report.Mismatches {
					reasons[m.Name] = m.Reason
				}
				So(reasons["GRB 250113B"], ShouldEqual, "retracted in ledger")
				So(reasons["GRB 990101A"], ShouldEqual, "no ledger history")
			})

			Convey("Then the JSON report is written", func() {
				data, err := os.ReadFile(filepath.Join(dir, "out", "report.json"))
				So(err, ShouldBeNil)
				var decoded replay.Report
				So(json.Unmarshal(data, &decoded), ShouldBeNil)
				So(decoded.Rows, ShouldEqual, 4)
			})
		})
	})

	Convey("Given no ledger file", t, func() {
		_, err := replay.Run(context.Background(), &replay.Config{LedgerPath: filepath.Join(t.TempDir(), "nope.csv")})

		Convey("Then Run fails without creating one", func() {
			So(errors.Is(err, replay.ErrNoLedger), ShouldBeTrue)
		})
	})
}
