package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/adapters/window"
	service "github.com/okian/noticeledger/internal/app"
	"github.com/okian/noticeledger/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// brokenWindow fails the next upserts and removes without touching the table.
type brokenWindow struct {
	service.Window
	upserts int
	removes int
}

func (b *brokenWindow) Upsert(ctx context.Context, ev model.Event) ([]string, error) { //nolint:gocritic // hugeParam: test double
	if b.upserts > 0 {
		b.upserts--
		return nil, errors.New("no space left on device")
	}
	return b.Window.Upsert(ctx, ev)
}

func (b *brokenWindow) Remove(ctx context.Context, name string) (bool, error) {
	if b.removes > 0 {
		b.removes--
		return false, errors.New("no space left on device")
	}
	return b.Window.Remove(ctx, name)
}

func TestWindowWriteFailure(t *testing.T) {
	Convey("Given an identity whose second notice was ledgered but not written to the window", t, func() {
		ctx := context.Background()
		h := newHarness(t, t.TempDir(), 10)
		defer h.close()
		broken := &brokenWindow{Window: h.window}
		svc := service.New(h.ledger, broken,
			service.WithCatalog(testCatalogOrFail(t)),
			service.WithNotifier(h.sink),
			service.WithStateRefresh(0))

		So(svc.Handle(ctx, notice(topicB, "500001", 17.5, -11.0, 0.3, 1, "")), ShouldBeNil)
		broken.upserts = 1
		err := svc.Handle(ctx, notice(topicA, "500001", 16.12, -12.2, 2.6, 2, ""))
		So(errors.Is(err, service.ErrWindow), ShouldBeTrue)

		Convey("Then the ledger is ahead of the window", func() {
			So(h.ledgerRows(t, "T 250113A"), ShouldEqual, 2)
			ev, err := h.window.Get("T 250113A")
			So(err, ShouldBeNil)
			So(ev.BestFacility, ShouldEqual, "InstrumentB")
		})

		Convey("When the next notice for the identity arrives", func() {
			So(svc.Handle(ctx, notice(topicB, "500001", 17.5, -11.0, 0.3, 3, "")), ShouldBeNil)

			Convey("Then the window carries every ledgered notice", func() {
				ev, err := h.window.Get("T 250113A")
				So(err, ShouldBeNil)
				So(ev.BestFacility, ShouldEqual, "InstrumentA")
				So(ev.BestPosition.RA, ShouldAlmostEqual, 16.12)
				So(ev.Facilities, ShouldResemble, []string{"InstrumentA", "InstrumentB"})
				So(h.ledgerRows(t, "T 250113A"), ShouldEqual, 3)
			})
		})

		Convey("When the process restarts before another notice", func() {
			h2 := newHarness(t, h.dir, 10)
			defer h2.close()

			Convey("Then start reconciles the lagging row with the ledger", func() {
				ev, err := h2.window.Get("T 250113A")
				So(err, ShouldBeNil)
				So(ev.BestFacility, ShouldEqual, "InstrumentA")
				So(ev.Facilities, ShouldResemble, []string{"InstrumentA", "InstrumentB"})
				So(ev.LastUpdateTime.Equal(base.Add(2*time.Second)), ShouldBeTrue)
			})
		})
	})

	Convey("Given a retraction that was ledgered but not removed from the window", t, func() {
		ctx := context.Background()
		h := newHarness(t, t.TempDir(), 10)
		defer h.close()
		broken := &brokenWindow{Window: h.window}
		svc := service.New(h.ledger, broken,
			service.WithCatalog(testCatalogOrFail(t)),
			service.WithNotifier(h.sink),
			service.WithStateRefresh(0))

		So(svc.Handle(ctx, notice(topicA, "600001", 10, 10, 1, 1, "")), ShouldBeNil)
		broken.removes = 1
		err := svc.Handle(ctx, notice(topicA, "600001", 10, 10, 1, 2, `,"comment":"false trigger"`))
		So(errors.Is(err, service.ErrWindow), ShouldBeTrue)
		So(h.window.Len(), ShouldEqual, 1)

		Convey("When another notice for it arrives", func() {
			So(svc.Handle(ctx, notice(topicA, "600001", 10, 10, 1, 3, "")), ShouldBeNil)

			Convey("Then the retracted row leaves the window", func() {
				_, err := h.window.Get("T 250113A")
				So(errors.Is(err, window.ErrNotFound), ShouldBeTrue)
				So(h.ledgerRows(t, "T 250113A"), ShouldEqual, 3)
			})
		})

		Convey("When the process restarts", func() {
			h2 := newHarness(t, h.dir, 10)
			defer h2.close()

			Convey("Then the retracted row is dropped at start", func() {
				So(h2.window.Len(), ShouldEqual, 0)
			})
		})
	})
}
