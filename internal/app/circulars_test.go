package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/noticeledger/internal/app"
	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const xrtPosition = `TITLE:           GCN/SWIFT NOTICE
NOTICE_DATE:     Tue 20 May 25 10:30:15 UT
NOTICE_TYPE:     Swift-XRT Position
TRIGGER_NUM:     1234567
GRB_RA:          150.1234d {+10h 00m 30s} (J2000)
GRB_DEC:         -25.5678d {-25d 34' 04"} (J2000)
GRB_ERROR:       3.5 [arcsec radius, statistical plus systematic, 90% containment]
IMG_START_DATE:  25/05/20
IMG_START_TIME:  37815.25 SOD {10:30:15.25} UT
`

func raw(topic, payload string, seq int) model.RawMessage {
	return model.RawMessage{
		Topic:      topic,
		Payload:    []byte(payload),
		ReceivedAt: base.Add(time.Duration(seq) * time.Second),
	}
}

func TestCircularFollowUp(t *testing.T) {
	Convey("Given a Swift identity opened by an XRT position", t, func() {
		ctx := context.Background()
		h := newHarness(t, t.TempDir(), 10, service.WithCatalog(catalog.Default()))
		defer h.close()

		So(h.svc.Handle(ctx, raw("gcn.classic.text.SWIFT_XRT_POSITION", xrtPosition, 1)), ShouldBeNil)
		So(h.sink.last().CanonicalName, ShouldEqual, "GRB 250520A")

		Convey("When a circular quoting its trigger reports a redshift and host", func() {
			So(h.svc.Handle(ctx, raw(catalog.CircularsTopic,
				`{"circularId":40001,"subject":"GRB 250520A: VLT redshift","body":"We observed GRB 250520A (Swift trigger 1234567). Absorption lines give a redshift of 2.456; the afterglow sits on the edge of a bright host galaxy"}`, 2)), ShouldBeNil)

			Convey("Then the event gains both without losing its position", func() {
				got := h.sink.last()
				So(got.CanonicalName, ShouldEqual, "GRB 250520A")
				So(got.IsNew, ShouldBeFalse)
				So(got.BestFacility, ShouldEqual, "SwiftXRT")
				So(got.Facilities, ShouldResemble, []string{"Circulars", "SwiftXRT"})
				So(got.ChangedFields, ShouldContain, model.FieldRedshift)
				So(got.ChangedFields, ShouldContain, model.FieldHostInfo)
				So(got.ChangedFields, ShouldNotContain, model.FieldBestPosition)

				ev, err := h.window.Get("GRB 250520A")
				So(err, ShouldBeNil)
				So(ev.Redshift, ShouldEqual, "2.46")
				So(ev.HostInfo, ShouldEqual, "the afterglow sits on the edge of a bright host galaxy")
				So(ev.BestPosition.RA, ShouldEqual, 150.12)
				So(h.ledgerRows(t, "GRB 250520A"), ShouldEqual, 2)
			})

			Convey("Then a restart keeps them in the window", func() {
				again := newHarness(t, h.dir, 10, service.WithCatalog(catalog.Default()))
				defer again.close()
				ev, err := again.window.Get("GRB 250520A")
				So(err, ShouldBeNil)
				So(ev.Redshift, ShouldEqual, "2.46")
				So(ev.HostInfo, ShouldNotBeEmpty)
			})
		})

		Convey("When a circular says the trigger was not a GRB", func() {
			So(h.svc.Handle(ctx, raw(catalog.CircularsTopic,
				`{"subject":"Swift trigger 1234567: not a GRB","body":"Swift-BAT trigger 1234567 is not a GRB."}`, 2)), ShouldBeNil)

			Convey("Then the identity leaves the window", func() {
				So(h.sink.last().Retracted, ShouldBeTrue)
				So(h.window.Len(), ShouldEqual, 0)
				So(h.ledgerRows(t, "GRB 250520A"), ShouldEqual, 2)
			})
		})
	})
}
