package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/adapters/http/api"
	"github.com/okian/noticeledger/internal/adapters/window"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any {
	return m.stats
}

type failingDeps struct{}

func (failingDeps) List() []model.Event { return nil }

func (failingDeps) Get(string) (model.Event, error) {
	return model.Event{}, errors.New("disk on fire")
}

func newEvent(name string, at time.Time) model.Event {
	return model.Event{
		CanonicalName:   name,
		BestFacility:    "SwiftBAT",
		BestPosition:    &model.Position{RA: 10, Dec: -5, Error: 0.05, ErrorUnit: model.UnitDegree},
		Facilities:      []string{"SwiftBAT"},
		FirstNoticeTime: at,
		LastUpdateTime:  at,
	}
}

func newMux(deps api.Dependencies, stats api.StatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServerRoutes(t *testing.T) {
	Convey("Given a server over a populated window", t, func() {
		ctx := context.Background()
		store, err := window.Open(ctx, filepath.Join(t.TempDir(), "active_events.ascii"))
		So(err, ShouldBeNil)

		base := time.Date(2025, 1, 13, 5, 0, 0, 0, time.UTC)
		_, err = store.Upsert(ctx, newEvent("GRB 250113A", base))
		So(err, ShouldBeNil)
		_, err = store.Upsert(ctx, newEvent("GRB 250113B", base.Add(time.Minute)))
		So(err, ShouldBeNil)

		mux := newMux(store, &mockStatsProvider{stats: map[string]any{"active_events": 2}})

		Convey("When listing events", func() {
			w := serve(mux, http.MethodGet, "/events")

			Convey("Then the newest event comes first", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body struct {
					Count  int               `json:"count"`
					Events []types.EventView `json:"events"`
				}
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body.Count, ShouldEqual, 2)
				So(body.Events[0].Name, ShouldEqual, "GRB 250113B")
				So(body.Events[1].Name, ShouldEqual, "GRB 250113A")
			})
		})

		Convey("When fetching one event by its escaped name", func() {
			w := serve(mux, http.MethodGet, "/events/GRB%20250113A")

			Convey("Then the event is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var view types.EventView
				So(json.NewDecoder(w.Body).Decode(&view), ShouldBeNil)
				So(view.Name, ShouldEqual, "GRB 250113A")
				So(view.Position, ShouldNotBeNil)
				So(*view.Position.ErrorDeg, ShouldAlmostEqual, 0.05)
			})
		})

		Convey("When fetching an unknown event", func() {
			w := serve(mux, http.MethodGet, "/events/GRB%20990101A")

			Convey("Then the response is 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(w.Body.String(), ShouldContainSubstring, "not_found")
			})
		})

		Convey("When the name is missing", func() {
			w := serve(mux, http.MethodGet, "/events/")

			Convey("Then the response is 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When using a write method", func() {
			w := serve(mux, http.MethodPost, "/events")

			Convey("Then the route is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When reading stats", func() {
			w := serve(mux, http.MethodGet, "/stats")

			Convey("Then the provider output is encoded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				So(w.Body.String(), ShouldContainSubstring, `"active_events":2`)
			})
		})

		Convey("When scraping health", func() {
			w := serve(mux, http.MethodGet, "/healthz")

			Convey("Then the metrics exposition is served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestServerErrors(t *testing.T) {
	Convey("Given dependencies that fail", t, func() {
		mux := newMux(failingDeps{}, nil)

		Convey("Then a lookup failure is a 500", func() {
			w := serve(mux, http.MethodGet, "/events/GRB%20250113A")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldContainSubstring, "disk on fire")
		})

		Convey("Then an empty list is still an array", func() {
			w := serve(mux, http.MethodGet, "/events")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"events":[]`)
		})

		Convey("Then stats without a provider is an empty object", func() {
			w := serve(mux, http.MethodGet, "/stats")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "{}")
		})
	})
}
