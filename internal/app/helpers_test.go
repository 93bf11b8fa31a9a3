package service_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/adapters/ledger"
	"github.com/okian/noticeledger/internal/adapters/window"
	service "github.com/okian/noticeledger/internal/app"
	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/model"
	"github.com/okian/noticeledger/pkg/logger"
)

func init() {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
}

const testCatalog = `
prefixes:
  - name: T
    alphabet: ABCDEFGHIJKLMNOPQRSTUVWXYZ
    template: "T {day}{letter}"
default-prefix: T
facilities:
  - name: InstrumentA
    family: Mission
    priority: 10
    format: json
    topics: [instrument_a]
    error-unit: arcsec
    rules:
      - {field: trigger_id, path: "id[0]", required: true}
      - {field: discovery_time, path: trigger_time, required: true}
      - {field: ra, path: ra, required: true}
      - {field: dec, path: dec, required: true}
      - {field: error, path: ra_dec_error}
  - name: InstrumentB
    family: Mission
    priority: 3
    format: json
    topics: [instrument_b]
    error-unit: deg
    rules:
      - {field: trigger_id, path: "id[0]", required: true}
      - {field: discovery_time, path: trigger_time, required: true}
      - {field: ra, path: ra, required: true}
      - {field: dec, path: dec, required: true}
      - {field: error, path: ra_dec_error}
`

const (
	topicA    = "instrument_a"
	topicB    = "instrument_b"
	heartbeat = "gcn.heartbeat"
)

var base = time.Date(2025, 1, 13, 5, 0, 0, 0, time.UTC)

func testCatalogOrFail(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

// notice builds a JSON notice received at base plus seq seconds.
func notice(topic, trigger string, ra, dec, errRadius float64, seq int, extra string) model.RawMessage {
	payload := fmt.Sprintf(`{"id":[%q],"trigger_time":"2025-01-13T04:25:08Z","ra":%v,"dec":%v,"ra_dec_error":%v%s}`,
		trigger, ra, dec, errRadius, extra)
	return model.RawMessage{
		Topic:      topic,
		Payload:    []byte(payload),
		ReceivedAt: base.Add(time.Duration(seq) * time.Second),
	}
}

type recorder struct {
	mu  sync.Mutex
	got []model.Summary
}

func (r *recorder) Notify(_ context.Context, s model.Summary) bool { //nolint:gocritic // hugeParam: test double
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return true
}

func (r *recorder) all() []model.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Summary(nil), r.got...)
}

func (r *recorder) last() model.Summary {
	all := r.all()
	if len(all) == 0 {
		return model.Summary{}
	}
	return all[len(all)-1]
}

type harness struct {
	dir    string
	ledger *ledger.FileLedger
	window *window.FileStore
	svc    *service.Service
	sink   *recorder
}

func (h *harness) close() {
	h.svc.Stop()
	_ = h.ledger.Close()
}

func (h *harness) ledgerRows(t *testing.T, name string) int {
	t.Helper()
	rows, err := h.ledger.Rows(context.Background())
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	n := 0
	for _, r := range rows {
		if name == "" || r.CanonicalName == name {
			n++
		}
	}
	return n
}

// newHarness opens stores under dir, so a second harness on the same dir
// behaves like a restarted process.
func newHarness(t *testing.T, dir string, capacity int, opts ...service.Option) *harness {
	t.Helper()
	ctx := context.Background()
	led, err := ledger.Open(filepath.Join(dir, "notices_ledger.csv"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	win, err := window.Open(ctx, filepath.Join(dir, "active_events.ascii"), window.WithCapacity(capacity))
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	rec := &recorder{}
	all := append([]service.Option{
		service.WithCatalog(testCatalogOrFail(t)),
		service.WithNotifier(rec),
		service.WithHeartbeatTopic(heartbeat),
		service.WithStateRefresh(0),
	}, opts...)
	svc := service.New(led, win, all...)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return &harness{dir: dir, ledger: led, window: win, svc: svc, sink: rec}
}

func removeWindow(dir string) error {
	return os.Remove(filepath.Join(dir, "active_events.ascii"))
}
