package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/noticeledger/internal/adapters/mq/queue"
	worker "github.com/okian/noticeledger/internal/adapters/mq/worker"
	model "github.com/okian/noticeledger/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu     sync.Mutex
	topics []string
	fail   map[string]error
}

func (r *recorder) Handle(_ context.Context, m model.RawMessage) error { //nolint:gocritic // hugeParam: test handler
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[m.Topic]; err != nil {
		return err
	}
	r.topics = append(r.topics, m.Topic)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

// flaky fails its first n polls.
type flaky struct {
	mu sync.Mutex
	n  int
	q  *queue.InMemoryQueue
}

func (f *flaky) Poll(ctx context.Context, timeout time.Duration) (model.RawMessage, bool, error) {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return model.RawMessage{}, false, errors.New("broker unavailable")
	}
	f.mu.Unlock()
	return f.q.Poll(ctx, timeout)
}

// acking records the handler result reported for each message.
type acking struct {
	*queue.InMemoryQueue
	mu   sync.Mutex
	acks []error
}

func (a *acking) Ack(_ context.Context, _ model.RawMessage, err error) { //nolint:gocritic // hugeParam: test double
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, err)
}

func (a *acking) results() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.acks...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue()
		rec := &recorder{fail: map[string]error{"bad": errors.New("boom")}}
		w := worker.NewInMemoryWorker(q, rec,
			worker.WithName("test-worker"),
			worker.WithPollTimeout(10*time.Millisecond),
			worker.WithStopOn(queue.ErrClosed),
		)
		go w.Run(ctx)

		convey.Convey("When messages arrive", func() {
			for _, topic := range []string{"a", "bad", "b", "c"} {
				q.Enqueue(ctx, model.RawMessage{Topic: topic})
			}

			convey.Convey("Then they are handled in order and failures do not stop the loop", func() {
				convey.So(waitFor(func() bool { return w.Processed() == 3 }), convey.ShouldBeTrue)
				convey.So(rec.seen(), convey.ShouldResemble, []string{"a", "b", "c"})
				convey.So(w.Failed(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the queue is closed", func() {
			q.Enqueue(ctx, model.RawMessage{Topic: "last"})
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then queued messages drain and the worker stops", func() {
				select {
				case <-w.Done():
				case <-time.After(2 * time.Second):
				}
				convey.So(rec.seen(), convey.ShouldResemble, []string{"last"})
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When shut down", func() {
			convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then later messages are not handled and a second shutdown is safe", func() {
				q.Enqueue(ctx, model.RawMessage{Topic: "late"})
				time.Sleep(30 * time.Millisecond)
				convey.So(rec.seen(), convey.ShouldBeEmpty)
				convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a source whose first polls fail", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		src := &flaky{n: 2, q: queue.NewInMemoryQueue()}
		rec := &recorder{}
		w := worker.NewInMemoryWorker(src, rec,
			worker.WithPollTimeout(10*time.Millisecond),
			worker.WithErrorBackoff(5*time.Millisecond),
		)
		go w.Run(ctx)
		src.q.Enqueue(ctx, model.RawMessage{Topic: "after-errors"})

		convey.Convey("Then the worker backs off and keeps polling", func() {
			convey.So(waitFor(func() bool { return w.Processed() == 1 }), convey.ShouldBeTrue)
		})

		convey.Convey("Then cancelling the context stops it", func() {
			cancel()
			select {
			case <-w.Done():
			case <-time.After(2 * time.Second):
			}
			timeout, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			convey.So(w.Shutdown(timeout), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a source that holds messages until acknowledged", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		src := &acking{InMemoryQueue: queue.NewInMemoryQueue()}
		rec := &recorder{fail: map[string]error{"bad": errors.New("boom")}}
		w := worker.NewInMemoryWorker(src, rec, worker.WithPollTimeout(10*time.Millisecond))
		go w.Run(ctx)
		src.Enqueue(ctx, model.RawMessage{Topic: "good"})
		src.Enqueue(ctx, model.RawMessage{Topic: "bad"})

		convey.Convey("Then every message is acknowledged with its handler result", func() {
			convey.So(waitFor(func() bool { return len(src.results()) == 2 && w.Failed() == 1 }), convey.ShouldBeTrue)
			acks := src.results()
			convey.So(acks[0], convey.ShouldBeNil)
			convey.So(acks[1], convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given a handler func", t, func() {
		called := false
		h := worker.HandlerFunc(func(context.Context, model.RawMessage) error {
			called = true
			return nil
		})
		convey.So(h.Handle(context.Background(), model.RawMessage{}), convey.ShouldBeNil)
		convey.So(called, convey.ShouldBeTrue)
	})
}
