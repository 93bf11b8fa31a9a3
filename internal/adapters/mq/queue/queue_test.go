package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
)

func msg(topic, payload string) model.RawMessage {
	return model.RawMessage{Topic: topic, Payload: []byte(payload)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, msg("gcn.classic.text.SWIFT_XRT_POSITION", "TITLE: GCN/SWIFT NOTICE")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	m, ok, err := q.Poll(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected a message, got ok=%v err=%v", ok, err)
	}
	if m.Topic != "gcn.classic.text.SWIFT_XRT_POSITION" {
		t.Errorf("unexpected topic %q", m.Topic)
	}
	if m.ReceivedAt.IsZero() {
		t.Error("expected receipt time to be stamped")
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_PollTimeout(t *testing.T) {
	q := NewInMemoryQueue()
	start := time.Now()
	_, ok, err := q.Poll(context.Background(), 20*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected an empty poll, got ok=%v err=%v", ok, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected poll to wait for the timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := q.Poll(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, msg("a", "1")) || !q.Enqueue(ctx, msg("a", "2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, msg("a", "3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Subscribe(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if err := q.Subscribe(ctx, []string{"gcn.heartbeat", "einstein_probe"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if q.Enqueue(ctx, msg("gcn.classic.text.AMON_NU_EM_COINC", "x")) {
		t.Error("expected unsubscribed topic to be rejected")
	}
	if !q.Enqueue(ctx, msg("gcn.heartbeat", "")) {
		t.Error("expected subscribed topic to be accepted")
	}
	if !q.Enqueue(ctx, msg("gcn.notices.einstein_probe.wxt.alert", "{}")) {
		t.Error("expected topic containing a subscription to be accepted")
	}
}

func TestInMemoryQueue_OrderUnderConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				m := msg(fmt.Sprintf("p%d", id), fmt.Sprintf("%d", j))
				for !q.Enqueue(ctx, m) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	last := map[string]int{}
	for n := 0; n < producers*perProducer; n++ {
		m, ok, err := q.Poll(ctx, 5*time.Second)
		if err != nil || !ok {
			t.Fatalf("poll %d: ok=%v err=%v", n, ok, err)
		}
		var seq int
		_, _ = fmt.Sscanf(string(m.Payload), "%d", &seq)
		if prev, seen := last[m.Topic]; seen && seq != prev+1 {
			t.Fatalf("topic %s out of order: %d after %d", m.Topic, seq, prev)
		}
		last[m.Topic] = seq
	}
	wg.Wait()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, msg("a", "1")) {
		t.Error("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, msg("a", "2")) {
		t.Error("expected enqueue to fail after closing")
	}
	if err := q.Subscribe(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe, got %v", err)
	}

	// queued messages drain before the closed error
	if _, ok, err := q.Poll(ctx, time.Second); !ok || err != nil {
		t.Errorf("expected queued message after close, got ok=%v err=%v", ok, err)
	}
	if _, _, err := q.Poll(ctx, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
