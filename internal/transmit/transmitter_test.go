package transmit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/netprobe/internal/queue"
	"github.com/pingsantohq/netprobe/pkg/types"
)

func TestTransmitterDeliversQueuedRecords(t *testing.T) {
	q := queue.NewResultQueue(4)
	q.Enqueue(types.Record{Tag: "network_probe_a"})
	q.Enqueue(types.Record{Tag: "network_probe_b"})
	sink := newRecordingSink()

	tx := New(q, sink, WithIdleSleep(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tx.Run(ctx)
	}()

	first, ok := sink.waitForBatch(1, time.Second)
	if !ok {
		t.Fatalf("expected first batch")
	}
	if len(first) != 2 || first[0].Tag != "network_probe_a" || first[1].Tag != "network_probe_b" {
		t.Fatalf("expected records in order, got %+v", first)
	}

	q.Enqueue(types.Record{Tag: "network_probe_c"})
	second, ok := sink.waitForBatch(2, time.Second)
	if !ok || len(second) != 1 {
		t.Fatalf("expected later record delivered, got %+v", second)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestTransmitterRetriesUntilSuccess(t *testing.T) {
	q := queue.NewResultQueue(4)
	q.Enqueue(types.Record{Tag: "retry"})
	sink := newFailOnceSink()

	tx := New(q, sink, WithIdleSleep(10*time.Millisecond), WithRetrySleep(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- tx.Run(ctx)
	}()

	first := <-sink.first
	if len(first) != 1 || first[0].Tag != "retry" {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	close(sink.allow)

	waitUntil(t, time.Second, func() bool {
		return len(sink.Results()) >= 1
	})
	if got := sink.Results()[0]; got[0].Tag != "retry" {
		t.Fatalf("expected retried record, got %+v", got)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestTransmitterFlush(t *testing.T) {
	q := queue.NewResultQueue(10)
	for _, tag := range []string{"a", "b", "c"} {
		q.Enqueue(types.Record{Tag: tag})
	}
	sink := newRecordingSink()
	tx := New(q, sink, WithBatchSize(2))

	if err := tx.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sink.Results(); len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 1 {
		t.Fatalf("expected batches of 2 and 1, got %+v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained")
	}
}

func TestTransmitterFlushKeepsFailedBatch(t *testing.T) {
	q := queue.NewResultQueue(10)
	for _, tag := range []string{"a", "b", "c"} {
		q.Enqueue(types.Record{Tag: tag})
	}
	tx := New(q, failingSink{}, WithBatchSize(2))

	if err := tx.Flush(context.Background()); err == nil {
		t.Fatalf("expected Flush to report the sink error")
	}
	if q.Len() != 3 {
		t.Fatalf("expected all 3 records still queued, got %d", q.Len())
	}
	if got := q.Drain(1); len(got) != 1 || got[0].Tag != "a" {
		t.Fatalf("expected failed batch back at the head, got %+v", got)
	}
}

func TestTransmitterRequiresQueueAndSink(t *testing.T) {
	if err := New(nil, newRecordingSink()).Run(context.Background()); err == nil {
		t.Fatalf("expected error for nil queue")
	}
	if err := New(queue.NewResultQueue(1), nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for nil sink")
	}
}

type failingSink struct{}

func (failingSink) Send(context.Context, []types.Record) error {
	return errors.New("collector unavailable")
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]types.Record
	notify  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		notify: make(chan struct{}, 16),
	}
}

func (r *recordingSink) Send(ctx context.Context, records []types.Record) error {
	cpy := cloneRecords(records)
	r.mu.Lock()
	r.batches = append(r.batches, cpy)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSink) waitForBatch(n int, timeout time.Duration) ([]types.Record, bool) {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		if len(r.batches) >= n {
			batch := cloneRecords(r.batches[n-1])
			r.mu.Unlock()
			return batch, true
		}
		r.mu.Unlock()

		select {
		case <-deadline:
			return nil, false
		case <-r.notify:
		}
	}
}

func (r *recordingSink) Results() [][]types.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]types.Record, len(r.batches))
	for i, b := range r.batches {
		out[i] = cloneRecords(b)
	}
	return out
}

type failOnceSink struct {
	first chan []types.Record
	allow chan struct{}
	mu    sync.Mutex
	res   [][]types.Record
}

func newFailOnceSink() *failOnceSink {
	return &failOnceSink{
		first: make(chan []types.Record, 1),
		allow: make(chan struct{}),
	}
}

func (f *failOnceSink) Send(ctx context.Context, records []types.Record) error {
	cpy := cloneRecords(records)

	select {
	case f.first <- cpy:
	default:
	}

	select {
	case <-f.allow:
		f.mu.Lock()
		f.res = append(f.res, cpy)
		f.mu.Unlock()
		return nil
	default:
		return errors.New("fail once")
	}
}

func (f *failOnceSink) Results() [][]types.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]types.Record, len(f.res))
	for i, b := range f.res {
		out[i] = cloneRecords(b)
	}
	return out
}

func cloneRecords(in []types.Record) []types.Record {
	out := make([]types.Record, len(in))
	copy(out, in)
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !fn() {
		t.Fatalf("condition not met within %s", timeout)
	}
}
