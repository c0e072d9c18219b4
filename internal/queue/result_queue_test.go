package queue

import (
	"testing"

	"github.com/pingsantohq/netprobe/pkg/types"
)

func TestResultQueueEnqueueAndDrain(t *testing.T) {
	q := NewResultQueue(2)

	if q.Enqueue(sampleRecord("a")) {
		t.Fatalf("did not expect drop for first enqueue")
	}
	if q.Enqueue(sampleRecord("b")) {
		t.Fatalf("did not expect drop for second enqueue")
	}
	if !q.Enqueue(sampleRecord("c")) {
		t.Fatalf("expected drop when queue full")
	}

	if got := q.Len(); got != 2 {
		t.Fatalf("expected len 2 got %d", got)
	}

	drained := q.Drain(0)
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained records got %d", len(drained))
	}
	if drained[0].Tag != "b" || drained[1].Tag != "c" {
		t.Fatalf("expected drop-oldest semantics, got %+v", drained)
	}
	if got := q.Stats(); got.Len != 0 || got.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestResultQueueDrainMax(t *testing.T) {
	q := NewResultQueue(5)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(sampleRecord(id))
	}
	if got := q.Drain(2); len(got) != 2 || got[0].Tag != "a" {
		t.Fatalf("unexpected batch %+v", got)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one record left, got %d", q.Len())
	}
}

func TestResultQueueRequeue(t *testing.T) {
	q := NewResultQueue(3)
	q.Enqueue(sampleRecord("new"))

	q.Requeue([]types.Record{sampleRecord("old-1"), sampleRecord("old-2")})
	got := q.Drain(0)
	if len(got) != 3 || got[0].Tag != "old-1" || got[1].Tag != "old-2" || got[2].Tag != "new" {
		t.Fatalf("expected requeued records first, got %+v", got)
	}

	q.Enqueue(sampleRecord("x"))
	q.Enqueue(sampleRecord("y"))
	q.Requeue([]types.Record{sampleRecord("r1"), sampleRecord("r2")})
	got = q.Drain(0)
	if len(got) != 3 || got[0].Tag != "r2" {
		t.Fatalf("expected oldest requeued record dropped, got %+v", got)
	}
}

func TestResultQueueEvents(t *testing.T) {
	recorder := &captureRecorder{}
	q := NewResultQueue(1)
	q.SetEventRecorder(recorder)
	m := &captureMetrics{}
	q.SetMetricsRecorder(m)

	q.Enqueue(sampleRecord("a"))
	q.Enqueue(sampleRecord("b")) // drops "a"

	if len(recorder.events) == 0 {
		t.Fatalf("expected event to be recorded")
	}
	if recorder.events[0].Type != types.EventQueueDrop || recorder.events[0].ProbeID != "a" {
		t.Fatalf("expected QueueDrop event for a, got %+v", recorder.events[0])
	}
	if m.drops == 0 {
		t.Fatalf("expected metrics drops increment")
	}
	if last := m.depths[len(m.depths)-1]; last != 1 {
		t.Fatalf("expected depth 1 got %d", last)
	}
}

type captureRecorder struct {
	events []types.Event
}

func (c *captureRecorder) Record(event types.Event) {
	c.events = append(c.events, event)
}

type captureMetrics struct {
	drops  int
	depths []int
}

func (c *captureMetrics) ObserveQueueDepth(depth int) {
	c.depths = append(c.depths, depth)
}

func (c *captureMetrics) IncQueueDrops() {
	c.drops++
}

func sampleRecord(tag string) types.Record {
	return types.Record{Tag: tag}
}
