package queue

import (
	"sync"
	"time"

	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// ResultQueue is a bounded FIFO of emitted records. When full the oldest
// record is dropped to make room.
type ResultQueue struct {
	mu       sync.Mutex
	capacity int
	items    []types.Record
	dropped  uint64
	events   events.Recorder
	metrics  metrics.QueueRecorder
}

func NewResultQueue(capacity int) *ResultQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResultQueue{
		capacity: capacity,
		items:    make([]types.Record, 0, capacity),
	}
}

func (q *ResultQueue) SetEventRecorder(rec events.Recorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = rec
}

func (q *ResultQueue) SetMetricsRecorder(rec metrics.QueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = rec
}

func (q *ResultQueue) Enqueue(rec types.Record) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropOldestLocked()
		dropped = true
	}
	q.items = append(q.items, rec)
	q.observeDepthLocked()
	return dropped
}

// Requeue puts records that could not be delivered back at the head of the
// queue, ahead of newer records. Records beyond capacity are dropped from
// the old end.
func (q *ResultQueue) Requeue(recs []types.Record) {
	if len(recs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]types.Record, 0, len(recs)+len(q.items))
	merged = append(merged, recs...)
	merged = append(merged, q.items...)
	q.items = merged
	for len(q.items) > q.capacity {
		q.dropOldestLocked()
	}
	q.observeDepthLocked()
}

func (q *ResultQueue) Drain(max int) []types.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]types.Record, n)
	copy(drained, q.items[:n])
	q.items = q.items[n:]
	q.observeDepthLocked()
	return drained
}

func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ResultQueue) Cap() int {
	return q.capacity
}

func (q *ResultQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     len(q.items),
		Dropped: q.dropped,
	}
}

type Stats struct {
	Len     int
	Dropped uint64
}

func (q *ResultQueue) dropOldestLocked() {
	if len(q.items) == 0 {
		return
	}
	removed := q.items[0]
	q.items = q.items[1:]
	q.dropped++
	q.recordEvent(types.EventQueueDrop, removed.Tag)
	if q.metrics != nil {
		q.metrics.IncQueueDrops()
	}
}

func (q *ResultQueue) recordEvent(eventType types.EventType, probeID string) {
	if q.events == nil {
		return
	}
	q.events.Record(types.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProbeID:   probeID,
	})
}

func (q *ResultQueue) observeDepthLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.ObserveQueueDepth(len(q.items))
}
