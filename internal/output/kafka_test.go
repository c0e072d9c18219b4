package output

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/pingsantohq/netprobe/pkg/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysByTag(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink("kafka", w)

	if err := sink.Send(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages got %d", len(w.msgs))
	}
	if string(w.msgs[1].Key) != "network_probe_example.com" {
		t.Fatalf("unexpected key %q", w.msgs[1].Key)
	}
	var rec types.Record
	if err := json.Unmarshal(w.msgs[0].Value, &rec); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if rec.Target != "10.0.0.1" || !rec.Payload.Has(types.MetricLoss) {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := sink.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestKafkaSinkWrapsWriteError(t *testing.T) {
	broker := errors.New("leader not available")
	sink := NewKafkaSink("kafka", &fakeWriter{err: broker})
	if err := sink.Send(context.Background(), sampleRecords()); !errors.Is(err, broker) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
