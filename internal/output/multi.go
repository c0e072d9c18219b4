package output

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// Multi fans a batch out to every sink. A failing sink is logged and
// counted without holding back the others; the batch is reported failed
// only when no sink accepted it, so the transmitter retries it without
// duplicating records already delivered elsewhere.
type Multi struct {
	sinks   []Sink
	logger  zerolog.Logger
	metrics metrics.SinkRecorder
	events  events.Recorder
	now     func() time.Time
}

func NewMulti(sinks []Sink, deps Dependencies) *Multi {
	m := &Multi{
		sinks:   sinks,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		events:  deps.Events,
		now:     deps.Now,
	}
	if m.metrics == nil {
		m.metrics = metrics.NoopSinkRecorder{}
	}
	if m.events == nil {
		m.events = events.NoopRecorder{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Sinks() []Sink {
	return append([]Sink(nil), m.sinks...)
}

func (m *Multi) Send(ctx context.Context, records []types.Record) error {
	if len(records) == 0 || len(m.sinks) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, records); err != nil {
			errs = append(errs, err)
			m.metrics.IncSinkFailures(s.Name())
			m.events.Record(types.Event{
				Type:      types.EventSinkFailure,
				Timestamp: m.now().UTC(),
				Details:   map[string]any{"sink": s.Name(), "error": err.Error(), "records": len(records)},
			})
			m.logger.Warn().Err(err).Str("sink", s.Name()).Int("records", len(records)).Msg("sink send failed")
			continue
		}
		m.metrics.AddRecordsSent(s.Name(), len(records))
	}
	if len(errs) == len(m.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
