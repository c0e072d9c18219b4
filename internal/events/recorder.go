package events

import (
	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes each event as a warning.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) LogRecorder {
	return LogRecorder{logger: logger.With().Str("component", "events").Logger()}
}

func (l LogRecorder) Record(event types.Event) {
	e := l.logger.Warn().
		Str("event", string(event.Type)).
		Time("event_ts", event.Timestamp)
	if event.ProbeID != "" {
		e = e.Str("probe", event.ProbeID)
	}
	if len(event.Labels) > 0 {
		e = e.Interface("labels", event.Labels)
	}
	if len(event.Details) > 0 {
		e = e.Fields(event.Details)
	}
	e.Msg("event")
}
