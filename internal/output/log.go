package output

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// LogSink writes one structured line per record.
type LogSink struct {
	name   string
	logger zerolog.Logger
}

func newLogSink(cfg config.OutputConfig, deps Dependencies) (Sink, error) {
	return NewLogSink(sinkName(cfg), deps.Logger), nil
}

func NewLogSink(name string, logger zerolog.Logger) *LogSink {
	return &LogSink{name: name, logger: logger.With().Str("sink", name).Logger()}
}

func (s *LogSink) Name() string { return s.name }

func (s *LogSink) Send(ctx context.Context, records []types.Record) error {
	for _, rec := range records {
		s.logger.Info().
			Str("tag", rec.Tag).
			Time("ts", rec.Timestamp).
			Str("round_id", rec.RoundID).
			Fields(rec.Payload.Fields()).
			Msg("record")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
