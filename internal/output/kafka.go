package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one JSON message per record keyed by its tag, so all
// records of a probe land in the same partition.
type KafkaSink struct {
	name   string
	writer messageWriter
}

func newKafkaSink(cfg config.OutputConfig, deps Dependencies) (Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: int(kafka.RequireOne),
	}
	if cfg.Timeout > 0 {
		wc.WriteTimeout = cfg.Timeout
	}
	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		wc.Dialer = &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       tlsCfg,
		}
	}
	return NewKafkaSink(sinkName(cfg), kafka.NewWriter(wc)), nil
}

func NewKafkaSink(name string, w messageWriter) *KafkaSink {
	return &KafkaSink{name: name, writer: w}
}

func (s *KafkaSink) Name() string { return s.name }

func (s *KafkaSink) Send(ctx context.Context, records []types.Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Tag, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Tag),
			Value: data,
			Time:  rec.Timestamp,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
