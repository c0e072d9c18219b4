package transmit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/queue"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// Sink is the downstream consumer of emitted records.
type Sink interface {
	Send(ctx context.Context, records []types.Record) error
}

// Option configures a Transmitter instance.
type Option func(*Transmitter)

// WithBatchSize overrides the number of records flushed per send.
func WithBatchSize(size int) Option {
	return func(t *Transmitter) {
		if size > 0 {
			t.batchSize = size
		}
	}
}

// WithIdleSleep customises the sleep interval when no data is available.
func WithIdleSleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.idleSleep = d
		}
	}
}

// WithRetrySleep customises the backoff applied after a failed send attempt.
func WithRetrySleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.retrySleep = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transmitter) {
		t.logger = logger
	}
}

// Transmitter drains the result queue and hands batches to the sink. Probe
// rounds never wait on it.
type Transmitter struct {
	queue      *queue.ResultQueue
	sink       Sink
	batchSize  int
	idleSleep  time.Duration
	retrySleep time.Duration
	logger     zerolog.Logger
}

// New constructs a Transmitter. The queue and sink are required.
func New(queue *queue.ResultQueue, sink Sink, opts ...Option) *Transmitter {
	t := &Transmitter{
		queue:      queue,
		sink:       sink,
		batchSize:  256,
		idleSleep:  100 * time.Millisecond,
		retrySleep: 200 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run blocks until the context is cancelled.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.queue == nil {
		return errors.New("transmitter queue is nil")
	}
	if t.sink == nil {
		return errors.New("transmitter sink is nil")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if t.flushQueue(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.idleSleep):
		}
	}
}

// Flush sends whatever is queued, once, without retrying. It is used at
// shutdown with a short deadline; a failed batch goes back to the queue.
func (t *Transmitter) Flush(ctx context.Context) error {
	for {
		records := t.queue.Drain(t.batchSize)
		if len(records) == 0 {
			return nil
		}
		if err := t.sink.Send(ctx, records); err != nil {
			t.queue.Requeue(records)
			return err
		}
	}
}

func (t *Transmitter) flushQueue(ctx context.Context) bool {
	records := t.queue.Drain(t.batchSize)
	if len(records) == 0 {
		return false
	}

	if err := t.sink.Send(ctx, records); err != nil {
		if ctx.Err() == nil {
			t.logger.Warn().Err(err).Int("records", len(records)).Msg("send failed, requeued")
		}
		t.queue.Requeue(records)
		t.sleep(ctx, t.retrySleep)
	}
	return true
}

func (t *Transmitter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
