package worker

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/netprobe/internal/command"
	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// minWorkers keeps a slow round from holding back the next firing.
const minWorkers = 2

type ResultSink interface {
	Enqueue(types.Record) bool
}

// RoundFunc runs one round of spec. The round logger is available through
// zerolog.Ctx(ctx).
type RoundFunc func(ctx context.Context, spec probe.Spec) (types.ProbeResult, error)

type Pool struct {
	jobs         <-chan Job
	results      ResultSink
	workerCount  int
	round        RoundFunc
	runner       command.Runner
	limiter      *rate.Limiter
	logger       zerolog.Logger
	rounds       metrics.RoundRecorder
	probeMetrics metrics.ProbeRecorder
	events       events.Recorder
	now          func() time.Time
	newID        func() string
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithRound replaces the default round, which builds a probe.Prober per job.
func WithRound(fn RoundFunc) PoolOption {
	return func(p *Pool) {
		if fn != nil {
			p.round = fn
		}
	}
}

// WithRunner sets the process runner handed to the default round.
func WithRunner(r command.Runner) PoolOption {
	return func(p *Pool) {
		if r != nil {
			p.runner = r
		}
	}
}

// WithRateLimit caps how many rounds start per second across all workers.
func WithRateLimit(perSecond float64) PoolOption {
	return func(p *Pool) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithLogger(logger zerolog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithRoundRecorder(rec metrics.RoundRecorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.rounds = rec
		}
	}
}

func WithProbeRecorder(rec metrics.ProbeRecorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.probeMetrics = rec
		}
	}
}

func WithEventRecorder(rec events.Recorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.events = rec
		}
	}
}

func WithNow(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPool(jobs <-chan Job, results ResultSink, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:         jobs,
		results:      results,
		workerCount:  runtime.NumCPU(),
		runner:       command.NewExecutor(),
		logger:       zerolog.Nop(),
		rounds:       metrics.NoopRoundRecorder{},
		probeMetrics: metrics.NoopProbeRecorder{},
		events:       events.NoopRecorder{},
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount < minWorkers {
		p.workerCount = minWorkers
	}
	if p.round == nil {
		p.round = p.proberRound
	}
	return p
}

func (p *Pool) WorkerCount() int {
	return p.workerCount
}

func (p *Pool) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	return &wg
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.handleJob(ctx, job)
		}
	}
}

func (p *Pool) handleJob(ctx context.Context, job Job) {
	// A job picked up after shutdown began must not start a round.
	if ctx.Err() != nil {
		return
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	roundID := p.newID()
	roundLogger := p.logger.With().Str("round_id", roundID).Logger()
	logger := roundLogger.With().Str("probe", job.ProbeID).Logger()
	started := p.now()
	probeType := string(job.Spec.Type)

	defer func() {
		if r := recover(); r != nil {
			p.rounds.IncRecovered()
			p.rounds.ObserveRound(probeType, metrics.OutcomeFailed, p.now().Sub(started))
			p.recordEvent(types.EventRoundPanic, job.ProbeID, map[string]any{"panic": r})
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("round panicked")
		}
	}()

	result, err := p.round(roundLogger.WithContext(ctx), job.Spec)
	elapsed := p.now().Sub(started)
	if err != nil {
		p.handleFailure(ctx, job, logger, err, elapsed)
		return
	}

	rec := types.Record{
		Tag:       job.Spec.ID(),
		Timestamp: p.now().UTC(),
		ProbeType: job.Spec.Type,
		Target:    job.Spec.Target,
		RoundID:   roundID,
		Payload:   result,
	}
	p.results.Enqueue(rec)
	p.rounds.ObserveRound(probeType, metrics.OutcomeEmitted, elapsed)
	logger.Debug().
		Dur("elapsed", elapsed).
		Interface("payload", result).
		Msg("round emitted")
}

func (p *Pool) handleFailure(ctx context.Context, job Job, logger zerolog.Logger, err error, elapsed time.Duration) {
	probeType := string(job.Spec.Type)
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		p.rounds.ObserveRound(probeType, metrics.OutcomeCancelled, elapsed)
		logger.Debug().Err(err).Msg("round cancelled")
	case command.IsSpawnFailure(err):
		p.rounds.ObserveRound(probeType, metrics.OutcomeSpawnFailure, elapsed)
		p.recordEvent(types.EventSpawnFailure, job.ProbeID, map[string]any{"error": err.Error()})
		logger.Error().Err(err).Msg("round aborted, no record emitted")
	default:
		p.rounds.ObserveRound(probeType, metrics.OutcomeFailed, elapsed)
		p.recordEvent(types.EventRoundFailed, job.ProbeID, map[string]any{"error": err.Error()})
		logger.Error().Err(err).Msg("round failed")
	}
}

func (p *Pool) proberRound(ctx context.Context, spec probe.Spec) (types.ProbeResult, error) {
	prober, err := probe.New(spec, probe.Dependencies{
		Runner:  p.runner,
		Logger:  zerolog.Ctx(ctx),
		Metrics: p.probeMetrics,
	})
	if err != nil {
		return nil, err
	}
	return prober.Run(ctx)
}

func (p *Pool) recordEvent(eventType types.EventType, probeID string, details map[string]any) {
	p.events.Record(types.Event{
		Type:      eventType,
		Timestamp: p.now().UTC(),
		ProbeID:   probeID,
		Details:   details,
	})
}
