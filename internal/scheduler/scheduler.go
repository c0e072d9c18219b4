package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/internal/worker"
	"github.com/pingsantohq/netprobe/pkg/types"
)

const defaultInterval = 60 * time.Second

// Scheduler fires each probe at its interval. Firing is a non-blocking send
// on the job channel, so a slow round never delays the timer.
type Scheduler struct {
	jobCh          chan<- worker.Job
	tickResolution time.Duration

	now    func() time.Time
	logger zerolog.Logger
	rounds metrics.RoundRecorder
	events events.Recorder

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	spec probe.Spec
	next time.Time
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithRoundRecorder(rec metrics.RoundRecorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.rounds = rec
		}
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.events = rec
		}
	}
}

func New(jobCh chan<- worker.Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobCh:          jobCh,
		tickResolution: 100 * time.Millisecond,
		now:            time.Now,
		logger:         zerolog.Nop(),
		rounds:         metrics.NoopRoundRecorder{},
		events:         events.NoopRecorder{},
		entries:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update replaces the scheduled probes. Each probe first fires one interval
// after it was added; probes kept across updates keep their phase.
func (s *Scheduler) Update(specs []probe.Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	nextEntries := make(map[string]*entry, len(specs))
	for _, spec := range specs {
		id := spec.ID()
		next := now.Add(intervalOf(spec))
		if prev, ok := s.entries[id]; ok && intervalOf(prev.spec) == intervalOf(spec) {
			next = prev.next
		}
		nextEntries[id] = &entry{
			spec: spec,
			next: next,
		}
	}
	s.entries = nextEntries
}

// Len reports the number of scheduled probes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		job := worker.Job{
			ProbeID:      id,
			Spec:         e.spec,
			ScheduledFor: e.next,
		}
		select {
		case s.jobCh <- job:
		default:
			s.rounds.IncFiringDropped(id)
			s.events.Record(types.Event{
				Type:      types.EventFiringDropped,
				Timestamp: now.UTC(),
				ProbeID:   id,
			})
			s.logger.Warn().
				Str("probe", id).
				Time("scheduled_for", e.next).
				Msg("job buffer full, firing dropped")
		}
		// Missed intervals are skipped rather than replayed.
		interval := intervalOf(e.spec)
		for !now.Before(e.next) {
			e.next = e.next.Add(interval)
		}
	}
}

func intervalOf(spec probe.Spec) time.Duration {
	if spec.Interval <= 0 {
		return defaultInterval
	}
	return spec.Interval
}
