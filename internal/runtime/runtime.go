package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/internal/queue"
	"github.com/pingsantohq/netprobe/internal/scheduler"
	"github.com/pingsantohq/netprobe/internal/transmit"
	"github.com/pingsantohq/netprobe/internal/worker"
)

type Option func(*config)

type config struct {
	queueCapacity int
	jobBuffer     int
	schedulerOpts []scheduler.Option
	workerOpts    []worker.PoolOption
	metricsStore  *metrics.Store
	events        events.Recorder
}

func WithQueueCapacity(cap int) Option {
	return func(c *config) {
		if cap > 0 {
			c.queueCapacity = cap
		}
	}
}

func WithJobBuffer(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.jobBuffer = size
		}
	}
}

func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *config) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	}
}

func WithWorkerOptions(opts ...worker.PoolOption) Option {
	return func(c *config) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

// WithMetricsStore connects every component to the Prometheus store.
func WithMetricsStore(store *metrics.Store) Option {
	return func(c *config) {
		c.metricsStore = store
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(c *config) {
		c.events = rec
	}
}

type Runtime struct {
	jobs      chan worker.Job
	results   *queue.ResultQueue
	scheduler *scheduler.Scheduler
	pool      *worker.Pool
}

func New(opts ...Option) *Runtime {
	cfg := config{
		queueCapacity: 1024,
		jobBuffer:     1024,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	schedOpts := cfg.schedulerOpts
	workerOpts := cfg.workerOpts
	jobs := make(chan worker.Job, cfg.jobBuffer)
	results := queue.NewResultQueue(cfg.queueCapacity)
	if cfg.metricsStore != nil {
		results.SetMetricsRecorder(cfg.metricsStore.QueueRecorder())
		schedOpts = append([]scheduler.Option{scheduler.WithRoundRecorder(cfg.metricsStore.RoundRecorder())}, schedOpts...)
		workerOpts = append([]worker.PoolOption{
			worker.WithRoundRecorder(cfg.metricsStore.RoundRecorder()),
			worker.WithProbeRecorder(cfg.metricsStore.ProbeRecorder()),
		}, workerOpts...)
	}
	if cfg.events != nil {
		results.SetEventRecorder(cfg.events)
		schedOpts = append([]scheduler.Option{scheduler.WithEventRecorder(cfg.events)}, schedOpts...)
		workerOpts = append([]worker.PoolOption{worker.WithEventRecorder(cfg.events)}, workerOpts...)
	}
	_sched := scheduler.New(jobs, schedOpts...)
	_pool := worker.NewPool(jobs, results, workerOpts...)

	return &Runtime{
		jobs:      jobs,
		results:   results,
		scheduler: _sched,
		pool:      _pool,
	}
}

// Start launches the scheduler and the worker pool. The returned function
// blocks until both have exited after ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) func() {
	workerWG := r.pool.Start(ctx)
	var schedWG sync.WaitGroup
	schedWG.Add(1)
	go func() {
		defer schedWG.Done()
		r.scheduler.Start(ctx)
	}()

	return func() {
		schedWG.Wait()
		workerWG.Wait()
	}
}

func (r *Runtime) UpdateProbes(specs []probe.Spec) {
	r.scheduler.Update(specs)
}

func (r *Runtime) ResultsQueue() *queue.ResultQueue {
	return r.results
}

func (r *Runtime) JobsChannel() chan<- worker.Job {
	return r.jobs
}

func (r *Runtime) NewTransmitter(sink transmit.Sink, opts ...transmit.Option) *transmit.Transmitter {
	return transmit.New(r.results, sink, opts...)
}

func WithTickResolution(d time.Duration) Option {
	return WithSchedulerOptions(scheduler.WithTickResolution(d))
}

func WithNow(now func() time.Time) Option {
	return WithSchedulerOptions(scheduler.WithNow(now))
}
