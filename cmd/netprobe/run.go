package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/health"
	"github.com/pingsantohq/netprobe/internal/logging"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/internal/output"
	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/internal/runtime"
	"github.com/pingsantohq/netprobe/internal/scheduler"
	"github.com/pingsantohq/netprobe/internal/server"
	"github.com/pingsantohq/netprobe/internal/transmit"
	"github.com/pingsantohq/netprobe/internal/worker"
)

var timeNow = time.Now

const (
	shutdownTimeout = 5 * time.Second
	flushTimeout    = 10 * time.Second
)

func runDaemon(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if cfg.DebugEnabled() {
		level = "debug"
	}
	logger := logging.New(logOut, level, cfg.Logging.Format)

	metricsStore := metrics.NewStore()
	recorder := events.NewMulti(events.NewLogRecorder(logger))

	hub := output.NewHub(logger)
	defer hub.Close()

	sink, err := output.Build(cfg.Outputs, output.Dependencies{
		Logger:  logger,
		Hub:     hub,
		Agent:   cfg.Agent.Name,
		Labels:  cfg.Agent.Labels,
		Metrics: metricsStore.SinkRecorder(),
		Events:  recorder,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("close sinks")
		}
	}()

	workerOpts := []worker.PoolOption{worker.WithLogger(logger)}
	if cfg.Run.Workers > 0 {
		workerOpts = append(workerOpts, worker.WithWorkerCount(cfg.Run.Workers))
	}
	if cfg.Run.MaxRoundsPerSecond > 0 {
		workerOpts = append(workerOpts, worker.WithRateLimit(cfg.Run.MaxRoundsPerSecond))
	}
	rtOpts := []runtime.Option{
		runtime.WithQueueCapacity(cfg.Queue.MemItemsCap),
		runtime.WithMetricsStore(metricsStore),
		runtime.WithEventRecorder(recorder),
		runtime.WithSchedulerOptions(scheduler.WithLogger(logger)),
		runtime.WithWorkerOptions(workerOpts...),
	}
	if cfg.Run.TickResolution > 0 {
		rtOpts = append(rtOpts, runtime.WithTickResolution(cfg.Run.TickResolution))
	}
	rt := runtime.New(rtOpts...)
	rt.UpdateProbes(specs)

	transmitter := rt.NewTransmitter(sink, transmit.WithLogger(logger))
	checker := health.NewChecker(metricsStore, cfg.Queue.MemItemsCap, shortestInterval(specs))

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("probes", len(specs)).
		Int("outputs", len(sink.Sinks())).
		Str("monitoring", cfg.Monitoring.Listen).
		Msg("netprobe starting")

	wait := rt.Start(runCtx)

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		if err := transmitter.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		wait()
		return nil
	})

	if cfg.Monitoring.Enabled() {
		srv := server.New(server.Config{Addr: cfg.Monitoring.Listen}, server.Dependencies{
			Logger:  logger,
			Metrics: metricsStore,
			Checker: checker,
			Stream:  hub,
		})
		grp.Go(func() error {
			return serveMonitoring(groupCtx, srv, logger)
		})
	}

	err = grp.Wait()
	stop()

	// Rounds finished before shutdown are still delivered.
	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if ferr := transmitter.Flush(flushCtx); ferr != nil {
		logger.Warn().Err(ferr).Int("pending", rt.ResultsQueue().Len()).Msg("flush on shutdown incomplete")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("netprobe stopped")
	return nil
}

func serveMonitoring(ctx context.Context, srv *server.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("monitoring listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shortestInterval is the readiness staleness base: the fastest probe
// should have emitted within three of its intervals.
func shortestInterval(specs []probe.Spec) time.Duration {
	var shortest time.Duration
	for _, s := range specs {
		if s.Interval > 0 && (shortest == 0 || s.Interval < shortest) {
			shortest = s.Interval
		}
	}
	if shortest == 0 {
		shortest = time.Minute
	}
	return shortest
}
