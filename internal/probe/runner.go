package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/command"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// ErrUnknownProbeType is returned for a Spec whose type is outside the enum.
var ErrUnknownProbeType = errors.New("unknown probe type")

var statsExpected = []types.Metric{types.MetricLoss, types.MetricMin, types.MetricAvg, types.MetricMax}

// Dependencies allow test overrides for process execution, logging and
// the inter-sample sleep.
type Dependencies struct {
	Runner  command.Runner
	Logger  *zerolog.Logger
	Metrics metrics.ProbeRecorder
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Prober runs rounds of a single probe. It holds no per-round state, so
// overlapping rounds on the same Prober are safe.
type Prober struct {
	spec    Spec
	runner  command.Runner
	logger  zerolog.Logger
	metrics metrics.ProbeRecorder
	sleep   func(ctx context.Context, d time.Duration) error
	round   func(ctx context.Context) (types.ProbeResult, error)
}

// New selects the round implementation for spec.Type once; every round of
// this Prober runs exactly that probe type.
func New(spec Spec, deps Dependencies) (*Prober, error) {
	p := &Prober{
		spec:    spec,
		runner:  deps.Runner,
		metrics: deps.Metrics,
		sleep:   deps.Sleep,
	}
	if p.runner == nil {
		p.runner = command.NewExecutor()
	}
	if p.metrics == nil {
		p.metrics = metrics.NoopProbeRecorder{}
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	p.logger = logger.With().
		Str("probe", spec.ID()).
		Str("probe_type", string(spec.Type)).
		Str("target", spec.Target).
		Logger()

	switch spec.Type {
	case types.ProbeICMPPing:
		p.round = p.runPing
	case types.ProbeCraftedProbe:
		p.round = p.runCrafted
	case types.ProbeHTTPFetch:
		p.round = p.runFetch
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProbeType, spec.Type)
	}
	return p, nil
}

func (p *Prober) Spec() Spec {
	return p.spec
}

// Run executes one round. A SpawnError or cancellation aborts the round
// with an error; missing output lines only leave fields unset.
func (p *Prober) Run(ctx context.Context) (types.ProbeResult, error) {
	result, err := p.round(ctx)
	if err != nil {
		return nil, err
	}
	if !result.Ordered() {
		p.logger.Warn().Interface("result", result).Msg("min/avg/max out of order")
	}
	return result, nil
}

func (p *Prober) runPing(ctx context.Context) (types.ProbeResult, error) {
	out, err := p.exec(ctx, PingCommand(p.spec))
	if err != nil {
		return nil, err
	}
	parsed := ParsePing(out.Stdout)
	p.reportMisses(parsed, statsExpected)
	return AggregateStats(parsed), nil
}

func (p *Prober) runCrafted(ctx context.Context) (types.ProbeResult, error) {
	out, err := p.exec(ctx, CraftedCommand(p.spec))
	if err != nil {
		return nil, err
	}
	parsed := ParseCraftedProbe(out.Stdout)
	p.reportMisses(parsed, statsExpected)
	return AggregateStats(parsed), nil
}

// runFetch invokes curl Count times in sequence, sleeping Interval between
// invocations. The size reported is the one of the last parsed sample.
func (p *Prober) runFetch(ctx context.Context) (types.ProbeResult, error) {
	opts := p.spec.Fetch
	cmd := FetchCommand(p.spec)
	count := opts.Count
	if count <= 0 {
		count = 1
	}

	elapsed := make([]float64, 0, count)
	var size int64
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := p.sleep(ctx, opts.Interval); err != nil {
				return nil, err
			}
		}
		out, err := p.exec(ctx, cmd)
		if err != nil {
			return nil, err
		}
		sample, err := ParseFetchSample(out.Stdout)
		if err != nil {
			p.metrics.IncParseMiss(string(p.spec.Type))
			p.logger.Warn().Err(err).Int("sample", i).Msg("fetch sample skipped")
			continue
		}
		elapsed = append(elapsed, sample.ElapsedMillis)
		size = sample.SizeBytes
	}
	return AggregateFetch(elapsed, size), nil
}

// exec runs cmd and folds the non-fatal failures into the outcome. A tool
// killed on its deadline still has its partial output parsed.
func (p *Prober) exec(ctx context.Context, cmd command.Command) (command.Outcome, error) {
	logger := p.logger.With().Str("cmd", cmd.String()).Logger()
	out, err := p.runner.Run(ctx, cmd)
	if p.spec.Debug {
		logger.Debug().
			Int("exit_code", out.ExitCode).
			Str("stdout", out.Stdout).
			Str("stderr", out.Stderr).
			Msg("tool output")
	}
	switch {
	case err == nil:
		return out, nil
	case command.IsTimeout(err):
		logger.Warn().Err(err).Msg("tool killed on deadline")
		return out, nil
	case command.IsSpawnFailure(err):
		logger.Error().Err(err).Msg("tool could not be started")
		return out, err
	default:
		return out, err
	}
}

func (p *Prober) reportMisses(parsed types.ProbeResult, expected []types.Metric) {
	var missing []string
	for _, m := range expected {
		if !parsed.Has(m) {
			missing = append(missing, string(m))
		}
	}
	if len(missing) == 0 {
		return
	}
	p.metrics.IncParseMiss(string(p.spec.Type))
	p.logger.Warn().Strs("missing", missing).Msg("expected output lines not found")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
