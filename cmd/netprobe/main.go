package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pingsantohq/netprobe/internal/command"
	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/internal/diag"
	"github.com/pingsantohq/netprobe/internal/logging"
	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/pkg/types"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).root().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the collaborators shared by every subcommand.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	runner command.Runner
}

func newApp(stdout, stderr io.Writer) *app {
	v := viper.New()
	v.SetDefault("config", config.DefaultConfigPath)
	_ = v.BindEnv("config", config.EnvConfigPath)
	return &app{
		v:      v,
		stdout: stdout,
		stderr: stderr,
		stdin:  os.Stdin,
		runner: command.NewExecutor(),
	}
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "netprobe",
		Short:        "Periodic ping, hping and curl probes emitted as structured records",
		SilenceUsage: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file (env "+config.EnvConfigPath+")")
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(
		a.runCmd(),
		a.onceCmd(),
		a.parseCmd(),
		a.validateCmd(),
		a.initCmd(),
		a.diagCmd(),
	)
	return root
}

func (a *app) configPath() string {
	return a.v.GetString("config")
}

func (a *app) loadConfig(ctx context.Context) (config.Config, error) {
	return config.Load(ctx, a.configPath())
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the probe daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, a.stderr)
		},
	}
}

func (a *app) onceCmd() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one round of every configured probe and print the records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return a.runOnce(cmd.Context(), cfg, only)
		},
	}
	cmd.Flags().StringVar(&only, "probe", "", "only run the probe with this tag_target id")
	return cmd
}

func (a *app) runOnce(ctx context.Context, cfg config.Config, only string) error {
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if cfg.DebugEnabled() {
		level = "debug"
	}
	logger := logging.New(a.stderr, level, cfg.Logging.Format)

	enc := json.NewEncoder(a.stdout)
	ran := 0
	for _, spec := range specs {
		if only != "" && spec.ID() != only {
			continue
		}
		ran++
		p, err := probe.New(spec, probe.Dependencies{Runner: a.runner, Logger: &logger})
		if err != nil {
			return err
		}
		payload, err := p.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Str("probe", spec.ID()).Msg("round failed")
			continue
		}
		rec := types.Record{
			Tag:       spec.ID(),
			Timestamp: timeNow().UTC(),
			ProbeType: spec.Type,
			Target:    spec.Target,
			RoundID:   uuid.NewString(),
			Payload:   payload,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if only != "" && ran == 0 {
		return fmt.Errorf("no probe with id %q", only)
	}
	return nil
}

func (a *app) parseCmd() *cobra.Command {
	var probeType string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse captured tool output and print the resulting fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := types.ParseProbeType(probeType)
			if err != nil {
				return err
			}
			in := a.stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			result, err := parseOutput(pt, string(data))
			if err != nil {
				return err
			}
			return json.NewEncoder(a.stdout).Encode(result)
		},
	}
	cmd.Flags().StringVarP(&probeType, "type", "t", "", "probe type: icmp_ping, crafted_probe or http_fetch")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// parseOutput applies the round parser of pt to captured output. For
// http_fetch each non-empty line is one curl sample.
func parseOutput(pt types.ProbeType, output string) (types.ProbeResult, error) {
	switch pt {
	case types.ProbeICMPPing:
		return probe.AggregateStats(probe.ParsePing(output)), nil
	case types.ProbeCraftedProbe:
		return probe.AggregateStats(probe.ParseCraftedProbe(output)), nil
	case types.ProbeHTTPFetch:
		var (
			elapsed []float64
			size    int64
		)
		for _, line := range strings.Split(output, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			sample, err := probe.ParseFetchSample(line)
			if err != nil {
				continue
			}
			elapsed = append(elapsed, sample.ElapsedMillis)
			size = sample.SizeBytes
		}
		return probe.AggregateFetch(elapsed, size), nil
	}
	return nil, fmt.Errorf("%w: %q", probe.ErrUnknownProbeType, pt)
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: ok (%d probes, %d outputs)\n", a.configPath(), len(cfg.Probes), len(cfg.Outputs))
			return nil
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.configPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Write(path, config.Example(target)); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1", "target host for the example probes")
	return cmd
}

func (a *app) diagCmd() *cobra.Command {
	var opts diag.Options
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Collect a diagnostics bundle (redacted config, tool lookup, metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = a.configPath()
			info, err := diag.Collect(cmd.Context(), opts, diag.Dependencies{})
			if err != nil {
				return err
			}
			for _, w := range info.Warnings {
				fmt.Fprintf(a.stderr, "warning: %s\n", w)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", info.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "bundle path (default netprobe-diag-<ts>.tar.gz)")
	cmd.Flags().StringVar(&opts.MetricsURL, "metrics-url", "", "metrics endpoint (default derived from monitoring.listen)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 3*time.Second, "metrics scrape timeout")
	return cmd
}
