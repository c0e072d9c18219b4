package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/pkg/types"
)

const (
	EnvConfigPath     = "NETPROBE_CONFIG"
	DefaultConfigPath = "/etc/netprobe/netprobe.yaml"

	DefaultMonitoringListen = "127.0.0.1:9320"
	MonitoringOff           = "off"
)

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Probes     []ProbeConfig    `yaml:"probes" validate:"required,min=1,dive"`
	Outputs    []OutputConfig   `yaml:"outputs" validate:"dive"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Queue      QueueConfig      `yaml:"queue"`
	Run        RunConfig        `yaml:"run"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AgentConfig identifies this host in envelopes sent to collectors.
type AgentConfig struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels"`
}

type RunConfig struct {
	Workers            int           `yaml:"workers" validate:"gte=0"`
	TickResolution     time.Duration `yaml:"tick_resolution" validate:"gte=0"`
	MaxRoundsPerSecond float64       `yaml:"max_rounds_per_second" validate:"gte=0"`
}

type QueueConfig struct {
	MemItemsCap int `yaml:"mem_items_cap" validate:"gte=1"`
}

type MonitoringConfig struct {
	// Listen is the monitoring server address; "off" disables the server.
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// ProbeConfig mirrors one probe block. Tool options keep their historical
// flat names (fping_*, hping_*, curl_*).
type ProbeConfig struct {
	ProbeType string `yaml:"probe_type" validate:"required,probe_type"`
	Target    string `yaml:"target" validate:"required,hostname_rfc1123|ip"`
	Interval  int    `yaml:"interval" validate:"gte=1"`
	Tag       string `yaml:"tag" validate:"required"`
	DebugMode bool   `yaml:"debug_mode"`

	FpingCount    int     `yaml:"fping_count" validate:"gte=1"`
	FpingTimeout  float64 `yaml:"fping_timeout" validate:"gt=0"`
	FpingInterval float64 `yaml:"fping_interval" validate:"gt=0"`
	FpingExec     string  `yaml:"fping_exec" validate:"required"`

	HpingCount    int     `yaml:"hping_count" validate:"gte=1"`
	HpingInterval int     `yaml:"hping_interval" validate:"gte=1"`
	HpingExec     string  `yaml:"hping_exec" validate:"required"`
	HpingMode     string  `yaml:"hping_mode"`
	HpingTimeout  float64 `yaml:"hping_timeout" validate:"gt=0"`

	// SudoExec prefixes the crafted-probe tool; an explicit empty string
	// runs it directly.
	SudoExec *string `yaml:"sudo_exec"`

	CurlProtocol string  `yaml:"curl_protocol" validate:"oneof=http https"`
	CurlPort     int     `yaml:"curl_port" validate:"gte=1,lte=65535"`
	CurlPath     string  `yaml:"curl_path" validate:"startswith=/"`
	CurlCount    int     `yaml:"curl_count" validate:"gte=1"`
	CurlTimeout  float64 `yaml:"curl_timeout" validate:"gt=0"`
	CurlExec     string  `yaml:"curl_exec" validate:"required"`

	// CurlInterval is the pause between fetch samples; an explicit 0
	// samples back to back.
	CurlInterval *float64 `yaml:"curl_interval" validate:"omitempty,gte=0"`
}

// OutputConfig selects a sink by Type; the remaining fields are read by the
// sink that needs them.
type OutputConfig struct {
	Type    string        `yaml:"type" validate:"required,oneof=log file http influxdb kafka websocket"`
	Name    string        `yaml:"name"`
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Brokers []string      `yaml:"brokers"`
	Topic   string        `yaml:"topic"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	TLS     TLSConfig     `yaml:"tls,omitempty"`
}

// TLSConfig applies to the http, influxdb and kafka outputs.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"key_file,omitempty" validate:"required_with=CertFile"`
	ServerName         string `yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// ApplyDefaults fills every zero-valued option with the value the tools
// were historically run with.
func (c *Config) ApplyDefaults() {
	if c.Agent.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Agent.Name = host
		}
	}
	if c.Queue.MemItemsCap == 0 {
		c.Queue.MemItemsCap = 1024
	}
	if c.Monitoring.Listen == "" {
		c.Monitoring.Listen = DefaultMonitoringListen
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	for i := range c.Probes {
		c.Probes[i].applyDefaults()
	}
}

// Enabled reports whether the monitoring server should be started.
func (m MonitoringConfig) Enabled() bool {
	return m.Listen != "" && m.Listen != MonitoringOff
}

func (p *ProbeConfig) applyDefaults() {
	if p.Interval == 0 {
		p.Interval = 60
	}
	if p.Tag == "" {
		p.Tag = "network_probe"
	}
	if p.FpingCount == 0 {
		p.FpingCount = 20
	}
	if p.FpingTimeout == 0 {
		p.FpingTimeout = 2
	}
	if p.FpingInterval == 0 {
		p.FpingInterval = 1
	}
	if p.FpingExec == "" {
		p.FpingExec = "/sbin/ping"
	}
	if p.HpingCount == 0 {
		p.HpingCount = 20
	}
	if p.HpingInterval == 0 {
		p.HpingInterval = 700000
	}
	if p.HpingExec == "" {
		p.HpingExec = "/usr/local/sbin/hping"
	}
	if p.HpingMode == "" {
		p.HpingMode = "-p 80 -S"
	}
	if p.HpingTimeout == 0 {
		p.HpingTimeout = 2
	}
	if p.SudoExec == nil {
		sudo := "/usr/bin/sudo"
		p.SudoExec = &sudo
	}
	if p.CurlProtocol == "" {
		p.CurlProtocol = "http"
	}
	if p.CurlPort == 0 {
		p.CurlPort = 80
	}
	if p.CurlPath == "" {
		p.CurlPath = "/"
	}
	if p.CurlCount == 0 {
		p.CurlCount = 5
	}
	if p.CurlTimeout == 0 {
		p.CurlTimeout = 2
	}
	if p.CurlInterval == nil {
		interval := 1.0
		p.CurlInterval = &interval
	}
	if p.CurlExec == "" {
		p.CurlExec = "/usr/bin/curl"
	}
}

// Spec converts the probe block into the immutable runtime description.
func (p ProbeConfig) Spec() (probe.Spec, error) {
	typ, err := types.ParseProbeType(p.ProbeType)
	if err != nil {
		return probe.Spec{}, err
	}
	sudo := ""
	if p.SudoExec != nil {
		sudo = *p.SudoExec
	}
	var fetchInterval float64
	if p.CurlInterval != nil {
		fetchInterval = *p.CurlInterval
	}
	return probe.Spec{
		Type:     typ,
		Target:   p.Target,
		Tag:      p.Tag,
		Interval: time.Duration(p.Interval) * time.Second,
		Debug:    p.DebugMode,
		Ping: probe.PingOptions{
			Exec:     p.FpingExec,
			Count:    p.FpingCount,
			Interval: p.FpingInterval,
			Timeout:  seconds(p.FpingTimeout),
		},
		Crafted: probe.CraftedOptions{
			Exec:           p.HpingExec,
			Sudo:           sudo,
			Mode:           p.HpingMode,
			Count:          p.HpingCount,
			IntervalMicros: p.HpingInterval,
			Timeout:        seconds(p.HpingTimeout),
		},
		Fetch: probe.FetchOptions{
			Exec:     p.CurlExec,
			Protocol: p.CurlProtocol,
			Port:     p.CurlPort,
			Path:     p.CurlPath,
			Count:    p.CurlCount,
			Timeout:  p.CurlTimeout,
			Interval: seconds(fetchInterval),
		},
	}, nil
}

// Specs converts every probe block, keyed by record tag.
func (c Config) Specs() ([]probe.Spec, error) {
	specs := make([]probe.Spec, 0, len(c.Probes))
	for i, p := range c.Probes {
		spec, err := p.Spec()
		if err != nil {
			return nil, fmt.Errorf("probes[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// DebugEnabled reports whether any probe asked for raw tool output.
func (c Config) DebugEnabled() bool {
	for _, p := range c.Probes {
		if p.DebugMode {
			return true
		}
	}
	return false
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
