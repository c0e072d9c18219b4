package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Write stores cfg as YAML at path, replacing any previous file atomically.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}
	return nil
}

// Example is the configuration written by "netprobe init": one probe of
// each type against the given target, logged to stdout.
func Example(target string) Config {
	cfg := Config{
		Probes: []ProbeConfig{
			{ProbeType: "icmp_ping", Target: target},
			{ProbeType: "crafted_probe", Target: target, Tag: "network_probe_tcp"},
			{ProbeType: "http_fetch", Target: target, Tag: "network_probe_http"},
		},
		Outputs: []OutputConfig{{Type: "log"}},
	}
	cfg.ApplyDefaults()
	cfg.Agent.Name = ""
	return cfg
}
