// Package diag collects a diagnostics bundle for support requests.
package diag

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/pingsantohq/netprobe/internal/certs"
	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

const (
	defaultOutputPrefix = "netprobe-diag-"
	infoFileName        = "diagnostics/info.json"
	configDirName       = "config"
	metricsFileName     = "observability/metrics.prom"
	redactedMarker      = "REDACTED"
)

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^(\s*token:\s*)(\S.*)$`),
	regexp.MustCompile(`(?i)(token=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([A-Za-z0-9\._\-]+)`),
	regexp.MustCompile(`(?i)(password=)([^&\s"']+)`),
	regexp.MustCompile(`(?i)(://[^:/\s]+:)([^@\s]+)(@)`),
}

// Options select the inputs and destination of a bundle.
type Options struct {
	ConfigPath string
	// OutputPath defaults to netprobe-diag-<timestamp>.tar.gz in the
	// working directory.
	OutputPath string
	// MetricsURL defaults to the monitoring listener of the loaded config.
	MetricsURL string
	Timeout    time.Duration
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
	LookPath   func(file string) (string, error)
}

// Info is written to diagnostics/info.json inside the bundle.
type Info struct {
	GeneratedAt string          `json:"generated_at"`
	OutputPath  string          `json:"output_path"`
	ConfigPath  string          `json:"config_path,omitempty"`
	Agent       string          `json:"agent,omitempty"`
	Probes      int             `json:"probes"`
	Tools       []ToolStatus    `json:"tools,omitempty"`
	Certs       []CertStatus    `json:"certificates,omitempty"`
	Metrics     *MetricsSummary `json:"metrics,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	GoVersion   string          `json:"go_version"`
}

// ToolStatus reports whether an executable a probe depends on resolves.
type ToolStatus struct {
	Exec     string   `json:"exec"`
	Probes   []string `json:"probes"`
	Resolved string   `json:"resolved,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// CertStatus reports the client certificate of a TLS output.
type CertStatus struct {
	Output   string `json:"output"`
	Path     string `json:"path"`
	NotAfter string `json:"not_after,omitempty"`
	Expired  bool   `json:"expired,omitempty"`
	Error    string `json:"error,omitempty"`
}

type MetricsSummary struct {
	URL          string             `json:"url"`
	QueueDepth   *float64           `json:"queue_depth,omitempty"`
	QueueDropped *float64           `json:"queue_dropped_total,omitempty"`
	Rounds       map[string]float64 `json:"rounds,omitempty"`
	ParseMisses  float64            `json:"parse_misses_total"`
}

// Collect writes a tar.gz bundle with the redacted config, the tool
// lookup results and a metrics scrape. Missing inputs become warnings;
// only failing to write the bundle is an error.
func Collect(ctx context.Context, opts Options, deps Dependencies) (Info, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	now := deps.Now().UTC()
	outPath := opts.OutputPath
	if outPath == "" {
		outPath = defaultOutputPrefix + now.Format("20060102T150405Z") + ".tar.gz"
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Info{}, fmt.Errorf("ensure output directory %q: %w", dir, err)
		}
	}

	info := Info{
		GeneratedAt: now.Format(time.RFC3339),
		OutputPath:  outPath,
		GoVersion:   runtime.Version(),
	}

	var cfg *config.Config
	if parsed, err := config.Load(ctx, opts.ConfigPath); err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("config unavailable (%s): %v", opts.ConfigPath, err))
	} else {
		cfg = &parsed
		info.ConfigPath = opts.ConfigPath
		info.Agent = parsed.Agent.Name
		info.Probes = len(parsed.Probes)
		info.Tools = checkTools(parsed, deps.LookPath)
		info.Certs = checkCerts(parsed, now)
	}

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return info, fmt.Errorf("create diagnostics file %q: %w", outPath, err)
	}
	defer outFile.Close()
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if data, err := os.ReadFile(opts.ConfigPath); err == nil {
		name := filepath.ToSlash(filepath.Join(configDirName, filepath.Base(opts.ConfigPath)))
		if err := addBytes(tw, redact(data), name, now); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("include config: %v", err))
		}
	}

	metricsURL := opts.MetricsURL
	if metricsURL == "" && cfg != nil && cfg.Monitoring.Enabled() {
		metricsURL = "http://" + cfg.Monitoring.Listen + "/metrics"
	}
	if metricsURL != "" {
		scrapeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		data, err := scrapeMetrics(scrapeCtx, deps.HTTPClient, metricsURL)
		cancel()
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("metrics scrape failed: %v", err))
		} else {
			if err := addBytes(tw, data, metricsFileName, now); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("include metrics: %v", err))
			}
			summary, err := summarizeMetrics(data, metricsURL)
			if err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("parse metrics: %v", err))
			}
			info.Metrics = summary
		}
	}

	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return info, fmt.Errorf("marshal diagnostics info: %w", err)
	}
	if err := addBytes(tw, payload, infoFileName, now); err != nil {
		return info, err
	}
	if err := tw.Close(); err != nil {
		return info, fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return info, fmt.Errorf("close gzip: %w", err)
	}
	return info, nil
}

// checkTools resolves every distinct executable (and sudo prefix) the
// configured probes invoke.
func checkTools(cfg config.Config, lookPath func(string) (string, error)) []ToolStatus {
	users := map[string][]string{}
	specs, _ := cfg.Specs()
	for _, spec := range specs {
		id := spec.ID()
		switch spec.Type {
		case types.ProbeICMPPing:
			users[spec.Ping.Exec] = append(users[spec.Ping.Exec], id)
		case types.ProbeCraftedProbe:
			users[spec.Crafted.Exec] = append(users[spec.Crafted.Exec], id)
			if spec.Crafted.Sudo != "" {
				users[spec.Crafted.Sudo] = append(users[spec.Crafted.Sudo], id)
			}
		case types.ProbeHTTPFetch:
			users[spec.Fetch.Exec] = append(users[spec.Fetch.Exec], id)
		}
	}

	execs := make([]string, 0, len(users))
	for e := range users {
		execs = append(execs, e)
	}
	sort.Strings(execs)

	out := make([]ToolStatus, 0, len(execs))
	for _, e := range execs {
		st := ToolStatus{Exec: e, Probes: users[e]}
		if resolved, err := lookPath(e); err != nil {
			st.Error = err.Error()
		} else {
			st.Resolved = resolved
		}
		out = append(out, st)
	}
	return out
}

func checkCerts(cfg config.Config, now time.Time) []CertStatus {
	var out []CertStatus
	for i, o := range cfg.Outputs {
		if o.TLS.CertFile == "" {
			continue
		}
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("%s[%d]", o.Type, i)
		}
		st := CertStatus{Output: name, Path: o.TLS.CertFile}
		if notAfter, err := certs.Expiry(o.TLS.CertFile); err != nil {
			st.Error = err.Error()
		} else {
			st.NotAfter = notAfter.UTC().Format(time.RFC3339)
			st.Expired = now.After(notAfter)
		}
		out = append(out, st)
	}
	return out
}

func redact(data []byte) []byte {
	for _, p := range redactPatterns {
		data = p.ReplaceAllFunc(data, func(match []byte) []byte {
			sub := p.FindSubmatch(match)
			if len(sub) < 3 {
				return []byte(redactedMarker)
			}
			out := append([]byte{}, sub[1]...)
			out = append(out, redactedMarker...)
			if len(sub) > 3 {
				out = append(out, sub[3]...)
			}
			return out
		})
	}
	return data
}

func addBytes(tw *tar.Writer, data []byte, name string, modTime time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func scrapeMetrics(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, url string) (*MetricsSummary, error) {
	summary := &MetricsSummary{URL: url}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return summary, err
	}

	if mf, ok := families["netprobe_queue_depth_number"]; ok && len(mf.GetMetric()) > 0 {
		v := mf.GetMetric()[0].GetGauge().GetValue()
		summary.QueueDepth = &v
	}
	if mf, ok := families["netprobe_queue_dropped_total"]; ok && len(mf.GetMetric()) > 0 {
		v := mf.GetMetric()[0].GetCounter().GetValue()
		summary.QueueDropped = &v
	}
	if mf, ok := families["netprobe_rounds_total"]; ok {
		summary.Rounds = make(map[string]float64)
		for _, m := range mf.GetMetric() {
			var probeType, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "probe_type":
					probeType = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			summary.Rounds[probeType+"/"+outcome] += m.GetCounter().GetValue()
		}
	}
	if mf, ok := families["netprobe_parse_misses_total"]; ok {
		for _, m := range mf.GetMetric() {
			summary.ParseMisses += m.GetCounter().GetValue()
		}
	}
	return summary, nil
}
