package probe

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pingsantohq/netprobe/pkg/types"
)

// ErrParseMiss marks output in which an expected line was not found.
var ErrParseMiss = errors.New("expected output not found")

type linePattern struct {
	re      *regexp.Regexp
	metrics []types.Metric
}

var (
	pingPatterns = []linePattern{
		{
			re:      regexp.MustCompile(`\d+ packets transmitted, \d+ packets received, ([\d.]+)% packet loss`),
			metrics: []types.Metric{types.MetricLoss},
		},
		{
			re:      regexp.MustCompile(`round-trip min/avg/max/stddev = ([\d.]+)/([\d.]+)/([\d.]+)/[\d.]+ ms`),
			metrics: []types.Metric{types.MetricMin, types.MetricAvg, types.MetricMax},
		},
	}

	// hping prints "tramitted"; the correct spelling never appears in its output.
	craftedPatterns = []linePattern{
		{
			re:      regexp.MustCompile(`\d+ packets tramitted, \d+ packets received, ([\d.]+)% packet loss`),
			metrics: []types.Metric{types.MetricLoss},
		},
		{
			re:      regexp.MustCompile(`round-trip min/avg/max = ([\d.]+)/([\d.]+)/([\d.]+) ms`),
			metrics: []types.Metric{types.MetricMin, types.MetricAvg, types.MetricMax},
		},
	}
)

// ParsePing extracts loss and min/avg/max from ping output.
func ParsePing(output string) types.ProbeResult {
	return parseLines(output, pingPatterns)
}

// ParseCraftedProbe extracts loss and min/avg/max from hping output.
func ParseCraftedProbe(output string) types.ProbeResult {
	return parseLines(output, craftedPatterns)
}

// parseLines applies each pattern to the output line by line. The first
// line a pattern fully parses wins; later matches are ignored.
func parseLines(output string, patterns []linePattern) types.ProbeResult {
	result := types.NewProbeResult()
	matched := make([]bool, len(patterns))

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for i, p := range patterns {
			if matched[i] {
				continue
			}
			groups := p.re.FindStringSubmatch(line)
			if groups == nil {
				continue
			}
			values, ok := parseFloats(groups[1:])
			if !ok || len(values) != len(p.metrics) {
				continue
			}
			for j, m := range p.metrics {
				result.Set(m, values[j])
			}
			matched[i] = true
		}
	}
	return result
}

func parseFloats(raw []string) ([]float64, bool) {
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// FetchSample is one curl invocation: elapsed transfer time and bytes
// downloaded.
type FetchSample struct {
	ElapsedMillis float64
	SizeBytes     int64
}

// ParseFetchSample reads the "<time_total> <size_downloaded>" line curl
// writes with -w. Only the last non-empty line is considered.
func ParseFetchSample(output string) (FetchSample, error) {
	lines := strings.Split(strings.TrimRight(output, "\r\n\t "), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	if last == "" {
		return FetchSample{}, fmt.Errorf("fetch sample: empty output: %w", ErrParseMiss)
	}

	fields := strings.Fields(last)
	if len(fields) < 2 {
		return FetchSample{}, fmt.Errorf("fetch sample %q: %w", last, ErrParseMiss)
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || !measurable(seconds) {
		return FetchSample{}, fmt.Errorf("fetch sample elapsed %q: %w", fields[0], ErrParseMiss)
	}
	size, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || !measurable(size) || size >= maxSizeBytes {
		return FetchSample{}, fmt.Errorf("fetch sample size %q: %w", fields[1], ErrParseMiss)
	}
	return FetchSample{
		ElapsedMillis: seconds * 1000,
		SizeBytes:     int64(size),
	}, nil
}

// maxSizeBytes is 2^63, the first float64 outside the int64 range.
const maxSizeBytes = float64(1 << 63)

// measurable rejects what ParseFloat accepts but curl never prints:
// inf, nan and negative values.
func measurable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
