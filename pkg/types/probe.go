package types

import (
	"fmt"
	"sort"
	"strings"
)

// ProbeType selects which external tool a probe drives.
type ProbeType string

const (
	ProbeICMPPing     ProbeType = "icmp_ping"
	ProbeCraftedProbe ProbeType = "crafted_probe"
	ProbeHTTPFetch    ProbeType = "http_fetch"
)

var legacyProbeTypes = map[string]ProbeType{
	"fping": ProbeICMPPing,
	"hping": ProbeCraftedProbe,
	"curl":  ProbeHTTPFetch,
}

// ParseProbeType accepts the canonical names as well as the tool names
// (fping, hping, curl) used by older configurations.
func ParseProbeType(value string) (ProbeType, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch ProbeType(v) {
	case ProbeICMPPing, ProbeCraftedProbe, ProbeHTTPFetch:
		return ProbeType(v), nil
	}
	if pt, ok := legacyProbeTypes[v]; ok {
		return pt, nil
	}
	return "", fmt.Errorf("unknown probe type %q", value)
}

func (p ProbeType) Valid() bool {
	switch p {
	case ProbeICMPPing, ProbeCraftedProbe, ProbeHTTPFetch:
		return true
	}
	return false
}

// Metric names a field of a ProbeResult.
type Metric string

const (
	MetricMin    Metric = "min"
	MetricMax    Metric = "max"
	MetricAvg    Metric = "avg"
	MetricLoss   Metric = "loss"
	MetricSize   Metric = "size"
	MetricMaxBPS Metric = "max_bps"
	MetricMinBPS Metric = "min_bps"
	MetricAvgBPS Metric = "avg_bps"
)

// ProbeResult maps metric names to values. A metric whose source was not
// observed has no entry; it is never reported as zero.
type ProbeResult map[Metric]float64

func NewProbeResult() ProbeResult {
	return make(ProbeResult, 8)
}

func (r ProbeResult) Set(m Metric, v float64) {
	r[m] = v
}

func (r ProbeResult) Get(m Metric) (float64, bool) {
	v, ok := r[m]
	return v, ok
}

func (r ProbeResult) Has(m Metric) bool {
	_, ok := r[m]
	return ok
}

func (r ProbeResult) Clone() ProbeResult {
	out := make(ProbeResult, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Metrics returns the present metric names in stable order.
func (r ProbeResult) Metrics() []Metric {
	names := make([]Metric, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Ordered reports whether min <= avg <= max holds. Results missing any of
// the three are considered ordered.
func (r ProbeResult) Ordered() bool {
	lo, okMin := r[MetricMin]
	mid, okAvg := r[MetricAvg]
	hi, okMax := r[MetricMax]
	if !okMin || !okAvg || !okMax {
		return true
	}
	return lo <= mid && mid <= hi
}

// Fields returns the present metrics keyed by name, the shape log and
// time-series writers take.
func (r ProbeResult) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		out[string(k)] = v
	}
	return out
}
