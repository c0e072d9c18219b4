package probe

import (
	"math"

	"github.com/pingsantohq/netprobe/pkg/types"
)

var statsMetrics = []types.Metric{types.MetricMin, types.MetricAvg, types.MetricMax, types.MetricLoss}

// AggregateStats keeps the statistics a ping-style tool already computed
// over its own packets. Nothing is derived.
func AggregateStats(parsed types.ProbeResult) types.ProbeResult {
	out := types.NewProbeResult()
	for _, m := range statsMetrics {
		if v, ok := parsed.Get(m); ok {
			out.Set(m, v)
		}
	}
	return out
}

// AggregateFetch derives latency and throughput from repeated fetches.
//
// Throughput is size*8 bits over the elapsed seconds. The slowest sample
// gives the lowest rate, so the max time feeds min_bps and the min time
// feeds max_bps. A zero size or zero time leaves the rate absent.
func AggregateFetch(elapsedMillis []float64, sizeBytes int64) types.ProbeResult {
	out := types.NewProbeResult()
	if len(elapsedMillis) == 0 {
		return out
	}

	lo, hi, sum := elapsedMillis[0], elapsedMillis[0], 0.0
	for _, ms := range elapsedMillis {
		lo = math.Min(lo, ms)
		hi = math.Max(hi, ms)
		sum += ms
	}
	avg := sum / float64(len(elapsedMillis))

	out.Set(types.MetricMax, hi)
	out.Set(types.MetricMin, lo)
	out.Set(types.MetricAvg, avg)
	out.Set(types.MetricSize, float64(sizeBytes))

	setRate(out, types.MetricMinBPS, sizeBytes, hi)
	setRate(out, types.MetricMaxBPS, sizeBytes, lo)
	setRate(out, types.MetricAvgBPS, sizeBytes, avg)
	return out
}

func setRate(out types.ProbeResult, m types.Metric, sizeBytes int64, millis float64) {
	if bps, ok := bitsPerSecond(sizeBytes, millis); ok {
		out.Set(m, bps)
	}
}

func bitsPerSecond(sizeBytes int64, millis float64) (float64, bool) {
	if sizeBytes <= 0 || millis <= 0 || math.IsInf(millis, 0) || math.IsNaN(millis) {
		return 0, false
	}
	bps := float64(sizeBytes*8) / (millis / 1000)
	if math.IsNaN(bps) || math.IsInf(bps, 0) {
		return 0, false
	}
	return bps, true
}
