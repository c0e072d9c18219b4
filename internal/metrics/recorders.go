package metrics

import "time"

type QueueRecorder interface {
	ObserveQueueDepth(depth int)
	IncQueueDrops()
}

type NoopQueueRecorder struct{}

func (NoopQueueRecorder) ObserveQueueDepth(depth int) {}
func (NoopQueueRecorder) IncQueueDrops()              {}

// ProbeRecorder counts parser-level outcomes inside a round.
type ProbeRecorder interface {
	IncParseMiss(probeType string)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) IncParseMiss(probeType string) {}

// RoundRecorder observes rounds as the scheduler and workers run them.
type RoundRecorder interface {
	ObserveRound(probeType, outcome string, elapsed time.Duration)
	IncFiringDropped(probeID string)
	IncRecovered()
}

type NoopRoundRecorder struct{}

func (NoopRoundRecorder) ObserveRound(probeType, outcome string, elapsed time.Duration) {}
func (NoopRoundRecorder) IncFiringDropped(probeID string)                              {}
func (NoopRoundRecorder) IncRecovered()                                                {}

type SinkRecorder interface {
	AddRecordsSent(sink string, n int)
	IncSinkFailures(sink string)
}

type NoopSinkRecorder struct{}

func (NoopSinkRecorder) AddRecordsSent(sink string, n int) {}
func (NoopSinkRecorder) IncSinkFailures(sink string)       {}

// Round outcomes used as the "outcome" label.
const (
	OutcomeEmitted      = "emitted"
	OutcomeSpawnFailure = "spawn_failure"
	OutcomeFailed       = "failed"
	OutcomeCancelled    = "cancelled"
)
