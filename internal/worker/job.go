package worker

import (
	"time"

	"github.com/pingsantohq/netprobe/internal/probe"
)

// Job is one scheduled firing. Spec is a copy, so the round runs with the
// configuration that was current when it fired.
type Job struct {
	ProbeID      string
	Spec         probe.Spec
	ScheduledFor time.Time
}
