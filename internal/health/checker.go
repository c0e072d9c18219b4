package health

import (
	"fmt"
	"time"

	"github.com/pingsantohq/netprobe/internal/metrics"
)

const staleIntervals = 3

const (
	categoryQueuePressure = "QUEUE_PRESSURE"
	categoryNoRecords     = "NO_RECORDS"
	categoryRecordsStale  = "RECORDS_STALE"
)

// Checker evaluates readiness: at least one record emitted, the latest not
// older than three probe intervals, and the result queue below capacity.
type Checker struct {
	metrics       *metrics.Store
	queueCapacity int
	staleAfter    time.Duration
}

// NewChecker binds a checker to the metrics store. interval is the shortest
// configured probe interval.
func NewChecker(store *metrics.Store, queueCapacity int, interval time.Duration) *Checker {
	return &Checker{
		metrics:       store,
		queueCapacity: queueCapacity,
		staleAfter:    staleIntervals * interval,
	}
}

// Ready returns the overall status and the failing categories with a
// human readable reason each.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	var reasons []string
	if c.metrics == nil {
		return true, nil
	}
	snap := c.metrics.Snapshot()

	if c.queueCapacity > 0 && snap.QueueDepth >= int64(c.queueCapacity) {
		reasons = append(reasons, fmt.Sprintf("%s: queue at capacity (%d)", categoryQueuePressure, snap.QueueDepth))
	}

	switch {
	case snap.LastEmitted.IsZero():
		reasons = append(reasons, categoryNoRecords+": no record emitted yet")
	case c.staleAfter > 0 && now.Sub(snap.LastEmitted) > c.staleAfter:
		age := now.Sub(snap.LastEmitted).Round(time.Second)
		reasons = append(reasons, fmt.Sprintf("%s: last record %s ago", categoryRecordsStale, age))
	}

	ready := len(reasons) == 0
	c.metrics.ObserveReadiness(ready)
	return ready, reasons
}
