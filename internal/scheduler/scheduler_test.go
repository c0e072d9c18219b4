package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/netprobe/internal/probe"
	"github.com/pingsantohq/netprobe/internal/worker"
	"github.com/pingsantohq/netprobe/pkg/types"
)

func spec(target string, interval time.Duration) probe.Spec {
	return probe.Spec{
		Type:     types.ProbeICMPPing,
		Target:   target,
		Tag:      "network_probe",
		Interval: interval,
	}
}

type dropCounter struct {
	mu      sync.Mutex
	dropped map[string]int
}

func (d *dropCounter) ObserveRound(string, string, time.Duration) {}
func (d *dropCounter) IncRecovered()                              {}
func (d *dropCounter) IncFiringDropped(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dropped == nil {
		d.dropped = make(map[string]int)
	}
	d.dropped[id]++
}

func TestSchedulerTickFiresJobs(t *testing.T) {
	jobCh := make(chan worker.Job, 10)
	current := time.Unix(0, 0).UTC()

	s := New(jobCh, WithNow(func() time.Time { return current }))
	s.Update([]probe.Spec{spec("203.0.113.1", 50*time.Millisecond)})

	current = current.Add(40 * time.Millisecond)
	s.tick(current)

	select {
	case <-jobCh:
		t.Fatalf("unexpected job before interval elapsed")
	default:
	}

	current = current.Add(10 * time.Millisecond)
	s.tick(current)

	select {
	case job := <-jobCh:
		if job.ProbeID != "network_probe_203.0.113.1" {
			t.Fatalf("unexpected probe id %s", job.ProbeID)
		}
		if job.Spec.Target != "203.0.113.1" || job.Spec.Type != types.ProbeICMPPing {
			t.Fatalf("expected spec copied into job, got %+v", job.Spec)
		}
		if job.ScheduledFor.IsZero() {
			t.Fatalf("expected scheduled time to be set")
		}
	default:
		t.Fatalf("expected job to fire")
	}

	current = current.Add(60 * time.Millisecond)
	s.tick(current)

	select {
	case <-jobCh:
	default:
		t.Fatalf("expected second job after reschedule")
	}
}

func TestSchedulerSkipsMissedIntervals(t *testing.T) {
	jobCh := make(chan worker.Job, 10)
	current := time.Unix(0, 0).UTC()
	s := New(jobCh, WithNow(func() time.Time { return current }))
	s.Update([]probe.Spec{spec("h1", time.Second)})

	current = current.Add(5500 * time.Millisecond)
	s.tick(current)
	if len(jobCh) != 1 {
		t.Fatalf("expected a single firing for five missed intervals, got %d", len(jobCh))
	}
	job := <-jobCh

	current = current.Add(400 * time.Millisecond)
	s.tick(current)
	if len(jobCh) != 0 {
		t.Fatalf("expected next firing at 6s, got one at 5.9s")
	}
	current = current.Add(100 * time.Millisecond)
	s.tick(current)
	if len(jobCh) != 1 {
		t.Fatalf("expected firing at 6s")
	}
	if !job.ScheduledFor.Equal(time.Unix(1, 0).UTC()) {
		t.Fatalf("unexpected first scheduled time %s", job.ScheduledFor)
	}
}

func TestSchedulerDropsFiringWhenBufferFull(t *testing.T) {
	jobCh := make(chan worker.Job, 1)
	current := time.Unix(0, 0).UTC()
	drops := &dropCounter{}
	s := New(jobCh, WithNow(func() time.Time { return current }), WithRoundRecorder(drops))
	s.Update([]probe.Spec{spec("h1", time.Second)})

	for i := 0; i < 3; i++ {
		current = current.Add(time.Second)
		s.tick(current)
	}

	if len(jobCh) != 1 {
		t.Fatalf("expected buffer to hold one job, got %d", len(jobCh))
	}
	if drops.dropped["network_probe_h1"] != 2 {
		t.Fatalf("expected two dropped firings, got %v", drops.dropped)
	}
}

func TestSchedulerUpdateReplacesProbes(t *testing.T) {
	jobCh := make(chan worker.Job, 10)
	current := time.Now()
	s := New(jobCh, WithNow(func() time.Time { return current }))

	s.Update([]probe.Spec{spec("h1", 20*time.Millisecond)})
	current = current.Add(25 * time.Millisecond)
	s.tick(current)
	if len(jobCh) != 1 || (<-jobCh).ProbeID != "network_probe_h1" {
		t.Fatalf("expected job for h1")
	}

	s.Update([]probe.Spec{spec("h2", 20*time.Millisecond)})
	if s.Len() != 1 {
		t.Fatalf("expected one scheduled probe, got %d", s.Len())
	}
	current = current.Add(25 * time.Millisecond)
	s.tick(current)

	select {
	case job := <-jobCh:
		if job.ProbeID != "network_probe_h2" {
			t.Fatalf("expected h2 got %s", job.ProbeID)
		}
	default:
		t.Fatalf("expected job for h2")
	}
}

func TestSchedulerUpdateKeepsPhase(t *testing.T) {
	jobCh := make(chan worker.Job, 10)
	current := time.Unix(0, 0).UTC()
	s := New(jobCh, WithNow(func() time.Time { return current }))

	s.Update([]probe.Spec{spec("h1", time.Second)})
	current = current.Add(900 * time.Millisecond)
	s.Update([]probe.Spec{spec("h1", time.Second), spec("h2", time.Second)})

	current = current.Add(100 * time.Millisecond)
	s.tick(current)
	if len(jobCh) != 1 || (<-jobCh).ProbeID != "network_probe_h1" {
		t.Fatalf("expected only h1 to fire at 1s")
	}
}
