package probe

import (
	"time"

	"github.com/pingsantohq/netprobe/pkg/types"
)

// Spec is the immutable description of one probe. Jobs carry a copy, so
// a round never observes configuration changes made after it was fired.
type Spec struct {
	Type     types.ProbeType
	Target   string
	Tag      string
	Interval time.Duration
	Debug    bool

	Ping    PingOptions
	Crafted CraftedOptions
	Fetch   FetchOptions
}

// ID is the emitted record tag, unique per tag prefix and target.
func (s Spec) ID() string {
	return types.RecordTag(s.Tag, s.Target)
}

// PingOptions tune the ICMP ping tool.
type PingOptions struct {
	Exec     string
	Count    int
	Interval float64 // seconds, passed to -i verbatim
	Timeout  time.Duration
}

// CraftedOptions tune the crafted-probe tool (hping).
type CraftedOptions struct {
	Exec           string
	Sudo           string
	Mode           string
	Count          int
	IntervalMicros int
	Timeout        time.Duration
}

// FetchOptions tune the repeated HTTP fetch (curl).
type FetchOptions struct {
	Exec     string
	Protocol string
	Port     int
	Path     string
	Count    int
	Timeout  float64 // seconds, passed to -m verbatim
	Interval time.Duration
}
