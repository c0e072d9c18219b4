package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/netprobe/internal/command"
)

const fetchKillGrace = time.Second

// PingCommand builds "<exec> -i <interval> -c <count> <target>".
func PingCommand(spec Spec) command.Command {
	opts := spec.Ping
	return command.Command{
		Path: opts.Exec,
		Args: []string{
			"-i", formatSeconds(opts.Interval),
			"-c", strconv.Itoa(opts.Count),
			spec.Target,
		},
		Timeout: toolDeadline(opts.Count, secondsDuration(opts.Interval), opts.Timeout),
	}
}

// CraftedCommand builds "<sudo> <exec> <mode> -i u<interval> -c <count>
// <target>" with stderr folded into stdout; hping reports its statistics
// on stderr.
func CraftedCommand(spec Spec) command.Command {
	opts := spec.Crafted
	path := opts.Exec
	argv := make([]string, 0, 8)
	if sudo := strings.TrimSpace(opts.Sudo); sudo != "" {
		path = sudo
		argv = append(argv, opts.Exec)
	}
	argv = append(argv, strings.Fields(opts.Mode)...)
	argv = append(argv,
		"-i", "u"+strconv.Itoa(opts.IntervalMicros),
		"-c", strconv.Itoa(opts.Count),
		spec.Target,
	)

	return command.Command{
		Path:        path,
		Args:        argv,
		MergeStderr: true,
		Timeout:     toolDeadline(opts.Count, time.Duration(opts.IntervalMicros)*time.Microsecond, opts.Timeout),
	}
}

// FetchURL is the address fetched by every HTTP sample.
func FetchURL(spec Spec) string {
	opts := spec.Fetch
	return fmt.Sprintf("%s://%s:%d%s", opts.Protocol, spec.Target, opts.Port, opts.Path)
}

// FetchCommand builds one curl sample invocation. The body is discarded
// and only "<time_total> <size_downloaded>" is written to stdout.
func FetchCommand(spec Spec) command.Command {
	opts := spec.Fetch
	return command.Command{
		Path: opts.Exec,
		Args: []string{
			FetchURL(spec),
			"-o/dev/null",
			"-w", "%{time_total} %{size_downloaded}",
			"-m", formatSeconds(opts.Timeout),
		},
		Timeout: secondsDuration(opts.Timeout) + fetchKillGrace,
	}
}

// toolDeadline bounds a tool that paces itself: count packets at the given
// interval plus the configured wait for the last reply.
func toolDeadline(count int, interval, wait time.Duration) time.Duration {
	if count <= 0 {
		count = 1
	}
	return time.Duration(count)*interval + wait
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
