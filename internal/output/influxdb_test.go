package output

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

func TestInfluxSinkWritesLineProtocol(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var query string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := newInfluxSink(config.OutputConfig{
		Type: "influxdb", URL: server.URL, Token: "tok", Org: "netops", Bucket: "probes",
	}, Dependencies{Agent: "edge-1"})
	if err != nil {
		t.Fatalf("newInfluxSink: %v", err)
	}
	defer sink.Close()

	records := append(sampleRecords(), types.Record{Tag: "network_probe_empty", Target: "empty"})
	if err := sink.Send(context.Background(), records); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected one write request, got %d", len(bodies))
	}
	if !strings.Contains(query, "org=netops") || !strings.Contains(query, "bucket=probes") {
		t.Fatalf("unexpected query %q", query)
	}
	lines := strings.Split(strings.TrimSpace(bodies[0]), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected records without fields skipped, got %q", bodies[0])
	}
	first := lines[0]
	for _, want := range []string{"network_probe_10.0.0.1,", "agent=edge-1", "probe_type=icmp_ping", "target=10.0.0.1", "max=4.5", "1700000000000000000"} {
		if !strings.Contains(first, want) {
			t.Fatalf("expected %q in line %q", want, first)
		}
	}
}

func TestInfluxSinkReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"unauthorized access"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	sink, err := newInfluxSink(config.OutputConfig{Type: "influxdb", URL: server.URL, Org: "o", Bucket: "b"}, Dependencies{})
	if err != nil {
		t.Fatalf("newInfluxSink: %v", err)
	}
	defer sink.Close()
	if err := sink.Send(context.Background(), sampleRecords()); err == nil {
		t.Fatalf("expected write error")
	}
}
