// Package output delivers emitted records to the configured destinations.
package output

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingsantohq/netprobe/internal/certs"
	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/internal/events"
	"github.com/pingsantohq/netprobe/internal/metrics"
	"github.com/pingsantohq/netprobe/internal/transmit"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// Sink is one configured destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, records []types.Record) error
	Close() error
}

// Dependencies are shared by every sink built from configuration.
type Dependencies struct {
	Logger     zerolog.Logger
	HTTPClient *http.Client
	Hub        *Hub
	Agent      string
	Labels     map[string]string
	Metrics    metrics.SinkRecorder
	Events     events.Recorder
	Now        func() time.Time
}

// Factory builds a sink from its configuration block.
type Factory func(cfg config.OutputConfig, deps Dependencies) (Sink, error)

var factories = map[string]Factory{
	"log":       newLogSink,
	"file":      newFileSink,
	"http":      newHTTPSink,
	"influxdb":  newInfluxSink,
	"kafka":     newKafkaSink,
	"websocket": newHubSink,
}

// Build creates every configured sink behind a Multi. With no outputs
// configured records are logged.
func Build(cfgs []config.OutputConfig, deps Dependencies) (*Multi, error) {
	if len(cfgs) == 0 {
		cfgs = []config.OutputConfig{{Type: "log"}}
	}
	sinks := make([]Sink, 0, len(cfgs))
	for i, cfg := range cfgs {
		factory, ok := factories[cfg.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("outputs[%d]: unknown output type %q", i, cfg.Type)
		}
		sink, err := factory(cfg, deps)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("outputs[%d]: %w", i, err)
		}
		sinks = append(sinks, sink)
	}
	return NewMulti(sinks, deps), nil
}

func sinkName(cfg config.OutputConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

var _ transmit.Sink = (*Multi)(nil)

func tlsConfig(cfg config.OutputConfig) (*tls.Config, error) {
	tlsCfg, err := certs.ClientConfig(certs.Options{
		CAFile:             cfg.TLS.CAFile,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		ServerName:         cfg.TLS.ServerName,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("%s output tls: %w", cfg.Type, err)
	}
	return tlsCfg, nil
}
