package output

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// InfluxSink writes one point per record: the measurement is the record
// tag and every present metric becomes a field.
type InfluxSink struct {
	name     string
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	agent    string
	labels   map[string]string
}

func newInfluxSink(cfg config.OutputConfig, deps Dependencies) (Sink, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	if deps.HTTPClient != nil {
		opts.SetHTTPClient(deps.HTTPClient)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		name:     sinkName(cfg),
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		agent:    deps.Agent,
		labels:   cloneLabels(deps.Labels),
	}, nil
}

func (s *InfluxSink) Name() string { return s.name }

func (s *InfluxSink) Send(ctx context.Context, records []types.Record) error {
	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		// A point without fields is rejected by the server.
		if len(rec.Payload) == 0 {
			continue
		}
		points = append(points, s.point(rec))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

func (s *InfluxSink) point(rec types.Record) *write.Point {
	tags := make(map[string]string, len(s.labels)+3)
	for k, v := range s.labels {
		tags[k] = v
	}
	tags["probe_type"] = string(rec.ProbeType)
	tags["target"] = rec.Target
	if s.agent != "" {
		tags["agent"] = s.agent
	}
	return influxdb2.NewPoint(rec.Tag, tags, rec.Payload.Fields(), rec.Timestamp)
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
