package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSink posts batches as an Envelope to a collector URL.
type HTTPSink struct {
	name       string
	httpClient *http.Client
	url        string
	token      string
	agent      string
	labels     map[string]string
	now        func() time.Time
	seq        atomic.Uint64
}

func newHTTPSink(cfg config.OutputConfig, deps Dependencies) (Sink, error) {
	client := deps.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
		tlsCfg, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			client.Transport = &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsCfg,
			}
		}
	}
	return NewHTTPSink(sinkName(cfg), cfg.URL, cfg.Token, client, deps)
}

func NewHTTPSink(name, url, token string, client *http.Client, deps Dependencies) (*HTTPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("http output requires a url")
	}
	if client == nil {
		return nil, fmt.Errorf("HTTP client is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPSink{
		name:       name,
		httpClient: client,
		url:        url,
		token:      token,
		agent:      deps.Agent,
		labels:     cloneLabels(deps.Labels),
		now:        now,
	}, nil
}

func (s *HTTPSink) Name() string { return s.name }

func (s *HTTPSink) Send(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	envelope := types.Envelope{
		Agent:    s.agent,
		SentAt:   s.now().UTC(),
		BatchSeq: s.seq.Add(1),
		Labels:   cloneLabels(s.labels),
		Records:  records,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "netprobe")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send records: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("records upload failed: status %s", resp.Status)
	}
	return nil
}

func (s *HTTPSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
