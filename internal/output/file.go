package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pingsantohq/netprobe/internal/config"
	"github.com/pingsantohq/netprobe/pkg/types"
)

// FileSink appends records as JSON lines.
type FileSink struct {
	name string
	mu   sync.Mutex
	f    *os.File
}

func newFileSink(cfg config.OutputConfig, deps Dependencies) (Sink, error) {
	return NewFileSink(sinkName(cfg), cfg.Path)
}

func NewFileSink(name, path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file output requires a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure output dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open output %q: %w", path, err)
	}
	return &FileSink{name: name, f: f}, nil
}

func (s *FileSink) Name() string { return s.name }

// Send writes the whole batch with a single write so concurrent readers
// never observe a partial line.
func (s *FileSink) Send(ctx context.Context, records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("file output %s is closed", s.name)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Tag, err)
		}
	}
	if _, err := s.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", s.f.Name(), err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
