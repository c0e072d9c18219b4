package types

import "time"

// Record is a single emitted measurement, tagged "<tag>_<target>".
type Record struct {
	Tag       string      `json:"tag" yaml:"tag"`
	Timestamp time.Time   `json:"ts" yaml:"ts"`
	ProbeType ProbeType   `json:"probe_type" yaml:"probe_type"`
	Target    string      `json:"target" yaml:"target"`
	RoundID   string      `json:"round_id,omitempty" yaml:"round_id,omitempty"`
	Payload   ProbeResult `json:"payload" yaml:"payload"`
}

// RecordTag builds the tag under which a probe's records are emitted.
func RecordTag(prefix, target string) string {
	return prefix + "_" + target
}

// Envelope batches records for collectors that accept bulk uploads.
type Envelope struct {
	Agent    string            `json:"agent" yaml:"agent"`
	SentAt   time.Time         `json:"sent_at" yaml:"sent_at"`
	BatchSeq uint64            `json:"batch_seq" yaml:"batch_seq"`
	Labels   map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Records  []Record          `json:"records" yaml:"records"`
}
