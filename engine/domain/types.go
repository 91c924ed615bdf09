// Package domain defines the core record, schema and result types shared by the
// sync and retrieval engines, together with the error taxonomy they report.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChunkRecord is one retrievable content unit owned by the external store.
type ChunkRecord struct {
	ChunkID          string         `json:"chunk_id"`
	Content          string         `json:"content"`
	FileID           string         `json:"file_id"`
	URL              string         `json:"url,omitempty"`
	RecencyTimestamp *time.Time     `json:"recency_timestamp,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// HasContent reports whether the record carries non-blank content.
func (r ChunkRecord) HasContent() bool {
	return strings.TrimSpace(r.Content) != ""
}

// IndexPoint is the persisted unit inside the vector index.
type IndexPoint struct {
	PointID string
	Vector  []float32
	Payload map[string]any
}

// SourceChunk is a retrieved citation mapped back from an index payload.
type SourceChunk struct {
	Name         string         `json:"name"`
	DocumentName string         `json:"document_name"`
	Content      string         `json:"content"`
	URL          string         `json:"url,omitempty"`
	Score        float32        `json:"score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SyncResult summarises one sync invocation. It is never persisted.
// Deleted counts chunk ids whose points were removed and not rewritten.
type SyncResult struct {
	Success         bool `json:"success"`
	FinalPointCount int  `json:"final_point_count"`
	// NoOp is set when the snapshot was empty and nothing was attempted.
	NoOp          bool `json:"no_op,omitempty"`
	Added         int  `json:"added"`
	Refreshed     int  `json:"refreshed"`
	Deleted       int  `json:"deleted"`
	Skipped       int  `json:"skipped"`
	FailedBatches int  `json:"failed_batches"`
}

// SyncMode selects how batch-level failures are handled.
type SyncMode int

const (
	// ModeStrict aborts the whole sync on the first failed batch.
	ModeStrict SyncMode = iota
	// ModeBestEffort logs and skips failed batches and reports success=false.
	ModeBestEffort
)

func (m SyncMode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// ParseSyncMode parses "strict" or "best_effort" (also "best-effort").
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "best_effort", "best-effort", "besteffort":
		return ModeBestEffort, nil
	default:
		return ModeStrict, fmt.Errorf("domain: unknown sync mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m SyncMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SyncMode) UnmarshalText(b []byte) error {
	v, err := ParseSyncMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
