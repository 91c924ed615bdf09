package ingest

import (
	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/snapshot"
)

// SQLRef points a job at a table in a SQLite database file.
type SQLRef struct {
	Path    string           `json:"path"`
	Table   string           `json:"table"`
	Columns snapshot.Columns `json:"columns"`
	Where   string           `json:"where,omitempty"`
}

// SourceRef names where a job's snapshot is read from. Exactly one of File
// or SQL is set.
type SourceRef struct {
	File string  `json:"file,omitempty"`
	SQL  *SQLRef `json:"sql,omitempty"`
}

// SyncRequest asks a worker to bring Index in line with a snapshot. The
// snapshot is either inline in Records or loaded from Source.
type SyncRequest struct {
	ID      string               `json:"id"`
	Index   string               `json:"index"`
	Mode    domain.SyncMode      `json:"mode"`
	Records []domain.ChunkRecord `json:"records,omitempty"`
	Source  *SourceRef           `json:"source,omitempty"`
}

// SyncReply is published for every processed request.
type SyncReply struct {
	ID       string            `json:"id"`
	Index    string            `json:"index"`
	Result   domain.SyncResult `json:"result"`
	Error    string            `json:"error,omitempty"`
	Attempts int               `json:"attempts"`
}

// DLQMessage is published when a request still fails after every attempt.
type DLQMessage struct {
	Request  SyncRequest `json:"request"`
	Error    string      `json:"error"`
	Attempts int         `json:"attempts"`
}

// loaded is a request with its snapshot resolved.
type loaded struct {
	req     SyncRequest
	records []domain.ChunkRecord
}
