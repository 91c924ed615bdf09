// Package snapshot loads authoritative chunk snapshots from files or a
// relational table.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// Source produces a full snapshot of the records that should be indexed.
type Source interface {
	Load(ctx context.Context) ([]domain.ChunkRecord, error)
}

const maxLine = 16 << 20

// FileSource reads a JSON Lines file with one ChunkRecord per line.
type FileSource struct {
	Path string
}

// Load reads the whole file. Blank lines are ignored.
func (f FileSource) Load(ctx context.Context) ([]domain.ChunkRecord, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", f.Path, err)
	}
	defer fh.Close()
	recs, err := Decode(ctx, fh)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", f.Path, err)
	}
	return recs, nil
}

// Decode reads JSON Lines records from r.
func Decode(ctx context.Context, r io.Reader) ([]domain.ChunkRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	var out []domain.ChunkRecord
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec domain.ChunkRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ChunkID == "" {
			return nil, fmt.Errorf("line %d: %w", line, domain.NewValidationError("chunk_id", "", domain.ErrEmptyIDs))
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode writes records as JSON Lines.
func Encode(w io.Writer, recs []domain.ChunkRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
