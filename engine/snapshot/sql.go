package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
)

// Columns maps table columns onto ChunkRecord fields. URL, Recency and
// Metadata are optional.
type Columns struct {
	ChunkID  string   `yaml:"chunk_id"`
	Content  string   `yaml:"content"`
	FileID   string   `yaml:"file_id"`
	URL      string   `yaml:"url"`
	Recency  string   `yaml:"recency"`
	Metadata []string `yaml:"metadata"`
}

// DefaultColumns uses the record field names as column names.
func DefaultColumns() Columns {
	return Columns{ChunkID: "chunk_id", Content: "content", FileID: "file_id"}
}

// SQLSource reads a snapshot from one table.
type SQLSource struct {
	db    *sql.DB
	table string
	cols  Columns
	// Where is an optional SQL predicate appended to the query.
	Where string
}

// NewSQLSource creates a source reading table through db.
func NewSQLSource(db *sql.DB, table string, cols Columns) *SQLSource {
	def := DefaultColumns()
	if cols.ChunkID == "" {
		cols.ChunkID = def.ChunkID
	}
	if cols.Content == "" {
		cols.Content = def.Content
	}
	if cols.FileID == "" {
		cols.FileID = def.FileID
	}
	return &SQLSource{db: db, table: table, cols: cols}
}

// OpenSQLite opens a SQLite database file read through the pure-Go driver.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite %s: %w", path, err)
	}
	return db, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (s *SQLSource) query() string {
	cols := []string{s.cols.ChunkID, s.cols.Content, s.cols.FileID}
	if s.cols.URL != "" {
		cols = append(cols, s.cols.URL)
	}
	if s.cols.Recency != "" {
		cols = append(cols, s.cols.Recency)
	}
	cols = append(cols, s.cols.Metadata...)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(s.table))
	if s.Where != "" {
		q += " WHERE " + s.Where
	}
	return q + " ORDER BY " + quoteIdent(s.cols.ChunkID)
}

// Load runs the snapshot query.
func (s *SQLSource) Load(ctx context.Context) ([]domain.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.query())
	if err != nil {
		return nil, fmt.Errorf("snapshot: query %s: %w", s.table, err)
	}
	defer rows.Close()

	n := 3 + len(s.cols.Metadata)
	if s.cols.URL != "" {
		n++
	}
	if s.cols.Recency != "" {
		n++
	}
	var out []domain.ChunkRecord
	for rows.Next() {
		vals := make([]any, n)
		ptrs := make([]any, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("snapshot: scan %s: %w", s.table, err)
		}
		out = append(out, s.record(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: rows %s: %w", s.table, err)
	}
	return out, nil
}

func (s *SQLSource) record(vals []any) domain.ChunkRecord {
	r := domain.ChunkRecord{
		ChunkID: text(vals[0]),
		Content: text(vals[1]),
		FileID:  text(vals[2]),
	}
	i := 3
	if s.cols.URL != "" {
		r.URL = text(vals[i])
		i++
	}
	if s.cols.Recency != "" {
		if ts, ok := timestamp(vals[i]); ok {
			r.RecencyTimestamp = &ts
		}
		i++
	}
	if len(s.cols.Metadata) > 0 {
		r.Metadata = make(map[string]any, len(s.cols.Metadata))
		for _, c := range s.cols.Metadata {
			if v := vals[i]; v != nil {
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				r.Metadata[c] = v
			}
			i++
		}
	}
	return r
}

func text(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case []byte:
		return string(tv)
	default:
		return fmt.Sprint(tv)
	}
}

func timestamp(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case []byte:
		return schema.ParseTime(string(tv))
	default:
		return schema.ParseTime(tv)
	}
}
