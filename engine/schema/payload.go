package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// TimeLayouts are the accepted encodings for timestamps read back from payloads.
var TimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ToPayload maps a record through s. Metadata outside the allow-list is dropped.
func ToPayload(s domain.IndexSchema, r domain.ChunkRecord) map[string]any {
	p := map[string]any{
		s.ChunkIDField: r.ChunkID,
		s.ContentField: r.Content,
		s.FileIDField:  r.FileID,
	}
	if s.URLField != "" && r.URL != "" {
		p[s.URLField] = r.URL
	}
	if s.HasRecency() && r.RecencyTimestamp != nil {
		p[s.RecencyTimestampField] = r.RecencyTimestamp.UTC().Format(time.RFC3339Nano)
	}
	for _, key := range s.MetadataFieldsToKeep {
		v, ok := r.Metadata[key]
		if !ok || v == nil {
			continue
		}
		if _, taken := p[key]; taken {
			continue
		}
		p[key] = scalar(v)
	}
	return p
}

// scalar keeps strings, bools and numbers and stringifies anything else.
func scalar(v any) any {
	switch tv := v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return tv
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return tv.String()
	default:
		return fmt.Sprint(tv)
	}
}

// ChunkID reads the business id from a payload.
func ChunkID(s domain.IndexSchema, payload map[string]any) (string, bool) {
	v, ok := payload[s.ChunkIDField]
	if !ok || v == nil {
		return "", false
	}
	id := fmt.Sprint(v)
	return id, id != ""
}

// Recency reads the freshness timestamp from a payload.
func Recency(s domain.IndexSchema, payload map[string]any) (time.Time, bool) {
	if !s.HasRecency() {
		return time.Time{}, false
	}
	return ParseTime(payload[s.RecencyTimestampField])
}

// ParseTime accepts time.Time, unix seconds or any of TimeLayouts.
func ParseTime(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, !tv.IsZero()
	case int64:
		return time.Unix(tv, 0).UTC(), true
	case int:
		return time.Unix(int64(tv), 0).UTC(), true
	case float64:
		return time.Unix(int64(tv), 0).UTC(), true
	case string:
		s := strings.TrimSpace(tv)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range TimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ToSourceChunk maps a payload back into a citation. A payload without content
// yields an ErrMissingContent validation error.
func ToSourceChunk(s domain.IndexSchema, payload map[string]any, score float32) (domain.SourceChunk, error) {
	content, _ := payload[s.ContentField].(string)
	id, _ := ChunkID(s, payload)
	if strings.TrimSpace(content) == "" {
		return domain.SourceChunk{}, domain.NewValidationError(s.ContentField, id, domain.ErrMissingContent)
	}
	sc := domain.SourceChunk{
		Name:     id,
		Content:  content,
		Score:    score,
		Metadata: make(map[string]any),
	}
	if v, ok := payload[s.FileIDField]; ok && v != nil {
		sc.DocumentName = fmt.Sprint(v)
	}
	if s.URLField != "" {
		if u, ok := payload[s.URLField].(string); ok {
			sc.URL = u
		}
	}
	for _, key := range s.MetadataFieldsToKeep {
		if v, ok := payload[key]; ok {
			sc.Metadata[key] = v
		}
	}
	return sc, nil
}
