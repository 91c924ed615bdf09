package domain

import (
	"fmt"
	"regexp"
)

var normalizedField = regexp.MustCompile(`^[a-z0-9_]+$`)

// IndexSchema maps chunk record fields to index payload attributes.
type IndexSchema struct {
	ChunkIDField          string   `json:"chunk_id_field" yaml:"chunk_id_field"`
	ContentField          string   `json:"content_field" yaml:"content_field"`
	FileIDField           string   `json:"file_id_field" yaml:"file_id_field"`
	URLField              string   `json:"url_field,omitempty" yaml:"url_field"`
	RecencyTimestampField string   `json:"last_edited_ts_field,omitempty" yaml:"last_edited_ts_field"`
	MetadataFieldsToKeep  []string `json:"metadata_fields_to_keep,omitempty" yaml:"metadata_fields_to_keep"`
}

// DefaultIndexSchema returns the process-wide default mapping.
func DefaultIndexSchema() IndexSchema {
	return IndexSchema{
		ChunkIDField: "chunk_id",
		ContentField: "content",
		FileIDField:  "file_id",
		URLField:     "url",
	}
}

// HasRecency reports whether a freshness field is configured.
func (s IndexSchema) HasRecency() bool { return s.RecencyTimestampField != "" }

// KeepsMetadata reports whether key is in the metadata allow-list.
func (s IndexSchema) KeepsMetadata(key string) bool {
	for _, k := range s.MetadataFieldsToKeep {
		if k == key {
			return true
		}
	}
	return false
}

// WithDefaults fills empty required field names from DefaultIndexSchema.
func (s IndexSchema) WithDefaults() IndexSchema {
	def := DefaultIndexSchema()
	if s.ChunkIDField == "" {
		s.ChunkIDField = def.ChunkIDField
	}
	if s.ContentField == "" {
		s.ContentField = def.ContentField
	}
	if s.FileIDField == "" {
		s.FileIDField = def.FileIDField
	}
	return s
}

// Warnings returns one ValidationError per field name that is not normalized
// lower snake case. Callers log these; they never reject the schema.
func (s IndexSchema) Warnings() []error {
	named := []struct{ field, value string }{
		{"chunk_id_field", s.ChunkIDField},
		{"content_field", s.ContentField},
		{"file_id_field", s.FileIDField},
		{"url_field", s.URLField},
		{"last_edited_ts_field", s.RecencyTimestampField},
	}
	for _, m := range s.MetadataFieldsToKeep {
		named = append(named, struct{ field, value string }{"metadata_fields_to_keep", m})
	}
	var out []error
	for _, n := range named {
		if n.value != "" && !normalizedField.MatchString(n.value) {
			out = append(out, NewValidationError(n.field, n.value, ErrNonNormalizedField))
		}
	}
	return out
}

// Mapping returns the plain-mapping form used to persist the schema.
func (s IndexSchema) Mapping() map[string]any {
	m := map[string]any{
		"chunk_id_field": s.ChunkIDField,
		"content_field":  s.ContentField,
		"file_id_field":  s.FileIDField,
	}
	if s.URLField != "" {
		m["url_field"] = s.URLField
	}
	if s.RecencyTimestampField != "" {
		m["last_edited_ts_field"] = s.RecencyTimestampField
	}
	keep := make([]string, len(s.MetadataFieldsToKeep))
	copy(keep, s.MetadataFieldsToKeep)
	m["metadata_fields_to_keep"] = keep
	return m
}

// SchemaFromMapping rebuilds an IndexSchema from its plain-mapping form.
// Missing required names fall back to the defaults.
func SchemaFromMapping(m map[string]any) (IndexSchema, error) {
	var s IndexSchema
	str := func(key string) (string, error) {
		v, ok := m[key]
		if !ok || v == nil {
			return "", nil
		}
		sv, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("domain: schema mapping %s: expected string, got %T", key, v)
		}
		return sv, nil
	}
	var err error
	if s.ChunkIDField, err = str("chunk_id_field"); err != nil {
		return s, err
	}
	if s.ContentField, err = str("content_field"); err != nil {
		return s, err
	}
	if s.FileIDField, err = str("file_id_field"); err != nil {
		return s, err
	}
	if s.URLField, err = str("url_field"); err != nil {
		return s, err
	}
	if s.RecencyTimestampField, err = str("last_edited_ts_field"); err != nil {
		return s, err
	}
	switch keep := m["metadata_fields_to_keep"].(type) {
	case nil:
	case []string:
		s.MetadataFieldsToKeep = append(s.MetadataFieldsToKeep, keep...)
	case []any:
		for i, k := range keep {
			ks, ok := k.(string)
			if !ok {
				return s, fmt.Errorf("domain: schema mapping metadata_fields_to_keep[%d]: expected string, got %T", i, k)
			}
			s.MetadataFieldsToKeep = append(s.MetadataFieldsToKeep, ks)
		}
	default:
		return s, fmt.Errorf("domain: schema mapping metadata_fields_to_keep: expected list, got %T", keep)
	}
	return s.WithDefaults(), nil
}
