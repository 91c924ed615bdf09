package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		in   string
		want SyncMode
		err  bool
	}{
		{"", ModeStrict, false},
		{"strict", ModeStrict, false},
		{"STRICT", ModeStrict, false},
		{"best_effort", ModeBestEffort, false},
		{"best-effort", ModeBestEffort, false},
		{"lenient", ModeStrict, true},
	}
	for _, tt := range tests {
		got, err := ParseSyncMode(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseSyncMode(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSyncMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSyncModeText(t *testing.T) {
	var m SyncMode
	if err := m.UnmarshalText([]byte("best_effort")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	b, _ := m.MarshalText()
	if string(b) != "best_effort" {
		t.Fatalf("MarshalText = %s", b)
	}
	if SyncMode(9).String() != "unknown" {
		t.Error("expected unknown")
	}
}

func TestHasContent(t *testing.T) {
	if (ChunkRecord{Content: "  \n\t"}).HasContent() {
		t.Error("whitespace content must not count")
	}
	if !(ChunkRecord{Content: " x "}).HasContent() {
		t.Error("expected content")
	}
}

func TestErrorsIs(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = fmt.Errorf("syncer: upsert: %w", NewTransportError("upsert", cause))
	if !errors.Is(err, ErrTransport) {
		t.Error("expected ErrTransport")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("transport error must not match ErrProtocol")
	}
	if !IsBatchFailure(err) {
		t.Error("expected batch failure")
	}

	perr := NewProtocolError("count", "missing result")
	if !errors.Is(perr, ErrProtocol) || !strings.Contains(perr.Error(), "missing result") {
		t.Errorf("unexpected protocol error: %v", perr)
	}

	verr := NewValidationError("content", "c1", ErrMissingContent)
	if !errors.Is(verr, ErrMissingContent) {
		t.Error("expected ErrMissingContent")
	}
	if IsBatchFailure(verr) {
		t.Error("validation error is not a batch failure")
	}
}

func TestSchemaWarnings(t *testing.T) {
	s := DefaultIndexSchema()
	if w := s.Warnings(); len(w) != 0 {
		t.Fatalf("default schema should be clean, got %v", w)
	}
	s.ContentField = "Content"
	s.MetadataFieldsToKeep = []string{"page", "Last-Modified"}
	w := s.Warnings()
	if len(w) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(w))
	}
	for _, e := range w {
		if !errors.Is(e, ErrNonNormalizedField) {
			t.Errorf("unexpected warning %v", e)
		}
	}
}

func TestSchemaMappingRoundTrip(t *testing.T) {
	s := IndexSchema{
		ChunkIDField:          "id",
		ContentField:          "text",
		FileIDField:           "doc",
		URLField:              "link",
		RecencyTimestampField: "updated_at",
		MetadataFieldsToKeep:  []string{"b", "a"},
	}
	got, err := SchemaFromMapping(s.Mapping())
	if err != nil {
		t.Fatalf("SchemaFromMapping: %v", err)
	}
	if got.ChunkIDField != "id" || got.RecencyTimestampField != "updated_at" || got.URLField != "link" {
		t.Errorf("unexpected schema %+v", got)
	}
	if len(got.MetadataFieldsToKeep) != 2 || got.MetadataFieldsToKeep[0] != "b" {
		t.Errorf("metadata order lost: %v", got.MetadataFieldsToKeep)
	}
}

func TestSchemaFromMapping_JSONShape(t *testing.T) {
	got, err := SchemaFromMapping(map[string]any{
		"content_field":           "body",
		"metadata_fields_to_keep": []any{"page"},
	})
	if err != nil {
		t.Fatalf("SchemaFromMapping: %v", err)
	}
	if got.ChunkIDField != "chunk_id" || got.ContentField != "body" {
		t.Errorf("defaults not applied: %+v", got)
	}
	if !got.KeepsMetadata("page") || got.KeepsMetadata("other") {
		t.Errorf("unexpected allow-list %v", got.MetadataFieldsToKeep)
	}
}

func TestSchemaFromMapping_BadTypes(t *testing.T) {
	if _, err := SchemaFromMapping(map[string]any{"content_field": 3}); err == nil {
		t.Error("expected error for non-string field")
	}
	if _, err := SchemaFromMapping(map[string]any{"metadata_fields_to_keep": "page"}); err == nil {
		t.Error("expected error for non-list metadata")
	}
	if _, err := SchemaFromMapping(map[string]any{"metadata_fields_to_keep": []any{1}}); err == nil {
		t.Error("expected error for non-string metadata entry")
	}
}
