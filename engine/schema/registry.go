// Package schema resolves per-index field mappings and converts between chunk
// records and index payloads.
package schema

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// Registry holds per-index schema overrides on top of a default schema.
// It is constructed once at startup and shared by reference.
type Registry struct {
	mu        sync.RWMutex
	def       domain.IndexSchema
	overrides map[string]domain.IndexSchema
	logger    *slog.Logger
}

// NewRegistry creates a Registry falling back to def for unregistered indexes.
func NewRegistry(def domain.IndexSchema, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		def:       def.WithDefaults(),
		overrides: make(map[string]domain.IndexSchema),
		logger:    logger,
	}
	r.warn("", r.def)
	return r
}

// Register stores the schema for index. Last write wins; schemas are never merged.
func (r *Registry) Register(index string, s domain.IndexSchema) {
	s = s.WithDefaults()
	r.warn(index, s)
	r.mu.Lock()
	r.overrides[index] = s
	r.mu.Unlock()
}

// Load registers every entry of m.
func (r *Registry) Load(m map[string]domain.IndexSchema) {
	for name, s := range m {
		r.Register(name, s)
	}
}

// Resolve returns the override for index or the default schema.
func (r *Registry) Resolve(index string) domain.IndexSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.overrides[index]; ok {
		return s
	}
	return r.def
}

// Default returns the fallback schema.
func (r *Registry) Default() domain.IndexSchema {
	return r.def
}

// Indexes returns the names with an explicit override, sorted.
func (r *Registry) Indexes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.overrides))
	for name := range r.overrides {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) warn(index string, s domain.IndexSchema) {
	for _, w := range s.Warnings() {
		r.logger.Warn("schema: field name not normalized", "index", index, "err", w)
	}
}
