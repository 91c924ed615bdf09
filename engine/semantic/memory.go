package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// MemoryIndex is an in-process Index using brute-force similarity. It is safe
// for concurrent use and intended for tests and dry runs.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	size     int
	distance Distance
	fields   map[string]FieldKind
	points   map[string]domain.IndexPoint
}

var _ Index = (*MemoryIndex)(nil)

// NewMemory creates an empty MemoryIndex.
func NewMemory() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memCollection)}
}

func (m *MemoryIndex) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, domain.NewTransportError("collection "+name, fmt.Errorf("collection %q not found", name))
	}
	return c, nil
}

// Exists reports whether the collection exists.
func (m *MemoryIndex) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// Create creates the collection.
func (m *MemoryIndex) Create(_ context.Context, name string, vectorSize int, distance Distance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return false, nil
	}
	m.collections[name] = &memCollection{
		size:     vectorSize,
		distance: distance,
		fields:   make(map[string]FieldKind),
		points:   make(map[string]domain.IndexPoint),
	}
	return true, nil
}

// Drop deletes the collection.
func (m *MemoryIndex) Drop(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return false, nil
	}
	delete(m.collections, name)
	return true, nil
}

// EnsureFieldIndex records field as indexed with kind.
func (m *MemoryIndex) EnsureFieldIndex(_ context.Context, name, field string, kind FieldKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	c.fields[field] = kind
	return nil
}

// FieldIndexes returns the indexed payload fields of a collection, sorted.
func (m *MemoryIndex) FieldIndexes(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.fields))
	for f := range c.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IndexedKind returns the kind field was indexed with.
func (m *MemoryIndex) IndexedKind(name, field string) (FieldKind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return KeywordField, false
	}
	k, ok := c.fields[field]
	return k, ok
}

// Count returns the number of points matching filter.
func (m *MemoryIndex) Count(_ context.Context, name string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range c.points {
		if matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

// FetchByFilter returns every point matching filter, ordered by id.
func (m *MemoryIndex) FetchByFilter(_ context.Context, name string, filter Filter, fields []string) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	var out []Point
	for _, p := range c.points {
		if matches(p.Payload, filter) {
			out = append(out, Point{ID: p.PointID, Payload: project(p.Payload, fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the points with the given ids; unknown ids are ignored.
func (m *MemoryIndex) Get(_ context.Context, name string, ids []string) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			out = append(out, Point{ID: id, Payload: project(p.Payload, nil)})
		}
	}
	return out, nil
}

// Upsert stores points, replacing any with the same id.
func (m *MemoryIndex) Upsert(_ context.Context, name string, points []domain.IndexPoint) (bool, error) {
	if len(points) == 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return false, err
	}
	for _, p := range points {
		if c.size > 0 && len(p.Vector) != c.size {
			return false, domain.NewTransportError("upsert", fmt.Errorf("vector size %d, collection expects %d", len(p.Vector), c.size))
		}
	}
	for _, p := range points {
		c.points[p.PointID] = domain.IndexPoint{
			PointID: p.PointID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: project(p.Payload, nil),
		}
	}
	return true, nil
}

// Delete removes points by id.
func (m *MemoryIndex) Delete(_ context.Context, name string, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, domain.NewValidationError("point_ids", name, domain.ErrEmptyIDs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return true, nil
}

// Search scores every matching point against vector and returns the top limit.
func (m *MemoryIndex) Search(_ context.Context, name string, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	var out []ScoredPoint
	for _, p := range c.points {
		if !matches(p.Payload, filter) {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      p.PointID,
			Score:   score(c.distance, vector, p.Vector),
			Payload: project(p.Payload, nil),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(payload map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []string:
			found := false
			for _, s := range w {
				if fmt.Sprint(got) == s {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(w) {
				return false
			}
		}
	}
	return true
}

func project(payload map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := payload[f]; ok {
			out[f] = v
		}
	}
	return out
}

func score(d Distance, a, b []float32) float32 {
	n := min(len(a), len(b))
	switch d {
	case Dot:
		var dot float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(dot)
	case Euclid:
		var sum float64
		for i := 0; i < n; i++ {
			diff := float64(a[i] - b[i])
			sum += diff * diff
		}
		return float32(-math.Sqrt(sum))
	case Manhattan:
		var sum float64
		for i := 0; i < n; i++ {
			sum += math.Abs(float64(a[i] - b[i]))
		}
		return float32(-sum)
	default:
		var dot, na, nb float64
		for i := 0; i < n; i++ {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
}
