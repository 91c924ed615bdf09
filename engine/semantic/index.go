// Package semantic is the boundary to the vector index. Index is the uniform
// contract; QdrantStore talks to Qdrant over gRPC and MemoryIndex keeps points
// in process.
package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// Index exposes the vector index primitives. Implementations never retry;
// failures surface as *domain.TransportError or *domain.ProtocolError.
type Index interface {
	Exists(ctx context.Context, name string) (bool, error)
	// Create returns false without error when the collection already exists.
	Create(ctx context.Context, name string, vectorSize int, distance Distance) (bool, error)
	// Drop returns false without error when the collection is absent.
	Drop(ctx context.Context, name string) (bool, error)
	// EnsureFieldIndex indexes a payload field for filtering. Repeating the
	// call for the same field and kind is a no-op.
	EnsureFieldIndex(ctx context.Context, name, field string, kind FieldKind) error
	Count(ctx context.Context, name string, filter Filter) (int, error)
	// FetchByFilter pages through every point matching filter. When fields is
	// non-empty only those payload keys are returned.
	FetchByFilter(ctx context.Context, name string, filter Filter, fields []string) ([]Point, error)
	Get(ctx context.Context, name string, ids []string) ([]Point, error)
	Upsert(ctx context.Context, name string, points []domain.IndexPoint) (bool, error)
	Delete(ctx context.Context, name string, ids []string) (bool, error)
	Search(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]ScoredPoint, error)
}

// Point is a raw point read back from the index.
type Point struct {
	ID      string
	Payload map[string]any
}

// ScoredPoint is a raw similarity search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter restricts points by payload. A string value is a keyword match, a
// []string matches any of the keywords, integers and bools match exactly.
// All entries must hold.
type Filter map[string]any

// FieldKind is the value type a payload index is built for.
type FieldKind int

const (
	KeywordField FieldKind = iota
	IntegerField
	FloatField
	BoolField
)

func (k FieldKind) String() string {
	switch k {
	case IntegerField:
		return "integer"
	case FloatField:
		return "float"
	case BoolField:
		return "bool"
	default:
		return "keyword"
	}
}

// KindOf returns the index kind matching a payload value. Anything that is
// not a number or a bool is indexed as a keyword.
func KindOf(v any) FieldKind {
	switch v.(type) {
	case int, int32, int64:
		return IntegerField
	case float32, float64:
		return FloatField
	case bool:
		return BoolField
	default:
		return KeywordField
	}
}

// Distance is the similarity metric of a collection.
type Distance int

const (
	Cosine Distance = iota
	Dot
	Euclid
	Manhattan
)

func (d Distance) String() string {
	switch d {
	case Cosine:
		return "cosine"
	case Dot:
		return "dot"
	case Euclid:
		return "euclid"
	case Manhattan:
		return "manhattan"
	default:
		return "unknown"
	}
}

// ParseDistance parses a distance metric name.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "dot":
		return Dot, nil
	case "euclid", "euclidean":
		return Euclid, nil
	case "manhattan":
		return Manhattan, nil
	default:
		return Cosine, fmt.Errorf("semantic: unknown distance %q", s)
	}
}
