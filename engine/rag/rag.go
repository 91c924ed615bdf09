// Package rag retrieves source chunks for a query from a vector index,
// optionally re-ranking them so that older content scores lower.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
	"github.com/Scopeo/draftnrun-sub004/pkg/metrics"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the read side of a vector index.
type Searcher interface {
	Search(ctx context.Context, name string, vector []float32, filter semantic.Filter, limit int) ([]semantic.ScoredPoint, error)
	Get(ctx context.Context, name string, ids []string) ([]semantic.Point, error)
}

// Options configures retrieval.
type Options struct {
	TopK int
	// DateField is the payload field read for recency. Empty uses the
	// index schema's recency field.
	DateField      string
	PenaltyPerYear float64
	MaxDecayYears  float64
	// MissingDatePenalty applies to results without a usable date.
	// Nil means the capped penalty, MaxDecayYears*PenaltyPerYear.
	MissingDatePenalty *float64
	// MaxResultsAfterPenalty truncates re-ranked results. Zero keeps K.
	MaxResultsAfterPenalty int
	SearchTimeout          time.Duration
	Metrics                *metrics.Registry
	// Now is the clock used for recency. Nil uses time.Now.
	Now func() time.Time
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:           5,
		PenaltyPerYear: 0.05,
		MaxDecayYears:  5,
		SearchTimeout:  5 * time.Second,
	}
}

// SearchRequest is one retrieval query.
type SearchRequest struct {
	Query  string          `json:"query"`
	Index  string          `json:"index"`
	K      int             `json:"k,omitempty"`
	Filter semantic.Filter `json:"filter,omitempty"`
	// Recency enables the age penalty.
	Recency bool `json:"recency,omitempty"`
}

// Service answers retrieval queries.
type Service struct {
	embed   Embedder
	search  Searcher
	schemas *schema.Registry
	opts    Options
	logger  *slog.Logger
}

// New creates a retrieval Service. A nil registry resolves every index to the default schema.
func New(embed Embedder, search Searcher, schemas *schema.Registry, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if schemas == nil {
		schemas = schema.NewRegistry(domain.DefaultIndexSchema(), logger)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{embed: embed, search: search, schemas: schemas, opts: opts, logger: logger}
}

// Search embeds the query once, runs a similarity search and maps the hits
// back to source chunks. Hits whose payload lacks content are dropped.
func (s *Service) Search(ctx context.Context, req SearchRequest) (out []domain.SourceChunk, err error) {
	started := time.Now()
	ctx, span := otel.Tracer("engine/rag").Start(ctx, "rag.Search")
	span.SetAttributes(attribute.String("index", req.Index), attribute.Bool("recency", req.Recency))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("results", len(out)))
		span.End()
		s.observe(req.Index, len(out), started, err)
	}()

	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewValidationError("query", req.Query, domain.ErrEmptyQuery)
	}
	k := req.K
	if k <= 0 {
		k = s.opts.TopK
	}
	sch := s.schemas.Resolve(req.Index)

	vecs, err := s.embed.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, domain.NewProtocolError("embed query", "got %d vectors for one query", len(vecs))
	}

	searchCtx := ctx
	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}
	hits, err := s.search.Search(searchCtx, req.Index, vecs[0], req.Filter, k)
	if err != nil {
		return nil, fmt.Errorf("rag: search %s: %w", req.Index, err)
	}
	if len(hits) == 0 {
		return []domain.SourceChunk{}, nil
	}

	if req.Recency {
		hits = s.rerank(hits, sch, k)
	}

	ids := fn.Map(hits, func(h semantic.ScoredPoint) string { return h.ID })
	points, err := s.search.Get(searchCtx, req.Index, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: fetch %s: %w", req.Index, err)
	}
	payloads := make(map[string]map[string]any, len(points))
	for _, p := range points {
		payloads[p.ID] = p.Payload
	}

	out = make([]domain.SourceChunk, 0, len(hits))
	for _, h := range hits {
		payload, ok := payloads[h.ID]
		if !ok {
			s.logger.Warn("rag: hit vanished before fetch", "index", req.Index, "point_id", h.ID)
			continue
		}
		chunk, err := schema.ToSourceChunk(sch, payload, h.Score)
		if err != nil {
			s.logger.Warn("rag: dropping result", "index", req.Index, "point_id", h.ID, "err", err)
			continue
		}
		out = append(out, chunk)
	}
	s.logger.Info("rag: search done", "index", req.Index, "hits", len(hits), "results", len(out))
	return out, nil
}

// SearchAsync starts Search on its own goroutine.
func (s *Service) SearchAsync(ctx context.Context, req SearchRequest) *fn.Future[[]domain.SourceChunk] {
	return fn.Go(ctx, func(ctx context.Context) ([]domain.SourceChunk, error) {
		return s.Search(ctx, req)
	})
}

// rerank applies the recency penalty and truncates to MaxResultsAfterPenalty,
// or k when that is unset. Without a resolvable date field scores are left
// alone but the truncation still applies.
func (s *Service) rerank(hits []semantic.ScoredPoint, sch domain.IndexSchema, k int) []semantic.ScoredPoint {
	field := s.opts.DateField
	if field == "" {
		field = sch.RecencyTimestampField
	}
	if field == "" {
		s.logger.Debug("rag: recency requested but no date field configured")
	} else {
		missing := s.opts.MaxDecayYears * s.opts.PenaltyPerYear
		if s.opts.MissingDatePenalty != nil {
			missing = *s.opts.MissingDatePenalty
		}
		applyRecency(hits, field, s.opts.Now(), s.opts.PenaltyPerYear, s.opts.MaxDecayYears, missing)
	}

	limit := s.opts.MaxResultsAfterPenalty
	if limit <= 0 {
		limit = k
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (s *Service) observe(index string, results int, started time.Time, err error) {
	reg := s.opts.Metrics
	if reg == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	reg.Counter(metrics.WithLabels("draftnrun_search_total", "index", index, "outcome", outcome), "Retrieval queries").Inc()
	reg.Histogram(metrics.WithLabels("draftnrun_search_duration_seconds", "index", index), "Retrieval latency", nil).Since(started)
	reg.Histogram("draftnrun_search_results", "Results returned per query", []float64{0, 1, 2, 5, 10, 20, 50}).Observe(float64(results))
}

// ContextParts formats chunks as numbered citation blocks for a prompt.
func ContextParts(chunks []domain.SourceChunk) []string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		src := c.DocumentName
		if c.URL != "" {
			src = c.URL
		}
		parts = append(parts, fmt.Sprintf("[%d] %s (source: %s, score: %.3f)\n%s", i+1, c.Name, src, c.Score, c.Content))
	}
	return parts
}
