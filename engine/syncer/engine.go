// Package syncer keeps a vector index in parity with an authoritative
// snapshot of chunk records.
//
// A sync computes a Plan (deletions, additions, stale refreshes), applies the
// deletions first and the upserts second, then re-counts the index. Failed
// batches either abort the run (strict) or are logged and skipped
// (best-effort). Nothing is rolled back; a count mismatch is reported in the
// result, never raised.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/pointid"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
)

// DefaultMutationBatchSize is the number of records per upsert or delete call.
const DefaultMutationBatchSize = 50

// Embedder turns a batch of texts into one vector per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Locker serialises syncs of the same index across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Options configures an Engine.
type Options struct {
	MutationBatchSize int
	// VectorSize and Distance are used when the collection must be created.
	VectorSize int
	Distance   semantic.Distance
	// EmbedAhead bounds how many upsert batches are embedded in advance,
	// concurrently with the delete phase.
	EmbedAhead int
	// Locker is optional. Without it concurrent syncs of one index race.
	Locker  Locker
	Metrics *Metrics
	Logger  *slog.Logger
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MutationBatchSize: DefaultMutationBatchSize,
		Distance:          semantic.Cosine,
		EmbedAhead:        2,
	}
}

// Engine synchronises snapshots into a semantic.Index.
type Engine struct {
	index   semantic.Index
	embed   Embedder
	schemas *schema.Registry
	opts    Options
	logger  *slog.Logger
}

// New creates an Engine. A nil registry resolves every index to the default schema.
func New(index semantic.Index, embed Embedder, schemas *schema.Registry, opts Options) *Engine {
	if opts.MutationBatchSize <= 0 {
		opts.MutationBatchSize = DefaultMutationBatchSize
	}
	if opts.EmbedAhead <= 0 {
		opts.EmbedAhead = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if schemas == nil {
		schemas = schema.NewRegistry(domain.DefaultIndexSchema(), logger)
	}
	return &Engine{index: index, embed: embed, schemas: schemas, opts: opts, logger: logger}
}

// Sync brings index in line with snapshot.
//
// An empty snapshot is a no-op: the index is left untouched and the result
// has NoOp and Success set. Duplicate chunk ids keep their first occurrence.
// In strict mode the first failed batch is returned as the error; mutations
// applied before it stay applied.
func (e *Engine) Sync(ctx context.Context, snapshot []domain.ChunkRecord, index string, mode domain.SyncMode) (res domain.SyncResult, err error) {
	started := time.Now()
	ctx, span := otel.Tracer("engine/syncer").Start(ctx, "syncer.Sync")
	span.SetAttributes(
		attribute.String("index", index),
		attribute.String("mode", mode.String()),
		attribute.Int("snapshot.size", len(snapshot)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Bool("success", res.Success),
				attribute.Int("final_point_count", res.FinalPointCount),
			)
		}
		span.End()
		e.opts.Metrics.observe(index, res, started, err)
	}()

	log := e.logger.With("index", index, "mode", mode.String())
	if len(snapshot) == 0 {
		log.Info("sync: empty snapshot, nothing to do")
		return domain.SyncResult{NoOp: true, Success: true}, nil
	}

	if e.opts.Locker != nil {
		unlock, err := e.opts.Locker.Lock(ctx, index)
		if err != nil {
			return res, fmt.Errorf("syncer: lock %s: %w", index, err)
		}
		defer func() {
			if uerr := unlock(); uerr != nil {
				log.Warn("sync: unlock failed", "err", uerr)
			}
		}()
	}

	s := e.schemas.Resolve(index)
	records := dedupe(snapshot, log)

	existing, err := e.prepare(ctx, index, s, records)
	if err != nil {
		return res, err
	}

	plan := Diff(existing, records, s)
	for _, id := range plan.Skipped {
		log.Warn("sync: blank content, record skipped", "chunk_id", id)
	}
	res.Skipped = len(plan.Skipped)
	log.Info("sync: plan",
		"existing", len(existing), "incoming", len(records),
		"delete", len(plan.ToDelete), "removed", len(plan.Removed), "add", len(plan.Added),
		"stale", len(plan.Stale), "unchanged", plan.Unchanged)

	if err := e.apply(ctx, index, s, plan, mode, &res, log); err != nil {
		return res, err
	}

	count, err := e.index.Count(ctx, index, nil)
	if err != nil {
		if mode == domain.ModeStrict {
			return res, fmt.Errorf("syncer: count %s: %w", index, err)
		}
		log.Error("sync: final count failed", "err", err)
		res.FailedBatches++
		return res, nil
	}
	res.FinalPointCount = count
	res.Success = count == len(snapshot) && res.FailedBatches == 0
	if count != len(snapshot) {
		log.Warn("sync: point count does not match snapshot", "points", count, "snapshot", len(snapshot))
	}
	log.Info("sync: done",
		"success", res.Success, "points", count,
		"added", res.Added, "refreshed", res.Refreshed, "deleted", res.Deleted,
		"skipped", res.Skipped, "failed_batches", res.FailedBatches,
		"duration", time.Since(started).String())
	return res, nil
}

// Plan computes the mutations Sync would apply, without writing anything.
// A missing collection plans every record as an addition.
func (e *Engine) Plan(ctx context.Context, snapshot []domain.ChunkRecord, index string) (Plan, error) {
	s := e.schemas.Resolve(index)
	records := dedupe(snapshot, e.logger.With("index", index))
	ok, err := e.index.Exists(ctx, index)
	if err != nil {
		return Plan{}, fmt.Errorf("syncer: exists %s: %w", index, err)
	}
	var existing map[string]time.Time
	if ok {
		if existing, err = e.existing(ctx, index, s); err != nil {
			return Plan{}, err
		}
	}
	return Diff(existing, records, s), nil
}

// prepare creates the collection when missing, indexes the chunk id and
// retained metadata fields, and returns the current chunk ids with their
// stored recency timestamp.
func (e *Engine) prepare(ctx context.Context, index string, s domain.IndexSchema, records []domain.ChunkRecord) (map[string]time.Time, error) {
	ok, err := e.index.Exists(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("syncer: exists %s: %w", index, err)
	}
	if !ok {
		if e.opts.VectorSize <= 0 {
			return nil, domain.NewValidationError("vector_size", fmt.Sprint(e.opts.VectorSize), fmt.Errorf("collection %s is missing and no vector size is configured", index))
		}
		if _, err := e.index.Create(ctx, index, e.opts.VectorSize, e.opts.Distance); err != nil {
			return nil, fmt.Errorf("syncer: create %s: %w", index, err)
		}
		e.logger.Info("sync: collection created", "index", index, "vector_size", e.opts.VectorSize, "distance", e.opts.Distance.String())
	}

	if err := e.index.EnsureFieldIndex(ctx, index, s.ChunkIDField, semantic.KeywordField); err != nil {
		return nil, fmt.Errorf("syncer: field index %s.%s: %w", index, s.ChunkIDField, err)
	}
	for _, f := range s.MetadataFieldsToKeep {
		if err := e.index.EnsureFieldIndex(ctx, index, f, metadataKind(records, f)); err != nil {
			return nil, fmt.Errorf("syncer: field index %s.%s: %w", index, f, err)
		}
	}
	if !ok {
		return nil, nil
	}
	return e.existing(ctx, index, s)
}

// metadataKind picks the index kind of a metadata field from the first record
// carrying it. Fields absent from the snapshot are keywords.
func metadataKind(records []domain.ChunkRecord, field string) semantic.FieldKind {
	for _, r := range records {
		if v, ok := r.Metadata[field]; ok && v != nil {
			return semantic.KindOf(v)
		}
	}
	return semantic.KeywordField
}

func (e *Engine) existing(ctx context.Context, index string, s domain.IndexSchema) (map[string]time.Time, error) {
	fields := []string{s.ChunkIDField}
	if s.HasRecency() {
		fields = append(fields, s.RecencyTimestampField)
	}
	points, err := e.index.FetchByFilter(ctx, index, nil, fields)
	if err != nil {
		return nil, fmt.Errorf("syncer: scroll %s: %w", index, err)
	}
	out := make(map[string]time.Time, len(points))
	for _, p := range points {
		id, ok := schema.ChunkID(s, p.Payload)
		if !ok {
			e.logger.Warn("sync: point without chunk id ignored", "index", index, "point_id", p.ID)
			continue
		}
		ts, _ := schema.Recency(s, p.Payload)
		// Keep the oldest stored version of a duplicated chunk id.
		if prev, dup := out[id]; dup && (prev.IsZero() || prev.Before(ts)) {
			continue
		}
		out[id] = ts
	}
	return out, nil
}

type embedded = fn.Future[[][]float32]

// apply runs the delete phase, then the upsert phase. Upsert batches are
// embedded ahead of time so embedding overlaps with deletion, but no upsert
// is sent before every delete batch has completed.
func (e *Engine) apply(ctx context.Context, index string, s domain.IndexSchema, plan Plan, mode domain.SyncMode, res *domain.SyncResult, log *slog.Logger) error {
	if plan.NoOp() {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := fn.Chunk(plan.ToUpsert, e.opts.MutationBatchSize)
	pending := make([]*embedded, len(batches))
	launch := func(i int) {
		if i < len(batches) {
			texts := fn.Map(batches[i], func(r domain.ChunkRecord) string { return r.Content })
			pending[i] = fn.Go(ctx, func(ctx context.Context) ([][]float32, error) {
				return e.embed.Embed(ctx, texts)
			})
		}
	}
	for i := 0; i < e.opts.EmbedAhead; i++ {
		launch(i)
	}

	rewritten := make(map[string]struct{}, len(plan.ToUpsert))
	for _, r := range plan.ToUpsert {
		rewritten[r.ChunkID] = struct{}{}
	}
	for i, ids := range fn.Chunk(plan.ToDelete, e.opts.MutationBatchSize) {
		matched, err := e.deleteBatch(ctx, index, s, ids)
		if err != nil {
			if err := e.failed(ctx, mode, res, log, "delete", i, err); err != nil {
				return err
			}
			continue
		}
		for _, id := range matched {
			if _, ok := rewritten[id]; !ok {
				res.Deleted++
			}
		}
	}

	added := make(map[string]struct{}, len(plan.Added))
	for _, id := range plan.Added {
		added[id] = struct{}{}
	}
	for i, batch := range batches {
		launch(i + e.opts.EmbedAhead)
		vectors, err := pending[i].Await(ctx)
		pending[i] = nil
		if err == nil {
			err = e.upsertBatch(ctx, index, s, batch, vectors)
		}
		if err != nil {
			if err := e.failed(ctx, mode, res, log, "upsert", i, err); err != nil {
				return err
			}
			continue
		}
		for _, r := range batch {
			if _, ok := added[r.ChunkID]; ok {
				res.Added++
			} else {
				res.Refreshed++
			}
		}
	}
	return nil
}

// deleteBatch resolves chunk ids to point ids, including points stored under
// any other id, and deletes them. It returns the chunk ids that had at least
// one point.
func (e *Engine) deleteBatch(ctx context.Context, index string, s domain.IndexSchema, ids []string) ([]string, error) {
	points, err := e.index.FetchByFilter(ctx, index, semantic.Filter{s.ChunkIDField: ids}, []string{s.ChunkIDField})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	pointIDs := make([]string, len(points))
	matched := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, p := range points {
		pointIDs[i] = p.ID
		if id, ok := schema.ChunkID(s, p.Payload); ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				matched = append(matched, id)
			}
		}
	}
	ok, err := e.index.Delete(ctx, index, pointIDs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewProtocolError("delete", "%d points not acknowledged", len(pointIDs))
	}
	return matched, nil
}

func (e *Engine) upsertBatch(ctx context.Context, index string, s domain.IndexSchema, batch []domain.ChunkRecord, vectors [][]float32) error {
	if len(vectors) != len(batch) {
		return domain.NewProtocolError("embed", "got %d vectors for %d records", len(vectors), len(batch))
	}
	points := make([]domain.IndexPoint, len(batch))
	for i, r := range batch {
		points[i] = domain.IndexPoint{
			PointID: pointid.Derive(r.ChunkID),
			Vector:  vectors[i],
			Payload: schema.ToPayload(s, r),
		}
	}
	ok, err := e.index.Upsert(ctx, index, points)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewProtocolError("upsert", "%d points not acknowledged", len(points))
	}
	return nil
}

// failed decides whether a batch failure aborts the sync. It returns nil when
// the batch may be skipped.
func (e *Engine) failed(ctx context.Context, mode domain.SyncMode, res *domain.SyncResult, log *slog.Logger, phase string, batch int, err error) error {
	if mode == domain.ModeStrict || ctx.Err() != nil || !domain.IsBatchFailure(err) {
		return fmt.Errorf("syncer: %s batch %d: %w", phase, batch, err)
	}
	log.Error("sync: batch failed, skipping", "phase", phase, "batch", batch, "err", err)
	res.FailedBatches++
	return nil
}

func dedupe(snapshot []domain.ChunkRecord, log *slog.Logger) []domain.ChunkRecord {
	out, dropped := fn.UniqueBy(snapshot, func(r domain.ChunkRecord) string { return r.ChunkID })
	if len(dropped) > 0 {
		ids := fn.Map(dropped, func(r domain.ChunkRecord) string { return r.ChunkID })
		log.Warn("sync: duplicate chunk ids in snapshot, first occurrence kept", "duplicates", len(dropped), "chunk_ids", ids)
	}
	return out
}
