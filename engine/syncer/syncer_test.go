package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/pointid"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/pkg/metrics"
)

// --- fakes ---

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingIndex logs mutation order and injects failures.
type recordingIndex struct {
	semantic.Index
	mu         sync.Mutex
	ops        []string
	upserts    int
	failUpsert int // 1-based upsert call to fail
	failIndex  string
}

func (r *recordingIndex) record(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	if op == "upsert" {
		r.upserts++
		return r.upserts
	}
	return 0
}

func (r *recordingIndex) Upsert(ctx context.Context, name string, pts []domain.IndexPoint) (bool, error) {
	n := r.record("upsert")
	if n == r.failUpsert || name == r.failIndex {
		return false, domain.NewTransportError("upsert", errors.New("connection reset"))
	}
	return r.Index.Upsert(ctx, name, pts)
}

func (r *recordingIndex) Delete(ctx context.Context, name string, ids []string) (bool, error) {
	r.record("delete")
	return r.Index.Delete(ctx, name, ids)
}

func (r *recordingIndex) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeLocker struct {
	locked, unlocked []string
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func() error, error) {
	l.locked = append(l.locked, key)
	return func() error { l.unlocked = append(l.unlocked, key); return nil }, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(idx semantic.Index, emb Embedder, reg *schema.Registry) *Engine {
	opts := DefaultOptions()
	opts.VectorSize = 2
	opts.MutationBatchSize = 2
	opts.Logger = quietLogger()
	return New(idx, emb, reg, opts)
}

func recencyRegistry() *schema.Registry {
	reg := schema.NewRegistry(domain.DefaultIndexSchema(), quietLogger())
	s := domain.DefaultIndexSchema()
	s.RecencyTimestampField = "last_edited_ts"
	reg.Register("t1", s)
	return reg
}

func rec(id, content string, ts *time.Time) domain.ChunkRecord {
	return domain.ChunkRecord{ChunkID: id, Content: content, FileID: "f-" + id, RecencyTimestamp: ts}
}

func at(t time.Time) *time.Time { return &t }

func ids(points []semantic.Point, s domain.IndexSchema) []string {
	var out []string
	for _, p := range points {
		if id, ok := schema.ChunkID(s, p.Payload); ok {
			out = append(out, id)
		}
	}
	return out
}

// --- Sync ---

func TestSync_EndToEnd(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx := context.Background()

	res, err := e.Sync(ctx, []domain.ChunkRecord{{ChunkID: "c1", Content: "hello", FileID: "f1"}}, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Success || res.FinalPointCount != 1 || res.Added != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	pts, err := mem.Get(ctx, "t1", []string{pointid.Derive("c1")})
	if err != nil || len(pts) != 1 {
		t.Fatalf("Get = %+v, %v", pts, err)
	}
	if pts[0].Payload["content"] != "hello" || pts[0].Payload["file_id"] != "f1" || pts[0].Payload["chunk_id"] != "c1" {
		t.Fatalf("unexpected payload %v", pts[0].Payload)
	}
	if got := mem.FieldIndexes("t1"); len(got) != 1 || got[0] != "chunk_id" {
		t.Fatalf("FieldIndexes = %v", got)
	}
}

func TestSync_IdempotentWithRecency(t *testing.T) {
	mem := semantic.NewMemory()
	emb := &fakeEmbedder{}
	e := testEngine(mem, emb, recencyRegistry())
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := []domain.ChunkRecord{rec("a", "alpha", at(ts)), rec("b", "beta", at(ts)), rec("c", "gamma", at(ts))}

	if _, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	calls := emb.Calls()

	res, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if !res.Success || res.FinalPointCount != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Added != 0 || res.Refreshed != 0 || res.Deleted != 0 {
		t.Fatalf("second sync must not mutate: %+v", res)
	}
	if emb.Calls() != calls {
		t.Fatal("second sync must not embed")
	}
}

func TestSync_NoRecencyRefreshesEverything(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	snap := []domain.ChunkRecord{rec("a", "alpha", nil), rec("b", "beta", nil), rec("c", "gamma", nil)}

	e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	res, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Refreshed != 3 || res.Added != 0 || !res.Success || res.FinalPointCount != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSync_AddsAndDeletes(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx := context.Background()

	e.Sync(ctx, []domain.ChunkRecord{rec("A", "a", nil), rec("B", "b", nil), rec("C", "c", nil)}, "t1", domain.ModeStrict)
	res, err := e.Sync(ctx, []domain.ChunkRecord{rec("B", "b", nil), rec("C", "c", nil), rec("D", "d", nil)}, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Deleted != 1 || res.Added != 1 || res.Refreshed != 2 || res.FinalPointCount != 3 || !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}

	pts, _ := mem.FetchByFilter(ctx, "t1", nil, []string{"chunk_id"})
	got := strings.Join(ids(pts, domain.DefaultIndexSchema()), ",")
	for _, want := range []string{"B", "C", "D"} {
		if !strings.Contains(got, want) {
			t.Fatalf("index holds %s, missing %s", got, want)
		}
	}
	if strings.Contains(got, "A") {
		t.Fatalf("A should be deleted, index holds %s", got)
	}
}

func TestSync_DeletesBeforeUpserts(t *testing.T) {
	idx := &recordingIndex{Index: semantic.NewMemory()}
	e := testEngine(idx, &fakeEmbedder{}, nil)
	ctx := context.Background()

	var first, second []domain.ChunkRecord
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		first = append(first, rec(id, "old "+id, nil))
	}
	for _, id := range []string{"v", "w", "x", "y", "z"} {
		second = append(second, rec(id, "new "+id, nil))
	}
	e.Sync(ctx, first, "t1", domain.ModeStrict)
	idx.mu.Lock()
	idx.ops = nil
	idx.mu.Unlock()

	if _, err := e.Sync(ctx, second, "t1", domain.ModeStrict); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ops := idx.Ops()
	seenUpsert := false
	deletes := 0
	for _, op := range ops {
		switch op {
		case "upsert":
			seenUpsert = true
		case "delete":
			deletes++
			if seenUpsert {
				t.Fatalf("delete after upsert: %v", ops)
			}
		}
	}
	if deletes != 3 || !seenUpsert {
		t.Fatalf("unexpected ops %v", ops)
	}
}

func TestSync_RecencyStaleDetection(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, recencyRegistry())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e.Sync(ctx, []domain.ChunkRecord{rec("new", "x", at(t0)), rec("same", "x", at(t0)), rec("old", "x", at(t0)), rec("none", "x", at(t0))}, "t1", domain.ModeStrict)
	res, err := e.Sync(ctx, []domain.ChunkRecord{
		rec("new", "x", at(t0.Add(time.Hour))),
		rec("same", "x", at(t0)),
		rec("old", "x", at(t0.Add(-time.Hour))),
		rec("none", "x", nil),
	}, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Refreshed != 2 || res.Added != 0 || !res.Success {
		t.Fatalf("expected two refreshes (newer, missing ts), got %+v", res)
	}
}

func TestSync_BlankContentSkipped(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	snap := []domain.ChunkRecord{rec("a", "alpha", nil), rec("b", "  \n\t", nil), rec("c", "gamma", nil)}

	res, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Skipped != 1 || res.Added != 2 || res.FinalPointCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Success {
		t.Fatal("count mismatch with the snapshot must report success=false")
	}
	if pts, _ := mem.Get(context.Background(), "t1", []string{pointid.Derive("b")}); len(pts) != 0 {
		t.Fatal("blank record must not be indexed")
	}
}

func TestSync_BlankedRecordLosesItsPoint(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx := context.Background()

	e.Sync(ctx, []domain.ChunkRecord{rec("a", "alpha", nil), rec("b", "beta", nil)}, "t1", domain.ModeStrict)
	res, err := e.Sync(ctx, []domain.ChunkRecord{rec("a", "alpha", nil), rec("b", "   ", nil)}, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Skipped != 1 || res.Deleted != 1 || res.Refreshed != 1 || res.FinalPointCount != 1 || res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	pts, _ := mem.FetchByFilter(ctx, "t1", semantic.Filter{"chunk_id": []string{"b"}}, nil)
	if len(pts) != 0 {
		t.Fatalf("old content must not stay searchable: %+v", pts)
	}
}

func TestSync_RefreshRemovesForeignPointIDs(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx := context.Background()

	const foreign = "11111111-1111-1111-1111-111111111111"
	mem.Create(ctx, "t1", 2, semantic.Cosine)
	mem.Upsert(ctx, "t1", []domain.IndexPoint{{PointID: foreign, Vector: []float32{1, 1}, Payload: map[string]any{"chunk_id": "b", "content": "old"}}})

	res, err := e.Sync(ctx, []domain.ChunkRecord{rec("b", "new", nil)}, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Success || res.FinalPointCount != 1 || res.Refreshed != 1 || res.Deleted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	pts, _ := mem.FetchByFilter(ctx, "t1", semantic.Filter{"chunk_id": []string{"b"}}, nil)
	if len(pts) != 1 || pts[0].ID != pointid.Derive("b") || pts[0].Payload["content"] != "new" {
		t.Fatalf("want one point under the derived id, got %+v", pts)
	}
}

func TestSync_StrictAbortsWithoutRollback(t *testing.T) {
	mem := semantic.NewMemory()
	idx := &recordingIndex{Index: mem, failUpsert: 2}
	e := testEngine(idx, &fakeEmbedder{}, nil)
	snap := []domain.ChunkRecord{rec("a", "1", nil), rec("b", "2", nil), rec("c", "3", nil), rec("d", "4", nil), rec("e", "5", nil)}

	_, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if n, _ := mem.Count(context.Background(), "t1", nil); n != 2 {
		t.Fatalf("first batch must stay applied, count = %d", n)
	}
}

func TestSync_BestEffortSkipsFailedBatch(t *testing.T) {
	mem := semantic.NewMemory()
	idx := &recordingIndex{Index: mem, failUpsert: 2}
	e := testEngine(idx, &fakeEmbedder{}, nil)
	snap := []domain.ChunkRecord{rec("a", "1", nil), rec("b", "2", nil), rec("c", "3", nil), rec("d", "4", nil), rec("e", "5", nil)}

	res, err := e.Sync(context.Background(), snap, "t1", domain.ModeBestEffort)
	if err != nil {
		t.Fatalf("best-effort must not fail: %v", err)
	}
	if res.Success || res.FailedBatches != 1 || res.FinalPointCount != 3 || res.Added != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSync_EmbedFailure(t *testing.T) {
	mem := semantic.NewMemory()
	emb := &fakeEmbedder{fail: domain.NewProtocolError("ollama embed", "bad body")}
	e := testEngine(mem, emb, nil)

	_, err := e.Sync(context.Background(), []domain.ChunkRecord{rec("a", "1", nil)}, "t1", domain.ModeStrict)
	if !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	res, err := e.Sync(context.Background(), []domain.ChunkRecord{rec("a", "1", nil)}, "t1", domain.ModeBestEffort)
	if err != nil || res.FailedBatches != 1 || res.Success {
		t.Fatalf("best-effort = %+v, %v", res, err)
	}
}

func TestSync_EmptySnapshotIsNoOp(t *testing.T) {
	mem := semantic.NewMemory()
	emb := &fakeEmbedder{}
	e := testEngine(mem, emb, nil)

	res, err := e.Sync(context.Background(), nil, "t1", domain.ModeStrict)
	if err != nil || !res.NoOp || !res.Success {
		t.Fatalf("Sync(empty) = %+v, %v", res, err)
	}
	if ok, _ := mem.Exists(context.Background(), "t1"); ok {
		t.Fatal("empty snapshot must not create the collection")
	}
	if emb.Calls() != 0 {
		t.Fatal("empty snapshot must not embed")
	}
}

func TestSync_DuplicateChunkIDsFirstWins(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	snap := []domain.ChunkRecord{rec("a", "first", nil), rec("a", "second", nil)}

	res, err := e.Sync(context.Background(), snap, "t1", domain.ModeStrict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.FinalPointCount != 1 || res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	pts, _ := mem.Get(context.Background(), "t1", []string{pointid.Derive("a")})
	if len(pts) != 1 || pts[0].Payload["content"] != "first" {
		t.Fatalf("first occurrence must win, got %+v", pts)
	}
}

func TestSync_MissingVectorSize(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = quietLogger()
	e := New(semantic.NewMemory(), &fakeEmbedder{}, nil, opts)
	_, err := e.Sync(context.Background(), []domain.ChunkRecord{rec("a", "1", nil)}, "t1", domain.ModeStrict)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "vector_size" {
		t.Fatalf("expected vector_size validation error, got %v", err)
	}
}

func TestSync_MetadataFieldIndexes(t *testing.T) {
	mem := semantic.NewMemory()
	reg := schema.NewRegistry(domain.DefaultIndexSchema(), quietLogger())
	s := domain.DefaultIndexSchema()
	s.MetadataFieldsToKeep = []string{"lang", "year", "public"}
	reg.Register("t1", s)
	e := testEngine(mem, &fakeEmbedder{}, reg)

	r := rec("a", "bonjour", nil)
	r.Metadata = map[string]any{"lang": "fr", "year": 2024, "public": true, "secret": "x"}
	if _, err := e.Sync(context.Background(), []domain.ChunkRecord{r}, "t1", domain.ModeStrict); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := strings.Join(mem.FieldIndexes("t1"), ","); got != "chunk_id,lang,public,year" {
		t.Fatalf("FieldIndexes = %v", got)
	}
	for field, want := range map[string]semantic.FieldKind{
		"chunk_id": semantic.KeywordField,
		"lang":     semantic.KeywordField,
		"year":     semantic.IntegerField,
		"public":   semantic.BoolField,
	} {
		if k, _ := mem.IndexedKind("t1", field); k != want {
			t.Errorf("%s indexed as %v, want %v", field, k, want)
		}
	}
	pts, _ := mem.Get(context.Background(), "t1", []string{pointid.Derive("a")})
	if pts[0].Payload["lang"] != "fr" {
		t.Fatal("allow-listed metadata must be stored")
	}
	if _, ok := pts[0].Payload["secret"]; ok {
		t.Fatal("metadata outside the allow-list must be dropped")
	}
}

func TestSync_LockerAndMetrics(t *testing.T) {
	lk := &fakeLocker{}
	reg := metrics.New()
	opts := DefaultOptions()
	opts.VectorSize = 2
	opts.Logger = quietLogger()
	opts.Locker = lk
	opts.Metrics = NewMetrics(reg)
	e := New(semantic.NewMemory(), &fakeEmbedder{}, nil, opts)

	if _, err := e.Sync(context.Background(), []domain.ChunkRecord{rec("a", "1", nil)}, "t1", domain.ModeStrict); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(lk.locked) != 1 || lk.locked[0] != "t1" || len(lk.unlocked) != 1 {
		t.Fatalf("lock calls = %v / %v", lk.locked, lk.unlocked)
	}
	out := reg.Render()
	for _, want := range []string{
		`draftnrun_sync_runs_total{index="t1",outcome="success"} 1`,
		`draftnrun_sync_points_total{index="t1",op="added"} 1`,
		`draftnrun_index_points{index="t1"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// --- Plan / Diff ---

func TestDiff(t *testing.T) {
	s := domain.DefaultIndexSchema()
	existing := map[string]time.Time{"A": {}, "B": {}, "C": {}}
	p := Diff(existing, []domain.ChunkRecord{rec("B", "b", nil), rec("C", "c", nil), rec("D", "d", nil)}, s)

	if strings.Join(p.ToDelete, ",") != "A,B,C" {
		t.Fatalf("stale ids must be deleted too, ToDelete = %v", p.ToDelete)
	}
	if len(p.Removed) != 1 || p.Removed[0] != "A" {
		t.Fatalf("Removed = %v", p.Removed)
	}
	if len(p.Added) != 1 || p.Added[0] != "D" {
		t.Fatalf("Added = %v", p.Added)
	}
	if len(p.Stale) != 2 || len(p.ToUpsert) != 3 {
		t.Fatalf("without recency every common id is stale: %+v", p)
	}
}

func TestDiff_Recency(t *testing.T) {
	s := domain.DefaultIndexSchema()
	s.RecencyTimestampField = "ts"
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		stored   time.Time
		incoming *time.Time
		stale    bool
	}{
		{"newer", t0, at(t0.Add(time.Second)), true},
		{"equal", t0, at(t0), false},
		{"older", t0, at(t0.Add(-time.Second)), false},
		{"incoming missing", t0, nil, true},
		{"stored missing", time.Time{}, at(t0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Diff(map[string]time.Time{"x": tt.stored}, []domain.ChunkRecord{rec("x", "c", tt.incoming)}, s)
			if got := len(p.Stale) == 1; got != tt.stale {
				t.Fatalf("stale = %v, want %v", got, tt.stale)
			}
			if !tt.stale && p.Unchanged != 1 {
				t.Fatalf("Unchanged = %d", p.Unchanged)
			}
		})
	}
}

func TestDiff_BlankContent(t *testing.T) {
	p := Diff(map[string]time.Time{"old": {}}, []domain.ChunkRecord{rec("new", "", nil), rec("old", " ", nil)}, domain.DefaultIndexSchema())
	if len(p.Skipped) != 2 || len(p.ToUpsert) != 0 {
		t.Fatalf("unexpected plan %+v", p)
	}
	if len(p.ToDelete) != 1 || p.ToDelete[0] != "old" || len(p.Removed) != 0 {
		t.Fatalf("a stale record gone blank must lose its point: %+v", p)
	}
	if p.NoOp() {
		t.Fatal("plan with a delete is not a no-op")
	}

	p = Diff(nil, []domain.ChunkRecord{rec("new", "", nil)}, domain.DefaultIndexSchema())
	if !p.NoOp() {
		t.Fatal("plan with only skipped new records is a no-op")
	}
}

func TestEngine_Plan(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx := context.Background()

	p, err := e.Plan(ctx, []domain.ChunkRecord{rec("a", "1", nil)}, "t1")
	if err != nil || len(p.Added) != 1 {
		t.Fatalf("Plan on missing collection = %+v, %v", p, err)
	}
	if ok, _ := mem.Exists(ctx, "t1"); ok {
		t.Fatal("Plan must not create the collection")
	}

	e.Sync(ctx, []domain.ChunkRecord{rec("a", "1", nil), rec("b", "2", nil)}, "t1", domain.ModeStrict)
	p, err = e.Plan(ctx, []domain.ChunkRecord{rec("a", "1", nil)}, "t1")
	if err != nil || len(p.Removed) != 1 || p.Removed[0] != "b" || len(p.ToDelete) != 2 {
		t.Fatalf("Plan = %+v, %v", p, err)
	}
}

// --- SyncAll ---

func TestSyncAll_IndependentIndexes(t *testing.T) {
	mem := semantic.NewMemory()
	idx := &recordingIndex{Index: mem, failIndex: "bad"}
	e := testEngine(idx, &fakeEmbedder{}, nil)

	results := e.SyncAll(context.Background(), []Job{
		{Index: "good", Snapshot: []domain.ChunkRecord{rec("a", "1", nil)}},
		{Index: "bad", Snapshot: []domain.ChunkRecord{rec("a", "1", nil)}},
	}, domain.ModeStrict, 2)

	if len(results) != 2 || results[0].Index != "good" || results[1].Index != "bad" {
		t.Fatalf("results out of order: %+v", results)
	}
	if results[0].Err != nil || !results[0].Result.Success {
		t.Fatalf("good index = %+v", results[0])
	}
	if !errors.Is(results[1].Err, domain.ErrTransport) {
		t.Fatalf("bad index err = %v", results[1].Err)
	}
}

func TestSyncAll_CancelledSkipsQueuedJobs(t *testing.T) {
	mem := semantic.NewMemory()
	e := testEngine(mem, &fakeEmbedder{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.SyncAll(ctx, []Job{
		{Index: "a", Snapshot: []domain.ChunkRecord{rec("x", "1", nil)}},
		{Index: "b", Snapshot: []domain.ChunkRecord{rec("x", "1", nil)}},
	}, domain.ModeStrict, 1)

	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("%s: err = %v", r.Index, r.Err)
		}
		if ok, _ := mem.Exists(context.Background(), r.Index); ok {
			t.Fatalf("%s must not be synced after cancellation", r.Index)
		}
	}
}
