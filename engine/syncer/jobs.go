package syncer

import (
	"context"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
)

// Job is one index to sync.
type Job struct {
	Index    string
	Snapshot []domain.ChunkRecord
}

// JobResult pairs a Job's index with its outcome.
type JobResult struct {
	Index  string
	Result domain.SyncResult
	Err    error
}

// SyncAll syncs independent indexes concurrently with at most workers in
// flight. A failing index never stops the others; each outcome is reported
// in job order. Jobs not yet started when ctx is done are not run and report
// ctx.Err().
func (e *Engine) SyncAll(ctx context.Context, jobs []Job, mode domain.SyncMode, workers int) []JobResult {
	results := fn.ParMap(ctx, jobs, workers, func(ctx context.Context, j Job) (domain.SyncResult, error) {
		return e.Sync(ctx, j.Snapshot, j.Index, mode)
	})
	out := make([]JobResult, len(jobs))
	for i, r := range results {
		res, err := r.Unwrap()
		out[i] = JobResult{Index: jobs[i].Index, Result: res, Err: err}
	}
	return out
}
