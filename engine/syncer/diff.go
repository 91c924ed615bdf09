package syncer

import (
	"sort"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
)

// Plan is the set of index mutations that brings an index in line with a
// snapshot. It is computed before anything is written.
type Plan struct {
	// ToDelete holds every chunk id whose points are removed before the
	// upsert phase: the Removed ids plus every stale id, so a refreshed
	// record never keeps a second point under another id.
	ToDelete []string
	// Removed holds chunk ids present in the index but absent from the snapshot.
	Removed []string
	// ToUpsert holds the records to embed and write, in snapshot order.
	ToUpsert []domain.ChunkRecord
	// Added and Stale partition ToUpsert by chunk id.
	Added []string
	Stale []string
	// Skipped holds chunk ids whose content is blank. They are never written.
	Skipped []string
	// Unchanged counts common records whose stored version is current.
	Unchanged int
}

// NoOp reports whether applying the plan would not touch the index.
func (p Plan) NoOp() bool {
	return len(p.ToDelete) == 0 && len(p.ToUpsert) == 0
}

// Diff compares the chunk ids currently in the index, with their stored
// recency timestamp (zero when unknown), against a deduplicated snapshot.
//
// Without a recency field every common record is stale. With one, a common
// record is stale when the incoming timestamp is strictly newer, or when
// either side lacks a timestamp. A stale record with blank content is
// deleted and skipped.
func Diff(existing map[string]time.Time, incoming []domain.ChunkRecord, s domain.IndexSchema) Plan {
	var p Plan
	seen := make(map[string]struct{}, len(incoming))

	for _, r := range incoming {
		seen[r.ChunkID] = struct{}{}
		stored, common := existing[r.ChunkID]

		switch {
		case !common:
			if !r.HasContent() {
				p.Skipped = append(p.Skipped, r.ChunkID)
				continue
			}
			p.Added = append(p.Added, r.ChunkID)
		case isStale(stored, r, s):
			p.ToDelete = append(p.ToDelete, r.ChunkID)
			if !r.HasContent() {
				p.Skipped = append(p.Skipped, r.ChunkID)
				continue
			}
			p.Stale = append(p.Stale, r.ChunkID)
		default:
			p.Unchanged++
			continue
		}
		p.ToUpsert = append(p.ToUpsert, r)
	}

	for id := range existing {
		if _, ok := seen[id]; !ok {
			p.Removed = append(p.Removed, id)
		}
	}
	sort.Strings(p.Removed)
	p.ToDelete = append(p.ToDelete, p.Removed...)
	sort.Strings(p.ToDelete)
	return p
}

func isStale(stored time.Time, r domain.ChunkRecord, s domain.IndexSchema) bool {
	if !s.HasRecency() {
		return true
	}
	if stored.IsZero() || r.RecencyTimestamp == nil {
		return true
	}
	return r.RecencyTimestamp.After(stored)
}
