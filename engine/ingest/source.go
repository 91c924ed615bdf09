package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/snapshot"
)

var (
	// ErrNoSource is returned for a SourceRef with neither File nor SQL set.
	ErrNoSource = errors.New("ingest: source has neither file nor sql")
	// ErrNoIndex rejects a request without a target index.
	ErrNoIndex = errors.New("ingest: request has no index")
)

// SourceOpener resolves a SourceRef to a snapshot source. The returned close
// function releases whatever the source holds open.
type SourceOpener func(ctx context.Context, ref SourceRef) (snapshot.Source, func() error, error)

// OpenSource is the default SourceOpener for JSON Lines files and SQLite tables.
func OpenSource(_ context.Context, ref SourceRef) (snapshot.Source, func() error, error) {
	switch {
	case ref.SQL != nil:
		if ref.SQL.Table == "" {
			return nil, nil, fmt.Errorf("%w: sql table missing for %s", ErrNoSource, ref.SQL.Path)
		}
		db, err := snapshot.OpenSQLite(ref.SQL.Path)
		if err != nil {
			return nil, nil, err
		}
		src := snapshot.NewSQLSource(db, ref.SQL.Table, ref.SQL.Columns)
		src.Where = ref.SQL.Where
		return src, db.Close, nil
	case ref.File != "":
		return snapshot.FileSource{Path: ref.File}, func() error { return nil }, nil
	default:
		return nil, nil, ErrNoSource
	}
}

func (w *Worker) load(ctx context.Context, req SyncRequest) ([]domain.ChunkRecord, error) {
	if req.Source == nil {
		return req.Records, nil
	}
	src, closeFn, err := w.open(ctx, *req.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			w.logger.Warn("ingest: close source", "err", cerr)
		}
	}()
	recs, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return recs, nil
}
