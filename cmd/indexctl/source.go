package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/ingest"
	"github.com/Scopeo/draftnrun-sub004/engine/snapshot"
)

// sourceFlags select the snapshot a command reads.
type sourceFlags struct {
	file   string
	sqlite string
	table  string
	where  string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.file, "file", "", "JSON Lines snapshot file")
	cmd.Flags().StringVar(&s.sqlite, "sqlite", "", "SQLite database holding the snapshot table")
	cmd.Flags().StringVar(&s.table, "table", "chunks", "table read with --sqlite")
	cmd.Flags().StringVar(&s.where, "where", "", "SQL predicate filtering the --sqlite table")
	cmd.MarkFlagsMutuallyExclusive("file", "sqlite")
	cmd.MarkFlagsOneRequired("file", "sqlite")
}

func (s *sourceFlags) ref() ingest.SourceRef {
	if s.sqlite != "" {
		return ingest.SourceRef{SQL: &ingest.SQLRef{
			Path:    s.sqlite,
			Table:   s.table,
			Columns: snapshot.DefaultColumns(),
			Where:   s.where,
		}}
	}
	return ingest.SourceRef{File: s.file}
}

// path is the file whose changes --watch follows.
func (s *sourceFlags) path() string {
	if s.sqlite != "" {
		return s.sqlite
	}
	return s.file
}

func (s *sourceFlags) load(ctx context.Context) ([]domain.ChunkRecord, error) {
	src, closeFn, err := ingest.OpenSource(ctx, s.ref())
	if err != nil {
		return nil, err
	}
	recs, err := src.Load(ctx)
	return recs, errors.Join(err, closeFn())
}
