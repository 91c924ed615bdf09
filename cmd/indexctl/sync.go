package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/snapshot"
	"github.com/Scopeo/draftnrun-sub004/engine/syncer"
)

func newSyncCmd(withEnv runWithEnv) *cobra.Command {
	var (
		src      sourceFlags
		mode     string
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync <index>",
		Short: "Bring an index in line with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			m, err := domain.ParseSyncMode(mode)
			if err != nil {
				return err
			}
			index := args[0]
			eng := e.syncer()
			out := cmd.OutOrStdout()

			once := func(ctx context.Context) error {
				recs, err := src.load(ctx)
				if err != nil {
					return err
				}
				res, err := eng.Sync(ctx, recs, index, m)
				printResult(out, index, res)
				return err
			}
			if err := once(cmd.Context()); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", src.path())
			return snapshot.Watch(cmd.Context(), src.path(), debounce, e.logger, func(ctx context.Context) {
				if err := once(ctx); err != nil {
					e.logger.Error("sync after change failed", "index", index, "err", err)
				}
			})
		}),
	}
	src.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "strict", "failure mode: strict or best_effort")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-sync when the snapshot changes")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a re-sync under --watch")
	return cmd
}

func newPlanCmd(withEnv runWithEnv) *cobra.Command {
	var src sourceFlags
	var listIDs bool
	cmd := &cobra.Command{
		Use:   "plan <index>",
		Short: "Show what sync would change without writing",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			recs, err := src.load(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := e.syncer().Plan(cmd.Context(), recs, args[0])
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, listIDs)
			return nil
		}),
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&listIDs, "ids", false, "list the affected chunk ids")
	return cmd
}

func printResult(w io.Writer, index string, res domain.SyncResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "index\t%s\n", index)
	fmt.Fprintf(tw, "success\t%v\n", res.Success)
	if res.NoOp {
		fmt.Fprintf(tw, "note\tempty snapshot, nothing done\n")
		return
	}
	fmt.Fprintf(tw, "points\t%d\n", res.FinalPointCount)
	fmt.Fprintf(tw, "added\t%d\n", res.Added)
	fmt.Fprintf(tw, "refreshed\t%d\n", res.Refreshed)
	fmt.Fprintf(tw, "deleted\t%d\n", res.Deleted)
	fmt.Fprintf(tw, "skipped\t%d\n", res.Skipped)
	if res.FailedBatches > 0 {
		fmt.Fprintf(tw, "failed batches\t%d\n", res.FailedBatches)
	}
}

func printPlan(w io.Writer, p syncer.Plan, ids bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "delete\t%d\n", len(p.ToDelete))
	fmt.Fprintf(tw, "remove\t%d\n", len(p.Removed))
	fmt.Fprintf(tw, "add\t%d\n", len(p.Added))
	fmt.Fprintf(tw, "refresh\t%d\n", len(p.Stale))
	fmt.Fprintf(tw, "skip\t%d\n", len(p.Skipped))
	fmt.Fprintf(tw, "unchanged\t%d\n", p.Unchanged)
	tw.Flush()
	if !ids {
		return
	}
	for _, g := range []struct {
		op  string
		ids []string
	}{{"-", p.Removed}, {"+", p.Added}, {"~", p.Stale}, {"!", p.Skipped}} {
		for _, id := range g.ids {
			fmt.Fprintf(w, "%s %s\n", g.op, id)
		}
	}
}
