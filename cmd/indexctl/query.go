package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/rag"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
)

func newSearchCmd(withEnv runWithEnv) *cobra.Command {
	var (
		k       int
		recency bool
		filter  map[string]string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "search <index> <query>",
		Short: "Retrieve the chunks closest to a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			req := rag.SearchRequest{
				Index:   args[0],
				Query:   strings.Join(args[1:], " "),
				K:       k,
				Recency: recency,
			}
			if len(filter) > 0 {
				req.Filter = make(semantic.Filter, len(filter))
				for key, v := range filter {
					req.Filter[key] = v
				}
			}
			chunks, err := e.retrieval().Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(chunks)
			}
			printChunks(cmd.OutOrStdout(), chunks)
			return nil
		}),
	}
	cmd.Flags().IntVar(&k, "k", 0, "number of results (default from config)")
	cmd.Flags().BoolVar(&recency, "recency", false, "penalise older chunks")
	cmd.Flags().StringToStringVar(&filter, "filter", nil, "payload keyword filter, key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func printChunks(w io.Writer, chunks []domain.SourceChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "SCORE\tCHUNK\tDOCUMENT\tCONTENT")
	for _, c := range chunks {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", c.Score, c.Name, c.DocumentName, excerpt(c.Content, 60))
	}
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newCountCmd(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "count <index>",
		Short: "Print the number of points in an index",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ok, err := e.index.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("index %q does not exist", args[0])
			}
			n, err := e.index.Count(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		}),
	}
}

func newDropCmd(withEnv runWithEnv) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop <index>",
		Short: "Delete an index and every point in it",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop %q without --yes", args[0])
			}
			dropped, err := e.index.Drop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if dropped {
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s did not exist\n", args[0])
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}
