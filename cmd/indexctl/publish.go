package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/ingest"
	"github.com/Scopeo/draftnrun-sub004/pkg/config"
	"github.com/Scopeo/draftnrun-sub004/pkg/natsutil"
)

// newPublishCmd hands a sync job to the syncworker fleet over NATS and
// waits for its reply. The snapshot source must be readable by the workers.
func newPublishCmd(g *globalFlags) *cobra.Command {
	var (
		src     sourceFlags
		mode    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish <index>",
		Short: "Queue a sync job for the workers and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := domain.ParseSyncMode(mode)
			if err != nil {
				return err
			}
			config.LoadDotenv()
			cfg, err := config.Load(g.config)
			if err != nil {
				return err
			}
			nc, err := nats.Connect(cfg.NATSURL, nats.Name("indexctl"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()

			ref := src.ref()
			req := ingest.SyncRequest{ID: uuid.NewString(), Index: args[0], Mode: m, Source: &ref}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			reply, err := natsutil.Request[ingest.SyncRequest, ingest.SyncReply](ctx, nc, ingest.SyncSubject, req)
			if err != nil {
				return fmt.Errorf("publish %s: %w", req.ID, err)
			}
			printResult(cmd.OutOrStdout(), reply.Index, reply.Result)
			if reply.Error != "" {
				return fmt.Errorf("job %s failed after %d attempts: %s", reply.ID, reply.Attempts, reply.Error)
			}
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "strict", "failure mode: strict or best_effort")
	cmd.Flags().DurationVar(&timeout, "timeout", ingest.DefaultJobTimeout, "how long to wait for the reply")
	return cmd
}
