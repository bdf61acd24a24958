package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SirClappington/restq/internal/client"
	"github.com/SirClappington/restq/internal/logging"
)

func watchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		count    int
		limit    int
		level    string
	)
	cmd := &cobra.Command{
		Use:   "watch [realm...]",
		Short: "Keep pulling across realms and log every leased job",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.NewWithWriter(level, "console", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if count <= 0 {
				count = a.cfg.Count
			}
			return watch(cmd.Context(), a.client, log, interval, count, limit, args)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between pulls")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "jobs to lease per pull (default $RESTQ_CLIENT_COUNT)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after leasing this many jobs; 0 runs until interrupted")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level")
	return cmd
}

// watch pulls once per tick until ctx is done or limit jobs were leased.
// Failed pulls are logged and retried on the next tick.
func watch(ctx context.Context, c *client.Client, log *zap.Logger, interval time.Duration, count, limit int, realms []string) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	leased := 0
	for {
		ds, err := c.Pull(ctx, count, realms...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("pull failed", zap.Error(err))
		}
		for _, d := range ds {
			log.Info("leased",
				zap.String("realm", d.Realm),
				zap.String("queue", d.QueueID),
				zap.String("job", d.JobID),
				zap.ByteString("data", d.Data),
			)
		}
		leased += len(ds)
		if limit > 0 && leased >= limit {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
