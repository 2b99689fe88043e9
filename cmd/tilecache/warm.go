package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/holeshot/tilecache/internal/adapter"
	"github.com/holeshot/tilecache/internal/batch"
	"github.com/holeshot/tilecache/pkg/types"
	"github.com/holeshot/tilecache/pkg/utils"
)

var warmOpts struct {
	levels      []int
	batchSize   int
	concurrency int
	stopOnError bool
}

var warmCmd = &cobra.Command{
	Use:   "warm <collection> <timestamp>",
	Short: "Fetch the written tiles of a pyramid into the persistent and shared cache tiers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("batch-size") {
			cfg.Warm.BatchSize = warmOpts.batchSize
		}
		if flags.Changed("concurrency") {
			cfg.Warm.Concurrency = warmOpts.concurrency
		}
		if flags.Changed("stop-on-error") {
			cfg.Warm.StopOnError = warmOpts.stopOnError
		}
		logger, closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()
		a, err := adapter.New(ctx, cfg, adapter.WithLogger(logger))
		if err != nil {
			return err
		}
		defer a.Stop(context.WithoutCancel(ctx))

		if levels := a.Cache().Levels(); len(levels) == 1 {
			logger.Warn("only the memory tier is configured; warmed tiles last as long as this process", "tiers", levels)
		}

		pyramid := types.PyramidKey{CollectionID: args[0], Timestamp: args[1]}
		stats, err := a.Warmer().Run(ctx, pyramid, warmOpts.levels, func(s batch.Stats) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d tiles", s.Fetched+s.Cached+s.NotFound+s.Errors, s.Tiles)
		})
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "warmed %s: %d fetched (%s), %d already cached, %d failed in %s\n",
			pyramid, stats.Fetched, utils.FormatBytes(stats.Bytes), stats.Cached, stats.Errors, stats.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	f := warmCmd.Flags()
	f.IntSliceVar(&warmOpts.levels, "levels", nil, "levels to warm, all levels when empty")
	f.IntVar(&warmOpts.batchSize, "batch-size", batch.DefaultConfig().MaxBatchSize, "tiles per batch (overrides warm.batch_size)")
	f.IntVar(&warmOpts.concurrency, "concurrency", batch.DefaultConfig().MaxConcurrency, "concurrent fetches (overrides warm.concurrency)")
	f.BoolVar(&warmOpts.stopOnError, "stop-on-error", false, "abort at the first failed fetch (overrides warm.stop_on_error)")
	rootCmd.AddCommand(warmCmd)
}
