package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holeshot/tilecache/internal/adapter"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tile server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddress != "" {
			cfg.Server.Address = serveAddress
		}
		logger, closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := adapter.New(ctx, cfg, adapter.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background())
			return err
		}

		var serveErr error
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case serveErr = <-a.Err():
			if serveErr != nil {
				logger.Error("server failed", "error", serveErr)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
			if serveErr == nil {
				serveErr = err
			}
		}
		return serveErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address, overrides server.address")
	rootCmd.AddCommand(serveCmd)
}
