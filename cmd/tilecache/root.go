package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/holeshot/tilecache/internal/config"
	"github.com/holeshot/tilecache/pkg/utils"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "tilecache",
	Short:         "Tile cache for MRF image pyramids in object storage",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tilecache: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
}

// loadConfig layers defaults, the config file, TILECACHE_* variables and flags, in that order
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Global.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Configuration) (*slog.Logger, io.Closer, error) {
	return utils.SetupLogging(utils.LogConfig{
		Level:      cfg.Global.LogLevel,
		Format:     cfg.Global.LogFormat,
		File:       cfg.Global.LogFile,
		MaxSizeMB:  cfg.Global.LogMaxSizeMB,
		MaxBackups: cfg.Global.LogMaxBackups,
	})
}
