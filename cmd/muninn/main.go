// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// muninn is the command line interface to a muninn archive: it
// prepares archives, ingests and removes products, and queries the
// product catalogue.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time.
var Version = "dev"

var runCfg struct {
	Archive        string
	LogLevel       string
	LogDevelopment bool
	Verbose        bool
	Parallel       int
}

var rootCmd = &cobra.Command{
	Use:     "muninn",
	Short:   "Archive and catalogue geospatial data products",
	Version: Version,
	Args:    cobra.OnlyValidArgs,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&runCfg.Archive, "archive", "a", "", "archive name or configuration file path")
	rootCmd.PersistentFlags().StringVar(&runCfg.LogLevel, "log.level", "warn", "minimum log level")
	rootCmd.PersistentFlags().BoolVar(&runCfg.LogDevelopment, "log.development", false, "use console-friendly log output")
	rootCmd.PersistentFlags().BoolVarP(&runCfg.Verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().IntVar(&runCfg.Parallel, "parallel", 1, "number of concurrent product transfers")
}

// openLogger builds the process logger from the common flags.
func openLogger() (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if runCfg.Verbose {
		level = zapcore.DebugLevel
	} else if err := level.Set(runCfg.LogLevel); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	if runCfg.LogDevelopment {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	return config.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
