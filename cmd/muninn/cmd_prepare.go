// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
)

var prepareCfg struct {
	Force         bool
	CatalogueOnly bool
	DryRun        bool
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare an archive for first use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			if prepareCfg.CatalogueOnly {
				statements, err := a.PrepareCatalogue(ctx, prepareCfg.DryRun)
				if err != nil {
					return err
				}
				if prepareCfg.DryRun {
					for _, statement := range statements {
						fmt.Println(statement + ";")
					}
				}
				return nil
			}
			return a.Prepare(ctx, prepareCfg.Force)
		})
	},
}

var destroyCfg struct {
	CatalogueOnly bool
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Remove an archive: all products and the catalogue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			if destroyCfg.CatalogueOnly {
				return a.DestroyCatalogue(ctx)
			}
			return a.Destroy(ctx)
		})
	},
}

func init() {
	prepareCmd.Flags().BoolVar(&prepareCfg.Force, "force", false, "destroy any existing archive first")
	prepareCmd.Flags().BoolVar(&prepareCfg.CatalogueOnly, "catalogue-only", false, "prepare only the catalogue")
	prepareCmd.Flags().BoolVar(&prepareCfg.DryRun, "dry-run", false, "print the catalogue statements without executing them (with --catalogue-only)")
	destroyCmd.Flags().BoolVar(&destroyCfg.CatalogueOnly, "catalogue-only", false, "destroy only the catalogue")

	rootCmd.AddCommand(prepareCmd, destroyCmd)
}
