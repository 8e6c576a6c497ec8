// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
	"muninn.io/muninn/schema"
)

var updateCfg struct {
	DisableHooks   bool
	UseCurrentPath bool
	VerifyHash     bool
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh catalogue entries from the archived products",
	Args:  cobra.NoArgs,
}

var updateIngestCmd = &cobra.Command{
	Use:   "ingest [expression]",
	Short: "Re-extract the properties of archived products",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			return forEachProduct(ctx, a, expressionArg(args), func(ctx context.Context, id uuid.UUID) error {
				return a.RebuildProperties(ctx, id, updateCfg.DisableHooks, updateCfg.UseCurrentPath)
			})
		})
	},
}

var updatePullCmd = &cobra.Command{
	Use:   "pull [expression]",
	Short: "Refresh pulled products in place",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			return forEachProduct(ctx, a, expressionArg(args), func(ctx context.Context, id uuid.UUID) error {
				return a.RebuildPullProperties(ctx, id, updateCfg.VerifyHash, updateCfg.DisableHooks, updateCfg.UseCurrentPath)
			})
		})
	},
}

var retypeCfg struct {
	ProductType string
}

var updateRetypeCmd = &cobra.Command{
	Use:   "retype [expression]",
	Short: "Change the product type of matching products",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			if retypeCfg.ProductType == "" {
				return Error.New("no product type specified")
			}
			if _, err := a.ProductTypePlugin(retypeCfg.ProductType); err != nil {
				return err
			}
			return forEachProduct(ctx, a, expressionArg(args), func(ctx context.Context, id uuid.UUID) error {
				update := schema.Properties{"core": {"product_type": retypeCfg.ProductType}}
				return a.UpdateProperties(ctx, update, id, false)
			})
		})
	},
}

func init() {
	updateCmd.PersistentFlags().BoolVar(&updateCfg.DisableHooks, "disable-hooks", false, "do not run product type hooks")
	updateCmd.PersistentFlags().BoolVar(&updateCfg.UseCurrentPath, "keep", false, "do not relocate products to their plugin-derived archive path")
	updatePullCmd.Flags().BoolVar(&updateCfg.VerifyHash, "verify-hash", false, "verify the hash of each product")
	updateRetypeCmd.Flags().StringVarP(&retypeCfg.ProductType, "product-type", "t", "", "new product type")

	updateCmd.AddCommand(updateIngestCmd, updatePullCmd, updateRetypeCmd)
	rootCmd.AddCommand(updateCmd)
}
