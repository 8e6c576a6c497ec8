// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
)

var ingestCfg struct {
	ProductType    string
	Link           bool
	Keep           bool
	VerifyHash     bool
	CatalogueOnly  bool
	Force          bool
	Tags           []string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Ingest products into the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			useSymlinks := ingestCfg.Link
			properties, err := a.Ingest(ctx, args, archive.IngestOptions{
				ProductType:    ingestCfg.ProductType,
				PropertiesOnly: ingestCfg.CatalogueOnly,
				UseSymlinks:    &useSymlinks,
				VerifyHash:     ingestCfg.VerifyHash,
				UseCurrentPath: ingestCfg.Keep,
				Force:          ingestCfg.Force,
			})
			if err != nil {
				return err
			}
			core := properties["core"]
			if id, ok := core["uuid"].(uuid.UUID); ok && len(ingestCfg.Tags) > 0 {
				if err := a.Tag(ctx, id, ingestCfg.Tags); err != nil {
					return err
				}
			}
			log.Info("product ingested",
				zap.Any("uuid", core["uuid"]),
				zap.Any("productName", core["product_name"]))
			fmt.Println(core["uuid"])
			return nil
		})
	},
}

var attachCfg struct {
	ProductType      string
	Link             bool
	Keep             bool
	VerifyHash       bool
	VerifyHashBefore bool
}

var attachCmd = &cobra.Command{
	Use:   "attach <path>...",
	Short: "Attach product data to an existing catalogue entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			useSymlinks := attachCfg.Link
			properties, err := a.Attach(ctx, args, archive.AttachOptions{
				ProductType:      attachCfg.ProductType,
				UseSymlinks:      &useSymlinks,
				VerifyHash:       attachCfg.VerifyHash,
				VerifyHashBefore: attachCfg.VerifyHashBefore,
				UseCurrentPath:   attachCfg.Keep,
			})
			if err != nil {
				return err
			}
			fmt.Println(properties["core"]["uuid"])
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCfg.ProductType, "product-type", "t", "", "product type of the products to ingest")
	ingestCmd.Flags().BoolVar(&ingestCfg.Link, "link", false, "ingest symbolic links to the products")
	ingestCmd.Flags().BoolVar(&ingestCfg.Keep, "keep", false, "keep the products at their current path inside the archive root")
	ingestCmd.Flags().BoolVar(&ingestCfg.VerifyHash, "verify-hash", false, "verify the hash of each product after ingestion")
	ingestCmd.Flags().BoolVar(&ingestCfg.CatalogueOnly, "catalogue-only", false, "only ingest product properties")
	ingestCmd.Flags().BoolVarP(&ingestCfg.Force, "force", "f", false, "remove existing products with the same type and name first")
	ingestCmd.Flags().StringArrayVar(&ingestCfg.Tags, "tag", nil, "tag to set on each ingested product (repeatable)")

	attachCmd.Flags().StringVarP(&attachCfg.ProductType, "product-type", "t", "", "product type of the products to attach")
	attachCmd.Flags().BoolVar(&attachCfg.Link, "link", false, "attach symbolic links to the products")
	attachCmd.Flags().BoolVar(&attachCfg.Keep, "keep", false, "keep the products at their current path inside the archive root")
	attachCmd.Flags().BoolVar(&attachCfg.VerifyHash, "verify-hash", false, "verify the hash of each product after attaching")
	attachCmd.Flags().BoolVar(&attachCfg.VerifyHashBefore, "verify-hash-before", false, "verify the local data against the catalogue hash first")

	rootCmd.AddCommand(ingestCmd, attachCmd)
}
