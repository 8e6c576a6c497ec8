// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"muninn.io/muninn/archive"
)

var pullCfg struct {
	VerifyHash bool
}

var pullCmd = &cobra.Command{
	Use:   "pull [expression]",
	Short: "Pull remote products into the archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			count, err := a.Pull(ctx, expressionArg(args), nil, pullCfg.VerifyHash)
			if err != nil {
				return err
			}
			log.Info("products pulled", zap.Int("count", count))
			fmt.Println(count)
			return nil
		})
	},
}

var retrieveCfg struct {
	Directory string
	Link      bool
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [expression]",
	Short: "Copy products from the archive into a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			products, err := a.Search(ctx, expressionArg(args), archive.SearchOptions{
				PropertyNames: []string{"uuid"},
			})
			if err != nil {
				return err
			}

			// Storage transfers can run concurrently; catalogue access
			// inside RetrieveByUUID serializes on the connection.
			group, groupCtx := errgroup.WithContext(ctx)
			group.SetLimit(max(runCfg.Parallel, 1))
			paths := make([]string, len(products))
			for i, properties := range products {
				i := i
				id, err := coreUUID(properties)
				if err != nil {
					return err
				}
				group.Go(func() error {
					path, err := a.RetrieveByUUID(groupCtx, id, retrieveCfg.Directory, retrieveCfg.Link)
					paths[i] = path
					return err
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Println(path)
			}
			return nil
		})
	},
}

var exportCfg struct {
	Directory string
	Format    string
}

var exportCmd = &cobra.Command{
	Use:   "export [expression]",
	Short: "Export products from the archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			paths, err := a.Export(ctx, expressionArg(args), nil, exportCfg.Directory, exportCfg.Format)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Println(path)
			}
			return nil
		})
	},
}

var stripCfg struct {
	Force bool
}

var stripCmd = &cobra.Command{
	Use:   "strip [expression]",
	Short: "Remove product data from storage, keeping the catalogue entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			count, err := a.Strip(ctx, expressionArg(args), nil, stripCfg.Force)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		})
	},
}

var removeCfg struct {
	Force bool
}

var removeCmd = &cobra.Command{
	Use:   "remove [expression]",
	Short: "Remove products from the archive and the catalogue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			count, err := a.Remove(ctx, expressionArg(args), nil, removeCfg.Force)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		})
	},
}

func init() {
	pullCmd.Flags().BoolVar(&pullCfg.VerifyHash, "verify-hash", false, "verify the hash of each pulled product")
	retrieveCmd.Flags().StringVarP(&retrieveCfg.Directory, "directory", "d", ".", "target directory")
	retrieveCmd.Flags().BoolVar(&retrieveCfg.Link, "link", false, "create symbolic links instead of copies")
	exportCmd.Flags().StringVarP(&exportCfg.Directory, "directory", "d", ".", "target directory")
	exportCmd.Flags().StringVar(&exportCfg.Format, "format", "", "alternative export format")
	stripCmd.Flags().BoolVarP(&stripCfg.Force, "force", "f", false, "also strip partially ingested products")
	removeCmd.Flags().BoolVarP(&removeCfg.Force, "force", "f", false, "also remove partially ingested products")

	rootCmd.AddCommand(pullCmd, retrieveCmd, exportCmd, stripCmd, removeCmd)
}
