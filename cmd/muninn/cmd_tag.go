// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive"
)

var tagCmd = &cobra.Command{
	Use:   "tag <uuid> <tag>...",
	Short: "Set one or more tags on a product",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			return a.Tag(ctx, id, args[1:])
		})
	},
}

var untagCfg struct {
	All bool
}

var untagCmd = &cobra.Command{
	Use:   "untag <uuid> [tag]...",
	Short: "Remove tags from a product",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			tags := args[1:]
			if untagCfg.All {
				tags = nil
			} else if len(tags) == 0 {
				return muninn.ErrUser.New("no tags specified; use --all to remove all tags")
			}
			return a.Untag(ctx, id, tags)
		})
	},
}

func init() {
	untagCmd.Flags().BoolVar(&untagCfg.All, "all", false, "remove all tags")

	rootCmd.AddCommand(tagCmd, untagCmd)
}
