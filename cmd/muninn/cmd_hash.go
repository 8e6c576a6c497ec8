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

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Calculate or verify product hashes",
	Args:  cobra.NoArgs,
}

var hashCalcCmd = &cobra.Command{
	Use:   "calc [expression]",
	Short: "Calculate the current hash of archived products",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			products, err := a.Search(ctx, expressionArg(args), archive.SearchOptions{
				PropertyNames: []string{"uuid", "product_name"},
			})
			if err != nil {
				return err
			}
			for _, properties := range products {
				id, err := coreUUID(properties)
				if err != nil {
					return err
				}
				productHash, err := a.CalculateHash(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", id, productHash)
			}
			return nil
		})
	},
}

var hashVerifyCmd = &cobra.Command{
	Use:   "verify [expression]",
	Short: "Verify archived products against their catalogue hash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			failed, err := a.VerifyHash(ctx, expressionArg(args), nil)
			if err != nil {
				return err
			}
			for _, id := range failed {
				fmt.Println(id)
			}
			if len(failed) > 0 {
				return Error.New("%d product(s) failed hash verification", len(failed))
			}
			return nil
		})
	},
}

func init() {
	hashCmd.AddCommand(hashCalcCmd, hashVerifyCmd)
	rootCmd.AddCommand(hashCmd)
}
