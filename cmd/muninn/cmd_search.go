// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
)

var searchCfg struct {
	OrderBy       []string
	Limit         int
	Namespaces    []string
	PropertyNames []string
	Count         bool
}

var searchCmd = &cobra.Command{
	Use:   "search [expression]",
	Short: "Search the product catalogue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			where := expressionArg(args)
			if searchCfg.Count {
				count, err := a.Count(ctx, where, nil)
				if err != nil {
					return err
				}
				fmt.Println(count)
				return nil
			}

			opts := archive.SearchOptions{
				OrderBy:       searchCfg.OrderBy,
				Namespaces:    searchCfg.Namespaces,
				PropertyNames: searchCfg.PropertyNames,
			}
			if searchCfg.Limit >= 0 {
				limit := searchCfg.Limit
				opts.Limit = &limit
			}
			products, err := a.Search(ctx, where, opts)
			if err != nil {
				return err
			}
			for i, properties := range products {
				if i > 0 {
					fmt.Println()
				}
				printProperties(properties)
			}
			return nil
		})
	},
}

var summaryCfg struct {
	Aggregates []string
	GroupBy    []string
	GroupByTag bool
	OrderBy    []string
}

var summaryCmd = &cobra.Command{
	Use:   "summary [expression]",
	Short: "Summarize the products matching an expression",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			rows, fields, err := a.Summary(ctx, expressionArg(args), archive.SummaryOptions{
				Aggregates: summaryCfg.Aggregates,
				GroupBy:    summaryCfg.GroupBy,
				GroupByTag: summaryCfg.GroupByTag,
				OrderBy:    summaryCfg.OrderBy,
			})
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(fields, "\t"))
			for _, row := range rows {
				values := make([]string, len(row))
				for i, value := range row {
					values[i] = formatValue(value)
				}
				fmt.Println(strings.Join(values, "\t"))
			}
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <uuid>",
	Short: "Show all properties of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(ctx context.Context, log *zap.Logger, a *archive.Archive) error {
			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			properties, err := a.RetrieveProperties(ctx, id, a.Namespaces())
			if err != nil {
				return err
			}
			printProperties(properties)
			return nil
		})
	},
}

var listTagsCmd = &cobra.Command{
	Use:   "list-tags [expression]",
	Short: "List the tags of the products matching an expression",
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
				core := properties["core"]
				id, err := coreUUID(properties)
				if err != nil {
					return err
				}
				tags, err := a.Tags(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", core["uuid"], core["product_name"], strings.Join(tags, ", "))
			}
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchCfg.OrderBy, "order-by", nil, "property names to sort on, prefixed with + or -")
	searchCmd.Flags().IntVarP(&searchCfg.Limit, "limit", "l", -1, "maximum number of products to return")
	searchCmd.Flags().StringSliceVar(&searchCfg.Namespaces, "namespaces", nil, "extension namespaces to include")
	searchCmd.Flags().StringSliceVar(&searchCfg.PropertyNames, "property-names", nil, "restrict the output to the named properties")
	searchCmd.Flags().BoolVar(&searchCfg.Count, "count", false, "print only the number of matching products")

	summaryCmd.Flags().StringSliceVar(&summaryCfg.Aggregates, "aggregate", nil, "aggregations as <property>.<function>")
	summaryCmd.Flags().StringSliceVar(&summaryCfg.GroupBy, "group-by", nil, "properties to group on")
	summaryCmd.Flags().BoolVar(&summaryCfg.GroupByTag, "group-by-tag", false, "additionally group per product tag")
	summaryCmd.Flags().StringSliceVar(&summaryCfg.OrderBy, "order-by", nil, "result columns to sort on, prefixed with + or -")

	rootCmd.AddCommand(searchCmd, summaryCmd, infoCmd, listTagsCmd)
}
