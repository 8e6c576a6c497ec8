// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"muninn.io/muninn/archive"
	"muninn.io/muninn/schema"
)

// withArchive runs fn with an opened archive handle and closes it
// afterwards.
func withArchive(fn func(ctx context.Context, log *zap.Logger, a *archive.Archive) error) error {
	log, err := openLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := openArchive(log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(context.Background(), log, a)
}

// expressionArg folds the positional arguments into one search
// expression.
func expressionArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// forEachProduct runs fn for every product matching the expression.
func forEachProduct(ctx context.Context, a *archive.Archive, where string, fn func(ctx context.Context, id uuid.UUID) error) error {
	products, err := a.Search(ctx, where, archive.SearchOptions{
		PropertyNames: []string{"uuid"},
	})
	if err != nil {
		return err
	}
	for _, properties := range products {
		id, err := coreUUID(properties)
		if err != nil {
			return err
		}
		if err := fn(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// coreUUID pulls the product uuid out of search results.
func coreUUID(properties schema.Properties) (uuid.UUID, error) {
	id, ok := properties["core"]["uuid"].(uuid.UUID)
	if !ok {
		return uuid.Nil, Error.New("search result without uuid")
	}
	return id, nil
}

// parseUUID parses a product uuid argument.
func parseUUID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, Error.New("invalid uuid %q: %v", arg, err)
	}
	return id, nil
}

// printProperties writes one product's properties, one field per line,
// grouped per namespace.
func printProperties(properties schema.Properties) {
	for _, namespace := range properties.Namespaces() {
		record := properties[namespace]
		for _, name := range record.Names() {
			fmt.Printf("%s.%s = %s\n", namespace, name, formatValue(record[name]))
		}
	}
}

func formatValue(value any) string {
	switch value := value.(type) {
	case time.Time:
		return value.UTC().Format("2006-01-02T15:04:05.000000")
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
