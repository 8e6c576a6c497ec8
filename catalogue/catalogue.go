// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package catalogue defines the product catalogue contract and the SQL
// generation shared by the database backends. Every extension namespace
// maps to its own table keyed by product uuid, next to the core table
// and the link and tag tables.
package catalogue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"muninn.io/muninn/schema"
)

// Error is the class of catalogue errors.
var Error = errs.Class("catalogue")

// Backend is a product catalogue database. Implementations do not
// support nested transactions; every method runs in a transaction of
// its own.
type Backend interface {
	// Initialize binds the namespace definitions. It must be called
	// before any other method.
	Initialize(namespaces schema.Namespaces) error

	// Prepare creates the catalogue tables and returns the statements
	// it ran, or would run when dryRun is set.
	Prepare(ctx context.Context, dryRun bool) ([]string, error)
	// Destroy drops the catalogue tables.
	Destroy(ctx context.Context) error
	// Exists reports whether the catalogue has been prepared.
	Exists(ctx context.Context) (bool, error)
	// Disconnect drops the database connection; it is re-established
	// automatically when needed.
	Disconnect() error

	// InsertProductProperties stores a new product; the core record
	// must carry the uuid.
	InsertProductProperties(ctx context.Context, properties schema.Properties) error
	// UpdateProductProperties applies a partial update. The product is
	// identified by id, or by the uuid inside the core record when id
	// is uuid.Nil. Namespaces listed in newNamespaces are inserted, a
	// nil record deletes the namespace, and anything else is updated in
	// place.
	UpdateProductProperties(ctx context.Context, properties schema.Properties, id uuid.UUID, newNamespaces []string) error
	// DeleteProductProperties removes the product, its namespace
	// records, links, and tags, plus any links naming it as source.
	DeleteProductProperties(ctx context.Context, id uuid.UUID) error

	// Search returns the products matching the query.
	Search(ctx context.Context, q SearchQuery) ([]schema.Properties, error)
	// Count returns the number of products matching the filter.
	Count(ctx context.Context, where string, parameters map[string]any) (int64, error)
	// Summary aggregates over the products matching the query and
	// returns the rows plus the result field names.
	Summary(ctx context.Context, q SummaryQuery) ([][]any, []string, error)

	// Link records source products of a product; existing links are
	// kept.
	Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error
	// Unlink removes links to the given sources, or all links when
	// sources is nil.
	Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error
	// SourceProducts returns the uuids the product is derived from.
	SourceProducts(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	// DerivedProducts returns the uuids derived from the product.
	DerivedProducts(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

	// Tag adds tags to a product; existing tags are kept.
	Tag(ctx context.Context, id uuid.UUID, tags []string) error
	// Untag removes the given tags, or all tags when tags is nil.
	Untag(ctx context.Context, id uuid.UUID, tags []string) error
	// Tags returns the product tags in sorted order.
	Tags(ctx context.Context, id uuid.UUID) ([]string, error)

	// FindProductsWithoutSource returns the core properties of active
	// products older than the grace period that are not linked to any
	// source product.
	FindProductsWithoutSource(ctx context.Context, productType string, gracePeriod time.Duration, archivedOnly bool) ([]schema.Properties, error)
	// FindProductsWithoutAvailableSource returns the core properties of
	// active products older than the grace period whose every linked
	// source is known but holds no archived data.
	FindProductsWithoutAvailableSource(ctx context.Context, productType string, gracePeriod time.Duration) ([]schema.Properties, error)

	// ServerTimeUTC returns the database clock in UTC.
	ServerTimeUTC(ctx context.Context) (time.Time, error)
}

// DecodeValue converts one driver value into the property value for a
// field kind.
type DecodeValue func(kind schema.Kind, value any) (any, error)

// UnpackProperties converts one search result row into per-namespace
// records following the query description. For extension namespaces the
// leading uuid column marks whether the namespace is defined for the
// product; the column itself is a foreign key and is not part of the
// record.
func UnpackProperties(namespaces schema.Namespaces, description []NamespaceFields, values []any, decode DecodeValue) (schema.Properties, error) {
	properties := schema.Properties{}
	start := 0
	for _, projection := range description {
		fields := projection.Fields
		end := start + len(fields)

		if projection.Namespace != "core" {
			if values[start] == nil {
				start = end
				continue
			}
			start++
			fields = fields[1:]
		}

		ns, ok := namespaces[projection.Namespace]
		if !ok {
			return nil, Error.New("undefined namespace: %q", projection.Namespace)
		}
		record := schema.Record{}
		for i, name := range fields {
			value := values[start+i]
			if value == nil {
				continue
			}
			field := ns.Field(name)
			if field == nil {
				return nil, Error.New("no property %q defined within namespace %q", name, projection.Namespace)
			}
			decoded, err := decode(field.Kind, value)
			if err != nil {
				return nil, err
			}
			record[name] = decoded
		}
		if err := ns.Validate(record, true); err != nil {
			return nil, err
		}
		properties[projection.Namespace] = record
		start = end
	}
	return properties, nil
}
