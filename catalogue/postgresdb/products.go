// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package postgresdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"muninn.io/muninn/catalogue"
	"muninn.io/muninn/schema"
)

// InsertProductProperties stores a new product; the core record must
// carry the uuid.
func (d *DB) InsertProductProperties(ctx context.Context, properties schema.Properties) (err error) {
	defer mon.Task()(&ctx)(&err)

	id, err := propertiesUUID(properties)
	if err != nil {
		return err
	}
	return d.transaction(ctx, func(tx *sql.Tx) error {
		if err := d.insertNamespaceProperties(ctx, tx, id, "core", properties["core"]); err != nil {
			return err
		}
		for _, name := range properties.Namespaces() {
			if name == "core" || properties[name] == nil {
				continue
			}
			if err := d.insertNamespaceProperties(ctx, tx, id, name, properties[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateProductProperties applies a partial update; see
// catalogue.Backend for the namespace insert and delete rules.
func (d *DB) UpdateProductProperties(ctx context.Context, properties schema.Properties, id uuid.UUID, newNamespaces []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	core, hasCore := properties["core"]
	if hasCore && core != nil {
		if value, ok := core["uuid"]; ok {
			coreID, ok := value.(uuid.UUID)
			if !ok {
				return Error.New("core uuid is not a uuid")
			}
			if id == uuid.Nil {
				id = coreID
			} else if id != coreID {
				return Error.New("specified uuid does not match uuid included in the specified product properties")
			}
		}
	}
	if id == uuid.Nil {
		return Error.New("no uuid specified and no uuid included in the specified product properties")
	}

	isNew := map[string]bool{}
	for _, name := range newNamespaces {
		isNew[name] = true
	}

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if hasCore && core != nil {
			if err := d.updateNamespaceProperties(ctx, tx, id, "core", core); err != nil {
				return err
			}
		}
		for _, name := range properties.Namespaces() {
			if name == "core" {
				continue
			}
			record := properties[name]
			switch {
			case isNew[name]:
				if record != nil {
					if err := d.insertNamespaceProperties(ctx, tx, id, name, record); err != nil {
						return err
					}
				}
			case record == nil:
				if err := d.deleteNamespaceProperties(ctx, tx, id, name); err != nil {
					return err
				}
			default:
				if err := d.updateNamespaceProperties(ctx, tx, id, name, record); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteProductProperties removes the product and any links naming it
// as source; the per-namespace records, remaining links, and tags
// follow through the foreign keys.
func (d *DB) DeleteProductProperties(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+d.linkTable+" WHERE source_uuid = $1", id.String()); err != nil {
			return Error.Wrap(err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM "+d.coreTable+" WHERE uuid = $1", id.String())
		if err != nil {
			return Error.Wrap(err)
		}
		count, err := result.RowsAffected()
		if err != nil {
			return Error.Wrap(err)
		}
		if count != 1 {
			return Error.New("could not delete properties for product: %s", id)
		}
		return nil
	})
}

func propertiesUUID(properties schema.Properties) (uuid.UUID, error) {
	core, ok := properties["core"]
	if !ok {
		return uuid.Nil, Error.New("product properties have no core namespace")
	}
	value, ok := core["uuid"]
	if !ok {
		return uuid.Nil, Error.New("core properties have no uuid")
	}
	id, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil, Error.New("core uuid is not a uuid")
	}
	return id, nil
}

func (d *DB) insertNamespaceProperties(ctx context.Context, tx *sql.Tx, id uuid.UUID, name string, record schema.Record) error {
	ns, err := d.namespaceSchema(name)
	if err != nil {
		return err
	}
	if err := ns.Validate(record, false); err != nil {
		return err
	}

	fields := record.Names()
	if _, ok := record["uuid"]; !ok {
		// The uuid is the foreign key for extension namespaces.
		fields = append(fields, "uuid")
	}
	args := make([]any, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	for i, field := range fields {
		value, ok := record[field]
		if !ok && field == "uuid" {
			value = id
		}
		encoded, err := encodeField(ns, field, value)
		if err != nil {
			return err
		}
		args = append(args, encoded)
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
	}

	query := "INSERT INTO " + d.tableName(name) + " (" + strings.Join(fields, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	_, err = tx.ExecContext(ctx, query, args...)
	return Error.Wrap(err)
}

func (d *DB) updateNamespaceProperties(ctx context.Context, tx *sql.Tx, id uuid.UUID, name string, record schema.Record) error {
	ns, err := d.namespaceSchema(name)
	if err != nil {
		return err
	}
	if err := ns.Validate(record, true); err != nil {
		return err
	}

	var assignments []string
	var args []any
	for _, field := range record.Names() {
		if field == "uuid" {
			continue
		}
		encoded, err := encodeField(ns, field, record[field])
		if err != nil {
			return err
		}
		args = append(args, encoded)
		assignments = append(assignments, field+" = $"+strconv.Itoa(len(args)))
	}
	if len(assignments) == 0 {
		return nil
	}
	args = append(args, id.String())

	query := "UPDATE " + d.tableName(name) + " SET " + strings.Join(assignments, ", ") +
		" WHERE uuid = $" + strconv.Itoa(len(args))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if count != 1 {
		return Error.New("could not update properties for namespace: %s for product: %s", name, id)
	}
	return nil
}

func (d *DB) deleteNamespaceProperties(ctx context.Context, tx *sql.Tx, id uuid.UUID, name string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM "+d.tableName(name)+" WHERE uuid = $1", id.String())
	return Error.Wrap(err)
}

func encodeField(ns *schema.Namespace, name string, value any) (any, error) {
	field := ns.Field(name)
	if field != nil && field.Kind == schema.JSON {
		text, err := json.Marshal(value)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return string(text), nil
	}
	return encodeValue(value)
}

// Search returns the products matching the query.
func (d *DB) Search(ctx context.Context, q catalogue.SearchQuery) (_ []schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, description, err := d.builder.BuildSearchQuery(q)
	if err != nil {
		return nil, err
	}
	var products []schema.Properties
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			values, err := scanRow(rows)
			if err != nil {
				return err
			}
			properties, err := catalogue.UnpackProperties(d.namespaces, description, values, decodeValue)
			if err != nil {
				return err
			}
			products = append(products, properties)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Count returns the number of products matching the filter.
func (d *DB) Count(ctx context.Context, where string, parameters map[string]any) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, err := d.builder.BuildCountQuery(where, parameters)
	if err != nil {
		return 0, err
	}
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		return Error.Wrap(tx.QueryRowContext(ctx, query, args...).Scan(&count))
	})
	return count, err
}

// Summary aggregates over the products matching the query.
func (d *DB) Summary(ctx context.Context, q catalogue.SummaryQuery) (_ [][]any, _ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	query, args, fields, err := d.builder.BuildSummaryQuery(q)
	if err != nil {
		return nil, nil, err
	}
	var result [][]any
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			values, err := scanRow(rows)
			if err != nil {
				return err
			}
			for i, value := range values {
				if raw, ok := value.([]byte); ok {
					values[i] = string(raw)
				}
			}
			result = append(result, values)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, nil, err
	}
	return result, fields, nil
}

// Link records source products of a product; existing links are kept.
func (d *DB) Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		query := "INSERT INTO " + d.linkTable + " (uuid, source_uuid) VALUES ($1, $2) ON CONFLICT DO NOTHING"
		for _, source := range sources {
			if _, err := tx.ExecContext(ctx, query, id.String(), source.String()); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Unlink removes links to the given sources, or all links when sources
// is nil.
func (d *DB) Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if sources == nil {
			_, err := tx.ExecContext(ctx, "DELETE FROM "+d.linkTable+" WHERE uuid = $1", id.String())
			return Error.Wrap(err)
		}
		for _, source := range sources {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM "+d.linkTable+" WHERE uuid = $1 AND source_uuid = $2", id.String(), source.String())
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// SourceProducts returns the uuids the product is derived from.
func (d *DB) SourceProducts(ctx context.Context, id uuid.UUID) (_ []uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)
	return d.queryUUIDs(ctx, "SELECT source_uuid FROM "+d.linkTable+" WHERE uuid = $1", id)
}

// DerivedProducts returns the uuids derived from the product.
func (d *DB) DerivedProducts(ctx context.Context, id uuid.UUID) (_ []uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)
	return d.queryUUIDs(ctx, "SELECT uuid FROM "+d.linkTable+" WHERE source_uuid = $1", id)
}

func (d *DB) queryUUIDs(ctx context.Context, query string, id uuid.UUID) ([]uuid.UUID, error) {
	var result []uuid.UUID
	err := d.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, id.String())
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var text string
			if err := rows.Scan(&text); err != nil {
				return Error.Wrap(err)
			}
			parsed, err := uuid.Parse(text)
			if err != nil {
				return Error.Wrap(err)
			}
			result = append(result, parsed)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Tag adds tags to a product; existing tags are kept.
func (d *DB) Tag(ctx context.Context, id uuid.UUID, tags []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		query := "INSERT INTO " + d.tagTable + " (uuid, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING"
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, query, id.String(), tag); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Untag removes the given tags, or all tags when tags is nil.
func (d *DB) Untag(ctx context.Context, id uuid.UUID, tags []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		if tags == nil {
			_, err := tx.ExecContext(ctx, "DELETE FROM "+d.tagTable+" WHERE uuid = $1", id.String())
			return Error.Wrap(err)
		}
		for _, tag := range tags {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM "+d.tagTable+" WHERE uuid = $1 AND tag = $2", id.String(), tag)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Tags returns the product tags in sorted order.
func (d *DB) Tags(ctx context.Context, id uuid.UUID) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	var tags []string
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT tag FROM "+d.tagTable+" WHERE uuid = $1 ORDER BY tag", id.String())
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var tag string
			if err := rows.Scan(&tag); err != nil {
				return Error.Wrap(err)
			}
			tags = append(tags, tag)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// FindProductsWithoutSource returns the core properties of active
// products older than the grace period that are not linked to any
// source product.
func (d *DB) FindProductsWithoutSource(ctx context.Context, productType string, gracePeriod time.Duration, archivedOnly bool) (_ []schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	core, selectList, err := d.coreSelectList()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + selectList + " FROM " + d.coreTable +
		" WHERE " + d.coreTable + ".active AND now() AT TIME ZONE 'UTC' - " + d.coreTable + ".archive_date > $1 * interval '1 second'" +
		" AND NOT EXISTS (SELECT 1 FROM " + d.linkTable + " WHERE " + d.linkTable + ".uuid = " + d.coreTable + ".uuid)"
	args := []any{gracePeriod.Seconds()}
	if productType != "" {
		query += " AND product_type = $2"
		args = append(args, productType)
	}
	if archivedOnly {
		query += " AND archive_path IS NOT NULL"
	}
	return d.queryCoreProperties(ctx, core, query, args...)
}

// FindProductsWithoutAvailableSource returns the core properties of
// active products older than the grace period whose every linked source
// is known but holds no archived data.
func (d *DB) FindProductsWithoutAvailableSource(ctx context.Context, productType string, gracePeriod time.Duration) (_ []schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	core, selectList, err := d.coreSelectList()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + selectList + " FROM " + d.coreTable +
		" WHERE active AND now() AT TIME ZONE 'UTC' - archive_date > $1 * interval '1 second'" +
		" AND uuid IN (SELECT uuid FROM " + d.linkTable +
		" EXCEPT SELECT DISTINCT link.uuid FROM " + d.linkTable + " AS link" +
		" LEFT JOIN " + d.coreTable + " AS source ON (link.source_uuid = source.uuid)" +
		" WHERE source.uuid IS NULL OR source.archive_path IS NOT NULL)"
	args := []any{gracePeriod.Seconds()}
	if productType != "" {
		query += " AND product_type = $2"
		args = append(args, productType)
	}
	return d.queryCoreProperties(ctx, core, query, args...)
}

func (d *DB) coreSelectList() (*schema.Namespace, string, error) {
	core, err := d.namespaceSchema("core")
	if err != nil {
		return nil, "", err
	}
	columns := make([]string, len(core.Fields))
	for i, field := range core.Fields {
		columns[i] = d.coreTable + "." + field.Name
	}
	return core, strings.Join(columns, ", "), nil
}

func (d *DB) queryCoreProperties(ctx context.Context, core *schema.Namespace, query string, args ...any) ([]schema.Properties, error) {
	fields := make([]string, len(core.Fields))
	for i := range core.Fields {
		fields[i] = core.Fields[i].Name
	}
	description := []catalogue.NamespaceFields{{Namespace: "core", Fields: fields}}

	var products []schema.Properties
	err := d.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			values, err := scanRow(rows)
			if err != nil {
				return err
			}
			properties, err := catalogue.UnpackProperties(d.namespaces, description, values, decodeValue)
			if err != nil {
				return err
			}
			products = append(products, properties)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func scanRow(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		return nil, Error.Wrap(err)
	}
	return values, nil
}
