// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package postgresdb implements the product catalogue on PostgreSQL
// with PostGIS. Geometry values travel as hexadecimal extended well
// known binary in GEOGRAPHY columns.
package postgresdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/catalogue"
	"muninn.io/muninn/expression"
	"muninn.io/muninn/geometry"
	"muninn.io/muninn/geometry/ewkb"
	"muninn.io/muninn/schema"
)

var (
	// Error is the class of postgresql backend errors.
	Error = errs.Class("postgresql")

	mon = monkit.Package()
)

var tablePrefixPattern = regexp.MustCompile(`^[a-z][_a-z]*(\.[a-z][_a-z]*)*$`)

// Config holds the postgresql backend options.
type Config struct {
	// ConnectionString is a libpq connection string or URL.
	ConnectionString string `help:"postgresql connection string" default:""`
	TablePrefix      string `help:"prefix applied to all catalogue table names" default:""`
}

// Verify checks the configuration.
func (config Config) Verify() error {
	if config.ConnectionString == "" {
		return Error.New("connection string is missing")
	}
	if config.TablePrefix != "" && !tablePrefixPattern.MatchString(config.TablePrefix) {
		return Error.New("invalid table prefix %q", config.TablePrefix)
	}
	return nil
}

// DB is the postgresql catalogue backend.
type DB struct {
	log    *zap.Logger
	db     *sql.DB
	config Config

	coreTable string
	linkTable string
	tagTable  string

	namespaces schema.Namespaces
	builder    *catalogue.Builder

	inTransaction atomic.Bool
}

// Open connects to the database. Initialize must be called before the
// catalogue is used.
func Open(log *zap.Logger, config Config) (*DB, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", config.ConnectionString)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	d := &DB{log: log, db: db, config: config}
	d.coreTable = d.tableName("core")
	d.linkTable = d.tableName("link")
	d.tagTable = d.tableName("tag")
	return d, nil
}

// Initialize binds the namespace definitions.
func (d *DB) Initialize(namespaces schema.Namespaces) error {
	d.namespaces = namespaces
	d.builder = &catalogue.Builder{
		Namespaces:      namespaces,
		TypeMap:         columnTypes,
		Rewriters:       d.rewriterTable(),
		TableName:       d.tableName,
		Placeholder:     placeholder,
		EncodeValue:     encodeValue,
		SubscriptColumn: subscriptColumn,
	}
	return nil
}

func placeholder(index int) string {
	return "$" + strconv.Itoa(index+1)
}

func (d *DB) tableName(name string) string {
	return d.config.TablePrefix + name
}

func (d *DB) namespaceSchema(name string) (*schema.Namespace, error) {
	ns, ok := d.namespaces[name]
	if !ok {
		return nil, Error.New("undefined namespace: %q", name)
	}
	return ns, nil
}

// transaction runs fn inside a transaction; nesting is a programming
// error.
func (d *DB) transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if !d.inTransaction.CompareAndSwap(false, true) {
		return muninn.ErrInternal.New("nested transactions are not supported")
	}
	defer d.inTransaction.Store(false)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

var columnTypes = map[schema.Kind]string{
	schema.Long:      "BIGINT",
	schema.Integer:   "INTEGER",
	schema.Real:      "DOUBLE PRECISION",
	schema.Boolean:   "BOOLEAN",
	schema.Text:      `TEXT COLLATE "C"`,
	schema.JSON:      "JSONB",
	schema.Timestamp: "TIMESTAMP",
	schema.UUID:      "UUID",
	schema.Geometry:  "GEOGRAPHY",
}

// Prepare creates the catalogue tables and returns the statements it
// ran, or would run when dryRun is set.
func (d *DB) Prepare(ctx context.Context, dryRun bool) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	statements, err := d.createTablesSQL()
	if err != nil {
		return nil, err
	}
	if dryRun {
		return statements, nil
	}
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		for _, statement := range statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statements, nil
}

func (d *DB) createTablesSQL() ([]string, error) {
	var result []string

	coreCreate, err := d.builder.BuildCreateTableQuery("core")
	if err != nil {
		return nil, err
	}
	result = append(result,
		coreCreate,
		"ALTER TABLE "+d.coreTable+" ADD PRIMARY KEY (uuid);",
		"ALTER TABLE "+d.coreTable+" ADD CONSTRAINT "+d.coreTable+"_archive_path_uniq UNIQUE (archive_path, physical_name);",
		"ALTER TABLE "+d.coreTable+" ADD CONSTRAINT "+d.coreTable+"_product_name_uniq UNIQUE (product_type, product_name);")

	core, err := d.namespaceSchema("core")
	if err != nil {
		return nil, err
	}
	result = append(result, indexSQL(d.coreTable, core)...)

	for _, name := range d.namespaces.Names() {
		if name == "core" {
			continue
		}
		create, err := d.builder.BuildCreateTableQuery(name)
		if err != nil {
			return nil, err
		}
		table := d.tableName(name)
		result = append(result,
			create,
			"ALTER TABLE "+table+" ADD COLUMN uuid UUID PRIMARY KEY;",
			"ALTER TABLE "+table+" ADD CONSTRAINT "+table+"_uuid_fkey FOREIGN KEY (uuid) REFERENCES "+d.coreTable+" (uuid) ON DELETE CASCADE;")
		ns, err := d.namespaceSchema(name)
		if err != nil {
			return nil, err
		}
		result = append(result, indexSQL(table, ns)...)
	}

	// Links and tags carry an explicit id key so the entries can be
	// managed by front-ends that do not support tuple keys.
	result = append(result,
		"CREATE TABLE "+d.linkTable+" (id SERIAL PRIMARY KEY, uuid UUID NOT NULL, source_uuid UUID NOT NULL);",
		"ALTER TABLE "+d.linkTable+" ADD CONSTRAINT "+d.linkTable+"_link_uuid_source_uuid_uniq UNIQUE (uuid, source_uuid);",
		"ALTER TABLE "+d.linkTable+" ADD CONSTRAINT "+d.linkTable+"_uuid_fkey FOREIGN KEY (uuid) REFERENCES "+d.coreTable+" (uuid) ON DELETE CASCADE;",
		"CREATE INDEX idx_"+d.linkTable+"_uuid ON "+d.linkTable+" (uuid);",
		"CREATE INDEX idx_"+d.linkTable+"_source_uuid ON "+d.linkTable+" (source_uuid);",
		"CREATE TABLE "+d.tagTable+" (id SERIAL PRIMARY KEY, uuid UUID NOT NULL, tag TEXT NOT NULL);",
		"ALTER TABLE "+d.tagTable+" ADD CONSTRAINT "+d.tagTable+"_tag_uuid_tag_uniq UNIQUE (uuid, tag);",
		"ALTER TABLE "+d.tagTable+" ADD CONSTRAINT "+d.tagTable+"_uuid_fkey FOREIGN KEY (uuid) REFERENCES "+d.coreTable+" (uuid) ON DELETE CASCADE;",
		"CREATE INDEX idx_"+d.tagTable+"_uuid ON "+d.tagTable+" (uuid);",
		"CREATE INDEX idx_"+d.tagTable+"_tag ON "+d.tagTable+" (tag);")
	return result, nil
}

// indexSQL renders the index statements; the geospatial footprint gets
// a GIST index.
func indexSQL(table string, ns *schema.Namespace) []string {
	var result []string
	for _, field := range ns.Fields {
		if !field.Index {
			continue
		}
		if field.Kind == schema.Geometry {
			result = append(result, "CREATE INDEX idx_"+table+"_"+field.Name+" ON "+table+" USING GIST ("+field.Name+");")
			continue
		}
		result = append(result, "CREATE INDEX idx_"+table+"_"+field.Name+" ON "+table+" ("+field.Name+");")
	}
	return result
}

// Destroy drops the catalogue tables.
func (d *DB) Destroy(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return d.transaction(ctx, func(tx *sql.Tx) error {
		tables := []string{d.tagTable, d.linkTable}
		for _, name := range d.namespaces.Names() {
			if name != "core" {
				tables = append(tables, d.tableName(name))
			}
		}
		tables = append(tables, d.coreTable)
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Exists reports whether the catalogue has been prepared.
func (d *DB) Exists(ctx context.Context) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists := false
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM pg_class WHERE relname=$1", d.coreTable)
		var count int64
		if err := row.Scan(&count); err != nil {
			return Error.Wrap(err)
		}
		exists = count != 0
		return nil
	})
	return exists, err
}

// Disconnect closes the database.
func (d *DB) Disconnect() error {
	return Error.Wrap(d.db.Close())
}

// ServerTimeUTC returns the database clock in UTC.
func (d *DB) ServerTimeUTC(ctx context.Context) (_ time.Time, err error) {
	defer mon.Task()(&ctx)(&err)

	var serverTime time.Time
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		return Error.Wrap(tx.QueryRowContext(ctx, "SELECT timezone($1, now())", "UTC").Scan(&serverTime))
	})
	if err != nil {
		return time.Time{}, err
	}
	return serverTime.UTC(), nil
}

func (d *DB) rewriterTable() *catalogue.RewriterTable {
	table := catalogue.DefaultRewriterTable()

	table.Set(expression.NewPrototype("-", expression.TypeReal, expression.TypeTimestamp, expression.TypeTimestamp),
		func(args ...string) string {
			return "EXTRACT(EPOCH FROM (" + args[0] + ") - (" + args[1] + "))"
		})

	table.Set(expression.NewPrototype("covers", expression.TypeBoolean, expression.TypeGeometry, expression.TypeGeometry),
		catalogue.BinaryFunction("ST_Covers"))
	// The non-spheroid distance is considerably faster.
	table.Set(expression.NewPrototype("distance", expression.TypeReal, expression.TypeGeometry, expression.TypeGeometry),
		func(args ...string) string { return "ST_Distance(" + args[0] + ", " + args[1] + ", false)" })
	table.Set(expression.NewPrototype("intersects", expression.TypeBoolean, expression.TypeGeometry, expression.TypeGeometry),
		catalogue.BinaryFunction("ST_Intersects"))

	table.Set(expression.NewPrototype("is_source_of", expression.TypeBoolean, expression.TypeUUID),
		func(args ...string) string {
			return "EXISTS (SELECT 1 FROM " + d.linkTable + " WHERE source_uuid = " + d.coreTable + ".uuid AND uuid = (" + args[0] + "))"
		})
	table.SetSubquery(expression.NewPrototype("is_source_of", expression.TypeBoolean, expression.TypeBoolean),
		func(where string, namespaces []string) string {
			return d.coreTable + ".uuid in (SELECT " + d.linkTable + ".source_uuid FROM " + d.coreTable +
				d.subqueryJoins(namespaces) + " INNER JOIN " + d.linkTable + " on " + d.linkTable + ".uuid = " +
				d.coreTable + ".uuid WHERE " + where + ")"
		})

	table.Set(expression.NewPrototype("is_derived_from", expression.TypeBoolean, expression.TypeUUID),
		func(args ...string) string {
			return "EXISTS (SELECT 1 FROM " + d.linkTable + " WHERE uuid = " + d.coreTable + ".uuid AND source_uuid = (" + args[0] + "))"
		})
	table.SetSubquery(expression.NewPrototype("is_derived_from", expression.TypeBoolean, expression.TypeBoolean),
		func(where string, namespaces []string) string {
			return d.coreTable + ".uuid in (SELECT " + d.linkTable + ".uuid FROM " + d.coreTable +
				d.subqueryJoins(namespaces) + " INNER JOIN " + d.linkTable + " on " + d.linkTable + ".source_uuid = " +
				d.coreTable + ".uuid WHERE " + where + ")"
		})

	table.Set(expression.NewPrototype("has_tag", expression.TypeBoolean, expression.TypeText),
		func(args ...string) string {
			return "EXISTS (SELECT 1 FROM " + d.tagTable + " WHERE uuid = " + d.coreTable + ".uuid AND tag = (" + args[0] + "))"
		})

	table.Set(expression.NewPrototype("now", expression.TypeTimestamp), catalogue.AsIs("now() AT TIME ZONE 'UTC'"))

	isDefined := func(args ...string) string {
		for _, c := range args[0] {
			if c == '.' {
				return "(" + args[0] + ") IS NOT NULL"
			}
		}
		return "EXISTS (SELECT 1 FROM " + d.tableName(args[0]) + " WHERE uuid = " + d.coreTable + ".uuid)"
	}
	for _, t := range []expression.Type{
		expression.TypeLong, expression.TypeInteger, expression.TypeReal, expression.TypeBoolean,
		expression.TypeText, expression.TypeNamespace, expression.TypeTimestamp, expression.TypeUUID,
		expression.TypeGeometry,
	} {
		table.Set(expression.NewPrototype("is_defined", expression.TypeBoolean, t), isDefined)
	}

	return table
}

func (d *DB) subqueryJoins(namespaces []string) string {
	joins := ""
	for _, namespace := range namespaces {
		joins += " INNER JOIN " + d.tableName(namespace) + " USING (uuid)"
	}
	return joins
}

func subscriptColumn(column, subscript string) (string, error) {
	switch subscript {
	case "year":
		return "TO_CHAR(" + column + ", 'YYYY')", nil
	case "month":
		return "TO_CHAR(" + column + ", 'MM')", nil
	case "yearmonth":
		return "TO_CHAR(" + column + ", 'YYYY-MM')", nil
	case "day":
		return "TO_CHAR(" + column + ", 'DD')", nil
	case "date":
		return "TO_CHAR(" + column + ", 'YYYY-MM-DD')", nil
	case "hour":
		return "TO_CHAR(" + column + ", 'HH24')", nil
	case "minute":
		return "TO_CHAR(" + column + ", 'MI')", nil
	case "second":
		return "TO_CHAR(" + column + ", 'SS')", nil
	case "time":
		return "TO_CHAR(" + column + ", 'HH24:MI:SS')", nil
	case "length":
		return "CHAR_LENGTH(" + column + ")", nil
	}
	return "", Error.New("unsupported subscript: %q", subscript)
}

func encodeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64, string, []byte, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case uuid.UUID:
		return v.String(), nil
	case geometry.Geometry:
		// The geography input parser accepts hexadecimal EWKB.
		return ewkb.EncodeHex(v)
	}
	return nil, Error.New("cannot encode value of type %T", value)
}

func decodeValue(kind schema.Kind, value any) (any, error) {
	switch kind {
	case schema.Boolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case schema.Integer, schema.Long:
		if v, ok := value.(int64); ok {
			return v, nil
		}
	case schema.Real:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	case schema.Text:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case schema.Timestamp:
		if v, ok := value.(time.Time); ok {
			return v.UTC(), nil
		}
	case schema.UUID:
		switch v := value.(type) {
		case string:
			id, err := uuid.Parse(v)
			return id, Error.Wrap(err)
		case []byte:
			id, err := uuid.ParseBytes(v)
			return id, Error.Wrap(err)
		}
	case schema.Geometry:
		switch v := value.(type) {
		case string:
			return ewkb.DecodeHex(v)
		case []byte:
			return ewkb.DecodeHex(string(v))
		}
	case schema.JSON:
		var text []byte
		switch v := value.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		}
		if text != nil {
			var decoded any
			if err := json.Unmarshal(text, &decoded); err != nil {
				return nil, Error.Wrap(err)
			}
			return decoded, nil
		}
	}
	return nil, Error.New("cannot decode %T as %q", value, kind)
}
