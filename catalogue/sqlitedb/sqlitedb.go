// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package sqlitedb implements the product catalogue on SQLite.
//
// Geometry values are stored as extended well known binary blobs and
// the spatial predicates are registered as Go functions on every
// connection; they evaluate on bounding boxes.
package sqlitedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
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
	// Error is the class of sqlite backend errors.
	Error = errs.Class("sqlite")

	mon = monkit.Package()
)

const driverName = "sqlite3_muninn"

var registerDriver sync.Once

var tablePrefixPattern = regexp.MustCompile(`^[a-z][_a-z]*(\.[a-z][_a-z]*)*$`)

// Config holds the sqlite backend options.
type Config struct {
	// ConnectionString is the path of the database file.
	ConnectionString string `help:"path of the sqlite database file" default:"muninn.db"`
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

// DB is the sqlite catalogue backend.
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

// Open opens the database file, creating it when missing. Initialize
// must be called before the catalogue is used.
func Open(log *zap.Logger, config Config) (*DB, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}

	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{ConnectHook: connectHook})
	})

	db, err := sql.Open(driverName, config.ConnectionString)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent
	// transactions.
	db.SetMaxOpenConns(1)

	d := &DB{log: log, db: db, config: config}
	d.coreTable = d.tableName("core")
	d.linkTable = d.tableName("link")
	d.tagTable = d.tableName("tag")
	return d, nil
}

func connectHook(conn *sqlite3.SQLiteConn) error {
	if err := conn.RegisterFunc("ST_Covers", stCovers, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("ST_Intersects", stIntersects, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("ST_Distance", stDistance, true); err != nil {
		return err
	}
	execer, ok := any(conn).(interface {
		Exec(query string, args []driver.Value) (driver.Result, error)
	})
	if !ok {
		return Error.New("sqlite3 driver built without cgo does not support Exec")
	}
	_, err := execer.Exec("PRAGMA foreign_keys = ON;", []driver.Value{})
	return err
}

func stCovers(a, b []byte) (bool, error) {
	left, right, err := decodeGeometryPair(a, b)
	if err != nil {
		return false, err
	}
	return left.Bounds().Covers(right.Bounds()), nil
}

func stIntersects(a, b []byte) (bool, error) {
	left, right, err := decodeGeometryPair(a, b)
	if err != nil {
		return false, err
	}
	return left.Bounds().Intersects(right.Bounds()), nil
}

func stDistance(a, b []byte) (float64, error) {
	left, right, err := decodeGeometryPair(a, b)
	if err != nil {
		return 0, err
	}
	return left.Bounds().Distance(right.Bounds()), nil
}

func decodeGeometryPair(a, b []byte) (geometry.Geometry, geometry.Geometry, error) {
	left, err := ewkb.Decode(a)
	if err != nil {
		return nil, nil, err
	}
	right, err := ewkb.Decode(b)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// Initialize binds the namespace definitions.
func (d *DB) Initialize(namespaces schema.Namespaces) error {
	d.namespaces = namespaces
	d.builder = &catalogue.Builder{
		Namespaces:      namespaces,
		TypeMap:         columnTypes,
		Rewriters:       d.rewriterTable(),
		TableName:       d.tableName,
		Placeholder:     func(int) string { return "?" },
		EncodeValue:     encodeValue,
		SubscriptColumn: subscriptColumn,
	}
	return nil
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

	core, err := d.namespaceSchema("core")
	if err != nil {
		return nil, err
	}
	columns, err := columnSQL(core)
	if err != nil {
		return nil, err
	}
	// SQLite cannot add constraints afterwards, so keys go inline.
	columns = append(columns,
		"PRIMARY KEY (uuid)",
		"UNIQUE (archive_path, physical_name)",
		"UNIQUE (product_type, product_name)")
	result = append(result, "CREATE TABLE "+d.coreTable+" ("+strings.Join(columns, ", ")+");")
	result = append(result, indexSQL(d.coreTable, core)...)

	for _, name := range d.namespaces.Names() {
		if name == "core" {
			continue
		}
		ns, err := d.namespaceSchema(name)
		if err != nil {
			return nil, err
		}
		columns, err := columnSQL(ns)
		if err != nil {
			return nil, err
		}
		columns = append(columns, "uuid UUID PRIMARY KEY REFERENCES "+d.coreTable+"(uuid) ON DELETE CASCADE")
		result = append(result, "CREATE TABLE "+d.tableName(name)+" ("+strings.Join(columns, ", ")+");")
		result = append(result, indexSQL(d.tableName(name), ns)...)
	}

	// Links and tags carry an explicit id key so the entries can be
	// managed by front-ends that do not support tuple keys.
	result = append(result,
		"CREATE TABLE "+d.linkTable+" (id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "+
			"uuid UUID REFERENCES "+d.coreTable+"(uuid) ON DELETE CASCADE, "+
			"source_uuid UUID NOT NULL, UNIQUE (uuid, source_uuid));",
		"CREATE INDEX idx_"+d.linkTable+"_uuid ON "+d.linkTable+" (uuid);",
		"CREATE INDEX idx_"+d.linkTable+"_source_uuid ON "+d.linkTable+" (source_uuid);",
		"CREATE TABLE "+d.tagTable+" (id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "+
			"uuid UUID REFERENCES "+d.coreTable+"(uuid) ON DELETE CASCADE, "+
			"tag TEXT NOT NULL, UNIQUE (uuid, tag));",
		"CREATE INDEX idx_"+d.tagTable+"_uuid ON "+d.tagTable+" (uuid);",
		"CREATE INDEX idx_"+d.tagTable+"_tag ON "+d.tagTable+" (tag);")
	return result, nil
}

var columnTypes = map[schema.Kind]string{
	schema.Long:      "INTEGER",
	schema.Integer:   "INTEGER",
	schema.Real:      "REAL",
	schema.Boolean:   "BOOLEAN",
	schema.Text:      "TEXT",
	schema.Timestamp: "TIMESTAMP",
	schema.UUID:      "UUID",
	schema.Geometry:  "GEOMETRY",
	schema.JSON:      "TEXT",
}

func columnSQL(ns *schema.Namespace) ([]string, error) {
	var columns []string
	for _, field := range ns.Fields {
		columnType, ok := columnTypes[field.Kind]
		if !ok {
			return nil, Error.New("type not supported by backend: %q", field.Kind)
		}
		column := field.Name + " " + columnType
		if !field.Optional {
			column += " NOT NULL"
		}
		columns = append(columns, column)
	}
	return columns, nil
}

// indexSQL renders the index statements. Geometry columns are skipped:
// blobs cannot carry a spatial index.
func indexSQL(table string, ns *schema.Namespace) []string {
	var result []string
	for _, field := range ns.Fields {
		if !field.Index || field.Kind == schema.Geometry {
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
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Exists reports whether the catalogue has been prepared.
func (d *DB) Exists(ctx context.Context) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := os.Stat(d.config.ConnectionString); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	exists := false
	err = d.transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", d.coreTable)
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

// ServerTimeUTC returns the current time; sqlite has no server clock of
// its own.
func (d *DB) ServerTimeUTC(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

func (d *DB) rewriterTable() *catalogue.RewriterTable {
	table := catalogue.DefaultRewriterTable()

	table.Set(expression.NewPrototype("-", expression.TypeReal, expression.TypeTimestamp, expression.TypeTimestamp),
		func(args ...string) string {
			return "(julianday(" + args[0] + ") - julianday(" + args[1] + ")) * 86400.0"
		})

	// LIKE with explicit escape so pattern characters can be matched
	// literally.
	table.Set(expression.NewPrototype("~=", expression.TypeBoolean, expression.TypeText, expression.TypeText),
		func(args ...string) string {
			return "(" + args[0] + ") LIKE (" + args[1] + `) ESCAPE '\'`
		})

	table.Set(expression.NewPrototype("covers", expression.TypeBoolean, expression.TypeGeometry, expression.TypeGeometry),
		func(args ...string) string { return "(ST_Covers(" + args[0] + ", " + args[1] + ")=1)" })
	table.Set(expression.NewPrototype("distance", expression.TypeReal, expression.TypeGeometry, expression.TypeGeometry),
		catalogue.BinaryFunction("ST_Distance"))
	table.Set(expression.NewPrototype("intersects", expression.TypeBoolean, expression.TypeGeometry, expression.TypeGeometry),
		func(args ...string) string { return "(ST_Intersects(" + args[0] + ", " + args[1] + ")=1)" })

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

	table.Set(expression.NewPrototype("now", expression.TypeTimestamp), catalogue.AsIs("datetime('now')"))

	isDefined := func(args ...string) string {
		if !strings.Contains(args[0], ".") {
			return "EXISTS (SELECT 1 FROM " + d.tableName(args[0]) + " WHERE uuid = " + d.coreTable + ".uuid)"
		}
		return "(" + args[0] + ") IS NOT NULL"
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
		return "STRFTIME('%Y', " + column + ")", nil
	case "month":
		return "STRFTIME('%m', " + column + ")", nil
	case "yearmonth":
		return "STRFTIME('%Y-%m', " + column + ")", nil
	case "day":
		return "STRFTIME('%d', " + column + ")", nil
	case "date":
		return "STRFTIME('%Y-%m-%d', " + column + ")", nil
	case "hour":
		return "STRFTIME('%H', " + column + ")", nil
	case "minute":
		return "STRFTIME('%M', " + column + ")", nil
	case "second":
		return "STRFTIME('%S', " + column + ")", nil
	case "time":
		return "STRFTIME('%H:%M:%S', " + column + ")", nil
	case "length":
		return "LENGTH(" + column + ")", nil
	}
	return "", Error.New("unsupported subscript: %q", subscript)
}

const timestampLayout = "2006-01-02 15:04:05.000000"

func encodeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64, string, []byte:
		return v, nil
	case int:
		return int64(v), nil
	case time.Time:
		return v.UTC().Format(timestampLayout), nil
	case uuid.UUID:
		return hex.EncodeToString(v[:]), nil
	case geometry.Geometry:
		return ewkb.Encode(v)
	}
	return nil, Error.New("cannot encode value of type %T", value)
}

func decodeValue(kind schema.Kind, value any) (any, error) {
	switch kind {
	case schema.Boolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
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
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			return parseTimestamp(v)
		case []byte:
			return parseTimestamp(string(v))
		}
	case schema.UUID:
		if v, ok := value.(string); ok {
			id, err := uuid.Parse(v)
			return id, Error.Wrap(err)
		}
	case schema.Geometry:
		if v, ok := value.([]byte); ok {
			return ewkb.Decode(v)
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

func parseTimestamp(text string) (time.Time, error) {
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04:05", "2006-01-02T15:04:05.000000", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Error.New("invalid timestamp: %q", text)
}
