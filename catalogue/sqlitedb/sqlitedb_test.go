// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package sqlitedb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"muninn.io/muninn/catalogue"
	"muninn.io/muninn/catalogue/sqlitedb"
	"muninn.io/muninn/geometry"
	"muninn.io/muninn/internal/testcontext"
	"muninn.io/muninn/schema"
)

var weatherNamespace = schema.MustNamespace("weather",
	schema.Field{Name: "cloud_cover", Kind: schema.Real, Optional: true},
	schema.Field{Name: "station", Kind: schema.Text, Optional: true},
)

func openDB(t *testing.T, ctx *testcontext.Context) *sqlitedb.DB {
	namespaces, err := schema.NewNamespaces(weatherNamespace)
	require.NoError(t, err)

	db, err := sqlitedb.Open(zaptest.NewLogger(t), sqlitedb.Config{
		ConnectionString: filepath.Join(ctx.Dir(), "muninn.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Initialize(namespaces))

	_, err = db.Prepare(context.Background(), false)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Disconnect() })
	return db
}

func testProduct(productType, name string, mutate ...func(*schema.Core)) schema.Properties {
	core := schema.Core{
		UUID:         uuid.New(),
		Active:       true,
		MetadataDate: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		ProductType:  productType,
		ProductName:  name,
		PhysicalName: name + ".dat",
	}
	for _, fn := range mutate {
		fn(&core)
	}
	return schema.Properties{"core": core.Record()}
}

func insert(t *testing.T, db *sqlitedb.DB, properties schema.Properties) uuid.UUID {
	require.NoError(t, db.InsertProductProperties(context.Background(), properties))
	return properties["core"]["uuid"].(uuid.UUID)
}

func archived(core *schema.Core) {
	path := "2026/08"
	date := time.Now().UTC().Add(-time.Hour)
	core.ArchivePath = &path
	core.ArchiveDate = &date
}

func TestConfigVerify(t *testing.T) {
	require.Error(t, sqlitedb.Config{}.Verify())
	require.Error(t, sqlitedb.Config{ConnectionString: "muninn.db", TablePrefix: "9bad"}.Verify())
	require.NoError(t, sqlitedb.Config{ConnectionString: "muninn.db", TablePrefix: "mission_a"}.Verify())
}

func TestPrepareExistsDestroy(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	namespaces, err := schema.NewNamespaces(weatherNamespace)
	require.NoError(t, err)

	db, err := sqlitedb.Open(zaptest.NewLogger(t), sqlitedb.Config{
		ConnectionString: filepath.Join(ctx.Dir(), "muninn.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Initialize(namespaces))
	defer func() { _ = db.Disconnect() }()

	exists, err := db.Exists(testCtx)
	require.NoError(t, err)
	require.False(t, exists)

	// a dry run reports the statements without running them
	statements, err := db.Prepare(testCtx, true)
	require.NoError(t, err)
	require.NotEmpty(t, statements)
	exists, err = db.Exists(testCtx)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = db.Prepare(testCtx, false)
	require.NoError(t, err)
	exists, err = db.Exists(testCtx)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, db.Destroy(testCtx))
	exists, err = db.Exists(testCtx)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestInsertSearchCount(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)

	validityStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	idA := insert(t, db, testProduct("A", "granule-001", func(core *schema.Core) {
		core.ValidityStart = &validityStart
		core.Footprint = geometry.Point{X: 4, Y: 52}
	}))
	insert(t, db, testProduct("B", "granule-002"))

	count, err := db.Count(testCtx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	count, err = db.Count(testCtx, `product_type == @type`, map[string]any{"type": "A"})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	products, err := db.Search(testCtx, catalogue.SearchQuery{Where: `product_type == "A"`})
	require.NoError(t, err)
	require.Len(t, products, 1)

	core, err := schema.CoreFromRecord(products[0]["core"])
	require.NoError(t, err)
	require.Equal(t, idA, core.UUID)
	require.Equal(t, "granule-001", core.ProductName)
	require.NotNil(t, core.ValidityStart)
	require.Equal(t, validityStart, *core.ValidityStart)
	require.Equal(t, geometry.Point{X: 4, Y: 52}, core.Footprint)

	// projection keeps the uuid of every touched namespace
	products, err = db.Search(testCtx, catalogue.SearchQuery{
		Where:         `product_type == "A"`,
		PropertyNames: []string{"product_name"},
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "granule-001", products[0]["core"]["product_name"])
	require.Equal(t, idA, products[0]["core"]["uuid"])
}

func TestSearchOrderAndLimit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	insert(t, db, testProduct("A", "granule-002"))
	insert(t, db, testProduct("A", "granule-001"))
	insert(t, db, testProduct("A", "granule-003"))

	limit := 2
	products, err := db.Search(testCtx, catalogue.SearchQuery{
		OrderBy: []string{"+product_name"},
		Limit:   &limit,
	})
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "granule-001", products[0]["core"]["product_name"])
	require.Equal(t, "granule-002", products[1]["core"]["product_name"])

	products, err = db.Search(testCtx, catalogue.SearchQuery{
		OrderBy: []string{"-product_name"},
	})
	require.NoError(t, err)
	require.Equal(t, "granule-003", products[0]["core"]["product_name"])
}

func TestExtensionNamespaces(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	id := insert(t, db, testProduct("A", "granule-001"))

	// attach the weather namespace to an existing product
	err := db.UpdateProductProperties(testCtx, schema.Properties{
		"weather": {"cloud_cover": 0.25, "station": "de-bilt"},
	}, id, []string{"weather"})
	require.NoError(t, err)

	products, err := db.Search(testCtx, catalogue.SearchQuery{
		Where:      `weather.cloud_cover < 0.5`,
		Namespaces: []string{"weather"},
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "de-bilt", products[0]["weather"]["station"])

	// in-place update of a namespace record
	err = db.UpdateProductProperties(testCtx, schema.Properties{
		"weather": {"cloud_cover": 0.75},
	}, id, nil)
	require.NoError(t, err)

	count, err := db.Count(testCtx, `weather.cloud_cover < 0.5`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	// a nil record removes the namespace
	err = db.UpdateProductProperties(testCtx, schema.Properties{"weather": nil}, id, nil)
	require.NoError(t, err)

	count, err = db.Count(testCtx, `is_defined(weather)`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	id := insert(t, db, testProduct("A", "granule-001"))

	err := db.UpdateProductProperties(testCtx, schema.Properties{
		"core": {"active": false},
	}, id, nil)
	require.NoError(t, err)

	count, err := db.Count(testCtx, `active`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	require.NoError(t, db.DeleteProductProperties(testCtx, id))
	count, err = db.Count(testCtx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestLinks(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	source := insert(t, db, testProduct("L1", "granule-001"))
	other := insert(t, db, testProduct("L1", "granule-002"))
	derived := insert(t, db, testProduct("L2", "composite-001"))

	require.NoError(t, db.Link(testCtx, derived, []uuid.UUID{source, other}))
	// linking again keeps existing links
	require.NoError(t, db.Link(testCtx, derived, []uuid.UUID{source}))

	sources, err := db.SourceProducts(testCtx, derived)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{source, other}, sources)

	derivedFrom, err := db.DerivedProducts(testCtx, source)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{derived}, derivedFrom)

	count, err := db.Count(testCtx, `is_derived_from(`+source.String()+`)`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, db.Unlink(testCtx, derived, []uuid.UUID{other}))
	sources, err = db.SourceProducts(testCtx, derived)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{source}, sources)

	require.NoError(t, db.Unlink(testCtx, derived, nil))
	sources, err = db.SourceProducts(testCtx, derived)
	require.NoError(t, err)
	require.Empty(t, sources)
}

func TestTags(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	id := insert(t, db, testProduct("A", "granule-001"))

	require.NoError(t, db.Tag(testCtx, id, []string{"raw", "calibrated"}))
	// duplicate tags are kept once
	require.NoError(t, db.Tag(testCtx, id, []string{"raw"}))

	tags, err := db.Tags(testCtx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"calibrated", "raw"}, tags)

	count, err := db.Count(testCtx, `has_tag("calibrated")`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, db.Untag(testCtx, id, []string{"raw"}))
	tags, err = db.Tags(testCtx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"calibrated"}, tags)

	require.NoError(t, db.Untag(testCtx, id, nil))
	tags, err = db.Tags(testCtx, id)
	require.NoError(t, err)
	require.Empty(t, tags)
}

func TestSummary(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	size := int64(100)
	insert(t, db, testProduct("A", "granule-001", func(core *schema.Core) { core.Size = &size }))
	insert(t, db, testProduct("A", "granule-002", func(core *schema.Core) { core.Size = &size }))
	insert(t, db, testProduct("B", "granule-003"))

	rows, fields, err := db.Summary(testCtx, catalogue.SummaryQuery{
		GroupBy:    []string{"product_type"},
		Aggregates: []string{"size.sum"},
		OrderBy:    []string{"+product_type"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"core.product_type", "count", "core.size.sum"}, fields)
	require.Len(t, rows, 2)
	require.Equal(t, "A", rows[0][0])
	require.Equal(t, int64(2), rows[0][1])
	require.Equal(t, int64(200), rows[0][2])
	require.Equal(t, "B", rows[1][0])
	require.Equal(t, int64(1), rows[1][1])
}

func TestFindProductsWithoutSource(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	source := insert(t, db, testProduct("L1", "granule-001", archived))
	linked := insert(t, db, testProduct("L2", "composite-001", archived))
	orphan := insert(t, db, testProduct("L2", "composite-002", archived))

	require.NoError(t, db.Link(testCtx, linked, []uuid.UUID{source}))

	products, err := db.FindProductsWithoutSource(testCtx, "L2", 0, false)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, orphan, products[0]["core"]["uuid"])

	// within the grace period nothing is reported
	products, err = db.FindProductsWithoutSource(testCtx, "L2", 24*time.Hour, false)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestFindProductsWithoutAvailableSource(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	db := openDB(t, ctx)
	source := insert(t, db, testProduct("L1", "granule-001", archived))
	derived := insert(t, db, testProduct("L2", "composite-001", archived))
	require.NoError(t, db.Link(testCtx, derived, []uuid.UUID{source}))

	// the source still holds data
	products, err := db.FindProductsWithoutAvailableSource(testCtx, "L2", 0)
	require.NoError(t, err)
	require.Empty(t, products)

	// strip the source: its catalogue entry remains without data
	err = db.UpdateProductProperties(testCtx, schema.Properties{
		"core": {"archive_path": nil},
	}, source, nil)
	require.NoError(t, err)

	products, err = db.FindProductsWithoutAvailableSource(testCtx, "L2", 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, derived, products[0]["core"]["uuid"])

	// a deleted source counts as gone, not as unavailable
	require.NoError(t, db.DeleteProductProperties(testCtx, source))
	products, err = db.FindProductsWithoutAvailableSource(testCtx, "L2", 0)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestServerTimeUTC(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := openDB(t, ctx)
	now, err := db.ServerTimeUTC(context.Background())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC(), now, time.Minute)
}
