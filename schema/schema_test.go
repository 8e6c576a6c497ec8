// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package schema_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"muninn.io/muninn/geometry"
	"muninn.io/muninn/schema"
)

func TestNamespaceValidate(t *testing.T) {
	ns, err := schema.NewNamespace("test",
		schema.Field{Name: "name", Kind: schema.Text},
		schema.Field{Name: "count", Kind: schema.Long, Optional: true},
	)
	require.NoError(t, err)

	require.NoError(t, ns.Validate(schema.Record{"name": "alpha"}, false))
	require.NoError(t, ns.Validate(schema.Record{"name": "alpha", "count": int64(3)}, false))

	// missing mandatory field
	err = ns.Validate(schema.Record{"count": int64(3)}, false)
	require.True(t, schema.ErrSchema.Has(err))
	// but allowed for partial records
	require.NoError(t, ns.Validate(schema.Record{"count": int64(3)}, true))

	// unknown field
	err = ns.Validate(schema.Record{"name": "alpha", "extra": 1}, true)
	require.True(t, schema.ErrSchema.Has(err))

	// kind mismatch
	err = ns.Validate(schema.Record{"name": 42}, true)
	require.True(t, schema.ErrSchema.Has(err))
}

func TestNamespaceDuplicateField(t *testing.T) {
	_, err := schema.NewNamespace("test",
		schema.Field{Name: "name", Kind: schema.Text},
		schema.Field{Name: "name", Kind: schema.Long},
	)
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, schema.Timestamp, schema.KindOf("timestamp"))
	require.Equal(t, schema.Long, schema.KindOf("long"))
	require.Equal(t, schema.Unknown, schema.KindOf("float"))
}

func TestValidateArchivePath(t *testing.T) {
	require.NoError(t, schema.ValidateArchivePath("a/b/c"))
	require.NoError(t, schema.ValidateArchivePath(""))
	require.Error(t, schema.ValidateArchivePath("/absolute"))
	require.Error(t, schema.ValidateArchivePath("a/../b"))
}

func TestValidateBasename(t *testing.T) {
	require.NoError(t, schema.ValidateBasename("product.zip"))
	require.Error(t, schema.ValidateBasename("a/b"))
	require.Error(t, schema.ValidateBasename(".."))
}

func TestCoreRecordRoundtrip(t *testing.T) {
	hash := "md5:abc"
	archivePath := "2026/08"
	size := int64(1024)
	validityStart := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	core := schema.Core{
		UUID:          uuid.New(),
		Active:        true,
		Hash:          &hash,
		Size:          &size,
		MetadataDate:  time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		ArchivePath:   &archivePath,
		ProductType:   "S2_MSI_L1C",
		ProductName:   "granule-001",
		PhysicalName:  "granule-001.zip",
		ValidityStart: &validityStart,
		Footprint:     geometry.Point{X: 4, Y: 52},
	}

	record := core.Record()
	require.NoError(t, schema.CoreNamespace.Validate(record, false))

	decoded, err := schema.CoreFromRecord(record)
	require.NoError(t, err)
	require.Equal(t, core, decoded)

	// unset optional fields stay unset
	_, ok := record["archive_date"]
	require.False(t, ok)
}

func TestCoreFromRecordRejectsBadTypes(t *testing.T) {
	_, err := schema.CoreFromRecord(schema.Record{"size": "not-a-number"})
	require.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := schema.ParseTimestamp("2026-08-24T10:30:00.500000")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 24, 10, 30, 0, 500000000, time.UTC), ts)

	ts, err = schema.ParseTimestamp("2026-08-24 10:30:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC), ts)

	ts, err = schema.ParseTimestamp("2026-08-24")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), ts)

	ts, err = schema.ParseTimestamp("0000-00-00")
	require.NoError(t, err)
	require.Equal(t, schema.MinTimestamp, ts)

	ts, err = schema.ParseTimestamp("9999-99-99")
	require.NoError(t, err)
	require.Equal(t, schema.MaxTimestamp, ts)

	_, err = schema.ParseTimestamp("not a date")
	require.Error(t, err)
}

func TestRecordMerge(t *testing.T) {
	base := schema.Record{"a": 1, "sub": schema.Record{"x": 1}}
	require.NoError(t, base.Merge(schema.Record{"a": 2, "sub": schema.Record{"y": 3}}))
	require.Equal(t, schema.Record{"a": 2, "sub": schema.Record{"x": 1, "y": 3}}, base)

	err := base.Merge(schema.Record{"sub": "scalar"})
	require.Error(t, err)
}

func TestPropertiesClone(t *testing.T) {
	original := schema.Properties{"core": {"product_name": "p"}}
	clone := original.Clone()
	clone["core"]["product_name"] = "q"
	require.Equal(t, "p", original["core"]["product_name"])
}

func TestNamespacesNames(t *testing.T) {
	extension := schema.MustNamespace("beta", schema.Field{Name: "x", Kind: schema.Long})
	namespaces, err := schema.NewNamespaces(extension)
	require.NoError(t, err)
	require.Equal(t, []string{"core", "beta"}, namespaces.Names())
}
