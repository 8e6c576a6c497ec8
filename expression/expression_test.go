// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"muninn.io/muninn/expression"
	"muninn.io/muninn/schema"
)

func testNamespaces(t *testing.T) schema.Namespaces {
	namespaces, err := schema.NewNamespaces()
	require.NoError(t, err)
	return namespaces
}

func TestParseStructure(t *testing.T) {
	for _, tt := range []struct{ text, tree string }{
		{
			`not active and product_type == "A"`,
			`(FunctionCall and (FunctionCall not (Name active)) (FunctionCall == (Name product_type) (Literal A)))`,
		},
		{
			`size > 100 or size < 10`,
			`(FunctionCall or (FunctionCall > (Name size) (Literal 100)) (FunctionCall < (Name size) (Literal 10)))`,
		},
		{
			`-5`,
			`(FunctionCall - (Literal 5))`,
		},
		{
			`product_type in ["A", "B"]`,
			`(FunctionCall in (Name product_type) (List (Literal A) (Literal B)))`,
		},
		{
			`covers(footprint, POINT (4 52))`,
			`(FunctionCall covers (Name footprint) (Literal POINT (4.000000 52.000000)))`,
		},
		{
			`product_name == @name`,
			`(FunctionCall == (Name product_name) (ParameterReference name))`,
		},
	} {
		node, err := expression.Parse(tt.text)
		require.NoError(t, err, tt.text)
		require.Equal(t, tt.tree, node.String(), tt.text)
	}
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"",
		"1 +",
		"(1",
		"is_defined(",
		"1 1",
		"POINT (4)",
	} {
		_, err := expression.Parse(text)
		require.Error(t, err, text)
	}
}

func TestAnalyzeTypes(t *testing.T) {
	namespaces := testNamespaces(t)

	for _, tt := range []struct {
		text string
		typ  expression.Type
	}{
		{`is_defined(archive_path)`, expression.TypeBoolean},
		{`is_defined(core)`, expression.TypeBoolean},
		{`size > 100`, expression.TypeBoolean},
		{`size + 1`, expression.TypeLong},
		{`1 + 2`, expression.TypeInteger},
		{`validity_start < now()`, expression.TypeBoolean},
		{`validity_stop - validity_start`, expression.TypeReal},
		{`product_type in ["A", "B"]`, expression.TypeBoolean},
		{`covers(footprint, POINT (4 52))`, expression.TypeBoolean},
		{`distance(footprint, POINT (4 52))`, expression.TypeReal},
		{`has_tag("calibrated") and not active`, expression.TypeBoolean},
		{`creation_date - validity_stop < 86400.0`, expression.TypeBoolean},
	} {
		node, err := expression.ParseAndAnalyze(tt.text, namespaces, nil)
		require.NoError(t, err, tt.text)
		require.Equal(t, tt.typ, node.ResultType(), tt.text)
	}
}

func TestAnalyzeCanonicalizesNames(t *testing.T) {
	node, err := expression.ParseAndAnalyze(`is_defined(archive_path)`, testNamespaces(t), nil)
	require.NoError(t, err)
	require.Equal(t, `(FunctionCall is_defined (Name core.archive_path))`, node.String())
}

func TestAnalyzeParameters(t *testing.T) {
	namespaces := testNamespaces(t)

	node, err := expression.ParseAndAnalyze(`product_name == @name`, namespaces, map[string]any{"name": "granule-001"})
	require.NoError(t, err)
	require.Equal(t, expression.TypeBoolean, node.ResultType())

	_, err = expression.ParseAndAnalyze(`product_name == @name`, namespaces, nil)
	require.Error(t, err)
}

func TestAnalyzeLineageUUID(t *testing.T) {
	// A bare product uuid stands in for a lineage sub-expression.
	id := uuid.New()
	node, err := expression.ParseAndAnalyze(`is_derived_from(`+id.String()+`)`, testNamespaces(t), nil)
	require.NoError(t, err)
	require.Equal(t, expression.TypeBoolean, node.ResultType())
}

func TestAnalyzeErrors(t *testing.T) {
	namespaces := testNamespaces(t)

	for _, text := range []string{
		`core.bogus == 1`,          // undefined property
		`bogus.size == 1`,          // undefined namespace
		`product_name == 1`,        // text compared to integer
		`product_name ~= 1`,        // pattern must be text
		`active in [true]`,         // membership is numeric or text only
		`is_defined(size, size)`,   // arity
		`frobnicate(size)`,         // undefined function
		`[1, size]`,                // list with non-literal
		`active and product_name`,  // text where boolean expected
	} {
		_, err := expression.ParseAndAnalyze(text, namespaces, nil)
		require.Error(t, err, text)
	}
}

func TestResolveIdentifier(t *testing.T) {
	namespaces := testNamespaces(t)

	ident, err := expression.ResolveIdentifier("count", namespaces)
	require.NoError(t, err)
	require.Equal(t, expression.TypeLong, ident.Type)
	require.Equal(t, "count", ident.Resolve())

	ident, err = expression.ResolveIdentifier("validity_start.min", namespaces)
	require.NoError(t, err)
	require.Equal(t, "core", ident.Namespace)
	require.Equal(t, "validity_start", ident.Property)
	require.Equal(t, "min", ident.Subscript)
	require.Equal(t, expression.TypeTimestamp, ident.Type)

	ident, err = expression.ResolveIdentifier("core.validity_duration.sum", namespaces)
	require.NoError(t, err)
	require.Equal(t, expression.TypeUnknown, ident.Type)

	_, err = expression.ResolveIdentifier("core.bogus", namespaces)
	require.Error(t, err)
}
