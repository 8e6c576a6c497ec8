// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/schema"
)

type flatType struct{}

func (flatType) UseEnclosingDirectory() bool                     { return false }
func (flatType) Identify(context.Context, []string) bool         { return true }
func (flatType) ArchivePath(schema.Properties) (string, error)   { return "flat", nil }
func (flatType) Analyze(context.Context, []string) (*plugin.AnalyzeResult, error) {
	return &plugin.AnalyzeResult{Properties: schema.Properties{}}, nil
}

type nestedType struct {
	flatType
}

func (nestedType) UseEnclosingDirectory() bool { return true }

type namedNestedType struct {
	nestedType
}

func (namedNestedType) EnclosingDirectory(schema.Properties) (string, error) {
	return "product", nil
}

type exportingType struct {
	flatType
}

func (exportingType) ExportFormats() []string { return []string{"tgz", "cog"} }
func (exportingType) Export(context.Context, string, schema.Properties, string) (string, error) {
	return "", nil
}

type unhashedType struct {
	flatType
}

func (unhashedType) HashType() string { return "" }

type sha1Type struct {
	flatType
}

func (sha1Type) HashType() string { return "sha1" }

type cascadingType struct {
	flatType
}

func (cascadingType) CascadeRule() plugin.CascadeRule { return plugin.CascadePurge }

func TestProductTypeRegistry(t *testing.T) {
	registry := plugin.NewProductTypeRegistry()

	require.NoError(t, registry.Register("B", flatType{}))
	require.NoError(t, registry.Register("A", flatType{}))

	// duplicate registration
	require.Error(t, registry.Register("A", flatType{}))

	// registration order is preserved
	require.Equal(t, []string{"B", "A"}, registry.Names())

	_, err := registry.Plugin("A")
	require.NoError(t, err)

	_, err = registry.Plugin("C")
	require.True(t, muninn.ErrNotFound.Has(err))
}

func TestRegisterRequiresEnclosingDirectoryNamer(t *testing.T) {
	registry := plugin.NewProductTypeRegistry()

	require.Error(t, registry.Register("NESTED", nestedType{}))
	require.NoError(t, registry.Register("NAMED", namedNestedType{}))
}

func TestExportFormats(t *testing.T) {
	registry := plugin.NewProductTypeRegistry()
	require.NoError(t, registry.Register("A", exportingType{}))
	require.NoError(t, registry.Register("B", flatType{}))

	require.Equal(t, []string{"cog", "tgz"}, registry.ExportFormats())
}

func TestHashType(t *testing.T) {
	algorithm, ok := plugin.HashType(flatType{})
	require.True(t, ok)
	require.Equal(t, "md5", algorithm)

	algorithm, ok = plugin.HashType(sha1Type{})
	require.True(t, ok)
	require.Equal(t, "sha1", algorithm)

	_, ok = plugin.HashType(unhashedType{})
	require.False(t, ok)
}

func TestRuleOf(t *testing.T) {
	require.Equal(t, plugin.CascadeIgnore, plugin.RuleOf(flatType{}))
	require.Equal(t, plugin.CascadePurge, plugin.RuleOf(cascadingType{}))
}

type createHook struct{ calls int }

func (h *createHook) PostCreate(context.Context, schema.Properties) error {
	h.calls++
	return nil
}

type notAHook struct{}

func TestHookRegistry(t *testing.T) {
	registry := plugin.NewHookRegistry()

	require.NoError(t, registry.Register("audit", &createHook{}))
	require.Error(t, registry.Register("audit", &createHook{}))
	require.Error(t, registry.Register("bogus", notAHook{}))

	require.Equal(t, []string{"audit"}, registry.Names())
	require.Len(t, registry.Extensions(), 1)

	_, err := registry.Extension("audit")
	require.NoError(t, err)
	_, err = registry.Extension("missing")
	require.True(t, muninn.ErrNotFound.Has(err))
}
