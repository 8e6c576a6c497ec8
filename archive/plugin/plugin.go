// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package plugin defines the extension contracts of the archive: how
// product types are recognized and analyzed, which lifecycle hooks can
// observe products, and the registries the archive consults.
//
// Optional behavior is modeled as interface upgrades: a product type
// that supports custom export formats additionally implements
// Exporter, one with a cascade policy implements CascadeRuler, and so
// on. Extensions that need the archive handle capture it when they are
// constructed.
package plugin

import (
	"context"
	"sort"

	"github.com/zeebo/errs"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

// Error is the default error class for the plugin package.
var Error = errs.Class("plugin")

// CascadeRule is the policy applied to products of a type when their
// source products disappear or lose their data.
type CascadeRule int

const (
	// CascadeIgnore leaves derived products untouched.
	CascadeIgnore CascadeRule = iota
	// CascadePurgeAsStrip strips products whose sources are gone from
	// the catalogue.
	CascadePurgeAsStrip
	// CascadePurge purges products whose sources are gone from the
	// catalogue.
	CascadePurge
	// CascadeStrip strips products whose sources are gone or have no
	// data available.
	CascadeStrip
	// Cascade strips products whose sources have no data available and
	// purges products whose sources are gone.
	Cascade
	// CascadePurgeAll purges products whose sources are gone or have no
	// data available.
	CascadePurgeAll
)

// String returns the rule name.
func (r CascadeRule) String() string {
	switch r {
	case CascadeIgnore:
		return "ignore"
	case CascadePurgeAsStrip:
		return "cascade_purge_as_strip"
	case CascadePurge:
		return "cascade_purge"
	case CascadeStrip:
		return "strip"
	case Cascade:
		return "cascade"
	case CascadePurgeAll:
		return "purge"
	}
	return "unknown"
}

// AnalyzeResult carries the properties and tags a product type plugin
// extracted from product data.
type AnalyzeResult struct {
	Properties schema.Properties
	Tags       []string
}

// ProductType recognizes products of one type and extracts their
// properties.
type ProductType interface {
	// UseEnclosingDirectory reports whether the product's files live
	// inside a directory named after the product.
	UseEnclosingDirectory() bool
	// Identify reports whether the paths form a product of this type.
	Identify(ctx context.Context, paths []string) bool
	// Analyze extracts product properties and tags from product data.
	Analyze(ctx context.Context, paths []string) (*AnalyzeResult, error)
	// ArchivePath derives the archive path from product properties.
	ArchivePath(properties schema.Properties) (string, error)
}

// EnclosingDirectoryNamer names the enclosing directory of a product.
// Product types with UseEnclosingDirectory must implement it.
type EnclosingDirectoryNamer interface {
	EnclosingDirectory(properties schema.Properties) (string, error)
}

// HashTyper overrides the hash algorithm of a product type. An empty
// algorithm disables hashing. Product types without this capability
// hash with md5.
type HashTyper interface {
	HashType() string
}

// CascadeRuler attaches a cascade policy to a product type.
type CascadeRuler interface {
	CascadeRule() CascadeRule
}

// NamespaceLister names the extension namespaces a product type fills
// during analysis.
type NamespaceLister interface {
	Namespaces() []string
}

// Exporter adds custom export formats to a product type. Export with
// an empty format replaces the default retrieval-based export.
type Exporter interface {
	// ExportFormats lists the named formats next to the default one.
	ExportFormats() []string
	// Export writes the product in the given format below targetPath
	// and returns the path it produced.
	Export(ctx context.Context, format string, properties schema.Properties, targetPath string) (string, error)
}

// Lifecycle hooks. A product type plugin or hook extension implements
// the events it wants to observe.
type (
	// PostCreateHook runs after a catalogue-only product was created.
	PostCreateHook interface {
		PostCreate(ctx context.Context, properties schema.Properties) error
	}
	// PostIngestHook runs after a product was ingested with data.
	PostIngestHook interface {
		PostIngest(ctx context.Context, properties schema.Properties) error
	}
	// PostPullHook runs after a product was pulled from a remote.
	PostPullHook interface {
		PostPull(ctx context.Context, properties schema.Properties) error
	}
	// PostRemoveHook runs after a product was removed.
	PostRemoveHook interface {
		PostRemove(ctx context.Context, properties schema.Properties) error
	}
)

// ProductTypeRegistry holds the product type plugins in registration
// order. Identification walks the types in that order and the first
// match wins.
type ProductTypeRegistry struct {
	order   []string
	plugins map[string]ProductType
}

// NewProductTypeRegistry returns an empty registry.
func NewProductTypeRegistry() *ProductTypeRegistry {
	return &ProductTypeRegistry{plugins: map[string]ProductType{}}
}

// Register adds a product type plugin.
func (r *ProductTypeRegistry) Register(productType string, p ProductType) error {
	if _, ok := r.plugins[productType]; ok {
		return Error.New("redefinition of product type %q", productType)
	}
	if p.UseEnclosingDirectory() {
		if _, ok := p.(EnclosingDirectoryNamer); !ok {
			return Error.New("product type %q uses an enclosing directory but does not name it", productType)
		}
	}
	r.order = append(r.order, productType)
	r.plugins[productType] = p
	return nil
}

// Plugin returns the plugin for a product type.
func (r *ProductTypeRegistry) Plugin(productType string) (ProductType, error) {
	p, ok := r.plugins[productType]
	if !ok {
		return nil, muninn.ErrNotFound.New("undefined product type %q; defined product types: %s", productType, quotedList(r.order))
	}
	return p, nil
}

// Names lists the product types in registration order.
func (r *ProductTypeRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// ExportFormats returns the union of the named export formats of all
// registered product types, sorted.
func (r *ProductTypeRegistry) ExportFormats() []string {
	seen := map[string]bool{}
	for _, name := range r.order {
		exporter, ok := r.plugins[name].(Exporter)
		if !ok {
			continue
		}
		for _, format := range exporter.ExportFormats() {
			seen[format] = true
		}
	}
	formats := make([]string, 0, len(seen))
	for format := range seen {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// HashType returns the hash algorithm of a product type plugin, or
// false when hashing is disabled.
func HashType(p ProductType) (string, bool) {
	if typer, ok := p.(HashTyper); ok {
		algorithm := typer.HashType()
		return algorithm, algorithm != ""
	}
	return "md5", true
}

// RuleOf returns the cascade policy of a product type plugin.
func RuleOf(p ProductType) CascadeRule {
	if ruler, ok := p.(CascadeRuler); ok {
		return ruler.CascadeRule()
	}
	return CascadeIgnore
}

// HookRegistry holds hook extensions in registration order.
type HookRegistry struct {
	order      []string
	extensions map[string]any
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{extensions: map[string]any{}}
}

// Register adds a hook extension: any value implementing one or more
// of the lifecycle hook interfaces.
func (r *HookRegistry) Register(name string, extension any) error {
	if _, ok := r.extensions[name]; ok {
		return Error.New("redefinition of hook extension %q", name)
	}
	switch extension.(type) {
	case PostCreateHook, PostIngestHook, PostPullHook, PostRemoveHook:
	default:
		return Error.New("hook extension %q does not implement any lifecycle hook", name)
	}
	r.order = append(r.order, name)
	r.extensions[name] = extension
	return nil
}

// Names lists the hook extensions in registration order.
func (r *HookRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Extension returns the hook extension with the given name.
func (r *HookRegistry) Extension(name string) (any, error) {
	extension, ok := r.extensions[name]
	if !ok {
		return nil, muninn.ErrNotFound.New("undefined hook extension %q; defined hook extensions: %s", name, quotedList(r.order))
	}
	return extension, nil
}

// Extensions returns the hook extensions in registration order.
func (r *HookRegistry) Extensions() []any {
	extensions := make([]any, 0, len(r.order))
	for _, name := range r.order {
		extensions = append(extensions, r.extensions[name])
	}
	return extensions
}

func quotedList(names []string) string {
	quoted := ""
	for i, name := range names {
		if i > 0 {
			quoted += ", "
		}
		quoted += `"` + name + `"`
	}
	return quoted
}
