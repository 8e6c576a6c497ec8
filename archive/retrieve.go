// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/schema"
)

// Retrieve copies the products matching the search expression into the
// target directory and returns the local paths, one per product. With
// useSymlinks set, symbolic links to the products are created instead.
func (a *Archive) Retrieve(ctx context.Context, where string, parameters map[string]any, targetPath string, useSymlinks bool) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	products, err := a.Search(ctx, where, SearchOptions{
		Parameters: parameters,
		PropertyNames: []string{
			"uuid", "active", "product_name", "archive_path", "physical_name", "product_type",
		},
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(products))
	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return nil, err
		}
		if !core.Active {
			return nil, muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
		}
		path, err := a.retrieveProduct(ctx, &core, targetPath, useSymlinks)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RetrieveByName retrieves the products with the given name. It is an
// error when no product matches.
func (a *Archive) RetrieveByName(ctx context.Context, productName, targetPath string, useSymlinks bool) ([]string, error) {
	paths, err := a.Retrieve(ctx, "product_name == @product_name", map[string]any{"product_name": productName}, targetPath, useSymlinks)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, muninn.ErrNotFound.New("no products found with name %q", productName)
	}
	return paths, nil
}

// RetrieveByUUID retrieves the product with the given uuid. It is an
// error when no product matches.
func (a *Archive) RetrieveByUUID(ctx context.Context, id uuid.UUID, targetPath string, useSymlinks bool) (string, error) {
	paths, err := a.Retrieve(ctx, "uuid == @uuid", map[string]any{"uuid": id}, targetPath, useSymlinks)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", muninn.ErrNotFound.New("product with uuid %q not found", id)
	}
	return paths[0], nil
}

// retrieveProduct copies or symlinks one product into targetPath and
// returns the resulting local path.
func (a *Archive) retrieveProduct(ctx context.Context, core *schema.Core, targetPath string, useSymlinks bool) (string, error) {
	productPath, ok := a.productPath(core)
	if !ok {
		return "", muninn.ErrNotFound.New("no data available for product %q (%s)", core.ProductName, core.UUID)
	}
	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return "", err
	}
	err = a.storage.Get(ctx, core, productPath, targetPath, p.UseEnclosingDirectory(), useSymlinks)
	if err != nil {
		return "", err
	}
	return filepath.Join(targetPath, filepath.Base(productPath)), nil
}

var exportFormatRx = regexp.MustCompile(`^[a-zA-Z]\w*$`)

// Export writes the products matching the search expression into the
// target directory and returns the resulting paths. By default a copy
// of the product is retrieved from the archive; product type plugins
// can replace this and add named formats.
func (a *Archive) Export(ctx context.Context, where string, parameters map[string]any, targetPath, format string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if format != "" && !exportFormatRx.MatchString(format) {
		return nil, muninn.ErrUser.New("invalid export format %q", format)
	}

	products, err := a.Search(ctx, where, SearchOptions{
		Parameters: parameters,
		Namespaces: a.Namespaces(),
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(products))
	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return nil, err
		}
		if !core.Active {
			return nil, muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
		}
		p, err := a.productTypes.Plugin(core.ProductType)
		if err != nil {
			return nil, err
		}

		exported, err := a.exportProduct(ctx, p, properties, &core, targetPath, format)
		if err != nil {
			return nil, err
		}
		paths = append(paths, exported)
	}
	return paths, nil
}

// exportProduct exports one product via the plugin's Exporter
// capability when present, falling back to plain retrieval for the
// default format.
func (a *Archive) exportProduct(ctx context.Context, p plugin.ProductType, properties schema.Properties, core *schema.Core, targetPath, format string) (string, error) {
	if exporter, ok := p.(plugin.Exporter); ok {
		if format == "" {
			return exporter.Export(ctx, "", properties, targetPath)
		}
		for _, supported := range exporter.ExportFormats() {
			if supported == format {
				return exporter.Export(ctx, format, properties, targetPath)
			}
		}
	}
	if format != "" {
		return "", muninn.ErrUser.New("export format %q not supported for product %q (%s)", format, core.ProductName, core.UUID)
	}
	return a.retrieveProduct(ctx, core, targetPath, false)
}

// ExportByName exports the products with the given name. It is an
// error when no product matches.
func (a *Archive) ExportByName(ctx context.Context, productName, targetPath, format string) ([]string, error) {
	paths, err := a.Export(ctx, "product_name == @product_name", map[string]any{"product_name": productName}, targetPath, format)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, muninn.ErrNotFound.New("no products found with name %q", productName)
	}
	return paths, nil
}

// ExportByUUID exports the product with the given uuid. It is an error
// when no product matches.
func (a *Archive) ExportByUUID(ctx context.Context, id uuid.UUID, targetPath, format string) (string, error) {
	paths, err := a.Export(ctx, "uuid == @uuid", map[string]any{"uuid": id}, targetPath, format)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", muninn.ErrNotFound.New("product with uuid %q not found", id)
	}
	return paths[0], nil
}
