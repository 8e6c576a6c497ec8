// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"

	"github.com/google/uuid"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

// Remove deletes the products matching the search expression from both
// storage and the product catalogue and returns how many were removed.
// With force set, inactive (partially ingested) products are removed as
// well.
//
// Depending on product type cascade rules, removing a product can cause
// derived products to be removed or stripped along with it; those are
// not included in the returned count.
func (a *Archive) Remove(ctx context.Context, where string, parameters map[string]any, force bool) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	products, err := a.Search(ctx, where, SearchOptions{
		Parameters: parameters,
		PropertyNames: []string{
			"uuid", "active", "product_name", "archive_path", "physical_name", "product_type",
		},
	})
	if err != nil {
		return 0, err
	}
	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return 0, err
		}
		if !core.Active && !force {
			return 0, muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
		}
		if err := a.purge(ctx, &core); err != nil {
			return 0, err
		}
	}

	if len(products) > 0 {
		if err := a.establishInvariants(ctx); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}

// RemoveByName removes the products with the given name. It is an
// error when no product matches.
func (a *Archive) RemoveByName(ctx context.Context, productName string, force bool) (int, error) {
	count, err := a.Remove(ctx, "product_name == @product_name", map[string]any{"product_name": productName}, force)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, muninn.ErrNotFound.New("no products found with name %q", productName)
	}
	return count, nil
}

// RemoveByUUID removes the product with the given uuid. It is an error
// when no product matches.
func (a *Archive) RemoveByUUID(ctx context.Context, id uuid.UUID, force bool) (int, error) {
	count, err := a.Remove(ctx, "uuid == @uuid", map[string]any{"uuid": id}, force)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, muninn.ErrNotFound.New("product with uuid %q not found", id)
	}
	return count, nil
}

// Strip removes the data of the products matching the search
// expression from storage while keeping their catalogue entries, and
// returns how many products were stripped. With force set, inactive
// products are stripped as well.
//
// Depending on product type cascade rules, stripping a product can
// cause derived products to be stripped or removed along with it.
func (a *Archive) Strip(ctx context.Context, where string, parameters map[string]any, force bool) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	// Only products with data in storage qualify.
	query := "is_defined(archive_path)"
	if where != "" {
		query += " and (" + where + ")"
	}
	products, err := a.Search(ctx, query, SearchOptions{
		Parameters: parameters,
		PropertyNames: []string{
			"uuid", "active", "product_name", "archive_path", "physical_name",
		},
	})
	if err != nil {
		return 0, err
	}
	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return 0, err
		}
		if !core.Active && !force {
			return 0, muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
		}
		if err := a.strip(ctx, &core); err != nil {
			return 0, err
		}
	}

	if len(products) > 0 {
		if err := a.establishInvariants(ctx); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}

// StripByName strips the products with the given name. It is an error
// when no product matches.
func (a *Archive) StripByName(ctx context.Context, productName string) (int, error) {
	count, err := a.Strip(ctx, "product_name == @product_name", map[string]any{"product_name": productName}, false)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, muninn.ErrNotFound.New("no products found with name %q", productName)
	}
	return count, nil
}

// StripByUUID strips the product with the given uuid. It is an error
// when no product matches.
func (a *Archive) StripByUUID(ctx context.Context, id uuid.UUID) (int, error) {
	count, err := a.Strip(ctx, "uuid == @uuid", map[string]any{"uuid": id}, false)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, muninn.ErrNotFound.New("product with uuid %q not found", id)
	}
	return count, nil
}

// purge removes a product from the catalogue and from storage, then
// runs the post-remove hooks.
func (a *Archive) purge(ctx context.Context, core *schema.Core) error {
	// The hooks receive the full properties, so load them before the
	// catalogue entry disappears.
	properties, err := a.getProduct(ctx, core.UUID)
	if err != nil {
		return err
	}
	full, err := coreOf(properties)
	if err != nil {
		return err
	}

	if err := a.db.DeleteProductProperties(ctx, full.UUID); err != nil {
		return err
	}
	if err := a.removeData(ctx, &full); err != nil {
		return err
	}

	p, err := a.productTypes.Plugin(full.ProductType)
	if err != nil {
		return err
	}
	return a.runPostRemove(ctx, p, properties)
}

// strip clears a product's archive fields and removes its data from
// storage. The catalogue entry stays and the product remains active.
func (a *Archive) strip(ctx context.Context, core *schema.Core) error {
	update := schema.Properties{"core": {"active": true, "archive_path": nil, "archive_date": nil}}
	if err := a.UpdateProperties(ctx, update, core.UUID, false); err != nil {
		return err
	}
	return a.removeData(ctx, core)
}

// removeData deletes a product's data from storage. A product without
// data is not an error.
func (a *Archive) removeData(ctx context.Context, core *schema.Core) error {
	productPath, ok := a.productPath(core)
	if !ok {
		return nil
	}
	return a.storage.Delete(ctx, productPath, core)
}

// relocate moves a product to the archive path reported by its product
// type plugin and returns the new path, or false when the product is
// already in place. Extra properties overlay the product's own when
// deriving the path.
func (a *Archive) relocate(ctx context.Context, properties schema.Properties, extra schema.Properties) (string, bool, error) {
	core, err := coreOf(properties)
	if err != nil {
		return "", false, err
	}
	currentArchivePath := ""
	if core.ArchivePath != nil {
		currentArchivePath = *core.ArchivePath
	}

	derived := properties
	if extra != nil {
		derived = properties.Clone()
		if err := derived.Merge(extra); err != nil {
			return "", false, err
		}
		if core, err = coreOf(derived); err != nil {
			return "", false, err
		}
	}
	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return "", false, err
	}
	archivePath, err := p.ArchivePath(derived)
	if err != nil {
		return "", false, err
	}
	if archivePath == currentArchivePath {
		return "", false, nil
	}

	if err := a.storage.Move(ctx, &core, archivePath, p.UseEnclosingDirectory()); err != nil {
		return "", false, err
	}
	return archivePath, true, nil
}
