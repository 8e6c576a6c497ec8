// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"
	"strings"

	"github.com/google/uuid"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
)

// restrictedProperties are core properties that a rebuild must never
// take from the plugin's analysis.
var restrictedProperties = []string{
	"uuid", "active", "hash", "size", "metadata_date", "archive_date", "archive_path",
	"product_type", "physical_name",
}

// RebuildProperties re-extracts product properties from the data stored
// in the archive. Only properties and tags reported by the product type
// plugin are updated; everything else stays as it was. Unless
// useCurrentPath is set, the product is also moved to the archive path
// the plugin currently derives.
func (a *Archive) RebuildProperties(ctx context.Context, id uuid.UUID, disableHooks, useCurrentPath bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	product, err := a.getProduct(ctx, id)
	if err != nil {
		return err
	}
	core, err := coreOf(product)
	if err != nil {
		return err
	}
	if !core.Active {
		return muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
	}
	productPath, ok := a.productPath(&core)
	if !ok {
		return muninn.ErrNotFound.New("no data available for product %q (%s)", core.ProductName, core.UUID)
	}

	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return err
	}

	var properties schema.Properties
	var tags []string
	err = a.storage.RunForProduct(ctx, &core, p.UseEnclosingDirectory(), func(ctx context.Context, paths []string) error {
		result, err := p.Analyze(ctx, paths)
		if err != nil {
			return err
		}
		properties, tags = result.Properties, result.Tags
		return nil
	})
	if err != nil {
		return err
	}
	if _, ok := properties["core"]; !ok {
		return muninn.ErrUser.New("missing core namespace in product properties")
	}
	for _, name := range restrictedProperties {
		delete(properties["core"], name)
	}

	size, err := a.storage.Size(ctx, productPath, p.UseEnclosingDirectory())
	if err != nil {
		return err
	}
	properties["core"]["size"] = size

	if !useCurrentPath {
		archivePath, moved, err := a.relocate(ctx, product, properties)
		if err != nil {
			return err
		}
		if moved {
			properties["core"]["archive_path"] = archivePath
		}
	}

	// Reconcile the hash with the plugin's current hash settings:
	// disabled hashing clears it, a changed algorithm recomputes it,
	// and a legacy bare sha1 value gains its prefix.
	if err := a.reconcileHash(ctx, p, &core, properties); err != nil {
		return err
	}

	if err := a.UpdateProperties(ctx, properties, core.UUID, true); err != nil {
		return err
	}
	if len(tags) > 0 {
		if err := a.Tag(ctx, core.UUID, tags); err != nil {
			return err
		}
	}

	if !disableHooks && a.postIngestHookExists(p) {
		if err := product.Merge(properties); err != nil {
			return err
		}
		return a.runPostIngest(ctx, p, product)
	}
	return nil
}

// RebuildPullProperties refreshes a pulled product in place: it
// relocates the product when its derived archive path changed, updates
// the size, optionally verifies the hash, and re-runs the post-pull
// hooks.
func (a *Archive) RebuildPullProperties(ctx context.Context, id uuid.UUID, verifyHash, disableHooks, useCurrentPath bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	product, err := a.getProduct(ctx, id)
	if err != nil {
		return err
	}
	core, err := coreOf(product)
	if err != nil {
		return err
	}
	if core.ArchivePath == nil {
		return muninn.ErrUser.New("cannot update missing product")
	}
	if core.RemoteURL == nil {
		return muninn.ErrUser.New("cannot pull products that have no remote_url")
	}

	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return err
	}

	if !useCurrentPath {
		archivePath, moved, err := a.relocate(ctx, product, nil)
		if err != nil {
			return err
		}
		if moved {
			update := schema.Properties{"core": {"archive_path": archivePath}}
			if err := a.UpdateProperties(ctx, update, core.UUID, false); err != nil {
				return err
			}
			core.ArchivePath = &archivePath
			product["core"]["archive_path"] = archivePath
		}
	}

	productPath, _ := a.productPath(&core)
	size, err := a.storage.Size(ctx, productPath, p.UseEnclosingDirectory())
	if err != nil {
		return err
	}
	update := schema.Properties{"core": {"size": size}}
	if err := a.UpdateProperties(ctx, update, core.UUID, false); err != nil {
		return err
	}
	product["core"]["size"] = size

	if verifyHash && core.Hash != nil {
		failed, err := a.VerifyHash(ctx, "uuid == @uuid", map[string]any{"uuid": core.UUID})
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			return muninn.ErrHashMismatch.New("pulled product %q (%s) has incorrect hash", core.ProductName, core.UUID)
		}
	}

	if !disableHooks {
		return a.runPostPull(ctx, p, product)
	}
	return nil
}

// VerifyHash verifies the hash of the products matching the search
// expression against the data in the archive and returns the uuids of
// the products that failed. Products without data in the archive are
// skipped; a product without a hash is an error.
func (a *Archive) VerifyHash(ctx context.Context, where string, parameters map[string]any) (failed []uuid.UUID, err error) {
	defer mon.Task()(&ctx)(&err)

	products, err := a.Search(ctx, where, SearchOptions{
		Parameters: parameters,
		PropertyNames: []string{
			"uuid", "active", "product_name", "archive_path", "physical_name", "hash", "product_type",
		},
	})
	if err != nil {
		return nil, err
	}

	for _, properties := range products {
		core, err := coreOf(properties)
		if err != nil {
			return nil, err
		}
		if core.ArchivePath == nil {
			continue
		}
		if core.Hash == nil {
			return nil, muninn.ErrUser.New("no hash available for product %q (%s)", core.ProductName, core.UUID)
		}

		storedHash := *core.Hash
		algorithm, ok := extractHashType(storedHash)
		if !ok {
			// Bare legacy value, hashed with sha1.
			algorithm = "sha1"
			storedHash = "sha1:" + storedHash
		}
		currentHash, err := a.calculateHash(ctx, &core, algorithm)
		if err != nil {
			return nil, err
		}
		if currentHash != storedHash {
			failed = append(failed, core.UUID)
		}
	}
	return failed, nil
}

// reconcileHash aligns the stored hash with the plugin's hash settings
// during a properties rebuild.
func (a *Archive) reconcileHash(ctx context.Context, p plugin.ProductType, core *schema.Core, properties schema.Properties) error {
	pluginHashType, enabled := plugin.HashType(p)
	if !enabled {
		if core.Hash != nil {
			properties["core"]["hash"] = nil
		}
		return nil
	}

	if core.Hash == nil {
		productHash, err := a.calculateHash(ctx, core, pluginHashType)
		if err != nil {
			return err
		}
		properties["core"]["hash"] = productHash
		return nil
	}

	storedHash := *core.Hash
	algorithm, ok := extractHashType(storedHash)
	switch {
	case !ok && pluginHashType == "sha1":
		properties["core"]["hash"] = pluginHashType + ":" + storedHash
	case algorithm != pluginHashType:
		productHash, err := a.calculateHash(ctx, core, pluginHashType)
		if err != nil {
			return err
		}
		properties["core"]["hash"] = productHash
	}
	return nil
}

// CalculateHash computes the current hash of the archived product's
// data using the product type's hash algorithm.
func (a *Archive) CalculateHash(ctx context.Context, id uuid.UUID) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	properties, err := a.RetrieveProperties(ctx, id, nil)
	if err != nil {
		return "", err
	}
	core, err := coreOf(properties)
	if err != nil {
		return "", err
	}
	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return "", err
	}
	algorithm, enabled := plugin.HashType(p)
	if !enabled {
		return "", muninn.ErrUser.New("hashing is disabled for product type %q", core.ProductType)
	}
	return a.calculateHash(ctx, &core, algorithm)
}

// calculateHash computes the hash of a product's data in the archive.
func (a *Archive) calculateHash(ctx context.Context, core *schema.Core, algorithm string) (string, error) {
	if core.ArchivePath == nil {
		return "", muninn.ErrNotFound.New("no data available for product %q (%s)", core.ProductName, core.UUID)
	}
	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return "", err
	}

	var productHash string
	err = a.storage.RunForProduct(ctx, core, p.UseEnclosingDirectory(), func(ctx context.Context, paths []string) error {
		productHash, err = fsutil.ProductHash(paths, algorithm)
		return err
	})
	if err != nil {
		return "", err
	}
	return productHash, nil
}

// extractHashType splits the algorithm prefix off a hash value. A value
// without a known algorithm prefix reports false.
func extractHashType(hashValue string) (string, bool) {
	prefix, _, found := strings.Cut(hashValue, ":")
	if !found {
		return "", false
	}
	if _, ok := fsutil.NewHash(prefix); !ok {
		return "", false
	}
	return prefix, true
}
