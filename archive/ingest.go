// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
)

// IngestOptions control product ingestion.
type IngestOptions struct {
	// ProductType overrides product type identification.
	ProductType string
	// Properties are used instead of running the plugin's Analyze.
	Properties schema.Properties
	// PropertiesOnly creates the catalogue entry without storing data.
	PropertiesOnly bool
	// UseSymlinks stores symbolic links instead of copies; nil uses the
	// archive-wide default. Ignored with UseCurrentPath.
	UseSymlinks *bool
	// VerifyHash checks the stored product against its hash afterwards.
	VerifyHash bool
	// UseCurrentPath keeps the product at its current location, which
	// must be inside the archive root.
	UseCurrentPath bool
	// Force removes any existing product with the same product type and
	// name first, including partially ingested products.
	Force bool
}

// Ingest brings a product into the archive. Multiple paths always form
// a single logical product. Product properties are extracted and a
// catalogue entry is created first; then the data itself is copied (or
// symlinked) into storage and the entry is activated. A product that
// already resides at its target location inside the archive root can be
// ingested in place with UseCurrentPath.
//
// When storing the data fails after bytes reached the archive, the
// inactive catalogue entry is kept; such partial products can only be
// removed with force. When nothing was stored the entry is rolled back.
func (a *Archive) Ingest(ctx context.Context, paths []string, opts IngestOptions) (_ schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(paths) == 0 {
		return nil, muninn.ErrUser.New("nothing to ingest")
	}

	// Absolute paths keep error messages useful and prevent broken
	// links when ingesting via symbolic links.
	paths = append([]string(nil), paths...)
	for i := range paths {
		if paths[i], err = realPath(paths[i]); err != nil {
			return nil, err
		}
	}

	// Multi-part products map every part to an entry directly below the
	// enclosing directory, so part basenames must not collide.
	seen := map[string]bool{}
	for _, p := range paths {
		base := filepath.Base(p)
		if seen[base] {
			return nil, muninn.ErrUser.New("basename of each part should be unique for multi-part products")
		}
		seen[base] = true
	}

	productType := opts.ProductType
	if productType == "" {
		if productType, err = a.Identify(ctx, paths); err != nil {
			return nil, err
		}
	}
	p, err := a.productTypes.Plugin(productType)
	if err != nil {
		return nil, err
	}

	properties := opts.Properties.Clone()
	var tags []string
	if properties == nil {
		result, err := p.Analyze(ctx, paths)
		if err != nil {
			return nil, err
		}
		properties, tags = result.Properties, result.Tags
	}
	core, ok := properties["core"]
	if !ok {
		return nil, muninn.ErrUser.New("missing core namespace in product properties")
	}
	if name, _ := core["product_name"].(string); name == "" {
		return nil, muninn.ErrUser.New("product_name is required in core properties")
	}

	// Core properties not determined by the plugin. The metadata date
	// is stamped on insert and the archive date on activation.
	core["uuid"] = uuid.New()
	core["active"] = false
	delete(core, "hash")
	delete(core, "metadata_date")
	delete(core, "archive_date")
	delete(core, "archive_path")
	core["product_type"] = productType

	size, err := fsutil.ProductSize(paths)
	if err != nil {
		return nil, err
	}
	core["size"] = size

	switch {
	case p.UseEnclosingDirectory():
		name, err := p.(plugin.EnclosingDirectoryNamer).EnclosingDirectory(properties)
		if err != nil {
			return nil, err
		}
		core["physical_name"] = name
	case len(paths) == 1:
		core["physical_name"] = filepath.Base(paths[0])
	default:
		return nil, muninn.ErrUser.New("cannot determine physical name for multi-part product")
	}

	if !opts.PropertiesOnly {
		var archivePath string
		if opts.UseCurrentPath {
			typed, err := coreOf(properties)
			if err != nil {
				return nil, err
			}
			archivePath, err = a.storage.CurrentArchivePath(paths, &typed)
			if err != nil {
				return nil, err
			}
		} else {
			archivePath, err = p.ArchivePath(properties)
			if err != nil {
				return nil, err
			}
		}
		core["archive_path"] = archivePath
	}

	if opts.Force {
		if err := a.forceRemoveExisting(ctx, p, properties, paths); err != nil {
			return nil, err
		}
	}

	if err := a.CreateProperties(ctx, properties, true); err != nil {
		return nil, err
	}
	id := core["uuid"].(uuid.UUID)

	err = func() error {
		// The hash is expensive, so it is computed only after the
		// catalogue accepted the product.
		if algorithm, enabled := plugin.HashType(p); enabled {
			productHash, err := fsutil.ProductHash(paths, algorithm)
			if err != nil {
				return muninn.ErrUser.New("cannot determine product hash: %v", err)
			}
			core["hash"] = productHash
			update := schema.Properties{"core": {"hash": productHash}}
			if err := a.UpdateProperties(ctx, update, id, false); err != nil {
				return err
			}
		}

		if !opts.PropertiesOnly {
			typed, err := coreOf(properties)
			if err != nil {
				return err
			}
			useSymlinks := a.config.UseSymlinks
			if opts.UseSymlinks != nil {
				useSymlinks = *opts.UseSymlinks
			}
			err = a.storage.Put(ctx, store.PutRequest{
				Paths:                 paths,
				Properties:            &typed,
				UseEnclosingDirectory: p.UseEnclosingDirectory(),
				UseSymlinks:           useSymlinks,
			})
			if err != nil {
				return err
			}

			if opts.VerifyHash {
				failed, err := a.VerifyHash(ctx, "uuid == @uuid", map[string]any{"uuid": id})
				if err != nil {
					return err
				}
				if len(failed) > 0 {
					return muninn.ErrHashMismatch.New("ingested product has incorrect hash")
				}
			}

			archiveDate, err := a.db.ServerTimeUTC(ctx)
			if err != nil {
				return err
			}
			core["archive_date"] = archiveDate
		}
		return nil
	}()
	if err != nil {
		// A partial product stays in the catalogue as an inactive
		// entry; it can be removed with force.
		if !muninn.AnythingStored(err) {
			_ = a.db.DeleteProductProperties(ctx, id)
		}
		return nil, err
	}

	core["active"] = true
	activate := schema.Record{"active": true}
	if archiveDate, ok := core["archive_date"]; ok {
		activate["archive_date"] = archiveDate
	}
	if err := a.UpdateProperties(ctx, schema.Properties{"core": activate}, id, false); err != nil {
		return nil, err
	}

	if len(tags) > 0 {
		if err := a.db.Tag(ctx, id, tags); err != nil {
			return nil, err
		}
	}

	if opts.PropertiesOnly {
		err = a.runPostCreate(ctx, p, properties)
	} else {
		err = a.runPostIngest(ctx, p, properties)
	}
	if err != nil {
		return nil, err
	}
	return properties, nil
}

// forceRemoveExisting clears the way for a forced ingest: an existing
// product with the same product type and name is removed first. When
// the data being ingested is the existing product's own data, only the
// catalogue entry is deleted so the data survives re-ingestion.
func (a *Archive) forceRemoveExisting(ctx context.Context, p plugin.ProductType, properties schema.Properties, paths []string) error {
	core := properties["core"]
	existing, err := a.Search(ctx, "product_type == @product_type and product_name == @product_name", SearchOptions{
		Parameters: map[string]any{
			"product_type": core["product_type"],
			"product_name": core["product_name"],
		},
	})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	existingCore, err := coreOf(existing[0])
	if err != nil {
		return err
	}
	if existingCore.ArchivePath == nil {
		return a.DeletePropertiesByUUID(ctx, existingCore.UUID)
	}

	ingestPath := filepath.Dir(paths[0])
	if p.UseEnclosingDirectory() {
		ingestPath = filepath.Dir(ingestPath)
	}
	currentPath := a.Root()
	if *existingCore.ArchivePath != "" {
		currentPath = filepath.Join(currentPath, *existingCore.ArchivePath)
	}
	if newPath, _ := core["archive_path"].(string); *existingCore.ArchivePath != newPath {
		return muninn.ErrUser.New("cannot force ingest because of archive_path mismatch")
	}
	if ingestPath == currentPath {
		return a.DeletePropertiesByUUID(ctx, existingCore.UUID)
	}
	_, err = a.RemoveByUUID(ctx, existingCore.UUID, true)
	return err
}

// AttachOptions control attaching data to an existing catalogue entry.
type AttachOptions struct {
	// ProductType overrides product type identification.
	ProductType string
	// UseSymlinks stores symbolic links instead of copies; nil uses the
	// archive-wide default. Ignored with UseCurrentPath.
	UseSymlinks *bool
	// VerifyHashBefore checks the local data against the catalogue hash
	// before storing it.
	VerifyHashBefore bool
	// VerifyHash checks the stored product against its hash afterwards.
	VerifyHash bool
	// UseCurrentPath keeps the product at its current location, which
	// must be inside the archive root.
	UseCurrentPath bool
}

// Attach stores the data of a product whose catalogue entry already
// exists, matched on product type and physical name. The entry must not
// have data in storage yet.
func (a *Archive) Attach(ctx context.Context, paths []string, opts AttachOptions) (_ schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(paths) == 0 {
		return nil, muninn.ErrUser.New("nothing to attach")
	}
	paths = append([]string(nil), paths...)
	for i := range paths {
		if paths[i], err = realPath(paths[i]); err != nil {
			return nil, err
		}
	}

	productType := opts.ProductType
	if productType == "" {
		if productType, err = a.Identify(ctx, paths); err != nil {
			return nil, err
		}
	}
	p, err := a.productTypes.Plugin(productType)
	if err != nil {
		return nil, err
	}

	// The physical name locates the entry: the enclosing directory for
	// directory products, the file's basename otherwise.
	var physicalName string
	switch {
	case p.UseEnclosingDirectory():
		physicalName = filepath.Base(filepath.Dir(paths[0]))
	case len(paths) == 1:
		physicalName = filepath.Base(paths[0])
	default:
		return nil, muninn.ErrUser.New("cannot determine physical name for multi-part product")
	}

	products, err := a.Search(ctx, "product_type == @product_type and physical_name == @physical_name", SearchOptions{
		Parameters: map[string]any{
			"product_type":  productType,
			"physical_name": physicalName,
		},
		Namespaces: a.Namespaces(),
	})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, muninn.ErrNotFound.New("no product found for physical name %q", physicalName)
	}
	properties := products[0]
	core, err := coreOf(properties)
	if err != nil {
		return nil, err
	}
	if core.ArchivePath != nil {
		return nil, muninn.ErrUser.New("product %q (%s) is already in the archive", core.ProductName, core.UUID)
	}

	if opts.VerifyHashBefore {
		if err := a.verifyLocalHash(&core, paths); err != nil {
			return nil, err
		}
	}

	var archivePath string
	if opts.UseCurrentPath {
		archivePath, err = a.storage.CurrentArchivePath(paths, &core)
	} else {
		archivePath, err = p.ArchivePath(properties)
	}
	if err != nil {
		return nil, err
	}
	core.ArchivePath = &archivePath
	core.Active = false

	update := schema.Properties{"core": {"active": false, "archive_path": archivePath}}
	if err := a.UpdateProperties(ctx, update, core.UUID, false); err != nil {
		return nil, err
	}

	useSymlinks := a.config.UseSymlinks
	if opts.UseSymlinks != nil {
		useSymlinks = *opts.UseSymlinks
	}
	err = a.storage.Put(ctx, store.PutRequest{
		Paths:                 paths,
		Properties:            &core,
		UseEnclosingDirectory: p.UseEnclosingDirectory(),
		UseSymlinks:           useSymlinks,
	})
	if err != nil {
		if !muninn.AnythingStored(err) {
			reset := schema.Properties{"core": {"active": true, "archive_path": nil}}
			_ = a.UpdateProperties(ctx, reset, core.UUID, false)
		}
		return nil, err
	}

	size, err := fsutil.ProductSize(paths)
	if err != nil {
		return nil, err
	}
	archiveDate, err := a.db.ServerTimeUTC(ctx)
	if err != nil {
		return nil, err
	}
	activate := schema.Properties{"core": {"active": true, "archive_date": archiveDate, "size": size}}
	if err := a.UpdateProperties(ctx, activate, core.UUID, false); err != nil {
		return nil, err
	}
	properties["core"]["active"] = true
	properties["core"]["archive_date"] = archiveDate
	properties["core"]["archive_path"] = archivePath
	properties["core"]["size"] = size

	if opts.VerifyHash {
		failed, err := a.VerifyHash(ctx, "uuid == @uuid", map[string]any{"uuid": core.UUID})
		if err != nil {
			return nil, err
		}
		if len(failed) > 0 {
			return nil, muninn.ErrHashMismatch.New("attached product has incorrect hash")
		}
	}
	return properties, nil
}

// verifyLocalHash checks local product data against the catalogue hash.
func (a *Archive) verifyLocalHash(core *schema.Core, paths []string) error {
	if core.Hash == nil {
		return nil
	}
	storedHash := *core.Hash
	algorithm, ok := extractHashType(storedHash)
	if !ok {
		algorithm = "sha1"
		storedHash = "sha1:" + storedHash
	}
	localHash, err := fsutil.ProductHash(paths, algorithm)
	if err != nil {
		return err
	}
	if localHash != storedHash {
		return muninn.ErrHashMismatch.New("hash mismatch for product %q (%s)", core.ProductName, core.UUID)
	}
	return nil
}

// realPath resolves a path to an absolute path with symbolic links in
// the directory part resolved, when possible.
func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
