// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive

import (
	"context"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
)

// Pull downloads the remote products matching the search expression
// into the archive and returns how many were pulled. Matching products
// must be active, have a remote_url, and not have data in the archive
// yet.
//
// Each product is deactivated while its data is transferred and
// reactivated once the data is in place, so observers never see an
// active product without data.
func (a *Archive) Pull(ctx context.Context, where string, parameters map[string]any, verifyHash bool) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	queue, err := a.Search(ctx, where, SearchOptions{
		Parameters: parameters,
		Namespaces: a.Namespaces(),
	})
	if err != nil {
		return 0, err
	}
	for _, properties := range queue {
		if err := a.pullProduct(ctx, properties, verifyHash); err != nil {
			return 0, err
		}
	}
	return len(queue), nil
}

func (a *Archive) pullProduct(ctx context.Context, properties schema.Properties, verifyHash bool) error {
	core, err := coreOf(properties)
	if err != nil {
		return err
	}
	if !core.Active {
		return muninn.ErrUser.New("product %q (%s) not available", core.ProductName, core.UUID)
	}
	if core.ArchivePath != nil {
		return muninn.ErrUser.New("product %q (%s) is already in the local archive", core.ProductName, core.UUID)
	}
	if core.RemoteURL == nil {
		return muninn.ErrUser.New("product %q (%s) does not have a remote_url", core.ProductName, core.UUID)
	}

	backend, err := a.remotes.BackendFor(*core.RemoteURL)
	if err != nil {
		return err
	}
	p, err := a.productTypes.Plugin(core.ProductType)
	if err != nil {
		return err
	}
	archivePath, err := p.ArchivePath(properties)
	if err != nil {
		return err
	}
	core.ArchivePath = &archivePath
	core.Active = false
	properties["core"]["archive_path"] = archivePath

	// Claim the target location and deactivate while the data is in
	// transit.
	update := schema.Properties{"core": {"active": false, "archive_path": archivePath}}
	if err := a.UpdateProperties(ctx, update, core.UUID, false); err != nil {
		return err
	}

	err = a.storage.Put(ctx, store.PutRequest{
		Properties:            &core,
		UseEnclosingDirectory: p.UseEnclosingDirectory(),
		Retrieve: func(ctx context.Context, targetDir string) ([]string, error) {
			return backend.Pull(ctx, a.credentials, &core, targetDir)
		},
		RunForProduct: func(ctx context.Context, paths []string) error {
			size, err := fsutil.ProductSize(paths)
			if err != nil {
				return err
			}
			archiveDate, err := a.db.ServerTimeUTC(ctx)
			if err != nil {
				return err
			}
			activate := schema.Properties{"core": {"active": true, "archive_date": archiveDate, "size": size}}
			if err := a.UpdateProperties(ctx, activate, core.UUID, false); err != nil {
				return err
			}
			properties["core"]["active"] = true
			properties["core"]["archive_date"] = archiveDate
			properties["core"]["size"] = size

			if verifyHash && core.Hash != nil {
				if err := a.verifyLocalHash(&core, paths); err != nil {
					return muninn.ErrHashMismatch.New("pulled product %q (%s) has incorrect hash", core.ProductName, core.UUID)
				}
			}
			return a.runPostPull(ctx, p, properties)
		},
	})
	if err != nil {
		if !muninn.AnythingStored(err) {
			reset := schema.Properties{"core": {"active": true, "archive_path": nil}}
			_ = a.UpdateProperties(ctx, reset, core.UUID, false)
		}
		return err
	}
	return nil
}
