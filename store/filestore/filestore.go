// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package filestore implements product storage on a local filesystem.
//
// Products are staged in a hidden temporary directory next to their
// destination and committed with a rename, so a product directory
// either exists completely or not at all. Intra-archive symbolic links
// are written relative to the archive root, which keeps them valid when
// the root is relocated.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
)

var (
	// Error is the default error class for the filestore package.
	Error = errs.Class("filestore")

	mon = monkit.Package()
)

// Config holds the filesystem storage options.
type Config struct {
	// Root is the directory under which all products are stored.
	Root string `help:"archive root directory"`
}

// Verify checks the configuration.
func (config Config) Verify() error {
	if config.Root == "" {
		return Error.New("no value for mandatory option root")
	}
	return nil
}

// Store is a filesystem-backed storage backend.
type Store struct {
	log    *zap.Logger
	config Config
}

// New creates a filesystem storage backend rooted at config.Root.
func New(log *zap.Logger, config Config) (*Store, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	return &Store{log: log, config: config}, nil
}

// Prepare creates the archive root directory.
func (s *Store) Prepare(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := fsutil.MakePath(s.config.Root); err != nil {
		return Error.New("unable to create archive root path %q: %v", s.config.Root, err)
	}
	return nil
}

// Exists reports whether the archive root directory exists.
func (s *Store) Exists(ctx context.Context) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := os.Stat(s.config.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	return info.IsDir(), nil
}

// Destroy removes the archive root directory and everything below it.
func (s *Store) Destroy(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := s.Exists(ctx)
	if err != nil || !exists {
		return err
	}
	if err := fsutil.RemovePath(s.config.Root); err != nil {
		return Error.New("unable to remove archive root path %q: %v", s.config.Root, err)
	}
	return nil
}

// SupportsSymlinks reports that symbolic links are supported.
func (s *Store) SupportsSymlinks() bool { return true }

// GlobalPrefix returns the archive root directory.
func (s *Store) GlobalPrefix() string { return s.config.Root }

// ProductPath returns the absolute path of the product inside the
// archive root.
func (s *Store) ProductPath(core *schema.Core) string {
	archivePath := ""
	if core.ArchivePath != nil {
		archivePath = *core.ArchivePath
	}
	return filepath.Join(s.config.Root, filepath.FromSlash(archivePath), core.PhysicalName)
}

// realPath resolves symbolic links where possible and falls back to a
// cleaned absolute path for targets that do not exist yet.
func realPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// CurrentArchivePath derives the archive path for products that are
// already located inside the archive root, for in-place ingests.
func (s *Store) CurrentArchivePath(paths []string, core *schema.Core) (string, error) {
	root := realPath(s.config.Root)
	for _, path := range paths {
		if !fsutil.IsSubPath(realPath(path), root, true) {
			return "", muninn.ErrUser.New("cannot ingest a file in-place if it is not inside the archive root")
		}
	}

	productDir := filepath.Dir(realPath(paths[0]))
	if len(paths) > 1 {
		// Multi-part products must share an enclosing directory named
		// after the product.
		for _, path := range paths {
			enclosing := filepath.Base(filepath.Dir(realPath(path)))
			if enclosing != core.PhysicalName {
				return "", muninn.ErrUser.New("multi-part product has invalid enclosing directory for in-place ingestion")
			}
		}
		productDir = filepath.Dir(productDir)
	}

	rel, err := filepath.Rel(root, productDir)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return filepath.ToSlash(rel), nil
}

// Put transfers a product into the archive. The product is staged in a
// temporary directory next to its destination and committed with a
// rename. Inputs that already reside at the destination are accepted
// as-is.
func (s *Store) Put(ctx context.Context, req store.PutRequest) (err error) {
	defer mon.Task()(&ctx)(&err)

	core := req.Properties
	archivePath := ""
	if core.ArchivePath != nil {
		archivePath = *core.ArchivePath
	}
	absArchivePath := realPath(filepath.Join(s.config.Root, filepath.FromSlash(archivePath)))
	absProductPath := filepath.Join(absArchivePath, core.PhysicalName)

	if len(req.Paths) > 0 && fsutil.IsSubPath(realPath(req.Paths[0]), absProductPath, true) {
		// The product is already at its destination.
		for _, path := range req.Paths {
			if _, err := os.Lstat(path); err != nil {
				return muninn.WrapStorageError(Error.New("product source path does not exist %q", path), false)
			}
			if !fsutil.IsSubPath(realPath(path), absProductPath, true) {
				return muninn.WrapStorageError(Error.New("cannot ingest product where only part of the files are already at the destination location"), false)
			}
		}
		return s.runForPaths(ctx, req, absProductPath)
	}

	if err := fsutil.MakePath(absArchivePath); err != nil {
		return muninn.WrapStorageError(Error.New("cannot create parent destination path %q: %v", absArchivePath, err), false)
	}

	tmpDir, err := os.MkdirTemp(absArchivePath, ".ingest-*-"+hexUUID(core))
	if err != nil {
		return muninn.WrapStorageError(Error.Wrap(err), false)
	}
	defer func() {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil && err == nil {
			err = muninn.WrapStorageError(Error.Wrap(removeErr), true)
		}
	}()

	stagingDir := tmpDir
	if req.UseEnclosingDirectory {
		stagingDir = filepath.Join(tmpDir, core.PhysicalName)
		if err := fsutil.MakePath(stagingDir); err != nil {
			return muninn.WrapStorageError(err, false)
		}
	}

	paths := req.Paths
	if req.Retrieve != nil {
		paths, err = req.Retrieve(ctx, stagingDir)
		if err != nil {
			return muninn.WrapStorageError(err, false)
		}
	} else if err := s.stage(paths, stagingDir, absArchivePath, absProductPath, req.UseEnclosingDirectory, req.UseSymlinks); err != nil {
		return muninn.WrapStorageError(err, false)
	}

	if req.UseEnclosingDirectory {
		if err := os.Rename(stagingDir, absProductPath); err != nil {
			return muninn.WrapStorageError(Error.New("unable to transfer product to destination path %q: %v", absProductPath, err), false)
		}
	} else {
		if len(paths) != 1 {
			return muninn.WrapStorageError(Error.New("multi-part product requires an enclosing directory"), false)
		}
		staged := filepath.Join(stagingDir, filepath.Base(paths[0]))
		if err := os.Rename(staged, absProductPath); err != nil {
			return muninn.WrapStorageError(Error.New("unable to transfer product to destination path %q: %v", absProductPath, err), false)
		}
	}

	return s.runForPaths(ctx, req, absProductPath)
}

// runForPaths invokes the post-transfer callback against the stored
// product. A failure here leaves the product in storage.
func (s *Store) runForPaths(ctx context.Context, req store.PutRequest, productPath string) error {
	if req.RunForProduct == nil {
		return nil
	}
	paths, err := productPaths(productPath, req.UseEnclosingDirectory)
	if err != nil {
		return muninn.WrapStorageError(err, true)
	}
	if err := req.RunForProduct(ctx, paths); err != nil {
		return muninn.WrapStorageError(err, true)
	}
	return nil
}

// stage copies or links the product parts into the staging directory.
func (s *Store) stage(paths []string, stagingDir, absArchivePath, absProductPath string, useEnclosingDirectory, useSymlinks bool) error {
	if !useSymlinks {
		for _, path := range paths {
			if err := fsutil.CopyPath(path, stagingDir, true); err != nil {
				return err
			}
		}
		return nil
	}

	for _, path := range paths {
		target := path
		if fsutil.IsSubPath(path, s.config.Root, false) {
			// Link relative to the link location so the archive root
			// can be relocated without breaking intra-archive links.
			base := absArchivePath
			if useEnclosingDirectory {
				base = absProductPath
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return Error.Wrap(err)
			}
			target = rel
		}
		if err := os.Symlink(target, filepath.Join(stagingDir, filepath.Base(path))); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// Get copies or symlinks the product at productPath into the target
// directory.
func (s *Store) Get(ctx context.Context, core *schema.Core, productPath, targetPath string, useEnclosingDirectory, useSymlinks bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if useSymlinks {
		if useEnclosingDirectory {
			entries, err := os.ReadDir(productPath)
			if err != nil {
				return retrievalError(core, err)
			}
			for _, entry := range entries {
				source := filepath.Join(productPath, entry.Name())
				if err := os.Symlink(source, filepath.Join(targetPath, entry.Name())); err != nil {
					return retrievalError(core, err)
				}
			}
			return nil
		}
		if err := os.Symlink(productPath, filepath.Join(targetPath, filepath.Base(productPath))); err != nil {
			return retrievalError(core, err)
		}
		return nil
	}

	if useEnclosingDirectory {
		entries, err := os.ReadDir(productPath)
		if err != nil {
			return retrievalError(core, err)
		}
		for _, entry := range entries {
			if err := fsutil.CopyPath(filepath.Join(productPath, entry.Name()), targetPath, true); err != nil {
				return retrievalError(core, err)
			}
		}
		return nil
	}
	if err := fsutil.CopyPath(productPath, targetPath, true); err != nil {
		return retrievalError(core, err)
	}
	return nil
}

func retrievalError(core *schema.Core, err error) error {
	return Error.New("unable to retrieve product %q (%s): %v", core.ProductName, core.UUID, err)
}

// Size returns the total size of the product at productPath.
func (s *Store) Size(ctx context.Context, productPath string, useEnclosingDirectory bool) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	return fsutil.ProductSize([]string{productPath})
}

// Delete removes the product at productPath by moving it into a hidden
// temporary directory first, so a concurrent reader never sees a
// half-deleted product directory.
func (s *Store) Delete(ctx context.Context, productPath string, core *schema.Core) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := os.Lstat(productPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return Error.Wrap(err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(productPath), ".remove-*-"+hexUUID(core))
	if err != nil {
		return removalError(core, err)
	}
	defer func() {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil && err == nil {
			err = removalError(core, removeErr)
		}
	}()

	if err := os.Rename(productPath, filepath.Join(tmpDir, filepath.Base(productPath))); err != nil {
		return removalError(core, err)
	}
	return nil
}

func removalError(core *schema.Core, err error) error {
	return Error.New("unable to remove product %q (%s): %v", core.ProductName, core.UUID, err)
}

// Move relocates the product to a new archive path inside the root.
func (s *Store) Move(ctx context.Context, core *schema.Core, archivePath string, useEnclosingDirectory bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	absArchivePath := realPath(filepath.Join(s.config.Root, filepath.FromSlash(archivePath)))
	if err := fsutil.MakePath(absArchivePath); err != nil {
		return err
	}
	return Error.Wrap(os.Rename(s.ProductPath(core), filepath.Join(absArchivePath, core.PhysicalName)))
}

// RunForProduct invokes fn with the local paths of the stored product.
func (s *Store) RunForProduct(ctx context.Context, core *schema.Core, useEnclosingDirectory bool, fn store.ProductFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	paths, err := productPaths(s.ProductPath(core), useEnclosingDirectory)
	if err != nil {
		return err
	}
	return fn(ctx, paths)
}

// productPaths lists the part paths of a stored product: the entries of
// the enclosing directory, or the product path itself.
func productPaths(productPath string, useEnclosingDirectory bool) ([]string, error) {
	if !useEnclosingDirectory {
		return []string{productPath}, nil
	}
	entries, err := os.ReadDir(productPath)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, filepath.Join(productPath, entry.Name()))
	}
	return paths, nil
}

func hexUUID(core *schema.Core) string {
	return strings.ReplaceAll(core.UUID.String(), "-", "")
}
