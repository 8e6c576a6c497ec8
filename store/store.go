// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package store defines the contract for product data storage.
//
// A storage backend keeps the bytes of archived products; the catalogue
// keeps their properties. Backends address products by their archive
// path (a relative directory inside the storage root) and physical name
// (the base name of the product on disk). The put protocol stages data
// in a temporary location on the same storage and commits it with an
// atomic rename, so readers never observe half-written products.
package store

import (
	"context"

	"muninn.io/muninn/schema"
)

// RetrieveFunc populates targetDir with product data and returns the
// local paths it created. It is used during pull, where the data comes
// from a remote location rather than from local input paths.
type RetrieveFunc func(ctx context.Context, targetDir string) ([]string, error)

// ProductFunc runs against the local paths of a product. For backends
// without a local filesystem the paths point at a temporary download.
type ProductFunc func(ctx context.Context, paths []string) error

// PutRequest describes one product transfer into storage.
//
// Either Paths or Retrieve must be set. When Retrieve is set it is
// called with the staging directory and its result replaces Paths.
// RunForProduct, when set, runs against the stored product after the
// commit rename but before the catalogue entry is activated.
type PutRequest struct {
	Paths                 []string
	Properties            *schema.Core
	UseEnclosingDirectory bool
	UseSymlinks           bool
	Retrieve              RetrieveFunc
	RunForProduct         ProductFunc
}

// Backend stores and retrieves product data.
//
// Implementations report failures that may have left bytes behind via
// muninn.WrapStorageError with anythingStored set, so the coordinator
// can decide whether to keep or roll back the catalogue entry.
type Backend interface {
	// Prepare creates the storage so that it is ready for use.
	Prepare(ctx context.Context) error
	// Exists reports whether the storage has been prepared.
	Exists(ctx context.Context) (bool, error)
	// Destroy removes the storage and all products it contains.
	Destroy(ctx context.Context) error

	// SupportsSymlinks reports whether products can be stored and
	// retrieved as symbolic links.
	SupportsSymlinks() bool
	// GlobalPrefix is the absolute prefix under which product paths
	// live, such as the archive root directory or the bucket name.
	GlobalPrefix() string

	// ProductPath returns the product's path within the storage.
	ProductPath(core *schema.Core) string
	// CurrentArchivePath derives the archive path from product data
	// that already resides inside the storage, for in-place ingests.
	CurrentArchivePath(paths []string, core *schema.Core) (string, error)

	// Put transfers a product into the storage.
	Put(ctx context.Context, req PutRequest) error
	// Get copies (or, when supported, symlinks) the product at
	// productPath into the target directory.
	Get(ctx context.Context, core *schema.Core, productPath, targetPath string, useEnclosingDirectory, useSymlinks bool) error
	// Size returns the amount of storage used by the product.
	Size(ctx context.Context, productPath string, useEnclosingDirectory bool) (int64, error)
	// Delete removes the product at productPath. A missing product is
	// not an error.
	Delete(ctx context.Context, productPath string, core *schema.Core) error
	// Move relocates the product to a new archive path.
	Move(ctx context.Context, core *schema.Core, archivePath string, useEnclosingDirectory bool) error

	// RunForProduct invokes fn with the local paths of the product,
	// downloading to a temporary location first when the storage is not
	// filesystem backed.
	RunForProduct(ctx context.Context, core *schema.Core, useEnclosingDirectory bool, fn ProductFunc) error
}
