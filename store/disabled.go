// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package store

import (
	"context"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

// Disabled is the storage backend of a catalogue-only archive. Every
// data operation fails; preparing and destroying it do nothing.
type Disabled struct{}

// Prepare does nothing.
func (Disabled) Prepare(ctx context.Context) error { return nil }

// Exists reports false so that prepare never complains.
func (Disabled) Exists(ctx context.Context) (bool, error) { return false, nil }

// Destroy does nothing.
func (Disabled) Destroy(ctx context.Context) error { return nil }

// SupportsSymlinks reports false.
func (Disabled) SupportsSymlinks() bool { return false }

// GlobalPrefix returns an empty prefix.
func (Disabled) GlobalPrefix() string { return "" }

// ProductPath returns an empty path.
func (Disabled) ProductPath(core *schema.Core) string { return "" }

// CurrentArchivePath fails: there is no storage to ingest into.
func (Disabled) CurrentArchivePath(paths []string, core *schema.Core) (string, error) {
	return "", errDisabled()
}

// Put fails: there is no storage.
func (Disabled) Put(ctx context.Context, req PutRequest) error { return errDisabled() }

// Get fails: there is no storage.
func (Disabled) Get(ctx context.Context, core *schema.Core, productPath, targetPath string, useEnclosingDirectory, useSymlinks bool) error {
	return errDisabled()
}

// Size fails: there is no storage.
func (Disabled) Size(ctx context.Context, productPath string, useEnclosingDirectory bool) (int64, error) {
	return 0, errDisabled()
}

// Delete fails: there is no storage.
func (Disabled) Delete(ctx context.Context, productPath string, core *schema.Core) error {
	return errDisabled()
}

// Move fails: there is no storage.
func (Disabled) Move(ctx context.Context, core *schema.Core, archivePath string, useEnclosingDirectory bool) error {
	return errDisabled()
}

// RunForProduct fails: there is no storage.
func (Disabled) RunForProduct(ctx context.Context, core *schema.Core, useEnclosingDirectory bool, fn ProductFunc) error {
	return errDisabled()
}

func errDisabled() error {
	return muninn.ErrUser.New("archive has no storage backend")
}
