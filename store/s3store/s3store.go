// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package s3store implements product storage on an S3 compatible
// object store. Products map to objects whose keys are the archive
// path joined with the physical name; enclosing directories become key
// prefixes.
package s3store

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
)

var (
	// Error is the default error class for the s3store package.
	Error = errs.Class("s3store")

	mon = monkit.Package()
)

// Config holds the object store connection options.
type Config struct {
	Host            string `help:"object store host"`
	Port            int    `help:"object store port"`
	Bucket          string `help:"bucket holding the archive"`
	AccessKey       string `help:"access key"`
	SecretAccessKey string `help:"secret access key"`
	Region          string `help:"bucket region"`
	UseSSL          bool   `help:"connect over https" default:"false"`
}

// Verify checks the configuration.
func (config Config) Verify() error {
	switch {
	case config.Host == "":
		return Error.New("no value for mandatory option host")
	case config.Bucket == "":
		return Error.New("no value for mandatory option bucket")
	}
	return nil
}

// Store is an object store backed storage backend.
type Store struct {
	log    *zap.Logger
	config Config
	client *minio.Client
}

// New connects to the object store described by config.
func New(log *zap.Logger, config Config) (*Store, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}

	endpoint := config.Host
	if config.Port != 0 {
		endpoint += ":" + strconv.Itoa(config.Port)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{log: log, config: config, client: client}, nil
}

// Prepare creates the bucket when it does not exist yet.
func (s *Store) Prepare(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := s.Exists(ctx)
	if err != nil || exists {
		return err
	}
	return Error.Wrap(s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: s.config.Region}))
}

// Exists reports whether the bucket exists.
func (s *Store) Exists(ctx context.Context) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	return exists, Error.Wrap(err)
}

// Destroy removes all objects and then the bucket itself.
func (s *Store) Destroy(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := s.Exists(ctx)
	if err != nil || !exists {
		return err
	}
	for object := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return Error.Wrap(object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.config.Bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return Error.Wrap(err)
		}
	}
	return Error.Wrap(s.client.RemoveBucket(ctx, s.config.Bucket))
}

// SupportsSymlinks reports that symbolic links are not supported.
func (s *Store) SupportsSymlinks() bool { return false }

// GlobalPrefix returns the bucket name.
func (s *Store) GlobalPrefix() string { return s.config.Bucket }

// ProductPath returns the object key prefix of the product.
func (s *Store) ProductPath(core *schema.Core) string {
	archivePath := ""
	if core.ArchivePath != nil {
		archivePath = *core.ArchivePath
	}
	return path.Join(archivePath, core.PhysicalName)
}

// CurrentArchivePath is not supported for object stores.
func (s *Store) CurrentArchivePath(paths []string, core *schema.Core) (string, error) {
	return "", muninn.ErrUser.New("s3 storage backend does not support ingesting already ingested products")
}

// Put uploads a product. Data from a retrieve callback is first staged
// in a local temporary directory.
func (s *Store) Put(ctx context.Context, req store.PutRequest) (err error) {
	defer mon.Task()(&ctx)(&err)

	if req.UseSymlinks {
		return muninn.ErrUser.New("s3 storage backend does not support symlinks")
	}

	paths := req.Paths
	if req.Retrieve != nil {
		tmpDir, err := os.MkdirTemp("", ".ingest-*-"+req.Properties.UUID.String())
		if err != nil {
			return muninn.WrapStorageError(Error.Wrap(err), false)
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()

		paths, err = req.Retrieve(ctx, tmpDir)
		if err != nil {
			return muninn.WrapStorageError(err, false)
		}
	}

	productKey := s.ProductPath(req.Properties)
	anythingStored := false
	for _, localPath := range paths {
		key := productKey
		if req.UseEnclosingDirectory {
			key = path.Join(key, filepath.Base(localPath))
		}
		if _, err := s.client.FPutObject(ctx, s.config.Bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
			return muninn.WrapStorageError(Error.Wrap(err), anythingStored)
		}
		anythingStored = true
	}

	if req.RunForProduct != nil {
		if err := req.RunForProduct(ctx, paths); err != nil {
			return muninn.WrapStorageError(err, true)
		}
	}
	return nil
}

// Get downloads the product objects into the target directory.
func (s *Store) Get(ctx context.Context, core *schema.Core, productPath, targetPath string, useEnclosingDirectory, useSymlinks bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if useSymlinks {
		return muninn.ErrUser.New("s3 storage backend does not support symlinks")
	}

	for object := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: productPath, Recursive: true}) {
		if object.Err != nil {
			return Error.Wrap(object.Err)
		}
		target := filepath.Join(targetPath, path.Base(object.Key))
		if err := s.client.FGetObject(ctx, s.config.Bucket, object.Key, target, minio.GetObjectOptions{}); err != nil {
			return Error.New("unable to retrieve product %q (%s): %v", core.ProductName, core.UUID, err)
		}
	}
	return nil
}

// Size returns the combined size of the product objects.
func (s *Store) Size(ctx context.Context, productPath string, useEnclosingDirectory bool) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if !useEnclosingDirectory {
		info, err := s.client.StatObject(ctx, s.config.Bucket, productPath, minio.StatObjectOptions{})
		if err != nil {
			return 0, Error.Wrap(err)
		}
		return info.Size, nil
	}

	var total int64
	for object := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: productPath, Recursive: true}) {
		if object.Err != nil {
			return 0, Error.Wrap(object.Err)
		}
		total += object.Size
	}
	return total, nil
}

// Delete removes all objects of the product.
func (s *Store) Delete(ctx context.Context, productPath string, core *schema.Core) (err error) {
	defer mon.Task()(&ctx)(&err)

	for object := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: productPath, Recursive: true}) {
		if object.Err != nil {
			return Error.Wrap(object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.config.Bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return Error.New("unable to remove product %q (%s): %v", core.ProductName, core.UUID, err)
		}
	}
	return nil
}

// Move copies the product objects to their new keys and removes the
// old ones.
func (s *Store) Move(ctx context.Context, core *schema.Core, archivePath string, useEnclosingDirectory bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	oldKey := s.ProductPath(core)

	type rename struct{ from, to string }
	var moves []rename
	if useEnclosingDirectory {
		for object := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: oldKey, Recursive: true}) {
			if object.Err != nil {
				return Error.Wrap(object.Err)
			}
			moves = append(moves, rename{
				from: object.Key,
				to:   path.Join(archivePath, core.PhysicalName, path.Base(object.Key)),
			})
		}
	} else {
		moves = append(moves, rename{from: oldKey, to: path.Join(archivePath, core.PhysicalName)})
	}

	for _, move := range moves {
		_, err := s.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: s.config.Bucket, Object: move.to},
			minio.CopySrcOptions{Bucket: s.config.Bucket, Object: move.from})
		if err != nil {
			return Error.Wrap(err)
		}
		if err := s.client.RemoveObject(ctx, s.config.Bucket, move.from, minio.RemoveObjectOptions{}); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// RunForProduct downloads the product into a temporary directory and
// invokes fn with the local paths.
func (s *Store) RunForProduct(ctx context.Context, core *schema.Core, useEnclosingDirectory bool, fn store.ProductFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	tmpDir, err := os.MkdirTemp("", ".product-*-"+core.UUID.String())
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	productPath := s.ProductPath(core)
	if err := s.Get(ctx, core, productPath, tmpDir, useEnclosingDirectory, false); err != nil {
		return err
	}

	var paths []string
	if useEnclosingDirectory {
		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, entry := range entries {
			paths = append(paths, filepath.Join(tmpDir, entry.Name()))
		}
	} else {
		paths = []string{filepath.Join(tmpDir, path.Base(productPath))}
	}
	return fn(ctx, paths)
}
