// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"muninn.io/muninn/internal/testcontext"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
	"muninn.io/muninn/store/filestore"
)

func newStore(t *testing.T, ctx *testcontext.Context) *filestore.Store {
	s, err := filestore.New(zaptest.NewLogger(t), filestore.Config{Root: ctx.Dir("root")})
	require.NoError(t, err)
	require.NoError(t, s.Prepare(context.Background()))
	return s
}

func newCore(archivePath, physicalName string) *schema.Core {
	return &schema.Core{
		UUID:         uuid.New(),
		ArchivePath:  &archivePath,
		ProductType:  "TEST",
		ProductName:  physicalName,
		PhysicalName: physicalName,
	}
}

func TestConfigVerify(t *testing.T) {
	require.Error(t, filestore.Config{}.Verify())
	require.NoError(t, filestore.Config{Root: "/data"}.Verify())
}

func TestPrepareExistsDestroy(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s, err := filestore.New(zaptest.NewLogger(t), filestore.Config{Root: filepath.Join(ctx.Dir(), "archive")})
	require.NoError(t, err)

	exists, err := s.Exists(testCtx)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Prepare(testCtx))
	exists, err = s.Exists(testCtx)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, s.Destroy(testCtx))
	exists, err = s.Exists(testCtx)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPutAndGetSingleFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	source := ctx.WriteFile([]byte("payload"), "incoming", "granule.dat")
	core := newCore("2026/08", "granule.dat")

	var seenPaths []string
	err := s.Put(testCtx, store.PutRequest{
		Paths:      []string{source},
		Properties: core,
		RunForProduct: func(ctx context.Context, paths []string) error {
			seenPaths = paths
			return nil
		},
	})
	require.NoError(t, err)

	productPath := s.ProductPath(core)
	require.Equal(t, filepath.Join(s.GlobalPrefix(), "2026/08", "granule.dat"), productPath)
	require.Equal(t, []string{productPath}, seenPaths)

	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	// the source is copied, not moved
	_, err = os.Stat(source)
	require.NoError(t, err)

	target := ctx.Dir("target")
	require.NoError(t, s.Get(testCtx, core, productPath, target, false, false))
	data, err = os.ReadFile(filepath.Join(target, "granule.dat"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestPutEnclosingDirectory(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	partA := ctx.WriteFile([]byte("a"), "incoming", "a.dat")
	partB := ctx.WriteFile([]byte("b"), "incoming", "b.dat")
	core := newCore("2026/08", "granule")

	err := s.Put(testCtx, store.PutRequest{
		Paths:                 []string{partA, partB},
		Properties:            core,
		UseEnclosingDirectory: true,
	})
	require.NoError(t, err)

	productPath := s.ProductPath(core)
	info, err := os.Stat(productPath)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	for _, name := range []string{"a.dat", "b.dat"} {
		_, err := os.Stat(filepath.Join(productPath, name))
		require.NoError(t, err)
	}

	// multi-part without an enclosing directory is refused
	err = s.Put(testCtx, store.PutRequest{
		Paths:      []string{partA, partB},
		Properties: newCore("2026/08", "other"),
	})
	require.Error(t, err)
}

func TestPutSymlinks(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	source := ctx.WriteFile([]byte("payload"), "incoming", "granule.dat")
	core := newCore("2026/08", "granule.dat")

	err := s.Put(testCtx, store.PutRequest{
		Paths:       []string{source},
		Properties:  core,
		UseSymlinks: true,
	})
	require.NoError(t, err)

	productPath := s.ProductPath(core)
	info, err := os.Lstat(productPath)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)

	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestPutRetrieve(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	core := newCore("pulled", "granule.dat")

	err := s.Put(testCtx, store.PutRequest{
		Properties: core,
		Retrieve: func(ctx context.Context, targetDir string) ([]string, error) {
			path := filepath.Join(targetDir, "granule.dat")
			return []string{path}, os.WriteFile(path, []byte("remote"), 0o644)
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(s.ProductPath(core))
	require.NoError(t, err)
	require.Equal(t, "remote", string(data))
}

func TestPutInPlace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)

	// place the product directly at its destination inside the root
	core := newCore("2026/08", "granule.dat")
	path := filepath.Join(s.GlobalPrefix(), "2026/08", "granule.dat")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	require.NoError(t, s.Put(testCtx, store.PutRequest{
		Paths:      []string{path},
		Properties: core,
	}))

	data, err := os.ReadFile(s.ProductPath(core))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestCurrentArchivePath(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s := newStore(t, ctx)

	inside := filepath.Join(s.GlobalPrefix(), "2026/08", "granule.dat")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	archivePath, err := s.CurrentArchivePath([]string{inside}, newCore("", "granule.dat"))
	require.NoError(t, err)
	require.Equal(t, "2026/08", archivePath)

	outside := ctx.WriteFile([]byte("x"), "elsewhere", "granule.dat")
	_, err = s.CurrentArchivePath([]string{outside}, newCore("", "granule.dat"))
	require.Error(t, err)

	// multi-part products must sit in a directory named after the product
	partA := filepath.Join(s.GlobalPrefix(), "2026/08", "granule", "a.dat")
	partB := filepath.Join(s.GlobalPrefix(), "2026/08", "granule", "b.dat")
	require.NoError(t, os.MkdirAll(filepath.Dir(partA), 0o755))
	require.NoError(t, os.WriteFile(partA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(partB, []byte("b"), 0o644))

	archivePath, err = s.CurrentArchivePath([]string{partA, partB}, newCore("", "granule"))
	require.NoError(t, err)
	require.Equal(t, "2026/08", archivePath)

	_, err = s.CurrentArchivePath([]string{partA, partB}, newCore("", "other"))
	require.Error(t, err)
}

func TestSizeDeleteMove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	source := ctx.WriteFile([]byte("12345"), "incoming", "granule.dat")
	core := newCore("2026/08", "granule.dat")

	require.NoError(t, s.Put(testCtx, store.PutRequest{Paths: []string{source}, Properties: core}))

	size, err := s.Size(testCtx, s.ProductPath(core), false)
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	require.NoError(t, s.Move(testCtx, core, "2026/09", false))
	_, err = os.Stat(filepath.Join(s.GlobalPrefix(), "2026/09", "granule.dat"))
	require.NoError(t, err)

	moved := newCore("2026/09", "granule.dat")
	require.NoError(t, s.Delete(testCtx, s.ProductPath(moved), moved))
	_, err = os.Stat(s.ProductPath(moved))
	require.True(t, os.IsNotExist(err))

	// deleting a missing product is not an error
	require.NoError(t, s.Delete(testCtx, s.ProductPath(moved), moved))
}

func TestRunForProduct(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	s := newStore(t, ctx)
	partA := ctx.WriteFile([]byte("a"), "incoming", "a.dat")
	partB := ctx.WriteFile([]byte("b"), "incoming", "b.dat")
	core := newCore("2026/08", "granule")

	require.NoError(t, s.Put(testCtx, store.PutRequest{
		Paths:                 []string{partA, partB},
		Properties:            core,
		UseEnclosingDirectory: true,
	}))

	var seen []string
	require.NoError(t, s.RunForProduct(testCtx, core, true, func(ctx context.Context, paths []string) error {
		for _, path := range paths {
			seen = append(seen, filepath.Base(path))
		}
		return nil
	}))
	require.Equal(t, []string{"a.dat", "b.dat"}, seen)
}
