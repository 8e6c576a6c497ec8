// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/internal/testcontext"
)

func TestNewHash(t *testing.T) {
	for _, algorithm := range []string{"md5", "sha1", "sha224", "sha256", "sha384", "sha512"} {
		_, ok := fsutil.NewHash(algorithm)
		require.True(t, ok, algorithm)
	}
	_, ok := fsutil.NewHash("crc32")
	require.False(t, ok)
}

func TestIsSubPath(t *testing.T) {
	require.True(t, fsutil.IsSubPath("/data/archive/a", "/data/archive", false))
	require.False(t, fsutil.IsSubPath("/data/archived", "/data/archive", false))
	require.False(t, fsutil.IsSubPath("/data/archive", "/data/archive", false))
	require.True(t, fsutil.IsSubPath("/data/archive", "/data/archive", true))
	require.False(t, fsutil.IsSubPath("/data", "/data/archive", true))
}

func TestProductHashSingleFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.WriteFile([]byte("hello"), "product.dat")

	productHash, err := fsutil.ProductHash([]string{path}, "sha1")
	require.NoError(t, err)
	require.Equal(t, "sha1:aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", productHash)

	productHash, err = fsutil.ProductHash([]string{path}, "md5")
	require.NoError(t, err)
	require.Equal(t, "md5:5d41402abc4b2a1b9b980f587760982c", productHash)

	_, err = fsutil.ProductHash([]string{path}, "crc32")
	require.Error(t, err)
}

func TestProductHashDirectory(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ctx.WriteFile([]byte("alpha"), "product", "a.dat")
	ctx.WriteFile([]byte("beta"), "product", "sub", "b.dat")
	dir := ctx.Dir("product")

	first, err := fsutil.ProductHash([]string{dir}, "sha1")
	require.NoError(t, err)

	second, err := fsutil.ProductHash([]string{dir}, "sha1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	// changing a nested file changes the fingerprint
	ctx.WriteFile([]byte("gamma"), "product", "sub", "b.dat")
	changed, err := fsutil.ProductHash([]string{dir}, "sha1")
	require.NoError(t, err)
	require.NotEqual(t, first, changed)
}

func TestProductHashMultiRootOrder(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	a := ctx.WriteFile([]byte("alpha"), "a.dat")
	b := ctx.WriteFile([]byte("beta"), "b.dat")

	forward, err := fsutil.ProductHash([]string{a, b}, "sha1")
	require.NoError(t, err)
	reverse, err := fsutil.ProductHash([]string{b, a}, "sha1")
	require.NoError(t, err)
	require.Equal(t, forward, reverse)
}

func TestProductSize(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ctx.WriteFile([]byte("12345"), "product", "a.dat")
	ctx.WriteFile([]byte("123"), "product", "sub", "b.dat")
	file := ctx.WriteFile([]byte("12"), "extra.dat")

	size, err := fsutil.ProductSize([]string{ctx.Dir("product"), file})
	require.NoError(t, err)
	require.Equal(t, int64(10), size)
}

func TestCopyPath(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ctx.WriteFile([]byte("alpha"), "source", "a.dat")
	ctx.WriteFile([]byte("beta"), "source", "sub", "b.dat")

	target := filepath.Join(ctx.Dir("target"), "copy")
	require.NoError(t, fsutil.CopyPath(ctx.Dir("source"), target, true))

	data, err := os.ReadFile(filepath.Join(target, "a.dat"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))

	data, err = os.ReadFile(filepath.Join(target, "sub", "b.dat"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(data))
}

func TestMakeAndRemovePath(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := filepath.Join(ctx.Dir(), "a", "b", "c")
	require.NoError(t, fsutil.MakePath(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.NoError(t, fsutil.RemovePath(filepath.Join(ctx.Dir(), "a")))
	_, err = os.Stat(filepath.Join(ctx.Dir(), "a"))
	require.True(t, os.IsNotExist(err))
}
