// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package remote

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"muninn.io/muninn/internal/testcontext"
	"muninn.io/muninn/schema"
)

func TestRegistryBackendFor(t *testing.T) {
	registry := NewRegistry(Options{})

	backend, err := registry.BackendFor("https://example.com/data")
	require.NoError(t, err)
	require.IsType(t, &HTTPBackend{}, backend)

	backend, err = registry.BackendFor("s3://bucket/key")
	require.NoError(t, err)
	require.IsType(t, &S3Backend{}, backend)

	backend, err = registry.BackendFor("file:///data/product")
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, backend)

	_, err = registry.BackendFor("gopher://example.com")
	require.Error(t, err)

	require.Equal(t, []string{"file", "http", "https", "s3"}, registry.Names())
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	registry := NewRegistry(Options{})
	custom := &FileBackend{}
	registry.Register("special", "file:///special/", custom)

	backend, err := registry.BackendFor("file:///special/product")
	require.NoError(t, err)
	require.Same(t, custom, backend)

	backend, err = registry.BackendFor("file:///other/product")
	require.NoError(t, err)
	require.NotSame(t, custom, backend)
}

func TestCredentialFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.WriteFile([]byte(`{
		"https://example.com/": {"username": "broad", "password": "a"},
		"https://example.com/restricted/": {"username": "narrow", "password": "b"},
		"example.org": {"username": "byhost", "password": "c"}
	}`), "auth.json")

	file, err := LoadCredentialFile(path)
	require.NoError(t, err)

	record, ok := file.Credentials("https://example.com/restricted/data")
	require.True(t, ok)
	require.Equal(t, "narrow", record.Username)

	record, ok = file.Credentials("https://example.com/open/data")
	require.True(t, ok)
	require.Equal(t, "broad", record.Username)

	// hostname fallback for URLs without a prefix record
	record, ok = file.Credentials("https://example.org/data")
	require.True(t, ok)
	require.Equal(t, "byhost", record.Username)

	_, ok = file.Credentials("https://elsewhere.net/data")
	require.False(t, ok)
}

func TestLoadCredentialFileInvalid(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := LoadCredentialFile(ctx.WriteFile([]byte("not json"), "auth.json"))
	require.Error(t, err)

	_, err = LoadCredentialFile(filepath.Join(ctx.Dir(), "missing.json"))
	require.Error(t, err)
}

func TestTopLevelPaths(t *testing.T) {
	paths := topLevelPaths("/tmp/dl", []string{
		"granule/a.dat",
		"granule/sub/b.dat",
		"manifest.xml",
		"granule/",
	})
	require.Equal(t, []string{
		filepath.Join("/tmp/dl", "granule"),
		filepath.Join("/tmp/dl", "manifest.xml"),
	}, paths)
}

func TestInsideDir(t *testing.T) {
	target, ok := insideDir("/tmp/dl", "granule/a.dat")
	require.True(t, ok)
	require.Equal(t, filepath.Join("/tmp/dl", "granule/a.dat"), target)

	_, ok = insideDir("/tmp/dl", "../escape.dat")
	require.False(t, ok)

	_, ok = insideDir("/tmp/dl", "granule/../../escape.dat")
	require.False(t, ok)
}

func writeZip(t *testing.T, ctx *testcontext.Context, members map[string]string, subs ...string) string {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for member, content := range members {
		w, err := writer.Create(member)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return ctx.WriteFile(buf.Bytes(), subs...)
}

func writeTarGz(t *testing.T, ctx *testcontext.Context, members map[string]string, subs ...string) string {
	var buf bytes.Buffer
	compressor := gzip.NewWriter(&buf)
	writer := tar.NewWriter(compressor)
	for member, content := range members {
		require.NoError(t, writer.WriteHeader(&tar.Header{
			Name: member,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := writer.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, compressor.Close())
	return ctx.WriteFile(buf.Bytes(), subs...)
}

func TestAutoExtractZip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	core := &schema.Core{PhysicalName: "granule"}
	path := writeZip(t, ctx, map[string]string{
		"granule/a.dat": "alpha",
		"granule/b.dat": "beta",
	}, "dl", "granule.zip")

	paths, err := autoExtract(path, core)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(filepath.Dir(path), "granule")}, paths)

	data, err := os.ReadFile(filepath.Join(paths[0], "a.dat"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))

	// the archive file itself is removed after unpacking
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAutoExtractTarGz(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	core := &schema.Core{PhysicalName: "granule"}
	path := writeTarGz(t, ctx, map[string]string{
		"granule/a.dat": "alpha",
	}, "dl", "granule.tar.gz")

	paths, err := autoExtract(path, core)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(filepath.Dir(path), "granule")}, paths)

	data, err := os.ReadFile(filepath.Join(paths[0], "a.dat"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))
}

func TestAutoExtractLeavesOtherFiles(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// name does not match physical name plus a known extension
	core := &schema.Core{PhysicalName: "granule"}
	path := ctx.WriteFile([]byte("raw"), "dl", "other.zip")

	paths, err := autoExtract(path, core)
	require.NoError(t, err)
	require.Equal(t, []string{path}, paths)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestAutoExtractSkipsEscapingMembers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	core := &schema.Core{PhysicalName: "granule"}
	path := writeZip(t, ctx, map[string]string{
		"../escape.dat": "evil",
		"granule/a.dat": "alpha",
	}, "dl", "granule.zip")

	paths, err := autoExtract(path, core)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(filepath.Dir(path), "granule")}, paths)

	_, err = os.Stat(filepath.Join(ctx.Dir(), "escape.dat"))
	require.True(t, os.IsNotExist(err))
}

func TestFileBackendPull(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	source := ctx.WriteFile([]byte("payload"), "source", "granule.dat")
	remoteURL := "file://" + source
	core := &schema.Core{PhysicalName: "granule.dat", RemoteURL: &remoteURL}

	targetDir := ctx.Dir("target")
	backend := &FileBackend{}
	paths, err := backend.Pull(context.Background(), NoCredentials{}, core, targetDir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(targetDir, "granule.dat")}, paths)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}
