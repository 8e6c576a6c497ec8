// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package remote

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"

	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
)

var (
	zipExtensions = []string{".zip"}
	tarExtensions = []string{".tar", ".tgz", ".tar.gz", ".txz", ".tar.xz", ".tbz", ".tb2", ".tar.bz2"}
)

// autoExtract unpacks filePath next to itself when its name is the
// product's physical name plus a known archive extension, removes the
// archive file, and returns the top-level paths it produced. Other
// files are returned unchanged.
func autoExtract(filePath string, core *schema.Core) ([]string, error) {
	dirName := filepath.Dir(filePath)
	fileName := filepath.Base(filePath)

	for _, extension := range zipExtensions {
		if fileName != core.PhysicalName+extension && fileName != core.PhysicalName+strings.ToUpper(extension) {
			continue
		}
		paths, err := extractZip(filePath, dirName)
		if err != nil {
			return nil, err
		}
		if err := fsutil.RemovePath(filePath); err != nil {
			return nil, err
		}
		return paths, nil
	}

	for _, extension := range tarExtensions {
		if fileName != core.PhysicalName+extension && fileName != core.PhysicalName+strings.ToUpper(extension) {
			continue
		}
		paths, err := extractTar(filePath, dirName)
		if err != nil {
			return nil, err
		}
		if err := fsutil.RemovePath(filePath); err != nil {
			return nil, err
		}
		return paths, nil
	}

	return []string{filePath}, nil
}

// topLevelPaths folds member names into their sorted top-level entries
// joined onto dirName.
func topLevelPaths(dirName string, names []string) []string {
	seen := map[string]bool{}
	for _, name := range names {
		top := name
		if idx := strings.Index(name, "/"); idx >= 0 {
			top = name[:idx]
		}
		if top != "" {
			seen[top] = true
		}
	}
	tops := make([]string, 0, len(seen))
	for top := range seen {
		tops = append(tops, top)
	}
	sort.Strings(tops)

	paths := make([]string, len(tops))
	for i, top := range tops {
		paths[i] = filepath.Join(dirName, top)
	}
	return paths
}

// insideDir reports whether the member name resolves to a path inside
// dirName. Members that escape the extraction target are refused.
func insideDir(dirName, name string) (string, bool) {
	target := filepath.Join(dirName, filepath.FromSlash(name))
	absDir, err := filepath.Abs(dirName)
	if err != nil {
		return "", false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	if absTarget != absDir && !fsutil.IsSubPath(absTarget, absDir, false) {
		return "", false
	}
	return target, true
}

func extractZip(filePath, dirName string) (_ []string, err error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = reader.Close() }()

	var names []string
	for _, member := range reader.File {
		target, ok := insideDir(dirName, member.Name)
		if !ok {
			continue
		}
		names = append(names, member.Name)

		if member.FileInfo().IsDir() {
			if err := fsutil.MakePath(target); err != nil {
				return nil, err
			}
			continue
		}
		if err := fsutil.MakePath(filepath.Dir(target)); err != nil {
			return nil, err
		}
		if err := extractZipFile(member, target); err != nil {
			return nil, err
		}
	}
	return topLevelPaths(dirName, names), nil
}

func extractZipFile(member *zip.File, target string) (err error) {
	in, err := member.Open()
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, member.Mode().Perm()|0o200)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = Error.Wrap(closeErr)
		}
	}()

	_, err = io.Copy(out, in)
	return Error.Wrap(err)
}

func extractTar(filePath, dirName string) (_ []string, err error) {
	in, err := os.Open(filePath)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = in.Close() }()

	var reader io.Reader = in
	switch {
	case strings.HasSuffix(strings.ToLower(filePath), ".gz"), strings.HasSuffix(strings.ToLower(filePath), ".tgz"):
		gz, err := gzip.NewReader(in)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case strings.HasSuffix(strings.ToLower(filePath), ".bz2"), strings.HasSuffix(strings.ToLower(filePath), ".tbz"),
		strings.HasSuffix(strings.ToLower(filePath), ".tb2"):
		reader = bzip2.NewReader(in)
	case strings.HasSuffix(strings.ToLower(filePath), ".xz"), strings.HasSuffix(strings.ToLower(filePath), ".txz"):
		xzReader, err := xz.NewReader(in)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		reader = xzReader
	}

	archive := tar.NewReader(reader)
	var names []string
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}

		target, ok := insideDir(dirName, header.Name)
		if !ok {
			continue
		}
		names = append(names, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fsutil.MakePath(target); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if err := fsutil.MakePath(filepath.Dir(target)); err != nil {
				return nil, err
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return nil, Error.Wrap(err)
			}
		case tar.TypeReg:
			if err := fsutil.MakePath(filepath.Dir(target)); err != nil {
				return nil, err
			}
			if err := extractTarFile(archive, target, header); err != nil {
				return nil, err
			}
		}
	}
	return topLevelPaths(dirName, names), nil
}

func extractTarFile(archive *tar.Reader, target string, header *tar.Header) (err error) {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode).Perm()|0o200)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = Error.Wrap(closeErr)
		}
	}()

	_, err = io.Copy(out, archive)
	return Error.Wrap(err)
}
