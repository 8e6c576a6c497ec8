// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package fsutil provides filesystem helpers shared by the storage
// backends and the archive coordinator: recursive copies that preserve
// symbolic links, segment-wise sub-path checks, and the product hash
// and size calculations used for verification.
package fsutil

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default error class for the fsutil package.
var Error = errs.Class("fsutil")

// NewHash returns a constructor for the named hash algorithm, or false
// when the algorithm is not supported.
func NewHash(algorithm string) (func() hash.Hash, bool) {
	switch algorithm {
	case "md5":
		return md5.New, true
	case "sha1":
		return sha1.New, true
	case "sha224":
		return sha256.New224, true
	case "sha256":
		return sha256.New, true
	case "sha384":
		return sha512.New384, true
	case "sha512":
		return sha512.New, true
	}
	return nil, false
}

func splitPath(path string) []string {
	var segments []string
	for {
		dir, base := filepath.Split(path)
		if base != "" {
			segments = append(segments, base)
		}
		dir = strings.TrimRight(dir, string(filepath.Separator))
		if dir == "" {
			break
		}
		if !strings.ContainsRune(dir, filepath.Separator) && filepath.IsAbs(dir+string(filepath.Separator)) {
			segments = append(segments, dir+string(filepath.Separator))
			break
		}
		path = dir
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments
}

// IsSubPath reports whether sub lies inside path. Paths are compared
// segment by segment, so "/a/bb" is not considered to be inside "/a/b".
// When allowEqual is set, equal paths count as contained.
func IsSubPath(sub, path string, allowEqual bool) bool {
	subSegments := splitPath(filepath.Clean(sub))
	pathSegments := splitPath(filepath.Clean(path))

	if allowEqual {
		if len(subSegments) < len(pathSegments) {
			return false
		}
	} else if len(subSegments) <= len(pathSegments) {
		return false
	}

	for i, segment := range pathSegments {
		if subSegments[i] != segment {
			return false
		}
	}
	return true
}

// MakePath creates path and any missing parents. An existing directory
// is not an error.
func MakePath(path string) error {
	err := os.MkdirAll(path, 0o777)
	if err != nil {
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			return nil
		}
		return Error.Wrap(err)
	}
	return nil
}

// RemovePath removes path; directories are removed recursively, while
// files and symbolic links are unlinked.
func RemovePath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return Error.Wrap(err)
	}
	if info.IsDir() {
		return Error.Wrap(os.RemoveAll(path))
	}
	return Error.Wrap(os.Remove(path))
}

// CopyPath recursively copies source to target. Directories are
// recreated, regular files are copied with their mode and modification
// time, and symbolic links are recreated with the same link target.
// When resolveRoot is set and the source itself is a symbolic link, the
// link is followed and its target is copied instead.
//
// When target is an existing directory, the source is copied into it
// under its own base name.
func CopyPath(source, target string, resolveRoot bool) error {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, filepath.Base(source))
	}
	return copyPathRec(source, target, resolveRoot)
}

func copyPathRec(source, target string, resolveRoot bool) error {
	info, err := os.Lstat(source)
	if err != nil {
		return Error.Wrap(err)
	}

	if info.Mode()&os.ModeSymlink != 0 && !resolveRoot {
		linkTarget, err := os.Readlink(source)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return Error.Wrap(err)
		}
		return Error.Wrap(os.Symlink(linkTarget, target))
	}

	if info.Mode()&os.ModeSymlink != 0 {
		info, err = os.Stat(source)
		if err != nil {
			return Error.Wrap(err)
		}
	}

	if info.IsDir() {
		if err := os.Mkdir(target, 0o777); err != nil && !os.IsExist(err) {
			return Error.Wrap(err)
		}
		entries, err := os.ReadDir(source)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, entry := range entries {
			err := copyPathRec(filepath.Join(source, entry.Name()), filepath.Join(target, entry.Name()), false)
			if err != nil {
				return err
			}
		}
		return nil
	}

	return copyFile(source, target, info)
}

func copyFile(source, target string, info os.FileInfo) (err error) {
	in, err := os.Open(source)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(in.Close())) }()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(out.Close())) }()

	if _, err := io.Copy(out, in); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Chtimes(target, info.ModTime(), info.ModTime()))
}

func hashString(value string, newHash func() hash.Hash) string {
	h := newHash()
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func hashFile(path string, newHash func() hash.Hash) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { _ = in.Close() }()

	h := newHash()
	if _, err := io.Copy(h, in); err != nil {
		return "", Error.Wrap(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProductHash computes the hash of a product consisting of one or more
// root paths, prefixed with the algorithm name. A single regular file
// hashes its contents; a symbolic link inside a product hashes its link
// target; a directory is fingerprinted by hashing, for each entry in
// name order, the hash of the entry name, a type byte (l, d or f) and
// the hash of the entry contents. Root symbolic links are followed.
//
// Multiple roots are combined with the same fingerprint scheme over the
// sorted root base names, so the result does not depend on argument
// order.
func ProductHash(roots []string, algorithm string) (string, error) {
	newHash, ok := NewHash(algorithm)
	if !ok {
		return "", Error.New("unsupported hash algorithm %q", algorithm)
	}

	if len(roots) == 1 {
		digest, err := productHashRec(roots[0], true, newHash)
		if err != nil {
			return "", err
		}
		return algorithm + ":" + digest, nil
	}

	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)

	h := newHash()
	for _, root := range sorted {
		_, _ = h.Write([]byte(hashString(filepath.Base(root), newHash)))
		if err := writeTypeByte(h, root, true); err != nil {
			return "", err
		}
		digest, err := productHashRec(root, true, newHash)
		if err != nil {
			return "", err
		}
		_, _ = h.Write([]byte(digest))
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func writeTypeByte(h hash.Hash, path string, resolveRoot bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return Error.Wrap(err)
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0 && !resolveRoot:
		_, _ = h.Write([]byte("l"))
	case isDir(path):
		_, _ = h.Write([]byte("d"))
	default:
		_, _ = h.Write([]byte("f"))
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func productHashRec(root string, resolveRoot bool, newHash func() hash.Hash) (string, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return "", Error.Wrap(err)
	}

	if info.Mode()&os.ModeSymlink != 0 && !resolveRoot {
		linkTarget, err := os.Readlink(root)
		if err != nil {
			return "", Error.Wrap(err)
		}
		return hashString(linkTarget, newHash), nil
	}

	if isDir(root) {
		entries, err := os.ReadDir(root)
		if err != nil {
			return "", Error.Wrap(err)
		}
		h := newHash()
		for _, entry := range entries {
			_, _ = h.Write([]byte(hashString(entry.Name(), newHash)))
			path := filepath.Join(root, entry.Name())
			if err := writeTypeByte(h, path, false); err != nil {
				return "", err
			}
			digest, err := productHashRec(path, false, newHash)
			if err != nil {
				return "", err
			}
			_, _ = h.Write([]byte(digest))
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	if !info.Mode().IsRegular() {
		if resolved, err := os.Stat(root); err != nil || !resolved.Mode().IsRegular() {
			return "", Error.New("path does not refer to a regular file or directory: %s", root)
		}
	}
	return hashFile(root, newHash)
}

// ProductSize returns the combined size in bytes of the given root
// paths. Symbolic links inside a product count the size of the link
// itself; root symbolic links are followed.
func ProductSize(roots []string) (int64, error) {
	var total int64
	for _, root := range roots {
		size, err := productSizeRec(root, true)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

func productSizeRec(root string, resolveRoot bool) (int64, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !resolveRoot {
			return info.Size(), nil
		}
		info, err = os.Stat(root)
		if err != nil {
			return 0, Error.Wrap(err)
		}
	}

	if info.IsDir() {
		entries, err := os.ReadDir(root)
		if err != nil {
			return 0, Error.Wrap(err)
		}
		var total int64
		for _, entry := range entries {
			size, err := productSizeRec(filepath.Join(root, entry.Name()), false)
			if err != nil {
				return 0, err
			}
			total += size
		}
		return total, nil
	}

	if !info.Mode().IsRegular() {
		return 0, Error.New("path does not refer to a regular file or directory: %s", root)
	}
	return info.Size(), nil
}
