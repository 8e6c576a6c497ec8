// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package remote

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
)

// FileBackend pulls products from file:// URLs on the local
// filesystem.
type FileBackend struct{}

// Identify reports whether the URL is a file URL.
func (b *FileBackend) Identify(url string) bool {
	return strings.HasPrefix(url, "file://")
}

// Pull copies the file into targetDir and unpacks it when it is a
// recognized archive.
func (b *FileBackend) Pull(ctx context.Context, creds CredentialSource, core *schema.Core, targetDir string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	remoteURL := ""
	if core.RemoteURL != nil {
		remoteURL = *core.RemoteURL
	}
	parsed, err := url.Parse(remoteURL)
	if err != nil {
		return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
	}

	sourcePath := parsed.Path
	targetPath := filepath.Join(targetDir, filepath.Base(sourcePath))
	if err := fsutil.CopyPath(sourcePath, targetPath, false); err != nil {
		return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
	}
	return autoExtract(targetPath, core)
}
