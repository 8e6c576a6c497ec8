// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package remote

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/schema"
)

// S3Backend pulls products from s3:// URLs. The bucket is the URL
// host; endpoint, region and keys come from the credential record.
type S3Backend struct{}

// Identify reports whether the URL is an s3 URL.
func (b *S3Backend) Identify(url string) bool {
	return strings.HasPrefix(url, "s3://")
}

// Pull downloads all objects under the URL's key prefix into
// targetDir, preserving the key structure below the prefix's parent.
// A single downloaded file is unpacked when it is a recognized
// archive.
func (b *S3Backend) Pull(ctx context.Context, creds CredentialSource, core *schema.Core, targetDir string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	remoteURL := ""
	if core.RemoteURL != nil {
		remoteURL = *core.RemoteURL
	}
	parsed, err := url.Parse(remoteURL)
	if err != nil {
		return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
	}

	record, _ := creds.Credentials(remoteURL)
	client, err := newS3Client(record)
	if err != nil {
		return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
	}

	bucket := parsed.Hostname()
	prefix := strings.TrimPrefix(parsed.Path, "/")
	basePath := path.Dir(prefix)

	var paths []string
	seen := map[string]bool{}
	found := false
	for object := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, object.Err)
		}
		found = true

		rel := object.Key
		if basePath != "." && basePath != "" {
			rel = strings.TrimPrefix(object.Key, basePath+"/")
		}
		target := filepath.Join(targetDir, filepath.FromSlash(rel))

		// Report top-level entries only; nested objects fold into their
		// root directory.
		if !strings.Contains(rel, "/") {
			paths = append(paths, target)
		} else {
			root := filepath.Join(targetDir, rel[:strings.Index(rel, "/")])
			if !seen[root] {
				seen[root] = true
				paths = append(paths, root)
			}
		}

		if strings.HasSuffix(object.Key, "/") {
			if err := fsutil.MakePath(target); err != nil {
				return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
			}
			continue
		}
		if err := fsutil.MakePath(filepath.Dir(target)); err != nil {
			return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
		}
		if err := client.FGetObject(ctx, bucket, object.Key, target, minio.GetObjectOptions{}); err != nil {
			return nil, muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
		}
	}
	if !found {
		return nil, muninn.ErrDownload.New("error downloading %s: no objects found", remoteURL)
	}

	if len(paths) == 1 {
		return autoExtract(paths[0], core)
	}
	return paths, nil
}

// newS3Client builds a client from a credential record. The host may
// carry a scheme; without one the connection is secure. An empty host
// targets AWS S3.
func newS3Client(record Credentials) (*minio.Client, error) {
	endpoint := record.Host
	secure := true
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	case endpoint == "":
		endpoint = "s3.amazonaws.com"
	}

	opts := &minio.Options{Secure: secure, Region: record.Region}
	if record.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(record.AccessKey, record.SecretAccessKey, "")
	} else {
		// Fall back to the ambient credential chain.
		opts.Creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	return minio.New(endpoint, opts)
}
