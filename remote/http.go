// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/oauth2"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

// HTTPBackend pulls products over http and https. Plain requests use
// basic auth when credentials are configured; credentials with
// auth_type oauth2 use the resource owner password grant.
type HTTPBackend struct {
	Options Options
}

// Identify reports whether the URL is an http or https URL.
func (b *HTTPBackend) Identify(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Pull downloads the product into targetDir and unpacks it when it is
// a recognized archive.
func (b *HTTPBackend) Pull(ctx context.Context, creds CredentialSource, core *schema.Core, targetDir string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	remoteURL := ""
	if core.RemoteURL != nil {
		remoteURL = *core.RemoteURL
	}

	opts := b.Options.withDefaults()
	record, found := creds.Credentials(remoteURL)

	var filePath string
	if found && record.AuthType == "oauth2" {
		filePath, err = downloadOAuth2(ctx, remoteURL, targetDir, record, opts)
	} else {
		filePath, err = downloadHTTP(ctx, remoteURL, targetDir, record, found, opts)
	}
	if err != nil {
		return nil, err
	}
	return autoExtract(filePath, core)
}

func downloadHTTP(ctx context.Context, remoteURL, targetDir string, record Credentials, withAuth bool, opts Options) (string, error) {
	client := &http.Client{Timeout: opts.Timeout}
	prepare := func(req *http.Request) {
		if withAuth {
			req.SetBasicAuth(record.Username, record.Password)
		}
	}
	return downloadWithClient(ctx, client, remoteURL, targetDir, prepare, opts.Retries)
}

func downloadOAuth2(ctx context.Context, remoteURL, targetDir string, record Credentials, opts Options) (string, error) {
	if record.GrantType != "ResourceOwnerPasswordCredentialsGrant" {
		return "", muninn.ErrDownload.New("error downloading %s: unsupported grant type %q", remoteURL, record.GrantType)
	}

	conf := &oauth2.Config{
		ClientID:     record.ClientID,
		ClientSecret: record.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: record.TokenURL},
	}
	// Token requests go through a client with the configured timeout.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: opts.Timeout})
	token, err := conf.PasswordCredentialsToken(ctx, record.Username, record.Password)
	if err != nil {
		return "", muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
	}

	client := conf.Client(ctx, token)
	client.Timeout = opts.Timeout
	return downloadWithClient(ctx, client, remoteURL, targetDir, nil, opts.Retries)
}

var contentDispositionFilename = regexp.MustCompile(`filename="?([^"]+)"?`)

// downloadWithClient performs the download, retrying only on network
// timeouts. The local file name comes from the final request URL, or
// from a Content-Disposition filename when the server provides one.
func downloadWithClient(ctx context.Context, client *http.Client, remoteURL, targetDir string, prepare func(*http.Request), retries int) (string, error) {
	for {
		localFile, err := downloadOnce(ctx, client, remoteURL, targetDir, prepare)
		if err == nil {
			return localFile, nil
		}
		if !isTimeout(err) || retries <= 0 {
			return "", muninn.ErrDownload.New("error downloading %s: %v", remoteURL, err)
		}
		retries--
	}
}

func downloadOnce(ctx context.Context, client *http.Client, remoteURL, targetDir string, prepare func(*http.Request)) (_ string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", err
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", Error.New("unexpected status %s", resp.Status)
	}

	localFile := filepath.Join(targetDir, path.Base(resp.Request.URL.Path))
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		matches := contentDispositionFilename.FindAllStringSubmatch(disposition, -1)
		if len(matches) > 0 {
			localFile = filepath.Join(targetDir, matches[len(matches)-1][1])
		}
	}

	out, err := os.Create(localFile)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return localFile, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
