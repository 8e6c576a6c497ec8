// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package remote pulls product data from remote locations into a local
// directory, typically the staging area of a storage put.
//
// A backend is registered under a protocol name together with the URL
// prefix it serves; the backend serving a product is chosen by the
// longest registered prefix matching the product's remote URL.
// Downloaded archives whose file name is the product's physical name
// plus a known archive extension are unpacked in place.
package remote

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

var (
	// Error is the default error class for the remote package.
	Error = errs.Class("remote")

	mon = monkit.Package()
)

// Credentials is one record of the auth file. Which fields are used
// depends on the backend: http uses the username/password pair or the
// oauth2 fields, s3 uses the host, region and key fields.
type Credentials struct {
	Username        string          `json:"username"`
	Password        string          `json:"password"`
	AuthType        string          `json:"auth_type"`
	GrantType       string          `json:"grant_type"`
	ClientID        string          `json:"client_id"`
	ClientSecret    string          `json:"client_secret"`
	TokenURL        string          `json:"token_url"`
	AuthArgs        json.RawMessage `json:"auth_args"`
	Host            string          `json:"host"`
	Region          string          `json:"region"`
	AccessKey       string          `json:"access_key"`
	SecretAccessKey string          `json:"secret_access_key"`
}

// CredentialSource resolves download credentials for a URL.
type CredentialSource interface {
	// Credentials returns the credentials for the URL and whether any
	// were found.
	Credentials(url string) (Credentials, bool)
}

// NoCredentials is a CredentialSource without any records.
type NoCredentials struct{}

// Credentials always reports no match.
func (NoCredentials) Credentials(string) (Credentials, bool) { return Credentials{}, false }

// CredentialFile holds the records of an auth file keyed by URL prefix
// or hostname.
type CredentialFile struct {
	records map[string]Credentials
}

// LoadCredentialFile reads an auth file: a JSON object mapping URL
// prefixes (or, for non-s3 URLs, plain hostnames) to credential
// records.
func LoadCredentialFile(path string) (*CredentialFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var records map[string]Credentials
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, Error.New("invalid auth file %q: %v", path, err)
	}
	return &CredentialFile{records: records}, nil
}

// Credentials returns the record with the longest prefix matching the
// URL. When no prefix matches and the URL is not an s3 URL, a record
// keyed by the bare hostname is used as fallback.
func (f *CredentialFile) Credentials(productURL string) (Credentials, bool) {
	bestLen := -1
	var best Credentials
	for prefix, record := range f.records {
		if strings.HasPrefix(productURL, prefix) && len(prefix) > bestLen {
			bestLen, best = len(prefix), record
		}
	}
	if bestLen >= 0 {
		return best, true
	}

	parsed, err := url.Parse(productURL)
	if err == nil && parsed.Scheme != "s3" {
		if record, ok := f.records[parsed.Hostname()]; ok {
			return record, true
		}
	}
	return Credentials{}, false
}

// Options configures the transfer behavior of a backend.
type Options struct {
	// Timeout bounds a single download attempt.
	Timeout time.Duration `help:"download timeout" default:"60s"`
	// Retries is the number of extra attempts after a timeout. Other
	// failures are not retried.
	Retries int `help:"download retries after a timeout" default:"0"`
}

func (opts Options) withDefaults() Options {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return opts
}

// Backend pulls product data for one URL protocol.
type Backend interface {
	// Identify reports whether the backend can pull the given URL.
	Identify(url string) bool
	// Pull downloads the product into targetDir and returns the local
	// paths it created, after unpacking recognized archives.
	Pull(ctx context.Context, creds CredentialSource, core *schema.Core, targetDir string) ([]string, error)
}

type registration struct {
	prefix  string
	backend Backend
}

// Registry holds the remote backends by protocol name.
type Registry struct {
	entries map[string]registration
}

// NewRegistry returns a registry with the built-in backends: file,
// http, https and s3.
func NewRegistry(opts Options) *Registry {
	registry := &Registry{entries: map[string]registration{}}
	registry.Register("file", "file://", &FileBackend{})
	registry.Register("http", "http://", &HTTPBackend{Options: opts})
	registry.Register("https", "https://", &HTTPBackend{Options: opts})
	registry.Register("s3", "s3://", &S3Backend{})
	return registry
}

// Register adds a backend under the given protocol name, replacing any
// previous registration with the same name.
func (r *Registry) Register(name, prefix string, backend Backend) {
	r.entries[name] = registration{prefix: prefix, backend: backend}
}

// Names lists the registered protocol names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend returns the backend registered under the protocol name.
func (r *Registry) Backend(name string) (Backend, bool) {
	entry, ok := r.entries[name]
	return entry.backend, ok
}

// BackendFor selects the backend for a URL: among all backends that
// identify the URL, the one registered with the longest matching
// prefix wins.
func (r *Registry) BackendFor(url string) (Backend, error) {
	bestLen := -1
	var best Backend
	for _, entry := range r.entries {
		if !entry.backend.Identify(url) {
			continue
		}
		if best == nil {
			best = entry.backend
		}
		if strings.HasPrefix(url, entry.prefix) && len(entry.prefix) > bestLen {
			bestLen, best = len(entry.prefix), entry.backend
		}
	}
	if best == nil {
		return nil, muninn.ErrUser.New("the protocol of %q is not supported", url)
	}
	return best, nil
}
