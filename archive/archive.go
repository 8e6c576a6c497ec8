// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package archive implements the product lifecycle coordinator: it
// orchestrates the catalogue, the storage backend and the remote
// backends to ingest, pull, retrieve, export and remove products, and
// enforces the cascade policies of the registered product types.
package archive

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/catalogue"
	"muninn.io/muninn/remote"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store"
)

var (
	// Error is the default error class for the archive package.
	Error = errs.Class("archive")

	mon = monkit.Package()
)

var namespaceNameRx = regexp.MustCompile(`^[a-z][_a-z]*(\.[a-z][_a-z]*)*$`)

// Config holds the archive-wide options.
type Config struct {
	// UseSymlinks stores symbolic links instead of copies by default.
	UseSymlinks bool `help:"store symbolic links instead of copies" default:"false"`
	// CascadeGracePeriod protects fresh products from cascade actions.
	CascadeGracePeriod time.Duration `help:"minimum product age before cascade rules apply" default:"0"`
	// MaxCascadeCycles bounds the cascade fixed-point iteration.
	MaxCascadeCycles int `help:"maximum number of cascade cycles" default:"25"`
	// AuthFile points at the JSON credential file for remote downloads.
	AuthFile string `help:"path of the remote download credentials file"`
}

// Archive coordinates the product catalogue and product data storage.
//
// A single handle is not safe for concurrent mutation; parallel
// tooling opens one handle per worker.
type Archive struct {
	log     *zap.Logger
	db      catalogue.Backend
	storage store.Backend
	config  Config

	namespaces   schema.Namespaces
	productTypes *plugin.ProductTypeRegistry
	hooks        *plugin.HookRegistry
	remotes      *remote.Registry

	credentials remote.CredentialSource
}

// New creates an archive over the given catalogue and storage
// backends. The core namespace is registered; extension namespaces,
// product types, remote backends and hook extensions are registered by
// the caller before first use.
func New(log *zap.Logger, db catalogue.Backend, storage store.Backend, config Config) (*Archive, error) {
	if config.MaxCascadeCycles <= 0 {
		config.MaxCascadeCycles = 25
	}

	archive := &Archive{
		log:          log,
		db:           db,
		storage:      storage,
		config:       config,
		namespaces:   schema.Namespaces{"core": schema.CoreNamespace},
		productTypes: plugin.NewProductTypeRegistry(),
		hooks:        plugin.NewHookRegistry(),
		remotes:      remote.NewRegistry(remote.Options{}),
		credentials:  remote.NoCredentials{},
	}
	if config.AuthFile != "" {
		credentials, err := remote.LoadCredentialFile(config.AuthFile)
		if err != nil {
			return nil, err
		}
		archive.credentials = credentials
	}

	// The catalogue holds a reference to the namespace set, so
	// namespaces registered later are visible to query building.
	if err := db.Initialize(archive.namespaces); err != nil {
		return nil, err
	}
	return archive, nil
}

// Close disconnects from the catalogue. Using the archive afterwards
// results in undefined behavior.
func (a *Archive) Close() error {
	return a.db.Disconnect()
}

// RegisterNamespace adds an extension namespace definition.
func (a *Archive) RegisterNamespace(name string, ns *schema.Namespace) error {
	if !namespaceNameRx.MatchString(name) {
		return muninn.ErrUser.New("invalid namespace name %q", name)
	}
	if _, ok := a.namespaces[name]; ok {
		return Error.New("redefinition of namespace %q", name)
	}
	a.namespaces[name] = ns
	return nil
}

// NamespaceSchema returns the definition of a namespace.
func (a *Archive) NamespaceSchema(name string) (*schema.Namespace, error) {
	ns, ok := a.namespaces[name]
	if !ok {
		return nil, muninn.ErrNotFound.New("undefined namespace %q", name)
	}
	return ns, nil
}

// Namespaces lists the registered namespace names, core first.
func (a *Archive) Namespaces() []string {
	return a.namespaces.Names()
}

// RegisterProductType adds a product type plugin.
func (a *Archive) RegisterProductType(productType string, p plugin.ProductType) error {
	return a.productTypes.Register(productType, p)
}

// ProductTypePlugin returns the plugin of a product type.
func (a *Archive) ProductTypePlugin(productType string) (plugin.ProductType, error) {
	return a.productTypes.Plugin(productType)
}

// ProductTypes lists the registered product types.
func (a *Archive) ProductTypes() []string {
	return a.productTypes.Names()
}

// RegisterRemoteBackend adds a remote backend under a protocol name.
func (a *Archive) RegisterRemoteBackend(name, prefix string, backend remote.Backend) {
	a.remotes.Register(name, prefix, backend)
}

// RemoteBackend returns the remote backend registered under the name.
func (a *Archive) RemoteBackend(name string) (remote.Backend, error) {
	backend, ok := a.remotes.Backend(name)
	if !ok {
		return nil, muninn.ErrNotFound.New("undefined remote backend %q", name)
	}
	return backend, nil
}

// RemoteBackends lists the registered remote backend names.
func (a *Archive) RemoteBackends() []string {
	return a.remotes.Names()
}

// RegisterHookExtension adds a hook extension.
func (a *Archive) RegisterHookExtension(name string, extension any) error {
	return a.hooks.Register(name, extension)
}

// HookExtensions lists the registered hook extensions.
func (a *Archive) HookExtensions() []string {
	return a.hooks.Names()
}

// ExportFormats lists the supported alternative export formats.
func (a *Archive) ExportFormats() []string {
	return a.productTypes.ExportFormats()
}

// Root returns the global prefix of the storage backend, such as the
// archive root directory.
func (a *Archive) Root() string {
	return a.storage.GlobalPrefix()
}

// Prepare readies the archive for first use by creating the storage
// and the catalogue. With force set, any existing archive is destroyed
// first; otherwise an existing archive is an error.
func (a *Archive) Prepare(ctx context.Context, force bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !force {
		if exists, err := a.storage.Exists(ctx); err != nil {
			return err
		} else if exists {
			return Error.New("storage already exists")
		}
		if exists, err := a.db.Exists(ctx); err != nil {
			return err
		} else if exists {
			return Error.New("catalogue already exists")
		}
	}

	if err := a.Destroy(ctx); err != nil {
		return err
	}
	if _, err := a.db.Prepare(ctx, false); err != nil {
		return err
	}
	return a.storage.Prepare(ctx)
}

// PrepareCatalogue creates the catalogue tables only. With dryRun set
// the statements are returned without being executed.
func (a *Archive) PrepareCatalogue(ctx context.Context, dryRun bool) ([]string, error) {
	return a.db.Prepare(ctx, dryRun)
}

// Destroy removes the archive: the products and the catalogue.
func (a *Archive) Destroy(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := a.DestroyCatalogue(ctx); err != nil {
		return err
	}
	return a.storage.Destroy(ctx)
}

// DestroyCatalogue removes the catalogue but leaves storage untouched.
func (a *Archive) DestroyCatalogue(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := a.db.Exists(ctx)
	if err != nil || !exists {
		return err
	}
	return a.db.Destroy(ctx)
}

// SearchOptions refine a product search.
type SearchOptions struct {
	// OrderBy lists property names, each optionally prefixed with '+'
	// or '-' for ascending or descending order.
	OrderBy []string
	// Limit bounds the number of results when set.
	Limit *int
	// Parameters binds @name references in the search expression.
	Parameters map[string]any
	// Namespaces selects extension namespaces to return next to core.
	Namespaces []string
	// PropertyNames restricts the result to the named properties; when
	// set, Namespaces is ignored.
	PropertyNames []string
}

// Search returns the products matching the search expression.
func (a *Archive) Search(ctx context.Context, where string, opts SearchOptions) (_ []schema.Properties, err error) {
	defer mon.Task()(&ctx)(&err)

	return a.db.Search(ctx, catalogue.SearchQuery{
		Where:         where,
		OrderBy:       opts.OrderBy,
		Limit:         opts.Limit,
		Parameters:    opts.Parameters,
		Namespaces:    opts.Namespaces,
		PropertyNames: opts.PropertyNames,
	})
}

// Count returns the number of products matching the search expression.
func (a *Archive) Count(ctx context.Context, where string, parameters map[string]any) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	return a.db.Count(ctx, where, parameters)
}

// SummaryOptions refine a product summary.
type SummaryOptions struct {
	// Parameters binds @name references in the search expression.
	Parameters map[string]any
	// Aggregates lists "<property>.<function>" aggregations next to the
	// implicit product count.
	Aggregates []string
	// GroupBy lists grouping properties, timestamps with a binning
	// subscript such as "core.validity_start.yearmonth".
	GroupBy []string
	// GroupByTag additionally groups per product tag.
	GroupByTag bool
	// OrderBy lists result column names with optional '+'/'-' prefix.
	OrderBy []string
}

// Summary aggregates over the products matching the search expression
// and returns the result rows along with the result column names.
func (a *Archive) Summary(ctx context.Context, where string, opts SummaryOptions) (rows [][]any, fields []string, err error) {
	defer mon.Task()(&ctx)(&err)

	return a.db.Summary(ctx, catalogue.SummaryQuery{
		Where:      where,
		Parameters: opts.Parameters,
		Aggregates: opts.Aggregates,
		GroupBy:    opts.GroupBy,
		GroupByTag: opts.GroupByTag,
		OrderBy:    opts.OrderBy,
	})
}

// RetrieveProperties returns the properties of the product with the
// given uuid.
func (a *Archive) RetrieveProperties(ctx context.Context, id uuid.UUID, namespaces []string) (schema.Properties, error) {
	products, err := a.Search(ctx, "uuid == @uuid", SearchOptions{
		Parameters: map[string]any{"uuid": id},
		Namespaces: namespaces,
	})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, muninn.ErrNotFound.New("product with uuid %q not found", id)
	}
	return products[0], nil
}

// CreateProperties stores a catalogue entry for a new product. It
// fails when core.uuid or the (archive_path, physical_name) or
// (product_type, product_name) pairs are not unique.
func (a *Archive) CreateProperties(ctx context.Context, properties schema.Properties, disableHooks bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := a.updateMetadataDate(ctx, properties); err != nil {
		return err
	}
	if err := a.db.InsertProductProperties(ctx, properties); err != nil {
		return err
	}

	if !disableHooks {
		core, err := coreOf(properties)
		if err != nil {
			return err
		}
		p, err := a.productTypes.Plugin(core.ProductType)
		if err != nil {
			return err
		}
		return a.runPostCreate(ctx, p, properties)
	}
	return nil
}

// UpdateProperties applies a partial property update. The product is
// identified by id, or by core.uuid when id is the zero uuid. With
// createNamespaces set, namespaces not yet present on the product are
// created instead of updated.
func (a *Archive) UpdateProperties(ctx context.Context, properties schema.Properties, id uuid.UUID, createNamespaces bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	var newNamespaces []string
	if createNamespaces {
		if core, ok := properties["core"]; ok {
			if coreUUID, ok := core["uuid"].(uuid.UUID); ok {
				if id == uuid.Nil {
					id = coreUUID
				} else if id != coreUUID {
					return muninn.ErrUser.New("specified uuid does not match uuid included in the specified product properties")
				}
			}
		}
		existing, err := a.RetrieveProperties(ctx, id, a.Namespaces())
		if err != nil {
			return err
		}
		for namespace := range properties {
			if _, ok := existing[namespace]; !ok {
				newNamespaces = append(newNamespaces, namespace)
			}
		}
	}

	if err := a.updateMetadataDate(ctx, properties); err != nil {
		return err
	}
	return a.db.UpdateProductProperties(ctx, properties, id, newNamespaces)
}

// DeleteProperties removes the catalogue entries of the products
// matching the search expression and returns how many were removed.
// Product data in storage is kept and no cascade rules run.
func (a *Archive) DeleteProperties(ctx context.Context, where string, parameters map[string]any) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	products, err := a.Search(ctx, where, SearchOptions{
		Parameters:    parameters,
		PropertyNames: []string{"uuid"},
	})
	if err != nil {
		return 0, err
	}
	for _, properties := range products {
		id, ok := properties["core"]["uuid"].(uuid.UUID)
		if !ok {
			return 0, muninn.ErrInternal.New("search result without uuid")
		}
		if err := a.db.DeleteProductProperties(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}

// DeletePropertiesByUUID removes the catalogue entry of one product.
// Product data in storage is kept and no cascade rules run.
func (a *Archive) DeletePropertiesByUUID(ctx context.Context, id uuid.UUID) error {
	return a.db.DeleteProductProperties(ctx, id)
}

// Identify determines the product type of the product at the given
// paths by probing the registered product types in registration order.
func (a *Archive) Identify(ctx context.Context, paths []string) (string, error) {
	for _, productType := range a.productTypes.Names() {
		p, err := a.productTypes.Plugin(productType)
		if err != nil {
			return "", err
		}
		if p.Identify(ctx, paths) {
			return productType, nil
		}
	}
	return "", muninn.ErrUser.New("unable to identify product: %q", paths)
}

// Tag sets one or more tags on a product.
func (a *Archive) Tag(ctx context.Context, id uuid.UUID, tags []string) error {
	return a.db.Tag(ctx, id, tags)
}

// Untag removes the given tags from a product, or all tags when tags
// is nil.
func (a *Archive) Untag(ctx context.Context, id uuid.UUID, tags []string) error {
	return a.db.Untag(ctx, id, tags)
}

// Tags returns the tags of a product.
func (a *Archive) Tags(ctx context.Context, id uuid.UUID) ([]string, error) {
	return a.db.Tags(ctx, id)
}

// Link links a product to one or more source products.
func (a *Archive) Link(ctx context.Context, id uuid.UUID, sourceIDs []uuid.UUID) error {
	return a.db.Link(ctx, id, sourceIDs)
}

// Unlink removes the links to the given source products, or all links
// when sourceIDs is nil.
func (a *Archive) Unlink(ctx context.Context, id uuid.UUID, sourceIDs []uuid.UUID) error {
	return a.db.Unlink(ctx, id, sourceIDs)
}

// SourceProducts returns the uuids of the products linked to the given
// product as sources.
func (a *Archive) SourceProducts(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return a.db.SourceProducts(ctx, id)
}

// DerivedProducts returns the uuids of the products derived from the
// given product.
func (a *Archive) DerivedProducts(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return a.db.DerivedProducts(ctx, id)
}

// ProductPath returns the path in storage of the product with the
// given uuid, including the storage's global prefix.
func (a *Archive) ProductPath(ctx context.Context, id uuid.UUID) (string, error) {
	properties, err := a.RetrieveProperties(ctx, id, nil)
	if err != nil {
		return "", err
	}
	core, err := coreOf(properties)
	if err != nil {
		return "", err
	}
	if core.ArchivePath == nil {
		return "", muninn.ErrNotFound.New("no data available for product %q (%s)", core.ProductName, core.UUID)
	}
	return a.storage.GlobalPrefix() + "/" + a.storage.ProductPath(&core), nil
}

// getProduct loads the full properties of one product.
func (a *Archive) getProduct(ctx context.Context, id uuid.UUID) (schema.Properties, error) {
	return a.RetrieveProperties(ctx, id, a.Namespaces())
}

// productPath returns the storage path of a product, or false when it
// has no data in storage.
func (a *Archive) productPath(core *schema.Core) (string, bool) {
	if core.ArchivePath == nil {
		return "", false
	}
	return a.storage.ProductPath(core), true
}

// updateMetadataDate stamps core.metadata_date with the catalogue
// server time.
func (a *Archive) updateMetadataDate(ctx context.Context, properties schema.Properties) error {
	now, err := a.db.ServerTimeUTC(ctx)
	if err != nil {
		return err
	}
	if _, ok := properties["core"]; !ok {
		properties["core"] = schema.Record{}
	}
	properties["core"]["metadata_date"] = now
	return nil
}

// coreOf decodes the typed core record of a product.
func coreOf(properties schema.Properties) (schema.Core, error) {
	record, ok := properties["core"]
	if !ok {
		return schema.Core{}, muninn.ErrInternal.New("product properties without core namespace")
	}
	return schema.CoreFromRecord(record)
}

// hook dispatch

func (a *Archive) hookTargets(p plugin.ProductType, reverse bool) []any {
	targets := append([]any{any(p)}, a.hooks.Extensions()...)
	if reverse {
		for i, j := 0, len(targets)-1; i < j; i, j = i+1, j-1 {
			targets[i], targets[j] = targets[j], targets[i]
		}
	}
	return targets
}

func (a *Archive) runPostCreate(ctx context.Context, p plugin.ProductType, properties schema.Properties) error {
	for _, target := range a.hookTargets(p, false) {
		if hook, ok := target.(plugin.PostCreateHook); ok {
			if err := hook.PostCreate(ctx, properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) runPostIngest(ctx context.Context, p plugin.ProductType, properties schema.Properties) error {
	for _, target := range a.hookTargets(p, false) {
		if hook, ok := target.(plugin.PostIngestHook); ok {
			if err := hook.PostIngest(ctx, properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) runPostPull(ctx context.Context, p plugin.ProductType, properties schema.Properties) error {
	for _, target := range a.hookTargets(p, false) {
		if hook, ok := target.(plugin.PostPullHook); ok {
			if err := hook.PostPull(ctx, properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) runPostRemove(ctx context.Context, p plugin.ProductType, properties schema.Properties) error {
	for _, target := range a.hookTargets(p, true) {
		if hook, ok := target.(plugin.PostRemoveHook); ok {
			if err := hook.PostRemove(ctx, properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) postIngestHookExists(p plugin.ProductType) bool {
	for _, target := range a.hookTargets(p, false) {
		if _, ok := target.(plugin.PostIngestHook); ok {
			return true
		}
	}
	return false
}
