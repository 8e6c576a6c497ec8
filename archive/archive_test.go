// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/archive"
	"muninn.io/muninn/archive/plugin"
	"muninn.io/muninn/catalogue/sqlitedb"
	"muninn.io/muninn/internal/fsutil"
	"muninn.io/muninn/internal/testcontext"
	"muninn.io/muninn/schema"
	"muninn.io/muninn/store/filestore"
)

// rawType recognizes single ".raw" files and derives the product name
// from the file name.
type rawType struct{}

func (rawType) UseEnclosingDirectory() bool { return false }

func (rawType) Identify(ctx context.Context, paths []string) bool {
	return len(paths) == 1 && strings.HasSuffix(paths[0], ".raw")
}

func (rawType) Analyze(ctx context.Context, paths []string) (*plugin.AnalyzeResult, error) {
	name := strings.TrimSuffix(filepath.Base(paths[0]), ".raw")
	return &plugin.AnalyzeResult{
		Properties: schema.Properties{"core": {"product_name": name}},
		Tags:       []string{"raw"},
	}, nil
}

func (rawType) ArchivePath(properties schema.Properties) (string, error) {
	return "raw", nil
}

// compositeType recognizes ".cmp" files and carries a cascade rule.
type compositeType struct {
	rule plugin.CascadeRule
}

func (compositeType) UseEnclosingDirectory() bool { return false }

func (compositeType) Identify(ctx context.Context, paths []string) bool {
	return len(paths) == 1 && strings.HasSuffix(paths[0], ".cmp")
}

func (compositeType) Analyze(ctx context.Context, paths []string) (*plugin.AnalyzeResult, error) {
	name := strings.TrimSuffix(filepath.Base(paths[0]), ".cmp")
	return &plugin.AnalyzeResult{
		Properties: schema.Properties{"core": {"product_name": name}},
	}, nil
}

func (compositeType) ArchivePath(properties schema.Properties) (string, error) {
	return "composite", nil
}

func (t compositeType) CascadeRule() plugin.CascadeRule { return t.rule }

func openArchive(t *testing.T, ctx *testcontext.Context, register func(a *archive.Archive)) *archive.Archive {
	log := zaptest.NewLogger(t)

	db, err := sqlitedb.Open(log, sqlitedb.Config{
		ConnectionString: filepath.Join(ctx.Dir(), "muninn.db"),
	})
	require.NoError(t, err)

	storage, err := filestore.New(log, filestore.Config{Root: filepath.Join(ctx.Dir(), "root")})
	require.NoError(t, err)

	a, err := archive.New(log, db, storage, archive.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.RegisterProductType("RAW", rawType{}))
	if register != nil {
		register(a)
	}
	require.NoError(t, a.Prepare(context.Background(), false))
	return a
}

func ingestRaw(t *testing.T, ctx *testcontext.Context, a *archive.Archive, name, content string) schema.Core {
	path := ctx.WriteFile([]byte(content), "incoming", name+".raw")
	properties, err := a.Ingest(context.Background(), []string{path}, archive.IngestOptions{})
	require.NoError(t, err)
	core, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	return core
}

// backdate moves a product's archive date into the past so that cascade
// grace periods do not apply.
func backdate(t *testing.T, a *archive.Archive, id uuid.UUID) {
	update := schema.Properties{"core": {"archive_date": time.Now().UTC().Add(-time.Hour)}}
	require.NoError(t, a.UpdateProperties(context.Background(), update, id, false))
}

func TestIngest(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	require.True(t, core.Active)
	require.Equal(t, "RAW", core.ProductType)
	require.Equal(t, "granule-001", core.ProductName)
	require.Equal(t, "granule-001.raw", core.PhysicalName)
	require.NotNil(t, core.ArchivePath)
	require.Equal(t, "raw", *core.ArchivePath)
	require.NotNil(t, core.Size)
	require.Equal(t, int64(len("payload")), *core.Size)
	require.NotNil(t, core.Hash)
	require.True(t, strings.HasPrefix(*core.Hash, "md5:"))
	require.NotNil(t, core.ArchiveDate)

	// the data is in the archive
	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(a.Root(), "raw", "granule-001.raw"), productPath)
	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	// the analysis tags were applied
	tags, err := a.Tags(testCtx, core.UUID)
	require.NoError(t, err)
	require.Equal(t, []string{"raw"}, tags)

	count, err := a.Count(testCtx, `product_type == "RAW" and active`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestIngestUnknownProduct(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	a := openArchive(t, ctx, nil)
	path := ctx.WriteFile([]byte("x"), "incoming", "granule.unknown")

	_, err := a.Ingest(context.Background(), []string{path}, archive.IngestOptions{})
	require.True(t, muninn.ErrUser.Has(err))
}

func TestIngestVerifyHash(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	a := openArchive(t, ctx, nil)
	path := ctx.WriteFile([]byte("payload"), "incoming", "granule-001.raw")

	_, err := a.Ingest(context.Background(), []string{path}, archive.IngestOptions{VerifyHash: true})
	require.NoError(t, err)
}

func TestRetrieve(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	target := ctx.Dir("target")
	path, err := a.RetrieveByUUID(testCtx, core.UUID, target, false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(target, "granule-001.raw"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	paths, err := a.RetrieveByName(testCtx, "granule-001", ctx.Dir("target2"), false)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	_, err = a.RetrieveByName(testCtx, "missing", ctx.Dir("target3"), false)
	require.True(t, muninn.ErrNotFound.Has(err))
}

func TestStrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")
	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)

	count, err := a.StripByUUID(testCtx, core.UUID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// the catalogue entry stays, the data is gone
	properties, err := a.RetrieveProperties(testCtx, core.UUID, nil)
	require.NoError(t, err)
	stripped, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.True(t, stripped.Active)
	require.Nil(t, stripped.ArchivePath)
	require.Nil(t, stripped.ArchiveDate)

	_, err = os.Stat(productPath)
	require.True(t, os.IsNotExist(err))

	// a stripped product cannot be stripped again
	_, err = a.StripByUUID(testCtx, core.UUID)
	require.True(t, muninn.ErrNotFound.Has(err))
}

func TestRemove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")
	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)

	count, err := a.RemoveByUUID(testCtx, core.UUID, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = a.RetrieveProperties(testCtx, core.UUID, nil)
	require.True(t, muninn.ErrNotFound.Has(err))
	_, err = os.Stat(productPath)
	require.True(t, os.IsNotExist(err))
}

func TestForceReingest(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	first := ingestRaw(t, ctx, a, "granule-001", "payload")

	path := ctx.WriteFile([]byte("payload v2"), "incoming", "granule-001.raw")
	properties, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{Force: true})
	require.NoError(t, err)
	second, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.NotEqual(t, first.UUID, second.UUID)

	// the old entry is gone and the data was replaced
	count, err := a.Count(testCtx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	productPath, err := a.ProductPath(testCtx, second.UUID)
	require.NoError(t, err)
	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "payload v2", string(data))
}

func TestPropertiesOnlyAndAttach(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	path := ctx.WriteFile([]byte("payload"), "incoming", "granule-001.raw")

	properties, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{PropertiesOnly: true})
	require.NoError(t, err)
	core, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.True(t, core.Active)
	require.Nil(t, core.ArchivePath)

	// no data yet
	_, err = a.ProductPath(testCtx, core.UUID)
	require.Error(t, err)

	attached, err := a.Attach(testCtx, []string{path}, archive.AttachOptions{VerifyHashBefore: true})
	require.NoError(t, err)
	attachedCore, err := schema.CoreFromRecord(attached["core"])
	require.NoError(t, err)
	require.Equal(t, core.UUID, attachedCore.UUID)
	require.NotNil(t, attachedCore.ArchivePath)

	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)
	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	// attaching again is refused
	_, err = a.Attach(testCtx, []string{path}, archive.AttachOptions{})
	require.True(t, muninn.ErrUser.Has(err))
}

func TestAttachHashMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	path := ctx.WriteFile([]byte("payload"), "incoming", "granule-001.raw")

	_, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{PropertiesOnly: true})
	require.NoError(t, err)

	// the local data changed after the catalogue entry was created
	ctx.WriteFile([]byte("tampered"), "incoming", "granule-001.raw")
	_, err = a.Attach(testCtx, []string{path}, archive.AttachOptions{VerifyHashBefore: true})
	require.True(t, muninn.ErrHashMismatch.Has(err))
}

func TestPull(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)

	source := ctx.WriteFile([]byte("remote payload"), "remote", "granule-001.raw")
	remoteURL := "file://" + source

	core := schema.Core{
		UUID:         uuid.New(),
		Active:       true,
		MetadataDate: time.Now().UTC(),
		ProductType:  "RAW",
		ProductName:  "granule-001",
		PhysicalName: "granule-001.raw",
		RemoteURL:    &remoteURL,
	}
	require.NoError(t, a.CreateProperties(testCtx, schema.Properties{"core": core.Record()}, true))

	count, err := a.Pull(testCtx, `is_defined(remote_url) and not is_defined(archive_path)`, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	properties, err := a.RetrieveProperties(testCtx, core.UUID, nil)
	require.NoError(t, err)
	pulled, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.True(t, pulled.Active)
	require.NotNil(t, pulled.ArchivePath)
	require.NotNil(t, pulled.ArchiveDate)
	require.NotNil(t, pulled.Size)
	require.Equal(t, int64(len("remote payload")), *pulled.Size)

	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)
	data, err := os.ReadFile(productPath)
	require.NoError(t, err)
	require.Equal(t, "remote payload", string(data))
}

func TestVerifyHash(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	failed, err := a.VerifyHash(testCtx, "", nil)
	require.NoError(t, err)
	require.Empty(t, failed)

	// corrupt the stored data
	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(productPath, []byte("corrupted"), 0o644))

	failed, err = a.VerifyHash(testCtx, "", nil)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{core.UUID}, failed)
}

func TestCalculateHash(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	productHash, err := a.CalculateHash(testCtx, core.UUID)
	require.NoError(t, err)

	productPath, err := a.ProductPath(testCtx, core.UUID)
	require.NoError(t, err)
	expected, err := fsutil.ProductHash([]string{productPath}, "md5")
	require.NoError(t, err)
	require.Equal(t, expected, productHash)
	require.Equal(t, *core.Hash, productHash)
}

func TestRebuildProperties(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	// damage the catalogue entry, then rebuild it from the data
	update := schema.Properties{"core": {"product_name": "wrong"}}
	require.NoError(t, a.UpdateProperties(testCtx, update, core.UUID, false))

	require.NoError(t, a.RebuildProperties(testCtx, core.UUID, true, false))

	properties, err := a.RetrieveProperties(testCtx, core.UUID, nil)
	require.NoError(t, err)
	rebuilt, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.Equal(t, "granule-001", rebuilt.ProductName)
	require.Equal(t, core.UUID, rebuilt.UUID)
}

func TestLinksAndCascadePurge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, func(a *archive.Archive) {
		require.NoError(t, a.RegisterProductType("COMPOSITE", compositeType{rule: plugin.Cascade}))
	})

	source := ingestRaw(t, ctx, a, "granule-001", "payload")

	path := ctx.WriteFile([]byte("composite"), "incoming", "composite-001.cmp")
	properties, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{})
	require.NoError(t, err)
	derived, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)

	require.NoError(t, a.Link(testCtx, derived.UUID, []uuid.UUID{source.UUID}))
	sources, err := a.SourceProducts(testCtx, derived.UUID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{source.UUID}, sources)

	backdate(t, a, source.UUID)
	backdate(t, a, derived.UUID)

	// removing the source purges the derived product along with it
	_, err = a.RemoveByUUID(testCtx, source.UUID, false)
	require.NoError(t, err)

	count, err := a.Count(testCtx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestCascadeStripOnUnavailableSource(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, func(a *archive.Archive) {
		require.NoError(t, a.RegisterProductType("COMPOSITE", compositeType{rule: plugin.CascadeStrip}))
	})

	source := ingestRaw(t, ctx, a, "granule-001", "payload")

	path := ctx.WriteFile([]byte("composite"), "incoming", "composite-001.cmp")
	properties, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{})
	require.NoError(t, err)
	derived, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)
	require.NoError(t, a.Link(testCtx, derived.UUID, []uuid.UUID{source.UUID}))

	backdate(t, a, source.UUID)
	backdate(t, a, derived.UUID)

	// stripping the source leaves it catalogued without data, which
	// strips the derived product in turn
	_, err = a.StripByUUID(testCtx, source.UUID)
	require.NoError(t, err)

	propertiesAfter, err := a.RetrieveProperties(testCtx, derived.UUID, nil)
	require.NoError(t, err)
	strippedDerived, err := schema.CoreFromRecord(propertiesAfter["core"])
	require.NoError(t, err)
	require.True(t, strippedDerived.Active)
	require.Nil(t, strippedDerived.ArchivePath)
}

type recordingHooks struct {
	events []string
}

func (h *recordingHooks) PostIngest(ctx context.Context, properties schema.Properties) error {
	h.events = append(h.events, "ingest "+properties["core"]["product_name"].(string))
	return nil
}

func (h *recordingHooks) PostRemove(ctx context.Context, properties schema.Properties) error {
	h.events = append(h.events, "remove "+properties["core"]["product_name"].(string))
	return nil
}

func TestHookExtensions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	hooks := &recordingHooks{}
	a := openArchive(t, ctx, func(a *archive.Archive) {
		require.NoError(t, a.RegisterHookExtension("recorder", hooks))
	})

	core := ingestRaw(t, ctx, a, "granule-001", "payload")
	_, err := a.RemoveByUUID(testCtx, core.UUID, false)
	require.NoError(t, err)

	require.Equal(t, []string{"ingest granule-001", "remove granule-001"}, hooks.events)
}

// exportingRawType adds a "manifest" export format.
type exportingRawType struct {
	rawType
}

func (exportingRawType) ExportFormats() []string { return []string{"manifest"} }

func (exportingRawType) Export(ctx context.Context, format string, properties schema.Properties, targetPath string) (string, error) {
	name := properties["core"]["product_name"].(string)
	path := filepath.Join(targetPath, name+".manifest")
	return path, os.WriteFile(path, []byte(format+" "+name), 0o644)
}

func TestExport(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, nil)
	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	// without an exporter the default format retrieves a copy
	path, err := a.ExportByUUID(testCtx, core.UUID, ctx.Dir("export"), "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(ctx.Dir("export"), "granule-001.raw"), path)

	// a named format needs an exporter
	_, err = a.ExportByUUID(testCtx, core.UUID, ctx.Dir("export"), "manifest")
	require.True(t, muninn.ErrUser.Has(err))

	_, err = a.ExportByUUID(testCtx, core.UUID, ctx.Dir("export"), "not valid!")
	require.True(t, muninn.ErrUser.Has(err))
}

func TestExportWithExporter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	a := openArchive(t, ctx, func(a *archive.Archive) {
		require.NoError(t, a.RegisterProductType("XRAW", exportingRawType{}))
	})

	path := ctx.WriteFile([]byte("payload"), "incoming", "granule-001.raw")
	properties, err := a.Ingest(testCtx, []string{path}, archive.IngestOptions{ProductType: "XRAW"})
	require.NoError(t, err)
	core, err := schema.CoreFromRecord(properties["core"])
	require.NoError(t, err)

	require.Equal(t, []string{"manifest"}, a.ExportFormats())

	exported, err := a.ExportByUUID(testCtx, core.UUID, ctx.Dir("export"), "manifest")
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	require.Equal(t, "manifest granule-001", string(data))
}

func TestNamespaceRegistration(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	testCtx := context.Background()

	weather := schema.MustNamespace("weather",
		schema.Field{Name: "cloud_cover", Kind: schema.Real, Optional: true},
	)
	a := openArchive(t, ctx, func(a *archive.Archive) {
		require.NoError(t, a.RegisterNamespace("weather", weather))
	})
	require.Equal(t, []string{"core", "weather"}, a.Namespaces())

	core := ingestRaw(t, ctx, a, "granule-001", "payload")

	update := schema.Properties{"weather": {"cloud_cover": 0.5}}
	require.NoError(t, a.UpdateProperties(testCtx, update, core.UUID, true))

	count, err := a.Count(testCtx, `weather.cloud_cover == 0.5`, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
