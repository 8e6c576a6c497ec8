// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package schema

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"muninn.io/muninn/geometry"
)

// CoreNamespace is the mandatory namespace carried by every product.
var CoreNamespace = MustNamespace("core",
	Field{Name: "uuid", Kind: UUID},
	Field{Name: "active", Kind: Boolean, Index: true},
	Field{Name: "hash", Kind: Text, Optional: true, Index: true},
	Field{Name: "size", Kind: Long, Optional: true, Index: true},
	Field{Name: "metadata_date", Kind: Timestamp, Index: true},
	Field{Name: "archive_date", Kind: Timestamp, Optional: true, Index: true},
	Field{Name: "archive_path", Kind: Text, Optional: true, Validate: ValidateArchivePath},
	Field{Name: "product_type", Kind: Text, Index: true},
	Field{Name: "product_name", Kind: Text, Index: true},
	Field{Name: "physical_name", Kind: Text, Index: true, Validate: ValidateBasename},
	Field{Name: "validity_start", Kind: Timestamp, Optional: true, Index: true},
	Field{Name: "validity_stop", Kind: Timestamp, Optional: true, Index: true},
	Field{Name: "creation_date", Kind: Timestamp, Optional: true, Index: true},
	Field{Name: "footprint", Kind: Geometry, Optional: true, Index: true},
	Field{Name: "remote_url", Kind: Text, Optional: true},
)

// ValidateArchivePath rejects absolute paths and paths containing a
// parent-directory reference.
func ValidateArchivePath(value any) error {
	text, ok := value.(string)
	if !ok {
		return fmt.Errorf("invalid value %v for type %q", value, "archive_path")
	}
	if path.IsAbs(text) || strings.HasPrefix(text, "/") {
		return fmt.Errorf("invalid value %q for type %q", text, "archive_path")
	}
	for _, segment := range strings.Split(text, "/") {
		if segment == ".." {
			return fmt.Errorf("invalid value %q for type %q", text, "archive_path")
		}
	}
	return nil
}

// ValidateBasename rejects values containing path separators.
func ValidateBasename(value any) error {
	text, ok := value.(string)
	if !ok {
		return fmt.Errorf("invalid value %v for type %q", value, "basename")
	}
	if text != path.Base(text) || text == "." || text == ".." {
		return fmt.Errorf("invalid value %q for type %q", text, "basename")
	}
	return nil
}

// Core carries the typed view of the core namespace. Optional fields are
// pointers; nil means not set.
type Core struct {
	UUID          uuid.UUID
	Active        bool
	Hash          *string
	Size          *int64
	MetadataDate  time.Time
	ArchiveDate   *time.Time
	ArchivePath   *string
	ProductType   string
	ProductName   string
	PhysicalName  string
	ValidityStart *time.Time
	ValidityStop  *time.Time
	CreationDate  *time.Time
	Footprint     geometry.Geometry
	RemoteURL     *string
}

// Product is one archived artifact: its typed core record plus any
// extension namespace records.
type Product struct {
	Core       Core
	Extensions Properties
}

// Record converts the core fields into a dynamic record; unset optional
// fields are omitted.
func (c *Core) Record() Record {
	record := Record{
		"uuid":          c.UUID,
		"active":        c.Active,
		"metadata_date": c.MetadataDate,
		"product_type":  c.ProductType,
		"product_name":  c.ProductName,
		"physical_name": c.PhysicalName,
	}
	setText := func(name string, value *string) {
		if value != nil {
			record[name] = *value
		}
	}
	setTime := func(name string, value *time.Time) {
		if value != nil {
			record[name] = *value
		}
	}
	setText("hash", c.Hash)
	setText("archive_path", c.ArchivePath)
	setText("remote_url", c.RemoteURL)
	if c.Size != nil {
		record["size"] = *c.Size
	}
	setTime("archive_date", c.ArchiveDate)
	setTime("validity_start", c.ValidityStart)
	setTime("validity_stop", c.ValidityStop)
	setTime("creation_date", c.CreationDate)
	if c.Footprint != nil {
		record["footprint"] = c.Footprint
	}
	return record
}

// CoreFromRecord converts a dynamic core record back into the typed
// view. The record is expected to have been validated.
func CoreFromRecord(record Record) (Core, error) {
	var core Core
	var err error
	get := func(name string, assign func(any) bool) {
		if err != nil {
			return
		}
		value, ok := record[name]
		if !ok {
			return
		}
		if !assign(value) {
			err = ErrSchema.New("core.%s: unexpected value type %T", name, value)
		}
	}
	get("uuid", func(v any) bool { id, ok := v.(uuid.UUID); core.UUID = id; return ok })
	get("active", func(v any) bool { b, ok := v.(bool); core.Active = b; return ok })
	get("metadata_date", func(v any) bool { t, ok := v.(time.Time); core.MetadataDate = t; return ok })
	get("product_type", func(v any) bool { s, ok := v.(string); core.ProductType = s; return ok })
	get("product_name", func(v any) bool { s, ok := v.(string); core.ProductName = s; return ok })
	get("physical_name", func(v any) bool { s, ok := v.(string); core.PhysicalName = s; return ok })
	get("hash", func(v any) bool { s, ok := v.(string); core.Hash = &s; return ok })
	get("size", func(v any) bool { n, ok := v.(int64); core.Size = &n; return ok })
	get("archive_date", func(v any) bool { t, ok := v.(time.Time); core.ArchiveDate = &t; return ok })
	get("archive_path", func(v any) bool { s, ok := v.(string); core.ArchivePath = &s; return ok })
	get("validity_start", func(v any) bool { t, ok := v.(time.Time); core.ValidityStart = &t; return ok })
	get("validity_stop", func(v any) bool { t, ok := v.(time.Time); core.ValidityStop = &t; return ok })
	get("creation_date", func(v any) bool { t, ok := v.(time.Time); core.CreationDate = &t; return ok })
	get("footprint", func(v any) bool { g, ok := v.(geometry.Geometry); core.Footprint = g; return ok })
	get("remote_url", func(v any) bool { s, ok := v.(string); core.RemoteURL = &s; return ok })
	return core, err
}
