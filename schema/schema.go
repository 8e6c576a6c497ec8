// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package schema defines the typed metadata model: field kinds,
// namespace definitions, and the dynamic record container that carries
// product properties.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"muninn.io/muninn/geometry"
)

// ErrSchema means a value does not validate against a namespace
// definition.
var ErrSchema = errs.Class("schema")

// Kind enumerates the field value types.
type Kind int

const (
	Unknown Kind = iota
	Boolean
	Integer
	Long
	Real
	Text
	Timestamp
	UUID
	Geometry
	JSON
)

// String returns the lower-case name used in definitions and messages.
func (k Kind) String() string {
	switch k {
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case Long:
		return "long"
	case Real:
		return "real"
	case Text:
		return "text"
	case Timestamp:
		return "timestamp"
	case UUID:
		return "uuid"
	case Geometry:
		return "geometry"
	case JSON:
		return "json"
	}
	return "unknown"
}

// KindOf returns the kind named by a definition string.
func KindOf(name string) Kind {
	for _, k := range []Kind{Boolean, Integer, Long, Real, Text, Timestamp, UUID, Geometry, JSON} {
		if k.String() == name {
			return k
		}
	}
	return Unknown
}

// Field describes one namespace field.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool
	Index    bool
	// Validate optionally restricts values beyond the kind check.
	Validate func(value any) error
}

// Namespace is a named, ordered set of typed fields.
type Namespace struct {
	Name   string
	Fields []Field

	byName map[string]*Field
}

// NewNamespace builds a namespace definition. Field names must be
// unique.
func NewNamespace(name string, fields ...Field) (*Namespace, error) {
	ns := &Namespace{Name: name, Fields: fields, byName: make(map[string]*Field, len(fields))}
	for i := range ns.Fields {
		field := &ns.Fields[i]
		if _, ok := ns.byName[field.Name]; ok {
			return nil, ErrSchema.New("duplicate field %q in namespace %q", field.Name, name)
		}
		ns.byName[field.Name] = field
	}
	return ns, nil
}

// MustNamespace is NewNamespace for statically known definitions.
func MustNamespace(name string, fields ...Field) *Namespace {
	ns, err := NewNamespace(name, fields...)
	if err != nil {
		panic(err)
	}
	return ns
}

// Field returns the named field definition, or nil.
func (ns *Namespace) Field(name string) *Field {
	return ns.byName[name]
}

// HasField reports whether the namespace defines the named field.
func (ns *Namespace) HasField(name string) bool {
	_, ok := ns.byName[name]
	return ok
}

// Validate checks a record against the namespace. When partial is true,
// missing mandatory fields are allowed; unknown fields and type
// mismatches never are.
func (ns *Namespace) Validate(record Record, partial bool) error {
	for name := range record {
		if !ns.HasField(name) {
			return ErrSchema.New("%s: unknown field %q", ns.Name, name)
		}
	}
	for i := range ns.Fields {
		field := &ns.Fields[i]
		value, ok := record[field.Name]
		if !ok || value == nil {
			// A nil value marks the field as unset, which clears the
			// column on a partial update.
			if field.Optional || partial {
				continue
			}
			return ErrSchema.New("%s: missing mandatory field %q", ns.Name, field.Name)
		}
		if err := field.validateValue(value); err != nil {
			return ErrSchema.New("%s.%s: %v", ns.Name, field.Name, err)
		}
	}
	return nil
}

func (f *Field) validateValue(value any) error {
	if err := ValidateKind(f.Kind, value); err != nil {
		return err
	}
	if f.Validate != nil {
		return f.Validate(value)
	}
	return nil
}

// ValidateKind checks that value has the Go representation of kind.
func ValidateKind(kind Kind, value any) error {
	switch kind {
	case Boolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case Integer:
		if v, ok := value.(int64); ok {
			if v < -2147483648 || v > 2147483647 {
				return fmt.Errorf("invalid value %v for type %q", value, kind)
			}
			return nil
		}
	case Long:
		if _, ok := value.(int64); ok {
			return nil
		}
	case Real:
		if _, ok := value.(float64); ok {
			return nil
		}
	case Text:
		if _, ok := value.(string); ok {
			return nil
		}
	case Timestamp:
		if _, ok := value.(time.Time); ok {
			return nil
		}
	case UUID:
		if _, ok := value.(uuid.UUID); ok {
			return nil
		}
	case Geometry:
		if _, ok := value.(geometry.Geometry); ok {
			return nil
		}
	case JSON:
		if _, err := json.Marshal(value); err != nil {
			return fmt.Errorf("invalid value for type %q: %v", kind, err)
		}
		return nil
	}
	return fmt.Errorf("invalid value %v (%T) for type %q", value, value, kind)
}
