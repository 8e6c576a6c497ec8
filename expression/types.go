// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package expression implements the product query language: a token
// scanner, a recursive-descent parser, and a semantic analyzer that
// annotates the syntax tree with resolved types and function
// prototypes.
package expression

import (
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"muninn.io/muninn/geometry"
	"muninn.io/muninn/schema"
)

// Error is the default expression error class; it covers syntax and
// semantic errors, which are caller mistakes.
var Error = errs.Class("expression")

// Type is the resolved type of an expression node. It extends the
// schema kinds with the namespace and sequence pseudo-types used during
// overload resolution.
type Type int

const (
	TypeUnknown Type = iota
	TypeBoolean
	TypeInteger
	TypeLong
	TypeReal
	TypeText
	TypeTimestamp
	TypeUUID
	TypeGeometry
	TypeJSON
	TypeNamespace
	TypeSequence
)

// String returns the lower-case type name.
func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeReal:
		return "real"
	case TypeText:
		return "text"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeGeometry:
		return "geometry"
	case TypeJSON:
		return "json"
	case TypeNamespace:
		return "namespace"
	case TypeSequence:
		return "sequence"
	}
	return "unknown"
}

// TypeOfKind maps a schema field kind onto an expression type.
func TypeOfKind(kind schema.Kind) Type {
	switch kind {
	case schema.Boolean:
		return TypeBoolean
	case schema.Integer:
		return TypeInteger
	case schema.Long:
		return TypeLong
	case schema.Real:
		return TypeReal
	case schema.Text:
		return TypeText
	case schema.Timestamp:
		return TypeTimestamp
	case schema.UUID:
		return TypeUUID
	case schema.Geometry:
		return TypeGeometry
	case schema.JSON:
		return TypeJSON
	}
	return TypeUnknown
}

// LiteralType determines the type of a literal value. Integers within
// the 32-bit range are integer, larger ones long.
func LiteralType(value any) (Type, error) {
	switch value := value.(type) {
	case bool:
		return TypeBoolean, nil
	case int64:
		if value >= -2147483648 && value <= 2147483647 {
			return TypeInteger, nil
		}
		return TypeLong, nil
	case float64:
		return TypeReal, nil
	case string:
		return TypeText, nil
	case time.Time:
		return TypeTimestamp, nil
	case uuid.UUID:
		return TypeUUID, nil
	case geometry.Geometry:
		return TypeGeometry, nil
	case []any:
		return TypeSequence, nil
	}
	return TypeUnknown, Error.New("unable to determine type of literal value: %v", value)
}
