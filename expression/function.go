// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression

import (
	"strings"

	muninn "muninn.io/muninn"
)

// Prototype identifies one overload of an operator or function.
type Prototype struct {
	Name          string
	ArgumentTypes []Type
	ReturnType    Type
}

// NewPrototype is a convenience constructor.
func NewPrototype(name string, returnType Type, argumentTypes ...Type) Prototype {
	return Prototype{Name: name, ArgumentTypes: argumentTypes, ReturnType: returnType}
}

// ID returns the canonical "name(arg,arg) return" form, used as a map
// key by the SQL rewriter tables.
func (p Prototype) ID() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte('(')
	for i, t := range p.ArgumentTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
	if p.ReturnType != TypeUnknown {
		b.WriteByte(' ')
		b.WriteString(p.ReturnType.String())
	}
	return b.String()
}

// String implements fmt.Stringer.
func (p Prototype) String() string { return p.ID() }

// FunctionTable holds the known prototypes per function name, plus a
// type compatibility map consulted during overload resolution.
type FunctionTable struct {
	prototypes map[string][]Prototype
	typeMap    map[Type]Type
}

// NewFunctionTable builds an empty table with the given compatibility
// map.
func NewFunctionTable(typeMap map[Type]Type) *FunctionTable {
	return &FunctionTable{prototypes: map[string][]Prototype{}, typeMap: typeMap}
}

// Add registers a prototype.
func (t *FunctionTable) Add(p Prototype) {
	t.prototypes[p.Name] = append(t.prototypes[p.Name], p)
}

// Resolve returns the prototypes closest to the requested argument
// types: candidates whose every argument is equal or compatible, ranked
// by the number of equal arguments. More than one result means the call
// is ambiguous.
func (t *FunctionTable) Resolve(name string, argumentTypes []Type) []Prototype {
	var top []Prototype
	topEqual := 0
	for _, candidate := range t.prototypes[name] {
		if len(candidate.ArgumentTypes) != len(argumentTypes) {
			continue
		}
		equal, compatible := 0, 0
		matched := true
		for i, argType := range argumentTypes {
			candidateType := candidate.ArgumentTypes[i]
			switch {
			case argType == candidateType:
				equal++
			case t.typeMap[argType] == candidateType:
				compatible++
			default:
				matched = false
			}
			if !matched {
				break
			}
		}
		if !matched || equal+compatible != len(argumentTypes) {
			continue
		}
		if equal > topEqual {
			top = []Prototype{candidate}
			topEqual = equal
		} else if equal == topEqual {
			top = append(top, candidate)
		}
	}
	return top
}

// resolveUnique resolves to exactly one prototype or fails.
func (t *FunctionTable) resolveUnique(name string, argumentTypes []Type) (Prototype, error) {
	requested := Prototype{Name: name, ArgumentTypes: argumentTypes}
	prototypes := t.Resolve(name, argumentTypes)
	if len(prototypes) == 0 {
		return Prototype{}, Error.New("undefined function: %q", requested.ID())
	}
	if len(prototypes) > 1 {
		return Prototype{}, muninn.ErrInternal.New("cannot uniquely resolve function: %q", requested.ID())
	}
	return prototypes[0], nil
}

// DefaultFunctionTable returns the table of all supported operators and
// functions. A UUID argument is compatible where a boolean is expected
// so that a bare product UUID can stand in for a lineage
// sub-expression.
func DefaultFunctionTable() *FunctionTable {
	table := NewFunctionTable(map[Type]Type{TypeUUID: TypeBoolean})

	table.Add(NewPrototype("not", TypeBoolean, TypeBoolean))
	table.Add(NewPrototype("and", TypeBoolean, TypeBoolean, TypeBoolean))
	table.Add(NewPrototype("or", TypeBoolean, TypeBoolean, TypeBoolean))

	for _, t := range []Type{TypeInteger, TypeLong, TypeReal, TypeText} {
		table.Add(NewPrototype("in", TypeBoolean, t, TypeSequence))
		table.Add(NewPrototype("not in", TypeBoolean, t, TypeSequence))
	}

	// Every numeric pair combination, with the widest operand deciding
	// the arithmetic result type.
	type pair struct{ a, b, result Type }
	numeric := []pair{
		{TypeLong, TypeLong, TypeLong},
		{TypeLong, TypeInteger, TypeLong},
		{TypeInteger, TypeLong, TypeLong},
		{TypeInteger, TypeInteger, TypeInteger},
		{TypeReal, TypeReal, TypeReal},
		{TypeReal, TypeLong, TypeReal},
		{TypeLong, TypeReal, TypeReal},
		{TypeReal, TypeInteger, TypeReal},
		{TypeInteger, TypeReal, TypeReal},
	}

	for _, name := range []string{"==", "!="} {
		for _, p := range numeric {
			table.Add(NewPrototype(name, TypeBoolean, p.a, p.b))
		}
		table.Add(NewPrototype(name, TypeBoolean, TypeBoolean, TypeBoolean))
		table.Add(NewPrototype(name, TypeBoolean, TypeText, TypeText))
		table.Add(NewPrototype(name, TypeBoolean, TypeTimestamp, TypeTimestamp))
		table.Add(NewPrototype(name, TypeBoolean, TypeUUID, TypeUUID))
	}

	for _, name := range []string{"<", ">", "<=", ">="} {
		for _, p := range numeric {
			table.Add(NewPrototype(name, TypeBoolean, p.a, p.b))
		}
		table.Add(NewPrototype(name, TypeBoolean, TypeText, TypeText))
		table.Add(NewPrototype(name, TypeBoolean, TypeTimestamp, TypeTimestamp))
	}

	table.Add(NewPrototype("~=", TypeBoolean, TypeText, TypeText))

	for _, t := range []Type{TypeLong, TypeInteger, TypeReal} {
		table.Add(NewPrototype("+", t, t))
		table.Add(NewPrototype("-", t, t))
	}
	for _, name := range []string{"+", "-", "*", "/"} {
		for _, p := range numeric {
			table.Add(NewPrototype(name, p.result, p.a, p.b))
		}
	}
	table.Add(NewPrototype("-", TypeReal, TypeTimestamp, TypeTimestamp))

	table.Add(NewPrototype("covers", TypeBoolean, TypeGeometry, TypeGeometry))
	table.Add(NewPrototype("covers", TypeBoolean, TypeTimestamp, TypeTimestamp, TypeTimestamp, TypeTimestamp))
	table.Add(NewPrototype("distance", TypeReal, TypeGeometry, TypeGeometry))
	table.Add(NewPrototype("intersects", TypeBoolean, TypeGeometry, TypeGeometry))
	table.Add(NewPrototype("intersects", TypeBoolean, TypeTimestamp, TypeTimestamp, TypeTimestamp, TypeTimestamp))

	for _, t := range []Type{TypeLong, TypeInteger, TypeReal, TypeBoolean, TypeText, TypeNamespace, TypeTimestamp, TypeUUID, TypeGeometry} {
		table.Add(NewPrototype("is_defined", TypeBoolean, t))
	}

	table.Add(NewPrototype("is_source_of", TypeBoolean, TypeUUID))
	table.Add(NewPrototype("is_source_of", TypeBoolean, TypeBoolean))
	table.Add(NewPrototype("is_derived_from", TypeBoolean, TypeUUID))
	table.Add(NewPrototype("is_derived_from", TypeBoolean, TypeBoolean))
	table.Add(NewPrototype("has_tag", TypeBoolean, TypeText))
	table.Add(NewPrototype("now", TypeTimestamp))

	return table
}
