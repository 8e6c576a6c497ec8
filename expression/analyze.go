// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression

import (
	"regexp"
	"strings"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/schema"
)

// Analyze returns an annotated copy of the tree: every node carries its
// resolved type, parameter references are substituted from parameters,
// bare names resolve to the core namespace, and function calls carry
// their unique prototype.
func Analyze(root Node, namespaces schema.Namespaces, parameters map[string]any) (Node, error) {
	return analyze(root, namespaces, parameters, false)
}

// AnalyzeHaving analyzes a summary filter: names resolve as summary
// identifiers (aggregate subscripts, "count", "tag") instead of plain
// columns.
func AnalyzeHaving(root Node, namespaces schema.Namespaces, parameters map[string]any) (Node, error) {
	return analyze(root, namespaces, parameters, true)
}

// ParseAndAnalyze combines Parse and Analyze.
func ParseAndAnalyze(text string, namespaces schema.Namespaces, parameters map[string]any) (Node, error) {
	root, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Analyze(root, namespaces, parameters)
}

func analyze(root Node, namespaces schema.Namespaces, parameters map[string]any, having bool) (Node, error) {
	annotated := root.clone()
	a := &analyzer{table: DefaultFunctionTable(), namespaces: namespaces, parameters: parameters, having: having}
	if err := a.visit(annotated); err != nil {
		return nil, err
	}
	return annotated, nil
}

type analyzer struct {
	table      *FunctionTable
	namespaces schema.Namespaces
	parameters map[string]any
	having     bool
}

func (a *analyzer) visit(node Node) error {
	switch n := node.(type) {
	case *Literal:
		valueType, err := LiteralType(n.Value)
		if err != nil {
			return err
		}
		n.Type = valueType
		return nil
	case *Name:
		return a.visitName(n)
	case *List:
		return a.visitList(n)
	case *ParameterReference:
		value, ok := a.parameters[n.Name]
		if !ok {
			return Error.New("no value for parameter: %q", n.Name)
		}
		valueType, err := LiteralType(value)
		if err != nil {
			return err
		}
		n.Value, n.Type = value, valueType
		return nil
	case *FunctionCall:
		argumentTypes := make([]Type, len(n.Arguments))
		for i, argument := range n.Arguments {
			if err := a.visit(argument); err != nil {
				return err
			}
			argumentTypes[i] = argument.ResultType()
		}
		prototype, err := a.table.resolveUnique(n.Name, argumentTypes)
		if err != nil {
			return err
		}
		n.Prototype = &prototype
		n.Type = prototype.ReturnType
		return nil
	}
	return muninn.ErrInternal.New("unsupported abstract syntax tree node type: %T", node)
}

func (a *analyzer) visitName(n *Name) error {
	if a.having {
		ident, err := ResolveIdentifier(n.Value, a.namespaces)
		if err != nil {
			return err
		}
		n.Ident = ident
		n.Type = ident.Type
		return nil
	}

	parts := strings.Split(n.Value, ".")
	var namespace, name string
	switch len(parts) {
	case 1:
		if _, ok := a.namespaces[parts[0]]; ok {
			namespace = parts[0]
		} else {
			namespace, name = "core", parts[0]
		}
	case 2:
		namespace, name = parts[0], parts[1]
	default:
		return Error.New("invalid property name: %q", n.Value)
	}

	ns, ok := a.namespaces[namespace]
	if !ok {
		return Error.New("undefined namespace: %q", namespace)
	}

	if name == "" {
		n.Value = namespace
		n.Type = TypeNamespace
		return nil
	}

	field := ns.Field(name)
	if field == nil {
		if len(parts) == 2 {
			return Error.New("undefined property: %q", n.Value)
		}
		return Error.New("undefined name: %q", name)
	}
	n.Value = namespace + "." + name
	n.Type = TypeOfKind(field.Kind)
	return nil
}

func (a *analyzer) visitList(n *List) error {
	values := make([]any, 0, len(n.Nodes))
	for _, node := range n.Nodes {
		literal, ok := node.(*Literal)
		if !ok {
			return Error.New("list contains non-literal")
		}
		values = append(values, literal.Value)
	}
	n.Values = values
	n.Type = TypeSequence
	return nil
}

var identifierPattern = regexp.MustCompile(`^\w+\.[\w.]+`)

// Identifier is a resolved summary identifier: a possibly subscripted
// property reference, or one of the specials "count" and "tag".
type Identifier struct {
	Canonical string
	// Namespace is empty for "count".
	Namespace string
	Property  string
	Subscript string
	// Type is TypeUnknown for the synthetic core.validity_duration.
	Type Type
}

// ResolveIdentifier resolves a summary identifier against the known
// namespaces. Subscripts are not validated here; the allowed set
// depends on whether the identifier is grouped or aggregated.
func ResolveIdentifier(canonical string, namespaces schema.Namespaces) (*Identifier, error) {
	switch canonical {
	case "tag":
		// The namespace table naming rules also apply to "tag".
		return &Identifier{Canonical: canonical, Namespace: "tag", Property: "tag", Type: TypeText}, nil
	case "count":
		return &Identifier{Canonical: canonical, Property: "count", Type: TypeLong}, nil
	}

	if !identifierPattern.MatchString(canonical) {
		return nil, Error.New("cannot resolve identifier: %q", canonical)
	}

	ident := &Identifier{Canonical: canonical}
	segments := strings.Split(canonical, ".")
	switch len(segments) {
	case 2:
		if _, ok := namespaces[segments[0]]; ok {
			ident.Namespace, ident.Property = segments[0], segments[1]
		} else {
			ident.Namespace = "core"
			ident.Property, ident.Subscript = segments[0], segments[1]
		}
	case 3:
		ident.Namespace, ident.Property, ident.Subscript = segments[0], segments[1], segments[2]
	default:
		return nil, Error.New("cannot resolve identifier: %q", canonical)
	}

	ns, ok := namespaces[ident.Namespace]
	if !ok {
		return nil, Error.New("undefined namespace: %q", ident.Namespace)
	}

	field := ns.Field(ident.Property)
	if field == nil {
		if ident.PropertyName() != "core.validity_duration" {
			return nil, Error.New("no property %q defined within namespace %q", ident.Property, ident.Namespace)
		}
		ident.Type = TypeUnknown
		return ident, nil
	}
	ident.Type = TypeOfKind(field.Kind)
	return ident, nil
}

// PropertyName returns "namespace.property".
func (i *Identifier) PropertyName() string {
	return i.Namespace + "." + i.Property
}

// Resolve returns the canonical result-column name: the property name
// with its subscript, or the special identifier itself.
func (i *Identifier) Resolve() string {
	switch i.Canonical {
	case "count", "tag":
		return i.Canonical
	}
	if i.Subscript == "" {
		return i.PropertyName()
	}
	return i.PropertyName() + "." + i.Subscript
}
