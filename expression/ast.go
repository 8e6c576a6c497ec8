// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression

import (
	"fmt"
	"strings"
)

// Node is an abstract syntax tree node. The Type field of a node is
// TypeUnknown until the tree has been analyzed.
type Node interface {
	// ResultType returns the resolved type.
	ResultType() Type
	fmt.Stringer

	clone() Node
}

// Literal is a constant value: text, timestamp, uuid, real, integer,
// boolean, or a geometry literal.
type Literal struct {
	Value any
	Type  Type
}

// ResultType implements Node.
func (n *Literal) ResultType() Type { return n.Type }

// String implements fmt.Stringer.
func (n *Literal) String() string { return fmt.Sprintf("(Literal %v)", n.Value) }

func (n *Literal) clone() Node { c := *n; return &c }

// Name is a possibly qualified property reference. After analysis,
// Value holds the canonical "namespace.property" form and, in HAVING
// context, Ident carries the full identifier resolution.
type Name struct {
	Value string
	Ident *Identifier
	Type  Type
}

// ResultType implements Node.
func (n *Name) ResultType() Type { return n.Type }

// String implements fmt.Stringer.
func (n *Name) String() string { return fmt.Sprintf("(Name %s)", n.Value) }

func (n *Name) clone() Node { c := *n; return &c }

// List is a literal list. After analysis Values holds the unwrapped
// literal values.
type List struct {
	Nodes  []Node
	Values []any
	Type   Type
}

// ResultType implements Node.
func (n *List) ResultType() Type { return n.Type }

// String implements fmt.Stringer.
func (n *List) String() string {
	parts := make([]string, len(n.Nodes))
	for i, node := range n.Nodes {
		parts[i] = node.String()
	}
	return fmt.Sprintf("(List %s)", strings.Join(parts, " "))
}

func (n *List) clone() Node {
	c := &List{Nodes: make([]Node, len(n.Nodes)), Values: append([]any(nil), n.Values...), Type: n.Type}
	for i, node := range n.Nodes {
		c.Nodes[i] = node.clone()
	}
	return c
}

// ParameterReference is an "@name" reference; analysis substitutes the
// caller-supplied value.
type ParameterReference struct {
	Name  string
	Value any
	Type  Type
}

// ResultType implements Node.
func (n *ParameterReference) ResultType() Type { return n.Type }

// String implements fmt.Stringer.
func (n *ParameterReference) String() string { return fmt.Sprintf("(ParameterReference %s)", n.Name) }

func (n *ParameterReference) clone() Node { c := *n; return &c }

// FunctionCall is an operator application or a named function call.
// Analysis fills in the resolved Prototype.
type FunctionCall struct {
	Name      string
	Arguments []Node
	Prototype *Prototype
	Type      Type
}

// ResultType implements Node.
func (n *FunctionCall) ResultType() Type { return n.Type }

// String implements fmt.Stringer.
func (n *FunctionCall) String() string {
	if len(n.Arguments) == 0 {
		return fmt.Sprintf("(FunctionCall %s)", n.Name)
	}
	parts := make([]string, len(n.Arguments))
	for i, argument := range n.Arguments {
		parts[i] = argument.String()
	}
	return fmt.Sprintf("(FunctionCall %s %s)", n.Name, strings.Join(parts, " "))
}

func (n *FunctionCall) clone() Node {
	c := &FunctionCall{Name: n.Name, Arguments: make([]Node, len(n.Arguments)), Type: n.Type}
	if n.Prototype != nil {
		prototype := *n.Prototype
		c.Prototype = &prototype
	}
	for i, argument := range n.Arguments {
		c.Arguments[i] = argument.clone()
	}
	return c
}
