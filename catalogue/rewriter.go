// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package catalogue

import (
	"muninn.io/muninn/expression"
)

// Rewriter renders one resolved function call as an SQL fragment. The
// arguments are already rendered SQL expressions.
type Rewriter func(args ...string) string

// SubqueryRewriter renders a lineage function whose argument is a
// filter expression instead of a product UUID. It receives the rendered
// filter and the non-core namespaces the filter references.
type SubqueryRewriter func(where string, namespaces []string) string

// RewriterTable maps function prototypes to their SQL renderings. The
// table returned by DefaultRewriterTable covers everything expressible
// in portable SQL; database backends add their own entries for the
// rest.
type RewriterTable struct {
	rewriters  map[string]Rewriter
	subqueries map[string]SubqueryRewriter
}

// Set registers the rewriter for a prototype.
func (t *RewriterTable) Set(p expression.Prototype, r Rewriter) {
	t.rewriters[p.ID()] = r
}

// SetSubquery registers the subquery rewriter for a prototype.
func (t *RewriterTable) SetSubquery(p expression.Prototype, r SubqueryRewriter) {
	t.subqueries[p.ID()] = r
}

func (t *RewriterTable) rewriter(p expression.Prototype) (Rewriter, bool) {
	r, ok := t.rewriters[p.ID()]
	return r, ok
}

func (t *RewriterTable) subquery(p expression.Prototype) (SubqueryRewriter, bool) {
	r, ok := t.subqueries[p.ID()]
	return r, ok
}

// AsIs returns a rewriter that ignores its arguments and emits a fixed
// fragment.
func AsIs(sql string) Rewriter {
	return func(...string) string { return sql }
}

// UnaryOperator renders "OP (arg)".
func UnaryOperator(operator string) Rewriter {
	return func(args ...string) string { return operator + " (" + args[0] + ")" }
}

// BinaryOperator renders "(lhs) OP (rhs)".
func BinaryOperator(operator string) Rewriter {
	return func(args ...string) string { return "(" + args[0] + ") " + operator + " (" + args[1] + ")" }
}

// MembershipOperator renders "(lhs) OP rhs"; the right hand side is an
// already parenthesized value list.
func MembershipOperator(operator string) Rewriter {
	return func(args ...string) string { return "(" + args[0] + ") " + operator + " " + args[1] }
}

// BinaryFunction renders "NAME(lhs, rhs)".
func BinaryFunction(name string) Rewriter {
	return func(args ...string) string { return name + "(" + args[0] + ", " + args[1] + ")" }
}

// DefaultRewriterTable builds the table of operators and functions that
// rewrite to portable SQL. This is a subset of the full function table;
// backends register the database specific remainder (geometry
// predicates, lineage and tag lookups, timestamp arithmetic, now()).
func DefaultRewriterTable() *RewriterTable {
	table := &RewriterTable{
		rewriters:  map[string]Rewriter{},
		subqueries: map[string]SubqueryRewriter{},
	}

	table.Set(expression.NewPrototype("not", expression.TypeBoolean, expression.TypeBoolean), UnaryOperator("NOT"))
	table.Set(expression.NewPrototype("and", expression.TypeBoolean, expression.TypeBoolean, expression.TypeBoolean), BinaryOperator("AND"))
	table.Set(expression.NewPrototype("or", expression.TypeBoolean, expression.TypeBoolean, expression.TypeBoolean), BinaryOperator("OR"))

	for _, t := range []expression.Type{expression.TypeInteger, expression.TypeLong, expression.TypeReal, expression.TypeText} {
		table.Set(expression.NewPrototype("in", expression.TypeBoolean, t, expression.TypeSequence), MembershipOperator("in"))
		table.Set(expression.NewPrototype("not in", expression.TypeBoolean, t, expression.TypeSequence), MembershipOperator("not in"))
	}

	type pair struct{ a, b, result expression.Type }
	numeric := []pair{
		{expression.TypeLong, expression.TypeLong, expression.TypeLong},
		{expression.TypeLong, expression.TypeInteger, expression.TypeLong},
		{expression.TypeInteger, expression.TypeLong, expression.TypeLong},
		{expression.TypeInteger, expression.TypeInteger, expression.TypeInteger},
		{expression.TypeReal, expression.TypeReal, expression.TypeReal},
		{expression.TypeReal, expression.TypeLong, expression.TypeReal},
		{expression.TypeLong, expression.TypeReal, expression.TypeReal},
		{expression.TypeReal, expression.TypeInteger, expression.TypeReal},
		{expression.TypeInteger, expression.TypeReal, expression.TypeReal},
	}

	comparisons := map[string]string{"==": "=", "!=": "!=", "<": "<", ">": ">", "<=": "<=", ">=": ">="}
	for name, operator := range comparisons {
		rewriter := BinaryOperator(operator)
		for _, p := range numeric {
			table.Set(expression.NewPrototype(name, expression.TypeBoolean, p.a, p.b), rewriter)
		}
		table.Set(expression.NewPrototype(name, expression.TypeBoolean, expression.TypeText, expression.TypeText), rewriter)
		table.Set(expression.NewPrototype(name, expression.TypeBoolean, expression.TypeTimestamp, expression.TypeTimestamp), rewriter)
		if name == "==" || name == "!=" {
			table.Set(expression.NewPrototype(name, expression.TypeBoolean, expression.TypeBoolean, expression.TypeBoolean), rewriter)
			table.Set(expression.NewPrototype(name, expression.TypeBoolean, expression.TypeUUID, expression.TypeUUID), rewriter)
		}
	}

	table.Set(expression.NewPrototype("~=", expression.TypeBoolean, expression.TypeText, expression.TypeText), BinaryOperator("LIKE"))

	for _, t := range []expression.Type{expression.TypeLong, expression.TypeInteger, expression.TypeReal} {
		table.Set(expression.NewPrototype("+", t, t), UnaryOperator("+"))
		table.Set(expression.NewPrototype("-", t, t), UnaryOperator("-"))
	}
	for _, name := range []string{"+", "-", "*", "/"} {
		rewriter := BinaryOperator(name)
		for _, p := range numeric {
			table.Set(expression.NewPrototype(name, p.result, p.a, p.b), rewriter)
		}
	}

	// Temporal covers and intersects: both intervals are [left, right]
	// pairs with left <= right enforced by the first two comparisons.
	table.Set(expression.NewPrototype("covers", expression.TypeBoolean,
		expression.TypeTimestamp, expression.TypeTimestamp, expression.TypeTimestamp, expression.TypeTimestamp),
		func(args ...string) string {
			left0, right0, left1, right1 := args[0], args[1], args[2], args[3]
			return "(" + right0 + ") >= (" + left0 + ") AND (" + right1 + ") >= (" + left1 + ") AND (" +
				left1 + ") >= (" + left0 + ") AND (" + right1 + ") <= (" + right0 + ")"
		})
	table.Set(expression.NewPrototype("intersects", expression.TypeBoolean,
		expression.TypeTimestamp, expression.TypeTimestamp, expression.TypeTimestamp, expression.TypeTimestamp),
		func(args ...string) string {
			left0, right0, left1, right1 := args[0], args[1], args[2], args[3]
			return "(" + right0 + ") >= (" + left0 + ") AND (" + right1 + ") >= (" + left1 + ") AND (" +
				right0 + ") >= (" + left1 + ") AND (" + left0 + ") <= (" + right1 + ")"
		})

	return table
}
