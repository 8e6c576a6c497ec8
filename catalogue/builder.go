// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package catalogue

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	muninn "muninn.io/muninn"
	"muninn.io/muninn/expression"
	"muninn.io/muninn/schema"
)

// aggregateFunctions lists the allowed aggregate subscripts per
// property type. The TypeUnknown entry covers the synthetic
// core.validity_duration property.
var aggregateFunctions = map[expression.Type][]string{
	expression.TypeLong:      {"min", "max", "sum", "avg"},
	expression.TypeInteger:   {"min", "max", "sum", "avg"},
	expression.TypeReal:      {"min", "max", "sum", "avg"},
	expression.TypeText:      {"min", "max"},
	expression.TypeTimestamp: {"min", "max"},
	expression.TypeUnknown:   {"min", "max", "sum", "avg"},
}

// groupByFunctions lists the allowed group-by subscripts per property
// type; the empty subscript means grouping on the raw value.
var groupByFunctions = map[expression.Type][]string{
	expression.TypeLong:      {""},
	expression.TypeInteger:   {""},
	expression.TypeBoolean:   {""},
	expression.TypeText:      {"", "length"},
	expression.TypeTimestamp: {"year", "month", "yearmonth", "date", "day", "hour", "minute", "second", "time"},
}

// Builder renders filter expressions and catalogue operations into SQL
// for one database dialect. Backends fill in the dialect hooks: table
// naming, placeholder style, value encoding, and the rewriter table.
type Builder struct {
	Namespaces schema.Namespaces

	// TypeMap maps field kinds to column type names.
	TypeMap map[schema.Kind]string

	Rewriters *RewriterTable

	// TableName maps a namespace name to its table name, applying any
	// configured prefix.
	TableName func(namespace string) string

	// Placeholder renders the zero-based parameter placeholder.
	Placeholder func(index int) string

	// EncodeValue converts a literal value to its driver
	// representation.
	EncodeValue func(value any) (any, error)

	// SubscriptColumn renders a subscripted column: timestamp parts and
	// text length.
	SubscriptColumn func(column, subscript string) (string, error)
}

// NamespaceFields describes one namespace projection of a search query
// result row.
type NamespaceFields struct {
	Namespace string
	Fields    []string
}

func (b *Builder) namespaceSchema(namespace string) (*schema.Namespace, error) {
	ns, ok := b.Namespaces[namespace]
	if !ok {
		return nil, Error.New("undefined namespace: %q", namespace)
	}
	return ns, nil
}

func (b *Builder) columnName(namespace, identifier string) string {
	return b.TableName(namespace) + "." + identifier
}

func (b *Builder) columnType(kind schema.Kind) (string, error) {
	name, ok := b.TypeMap[kind]
	if !ok {
		return "", Error.New("type not supported by backend: %q", kind)
	}
	return name, nil
}

// BuildCreateTableQuery renders the CREATE TABLE statement for one
// namespace. Geometry columns, keys, and indexes are added by the
// backend.
func (b *Builder) BuildCreateTableQuery(namespace string) (string, error) {
	ns, err := b.namespaceSchema(namespace)
	if err != nil {
		return "", err
	}
	var columns []string
	for _, field := range ns.Fields {
		columnType, err := b.columnType(field.Kind)
		if err != nil {
			return "", err
		}
		column := field.Name + " " + columnType
		if !field.Optional {
			column += " NOT NULL"
		}
		columns = append(columns, column)
	}
	return "CREATE TABLE " + b.TableName(namespace) + " (" + strings.Join(columns, ", ") + ");", nil
}

// BuildCountQuery renders "SELECT COUNT(*)" over the products matching
// the filter.
func (b *Builder) BuildCountQuery(where string, parameters map[string]any) (string, []any, error) {
	joinSet := map[string]struct{}{}

	whereClause := ""
	var args []any
	if where != "" {
		root, err := expression.ParseAndAnalyze(where, b.Namespaces, parameters)
		if err != nil {
			return "", nil, err
		}
		visitor := b.newWhereVisitor(nil)
		whereExpr, whereNamespaces, err := visitor.Visit(root)
		if err != nil {
			return "", nil, err
		}
		for _, namespace := range whereNamespaces {
			joinSet[namespace] = struct{}{}
		}
		whereClause = "WHERE " + whereExpr
		args = visitor.params
	}

	fromClause := "FROM " + b.TableName("core")
	delete(joinSet, "core")
	for _, namespace := range sortedKeys(joinSet) {
		fromClause += " LEFT JOIN " + b.TableName(namespace) + " USING (uuid)"
	}

	query := "SELECT COUNT(*) AS count " + fromClause
	if whereClause != "" {
		query += " " + whereClause
	}
	return query, args, nil
}

// SearchQuery describes a product search: an optional filter, result
// ordering, a result limit, and which namespaces or individual
// properties to project.
type SearchQuery struct {
	Where      string
	OrderBy    []string
	Limit      *int
	Parameters map[string]any
	// Namespaces selects full extension namespaces to return next to
	// the complete core namespace.
	Namespaces []string
	// PropertyNames, when set, replaces the projection with the named
	// properties only; the uuid of every touched namespace is always
	// included.
	PropertyNames []string
}

// BuildSearchQuery renders the SELECT over core with LEFT JOINs for
// every referenced extension namespace. It returns the query, its
// ordered parameters, and the per-namespace layout of each result row.
func (b *Builder) BuildSearchQuery(q SearchQuery) (string, []any, []NamespaceFields, error) {
	joinSet := map[string]struct{}{}
	var description []NamespaceFields

	if len(q.PropertyNames) > 0 {
		byNamespace := map[string]int{}
		for _, item := range q.PropertyNames {
			if !strings.Contains(item, ".") {
				item = "core." + item
			}
			ident, err := expression.ResolveIdentifier(item, b.Namespaces)
			if err != nil {
				return "", nil, nil, err
			}
			if ident.Subscript != "" {
				return "", nil, nil, Error.New("invalid property name: %q", item)
			}
			index, ok := byNamespace[ident.Namespace]
			if !ok {
				index = len(description)
				byNamespace[ident.Namespace] = index
				// The uuid column doubles as the namespace presence
				// marker.
				description = append(description, NamespaceFields{Namespace: ident.Namespace, Fields: []string{"uuid"}})
				joinSet[ident.Namespace] = struct{}{}
			}
			if ident.Property != "uuid" {
				description[index].Fields = append(description[index].Fields, ident.Property)
			}
		}
	} else {
		core, err := b.namespaceSchema("core")
		if err != nil {
			return "", nil, nil, err
		}
		description = append(description, NamespaceFields{Namespace: "core", Fields: fieldNames(core)})
		for _, namespace := range q.Namespaces {
			if _, ok := joinSet[namespace]; ok {
				continue
			}
			joinSet[namespace] = struct{}{}
			ns, err := b.namespaceSchema(namespace)
			if err != nil {
				return "", nil, nil, err
			}
			description = append(description, NamespaceFields{Namespace: namespace, Fields: append([]string{"uuid"}, fieldNames(ns)...)})
		}
	}

	whereClause := ""
	var args []any
	if q.Where != "" {
		root, err := expression.ParseAndAnalyze(q.Where, b.Namespaces, q.Parameters)
		if err != nil {
			return "", nil, nil, err
		}
		visitor := b.newWhereVisitor(nil)
		whereExpr, whereNamespaces, err := visitor.Visit(root)
		if err != nil {
			return "", nil, nil, err
		}
		for _, namespace := range whereNamespaces {
			joinSet[namespace] = struct{}{}
		}
		whereClause = "WHERE " + whereExpr
		args = visitor.params
	}

	orderByClause := ""
	if len(q.OrderBy) > 0 {
		orderByList, orderByNamespaces, err := b.buildOrderByList(q.OrderBy)
		if err != nil {
			return "", nil, nil, err
		}
		for _, namespace := range orderByNamespaces {
			joinSet[namespace] = struct{}{}
		}
		orderByClause = "ORDER BY " + strings.Join(orderByList, ", ")
	}

	limitClause := ""
	if q.Limit != nil {
		if *q.Limit < 0 {
			return "", nil, nil, Error.New("limit %d must be a positive integer", *q.Limit)
		}
		limitClause = "LIMIT " + strconv.Itoa(*q.Limit)
	}

	var selectList []string
	for _, projection := range description {
		for _, field := range projection.Fields {
			selectList = append(selectList, b.columnName(projection.Namespace, field))
		}
	}
	query := "SELECT " + strings.Join(selectList, ", ") + " FROM " + b.TableName("core")

	delete(joinSet, "core")
	for _, namespace := range sortedKeys(joinSet) {
		query += " LEFT JOIN " + b.TableName(namespace) + " USING (uuid)"
	}

	if whereClause != "" {
		query += " " + whereClause
	}
	if orderByClause != "" {
		query += " " + orderByClause
	}
	if limitClause != "" {
		query += " " + limitClause
	}
	return query, args, description, nil
}

// SummaryQuery describes an aggregation over the products matching a
// filter: grouping properties with optional subscripts, aggregated
// properties, an optional filter over the aggregated values, and result
// ordering.
type SummaryQuery struct {
	Where      string
	Parameters map[string]any
	Aggregates []string
	GroupBy    []string
	// GroupByTag additionally groups per product tag.
	GroupByTag bool
	Having     string
	OrderBy    []string
}

// BuildSummaryQuery renders the GROUP BY query. Grouped columns come
// first in each result row, then the row count, then the aggregates;
// the returned field names describe that layout.
func (b *Builder) BuildSummaryQuery(q SummaryQuery) (string, []any, []string, error) {
	groupBy := q.GroupBy
	if q.GroupByTag {
		groupBy = append(append([]string{}, groupBy...), "tag")
	}

	joinSet := map[string]struct{}{}
	var resultFields []string
	for _, field := range append(append(append([]string{}, groupBy...), "count"), q.Aggregates...) {
		ident, err := expression.ResolveIdentifier(field, b.Namespaces)
		if err != nil {
			return "", nil, nil, err
		}
		resultFields = append(resultFields, ident.Resolve())
		if ident.Namespace != "" {
			joinSet[ident.Namespace] = struct{}{}
		}
	}

	whereClause := ""
	var whereVis *whereVisitor
	var args []any
	if q.Where != "" {
		root, err := expression.ParseAndAnalyze(q.Where, b.Namespaces, q.Parameters)
		if err != nil {
			return "", nil, nil, err
		}
		whereVis = b.newWhereVisitor(nil)
		whereExpr, whereNamespaces, err := whereVis.Visit(root)
		if err != nil {
			return "", nil, nil, err
		}
		for _, namespace := range whereNamespaces {
			joinSet[namespace] = struct{}{}
		}
		whereClause = "WHERE " + whereExpr
	}

	groupByClause := ""
	if len(groupBy) > 0 {
		ordinals := make([]string, len(groupBy))
		for i := range groupBy {
			ordinals[i] = strconv.Itoa(i + 1)
		}
		groupByClause = "GROUP BY " + strings.Join(ordinals, ", ")
	}

	// The HAVING clause shares the parameter numbering with the WHERE
	// clause.
	havingClause := ""
	if q.Having != "" {
		root, err := expression.Parse(q.Having)
		if err != nil {
			return "", nil, nil, err
		}
		root, err = expression.AnalyzeHaving(root, b.Namespaces, q.Parameters)
		if err != nil {
			return "", nil, nil, err
		}
		visitor := b.newWhereVisitor(whereVis)
		havingExpr, _, err := visitor.Visit(root)
		if err != nil {
			return "", nil, nil, err
		}
		havingClause = "HAVING " + havingExpr
		if whereVis == nil {
			args = visitor.params
		}
	}
	if whereVis != nil {
		args = whereVis.params
	}

	orderByClause := ""
	var orderByList []string
	for _, item := range q.OrderBy {
		direction := "ASC"
		name := item
		if strings.HasPrefix(item, "-") {
			direction, name = "DESC", item[1:]
		} else if strings.HasPrefix(item, "+") {
			name = item[1:]
		}
		ident, err := expression.ResolveIdentifier(name, b.Namespaces)
		if err != nil {
			return "", nil, nil, err
		}
		resolved := ident.Resolve()
		if !contains(resultFields, resolved) {
			return "", nil, nil, Error.New("cannot order result by %q; field is not present in result", resolved)
		}
		orderByList = append(orderByList, `"`+resolved+`" `+direction)
	}
	for i := range groupBy {
		orderByList = append(orderByList, strconv.Itoa(i+1))
	}
	if len(orderByList) > 0 {
		orderByClause = "ORDER BY " + strings.Join(orderByList, ", ")
	}

	var selectList []string
	for _, item := range groupBy {
		ident, err := expression.ResolveIdentifier(item, b.Namespaces)
		if err != nil {
			return "", nil, nil, err
		}
		column := b.columnName(ident.Namespace, ident.Property)
		allowed, ok := groupByFunctions[ident.Type]
		if !ok || len(allowed) == 0 {
			if ident.Type != expression.TypeUnknown {
				return "", nil, nil, Error.New("property %q of type %q cannot be part of the group_by field specification",
					ident.PropertyName(), ident.Type)
			}
			return "", nil, nil, Error.New("property %q cannot be part of the group_by field specification", ident.PropertyName())
		}
		if !contains(allowed, ident.Subscript) {
			if ident.Subscript != "" {
				return "", nil, nil, Error.New("group field specification subscript %q of %q is not allowed; it can be one of %v",
					ident.Subscript, ident.Canonical, allowed)
			}
			return "", nil, nil, Error.New("property %q of type %q must specify a subscript (one of %v) to be part of the group_by field specification",
				ident.PropertyName(), ident.Type, allowed)
		}
		if ident.Subscript != "" {
			column, err = b.SubscriptColumn(column, ident.Subscript)
			if err != nil {
				return "", nil, nil, err
			}
		}
		selectList = append(selectList, column+` AS "`+ident.Resolve()+`"`)
	}

	selectList = append(selectList, "COUNT(*) AS count")
	for _, item := range q.Aggregates {
		ident, err := expression.ResolveIdentifier(item, b.Namespaces)
		if err != nil {
			return "", nil, nil, err
		}
		joinSet[ident.Namespace] = struct{}{}

		allowed := aggregateFunctions[ident.Type]
		if len(allowed) == 0 {
			return "", nil, nil, Error.New("property %q of type %q cannot be part of the summary field specification",
				ident.PropertyName(), ident.Type)
		}
		if !contains(allowed, ident.Subscript) {
			if ident.Subscript != "" {
				return "", nil, nil, Error.New("summary field specification subscript %q of %q should be one of %v",
					ident.Subscript, ident.Canonical, allowed)
			}
			return "", nil, nil, Error.New("summary field specification %q must specify a subscript (one of %v)",
				ident.Canonical, allowed)
		}

		var column string
		if ident.PropertyName() == "core.validity_duration" {
			rewriter, ok := b.Rewriters.rewriter(expression.NewPrototype("-", expression.TypeReal,
				expression.TypeTimestamp, expression.TypeTimestamp))
			if !ok {
				return "", nil, nil, Error.New("timestamp subtraction not supported by backend")
			}
			column = rewriter(b.columnName(ident.Namespace, "validity_stop"), b.columnName(ident.Namespace, "validity_start"))
		} else {
			column = b.columnName(ident.Namespace, ident.Property)
		}
		selectList = append(selectList, strings.ToUpper(ident.Subscript)+"("+column+`) AS "`+ident.Canonical+`"`)
	}

	query := "SELECT " + strings.Join(selectList, ", ") + "\nFROM " + b.TableName("core")
	delete(joinSet, "core")
	for _, namespace := range sortedKeys(joinSet) {
		query += " LEFT JOIN " + b.TableName(namespace) + " USING (uuid)"
	}
	for _, clause := range []string{whereClause, groupByClause, havingClause, orderByClause} {
		if clause != "" {
			query += "\n" + clause
		}
	}
	return query, args, resultFields, nil
}

func (b *Builder) buildOrderByList(items []string) (orderByList, namespaces []string, err error) {
	seen := map[string]struct{}{}
	for _, item := range items {
		direction := "ASC"
		name := item
		if strings.HasPrefix(item, "-") {
			direction, name = "DESC", item[1:]
		} else if strings.HasPrefix(item, "+") {
			name = item[1:]
		}

		var namespace string
		segments := strings.Split(name, ".")
		switch len(segments) {
		case 1:
			namespace, name = "core", segments[0]
		case 2:
			namespace, name = segments[0], segments[1]
		default:
			return nil, nil, Error.New("invalid property name: %q", name)
		}

		ns, err := b.namespaceSchema(namespace)
		if err != nil {
			return nil, nil, err
		}
		if !ns.HasField(name) {
			return nil, nil, Error.New("no property %q defined within namespace %q", name, namespace)
		}

		if _, ok := seen[namespace]; !ok {
			seen[namespace] = struct{}{}
			namespaces = append(namespaces, namespace)
		}
		orderByList = append(orderByList, b.columnName(namespace, name)+" "+direction)
	}
	return orderByList, namespaces, nil
}

// whereVisitor renders an analyzed expression tree as an SQL condition.
// Parameter numbering is owned by the root visitor so that a HAVING
// clause can continue where the WHERE clause left off, and so lineage
// subqueries share the outer numbering.
type whereVisitor struct {
	b          *Builder
	root       *whereVisitor
	params     []any
	namespaces map[string]struct{}
}

func (b *Builder) newWhereVisitor(root *whereVisitor) *whereVisitor {
	v := &whereVisitor{b: b, namespaces: map[string]struct{}{}}
	if root != nil {
		v.root = root
	} else {
		v.root = v
	}
	return v
}

// Visit renders the tree. A bare UUID literal is shorthand for matching
// the product uuid.
func (v *whereVisitor) Visit(node expression.Node) (where string, namespaces []string, err error) {
	where, err = v.visit(node)
	if err != nil {
		return "", nil, err
	}
	if literal, ok := node.(*expression.Literal); ok && literal.Type == expression.TypeUUID {
		where = "(uuid = " + where + ")"
	}
	return where, sortedKeys(v.namespaces), nil
}

func (v *whereVisitor) addParameter(value any) (string, error) {
	encoded, err := v.b.EncodeValue(value)
	if err != nil {
		return "", err
	}
	root := v.root
	root.params = append(root.params, encoded)
	return v.b.Placeholder(len(root.params) - 1), nil
}

func (v *whereVisitor) visit(node expression.Node) (string, error) {
	switch n := node.(type) {
	case *expression.Literal:
		return v.addParameter(n.Value)
	case *expression.Name:
		return v.visitName(n)
	case *expression.List:
		return renderList(n.Values)
	case *expression.ParameterReference:
		if n.Type == expression.TypeSequence {
			values, ok := n.Value.([]any)
			if !ok {
				return "", Error.New("parameter %q is not a sequence", n.Name)
			}
			placeholders := make([]string, len(values))
			for i, value := range values {
				placeholder, err := v.addParameter(value)
				if err != nil {
					return "", err
				}
				placeholders[i] = placeholder
			}
			return "(" + strings.Join(placeholders, ",") + ")", nil
		}
		return v.addParameter(n.Value)
	case *expression.FunctionCall:
		return v.visitFunctionCall(n)
	}
	return "", muninn.ErrInternal.New("unsupported abstract syntax tree node type: %T", node)
}

func (v *whereVisitor) visitName(n *expression.Name) (string, error) {
	if n.Ident != nil {
		if n.Ident.Canonical == "count" {
			return "COUNT(*)", nil
		}
		column := v.b.columnName(n.Ident.Namespace, n.Ident.Property)
		return strings.ToUpper(n.Ident.Subscript) + "(" + column + ")", nil
	}

	parts := strings.Split(n.Value, ".")
	if len(parts) == 1 {
		// A bare namespace reference, used by is_defined.
		v.namespaces[parts[0]] = struct{}{}
		return parts[0], nil
	}
	v.namespaces[parts[0]] = struct{}{}
	return v.b.columnName(parts[0], parts[1]), nil
}

func (v *whereVisitor) visitFunctionCall(n *expression.FunctionCall) (string, error) {
	if n.Prototype == nil {
		return "", muninn.ErrInternal.New("expression has not been analyzed: %q", n.Name)
	}
	prototype := *n.Prototype

	// Lineage functions over a filter render as a subquery; the filter
	// is visited with a fresh namespace set but shared parameter
	// numbering.
	if (prototype.Name == "is_source_of" || prototype.Name == "is_derived_from") &&
		len(prototype.ArgumentTypes) == 1 && prototype.ArgumentTypes[0] == expression.TypeBoolean {
		rewriter, ok := v.b.Rewriters.subquery(prototype)
		if !ok {
			return "", Error.New("function not supported by backend: %q", prototype.ID())
		}
		sub := v.b.newWhereVisitor(v.root)
		whereExpr, err := sub.visit(n.Arguments[0])
		if err != nil {
			return "", err
		}
		delete(sub.namespaces, "core")
		return rewriter(whereExpr, sortedKeys(sub.namespaces)), nil
	}

	rewriter, ok := v.b.Rewriters.rewriter(prototype)
	if !ok {
		return "", Error.New("function not supported by backend: %q", prototype.ID())
	}

	arguments := make([]string, len(n.Arguments))
	for i, argument := range n.Arguments {
		where, err := v.visit(argument)
		if err != nil {
			return "", err
		}
		if literal, ok := argument.(*expression.Literal); ok &&
			literal.Type == expression.TypeUUID && prototype.ArgumentTypes[i] == expression.TypeBoolean {
			where = "(uuid = " + where + ")"
		}
		arguments[i] = where
	}
	sqlExpr := rewriter(arguments...)

	// Comparing a column against a constant also has to decide NULL:
	// inequality matches undefined values, equality never does.
	if n.Name == "==" || n.Name == "!=" || n.Name == "~=" {
		var name string
		if _, ok := n.Arguments[0].(*expression.Name); ok {
			if _, ok := n.Arguments[1].(*expression.Literal); ok {
				name = arguments[0]
			}
		}
		if name == "" {
			if _, ok := n.Arguments[0].(*expression.Literal); ok {
				if _, ok := n.Arguments[1].(*expression.Name); ok {
					name = arguments[1]
				}
			}
		}
		if name == "" {
			return sqlExpr, nil
		}
		if n.Name == "!=" {
			return "(" + sqlExpr + " OR " + name + " IS NULL)", nil
		}
		return "(" + sqlExpr + " AND " + name + " IS NOT NULL)", nil
	}
	return sqlExpr, nil
}

// renderList renders a literal list inline; lists participate only in
// membership tests.
func renderList(values []any) (string, error) {
	parts := make([]string, len(values))
	for i, value := range values {
		rendered, err := renderLiteral(value)
		if err != nil {
			return "", err
		}
		parts[i] = rendered
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

func renderLiteral(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05.000000") + "'", nil
	case uuid.UUID:
		return "'" + v.String() + "'", nil
	}
	return "", Error.New("cannot render literal of type %T", value)
}

func fieldNames(ns *schema.Namespace) []string {
	names := make([]string, len(ns.Fields))
	for i := range ns.Fields {
		names[i] = ns.Fields[i].Name
	}
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func contains(items []string, item string) bool {
	for _, candidate := range items {
		if candidate == item {
			return true
		}
	}
	return false
}
