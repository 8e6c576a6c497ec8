// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression

import (
	"strings"

	"muninn.io/muninn/geometry"
)

// Parse builds the abstract syntax tree for an expression. The tree is
// untyped; pass it to Analyze before handing it to a query builder.
func Parse(text string) (Node, error) {
	stream, err := newTokenStream(text)
	if err != nil {
		return nil, err
	}
	node, err := parseExpression(stream)
	if err != nil {
		return nil, err
	}
	if !stream.test(TokenEnd) {
		return nil, Error.New("char %d: extra characters after expression: %q", stream.start+1, text[stream.start:])
	}
	return node, nil
}

// Grammar, precedence low to high: or, and, not, comparison,
// arithmetic, unary sign, atom.

func parseExpression(s *tokenStream) (Node, error) { return parseOr(s) }

func parseOr(s *tokenStream) (Node, error) {
	lhs, err := parseAnd(s)
	if err != nil {
		return nil, err
	}
	ok, err := s.accept(TokenName, "or")
	if err != nil || !ok {
		return lhs, err
	}
	rhs, err := parseOr(s)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: "or", Arguments: []Node{lhs, rhs}}, nil
}

func parseAnd(s *tokenStream) (Node, error) {
	lhs, err := parseNot(s)
	if err != nil {
		return nil, err
	}
	ok, err := s.accept(TokenName, "and")
	if err != nil || !ok {
		return lhs, err
	}
	rhs, err := parseAnd(s)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: "and", Arguments: []Node{lhs, rhs}}, nil
}

func parseNot(s *tokenStream) (Node, error) {
	ok, err := s.accept(TokenName, "not")
	if err != nil {
		return nil, err
	}
	if ok {
		operand, err := parseNot(s)
		if err != nil {
			return nil, err
		}
		return &FunctionCall{Name: "not", Arguments: []Node{operand}}, nil
	}
	return parseComparison(s)
}

var comparisonOperators = []string{"<", ">", "==", ">=", "<=", "!=", "~=", "in", "not in"}

func parseComparison(s *tokenStream) (Node, error) {
	lhs, err := parseArithmetic(s)
	if err != nil {
		return nil, err
	}
	if !s.testValue(TokenOperator, comparisonOperators...) {
		return lhs, nil
	}
	operator, err := s.expectValue(TokenOperator, comparisonOperators...)
	if err != nil {
		return nil, err
	}
	rhs, err := parseComparison(s)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: operator.Value.(string), Arguments: []Node{lhs, rhs}}, nil
}

func parseArithmetic(s *tokenStream) (Node, error) {
	lhs, err := parseTerm(s)
	if err != nil {
		return nil, err
	}
	if !s.testValue(TokenOperator, "+", "-", "*", "/") {
		return lhs, nil
	}
	operator, err := s.expectValue(TokenOperator, "+", "-", "*", "/")
	if err != nil {
		return nil, err
	}
	rhs, err := parseArithmetic(s)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: operator.Value.(string), Arguments: []Node{lhs, rhs}}, nil
}

func parseTerm(s *tokenStream) (Node, error) {
	if s.testValue(TokenOperator, "+", "-") {
		operator, err := s.expectValue(TokenOperator, "+", "-")
		if err != nil {
			return nil, err
		}
		operand, err := parseTerm(s)
		if err != nil {
			return nil, err
		}
		return &FunctionCall{Name: operator.Value.(string), Arguments: []Node{operand}}, nil
	}
	return parseAtom(s)
}

func parseAtom(s *tokenStream) (Node, error) {
	// Sub-expression.
	if ok, err := s.accept(TokenOperator, "("); err != nil {
		return nil, err
	} else if ok {
		sub, err := parseExpression(s)
		if err != nil {
			return nil, err
		}
		if _, err := s.expectValue(TokenOperator, ")"); err != nil {
			return nil, err
		}
		return sub, nil
	}

	// Parameter reference.
	if ok, err := s.accept(TokenOperator, "@"); err != nil {
		return nil, err
	} else if ok {
		name, err := s.expect(TokenName)
		if err != nil {
			return nil, err
		}
		return &ParameterReference{Name: name.Value.(string)}, nil
	}

	// Geometry literal, function call, or name.
	if s.test(TokenName) {
		name, err := s.expect(TokenName)
		if err != nil {
			return nil, err
		}

		if parseGeometry, ok := geometryParsers[name.Value.(string)]; ok {
			value, err := parseGeometry(s)
			if err != nil {
				return nil, err
			}
			return &Literal{Value: value}, nil
		}

		if s.testValue(TokenOperator, "(") {
			arguments, err := parseSequence(s, parseExpression, "(", ")")
			if err != nil {
				return nil, err
			}
			return &FunctionCall{Name: name.Value.(string), Arguments: arguments}, nil
		}

		// Name, possibly qualified.
		parts := []string{name.Value.(string)}
		for {
			ok, err := s.accept(TokenOperator, ".")
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			part, err := s.expect(TokenName)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part.Value.(string))
		}
		return &Name{Value: strings.Join(parts, ".")}, nil
	}

	if s.testValue(TokenOperator, "[") {
		nodes, err := parseSequence(s, parseExpression, "[", "]")
		if err != nil {
			return nil, err
		}
		return &List{Nodes: nodes}, nil
	}

	token, err := s.expect(TokenText, TokenTimestamp, TokenUUID, TokenReal, TokenInteger, TokenBoolean)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: token.Value}, nil
}

func parseSequence[T any](s *tokenStream, parseItem func(*tokenStream) (T, error), start, end string) ([]T, error) {
	if _, err := s.expectValue(TokenOperator, start); err != nil {
		return nil, err
	}
	if ok, err := s.accept(TokenOperator, end); err != nil {
		return nil, err
	} else if ok {
		return nil, nil
	}
	var sequence []T
	for {
		item, err := parseItem(s)
		if err != nil {
			return nil, err
		}
		sequence = append(sequence, item)
		ok, err := s.accept(TokenOperator, ",")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if _, err := s.expectValue(TokenOperator, end); err != nil {
		return nil, err
	}
	return sequence, nil
}

// Geometry literals share the expression tokenizer; the coordinate
// lists are plain numeric tokens.

var geometryParsers = map[string]func(*tokenStream) (geometry.Geometry, error){
	"POINT": func(s *tokenStream) (geometry.Geometry, error) { return parsePoint(s) },
	"LINESTRING": func(s *tokenStream) (geometry.Geometry, error) {
		points, err := parseGeometrySequence(s, parsePointRaw)
		if err != nil {
			return nil, err
		}
		return geometry.NewLineString(points)
	},
	"POLYGON": func(s *tokenStream) (geometry.Geometry, error) { return parsePolygon(s) },
	"MULTIPOINT": func(s *tokenStream) (geometry.Geometry, error) {
		points, err := parseGeometrySequence(s, parsePoint)
		if err != nil {
			return nil, err
		}
		return geometry.MultiPoint(points), nil
	},
	"MULTILINESTRING": func(s *tokenStream) (geometry.Geometry, error) {
		lines, err := parseGeometrySequence(s, func(s *tokenStream) (geometry.LineString, error) {
			points, err := parseGeometrySequence(s, parsePointRaw)
			if err != nil {
				return nil, err
			}
			return geometry.NewLineString(points)
		})
		if err != nil {
			return nil, err
		}
		return geometry.MultiLineString(lines), nil
	},
	"MULTIPOLYGON": func(s *tokenStream) (geometry.Geometry, error) {
		polygons, err := parseGeometrySequence(s, parsePolygon)
		if err != nil {
			return nil, err
		}
		return geometry.MultiPolygon(polygons), nil
	},
}

func parseGeometrySequence[T any](s *tokenStream, parseItem func(*tokenStream) (T, error)) ([]T, error) {
	if ok, err := s.accept(TokenName, "EMPTY"); err != nil {
		return nil, err
	} else if ok {
		return nil, nil
	}
	if _, err := s.expectValue(TokenOperator, "("); err != nil {
		return nil, err
	}
	var sequence []T
	for {
		item, err := parseItem(s)
		if err != nil {
			return nil, err
		}
		sequence = append(sequence, item)
		ok, err := s.accept(TokenOperator, ",")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if _, err := s.expectValue(TokenOperator, ")"); err != nil {
		return nil, err
	}
	return sequence, nil
}

func parseSignedCoordinate(s *tokenStream) (float64, error) {
	negative := false
	if ok, err := s.accept(TokenOperator, "-"); err != nil {
		return 0, err
	} else if ok {
		negative = true
	} else if _, err := s.accept(TokenOperator, "+"); err != nil {
		return 0, err
	}
	token, err := s.expect(TokenInteger, TokenReal)
	if err != nil {
		return 0, err
	}
	var value float64
	switch v := token.Value.(type) {
	case int64:
		value = float64(v)
	case float64:
		value = v
	}
	if negative {
		value = -value
	}
	return value, nil
}

func parsePointRaw(s *tokenStream) (geometry.Point, error) {
	x, err := parseSignedCoordinate(s)
	if err != nil {
		return geometry.Point{}, err
	}
	y, err := parseSignedCoordinate(s)
	if err != nil {
		return geometry.Point{}, err
	}
	return geometry.Point{X: x, Y: y}, nil
}

func parsePoint(s *tokenStream) (geometry.Point, error) {
	if _, err := s.expectValue(TokenOperator, "("); err != nil {
		return geometry.Point{}, err
	}
	point, err := parsePointRaw(s)
	if err != nil {
		return geometry.Point{}, err
	}
	if _, err := s.expectValue(TokenOperator, ")"); err != nil {
		return geometry.Point{}, err
	}
	return point, nil
}

func parseLinearRing(s *tokenStream) (geometry.LinearRing, error) {
	points, err := parseGeometrySequence(s, parsePointRaw)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return geometry.LinearRing(nil), nil
	}
	if len(points) < 4 {
		return nil, Error.New("char %d: linear ring should be empty or should contain >= 4 points", s.start)
	}
	if points[len(points)-1] != points[0] {
		return nil, Error.New("char %d: linear ring should be closed", s.start)
	}
	return geometry.NewLinearRing(points[:len(points)-1])
}

func parsePolygon(s *tokenStream) (geometry.Polygon, error) {
	rings, err := parseGeometrySequence(s, parseLinearRing)
	if err != nil {
		return nil, err
	}
	return geometry.Polygon(rings), nil
}
