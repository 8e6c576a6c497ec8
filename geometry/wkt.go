// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package geometry

import (
	"strconv"
	"strings"
)

// ParseWKT parses a tagged WKT geometry. Linear rings inside polygons
// must be closed and contain at least four points.
func ParseWKT(text string) (Geometry, error) {
	p := &wktParser{input: text}
	geometry, err := p.parseGeometry()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, Error.New("unexpected trailing input in wkt: %q", p.input[p.pos:])
	}
	return geometry, nil
}

type wktParser struct {
	input string
	pos   int
}

func (p *wktParser) parseGeometry() (Geometry, error) {
	tag := strings.ToUpper(p.ident())
	switch tag {
	case "POINT":
		points, err := p.parsePoints(1, 1)
		if err != nil {
			return nil, err
		}
		return points[0], nil
	case "LINESTRING":
		if p.empty() {
			return LineString(nil), nil
		}
		points, err := p.parsePoints(2, -1)
		if err != nil {
			return nil, err
		}
		return LineString(points), nil
	case "POLYGON":
		if p.empty() {
			return Polygon(nil), nil
		}
		return p.parsePolygon()
	case "MULTIPOINT":
		if p.empty() {
			return MultiPoint(nil), nil
		}
		var points MultiPoint
		err := p.parseSequence(func() error {
			sub, err := p.parsePoints(1, 1)
			if err != nil {
				return err
			}
			points = append(points, sub[0])
			return nil
		})
		return points, err
	case "MULTILINESTRING":
		if p.empty() {
			return MultiLineString(nil), nil
		}
		var lines MultiLineString
		err := p.parseSequence(func() error {
			points, err := p.parsePoints(2, -1)
			if err != nil {
				return err
			}
			lines = append(lines, LineString(points))
			return nil
		})
		return lines, err
	case "MULTIPOLYGON":
		if p.empty() {
			return MultiPolygon(nil), nil
		}
		var polygons MultiPolygon
		err := p.parseSequence(func() error {
			polygon, err := p.parsePolygon()
			if err != nil {
				return err
			}
			polygons = append(polygons, polygon)
			return nil
		})
		return polygons, err
	}
	return nil, Error.New("unsupported wkt geometry type: %q", tag)
}

func (p *wktParser) parsePolygon() (Polygon, error) {
	var polygon Polygon
	err := p.parseSequence(func() error {
		points, err := p.parsePoints(4, -1)
		if err != nil {
			return err
		}
		if points[0] != points[len(points)-1] {
			return Error.New("linear ring should be closed")
		}
		polygon = append(polygon, LinearRing(points[:len(points)-1]))
		return nil
	})
	return polygon, err
}

// parseSequence parses "(item, item, ...)" with item parsed by fn.
func (p *wktParser) parseSequence(fn func() error) error {
	if err := p.expect('('); err != nil {
		return err
	}
	for {
		if err := fn(); err != nil {
			return err
		}
		if !p.accept(',') {
			break
		}
	}
	return p.expect(')')
}

func (p *wktParser) parsePoints(min, max int) ([]Point, error) {
	var points []Point
	err := p.parseSequence(func() error {
		x, err := p.number()
		if err != nil {
			return err
		}
		y, err := p.number()
		if err != nil {
			return err
		}
		points = append(points, Point{x, y})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(points) < min || (max >= 0 && len(points) > max) {
		return nil, Error.New("invalid number of points in wkt geometry: %d", len(points))
	}
	return points, nil
}

func (p *wktParser) empty() bool {
	p.skipSpace()
	rest := p.input[p.pos:]
	if len(rest) >= 5 && strings.EqualFold(rest[:5], "EMPTY") {
		p.pos += 5
		return true
	}
	return false
}

func (p *wktParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *wktParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, Error.New("expected a number at offset %d", start)
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return value, nil
}

func (p *wktParser) accept(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *wktParser) expect(c byte) error {
	if !p.accept(c) {
		return Error.New("expected %q at offset %d", string(c), p.pos)
	}
	return nil
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}
