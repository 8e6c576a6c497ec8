// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package geometry implements the geometry model used for product
// footprints: points, line strings, linear rings, polygons and their
// multi-variants, with WKT and GeoJSON codecs and dateline wrapping.
//
// Coordinates are (X=longitude, Y=latitude) in WGS84 (SRID 4326).
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default geometry error class.
var Error = errs.Class("geometry")

// Rect is an axis-aligned bounding box.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Covers reports whether r fully contains other.
func (r Rect) Covers(other Rect) bool {
	return other.MinX >= r.MinX && other.MaxX <= r.MaxX && other.MinY >= r.MinY && other.MaxY <= r.MaxY
}

// Intersects reports whether the boxes overlap.
func (r Rect) Intersects(other Rect) bool {
	return other.MinX <= r.MaxX && other.MaxX >= r.MinX && other.MinY <= r.MaxY && other.MaxY >= r.MinY
}

// Distance returns the planar distance in degrees between the closest
// points of the boxes, zero when they overlap.
func (r Rect) Distance(other Rect) float64 {
	dx := math.Max(0, math.Max(r.MinX-other.MaxX, other.MinX-r.MaxX))
	dy := math.Max(0, math.Max(r.MinY-other.MaxY, other.MinY-r.MaxY))
	return math.Hypot(dx, dy)
}

// Geometry is implemented by all geometry values.
type Geometry interface {
	// Bounds returns the axis-aligned bounding box.
	Bounds() Rect
	// Wrap converts the geometry from one on a sphere to one that fits on
	// a 2D lon/lat canvas with -180 <= longitude <= 180, splitting at the
	// dateline and inserting polar edges where needed.
	Wrap() Geometry
	// String returns the tagged WKT form.
	String() string

	appendWKT(b *strings.Builder, tagged bool)
}

// Point is a single coordinate pair.
type Point struct {
	X float64
	Y float64
}

// Bounds implements Geometry.
func (p Point) Bounds() Rect { return Rect{p.X, p.Y, p.X, p.Y} }

func (p Point) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("POINT ")
	}
	fmt.Fprintf(b, "(%f %f)", p.X, p.Y)
}

// String returns the tagged WKT form.
func (p Point) String() string { return wkt(p) }

// LineString is an open or closed sequence of points. A line string is
// either empty or contains at least two points.
type LineString []Point

// NewLineString validates the point count.
func NewLineString(points []Point) (LineString, error) {
	if len(points) == 1 {
		return nil, Error.New("line string should be empty or should contain >= 2 points")
	}
	return LineString(points), nil
}

// Closed reports whether the line string starts and ends on the same point.
func (l LineString) Closed() bool { return len(l) == 0 || l[0] == l[len(l)-1] }

// Bounds implements Geometry.
func (l LineString) Bounds() Rect { return pointBounds(l) }

func (l LineString) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("LINESTRING ")
	}
	appendPointsWKT(b, l, false)
}

// String returns the tagged WKT form.
func (l LineString) String() string { return wkt(l) }

// LinearRing is a closed ring stored without the closing point. A ring is
// either empty or contains at least three points.
type LinearRing []Point

// NewLinearRing validates the point count. The closing point must not be
// included.
func NewLinearRing(points []Point) (LinearRing, error) {
	if len(points) > 0 && len(points) < 3 {
		return nil, Error.New("linear ring should be empty or should contain >= 3 points")
	}
	return LinearRing(points), nil
}

// Bounds implements Geometry.
func (r LinearRing) Bounds() Rect { return pointBounds(r) }

func (r LinearRing) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("LINESTRING ")
	}
	appendPointsWKT(b, r, true)
}

// String returns the tagged WKT form.
func (r LinearRing) String() string { return wkt(r) }

// Polygon is a sequence of rings; the first ring is the exterior, the rest
// are interior exclusions.
type Polygon []LinearRing

// ExteriorRing returns the outer ring.
func (p Polygon) ExteriorRing() LinearRing { return p[0] }

// Bounds implements Geometry.
func (p Polygon) Bounds() Rect { return geometryBounds(len(p), func(i int) Rect { return p[i].Bounds() }) }

func (p Polygon) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("POLYGON ")
	}
	if len(p) == 0 {
		b.WriteString("EMPTY")
		return
	}
	b.WriteByte('(')
	for i, ring := range p {
		if i > 0 {
			b.WriteString(", ")
		}
		appendPointsWKT(b, ring, true)
	}
	b.WriteByte(')')
}

// String returns the tagged WKT form.
func (p Polygon) String() string { return wkt(p) }

// MultiPoint is a collection of points.
type MultiPoint []Point

// Bounds implements Geometry.
func (m MultiPoint) Bounds() Rect { return pointBounds(m) }

func (m MultiPoint) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("MULTIPOINT ")
	}
	if len(m) == 0 {
		b.WriteString("EMPTY")
		return
	}
	b.WriteByte('(')
	for i, point := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		point.appendWKT(b, false)
	}
	b.WriteByte(')')
}

// String returns the tagged WKT form.
func (m MultiPoint) String() string { return wkt(m) }

// MultiLineString is a collection of line strings.
type MultiLineString []LineString

// Bounds implements Geometry.
func (m MultiLineString) Bounds() Rect {
	return geometryBounds(len(m), func(i int) Rect { return m[i].Bounds() })
}

func (m MultiLineString) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("MULTILINESTRING ")
	}
	if len(m) == 0 {
		b.WriteString("EMPTY")
		return
	}
	b.WriteByte('(')
	for i, line := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		line.appendWKT(b, false)
	}
	b.WriteByte(')')
}

// String returns the tagged WKT form.
func (m MultiLineString) String() string { return wkt(m) }

// MultiPolygon is a collection of polygons.
type MultiPolygon []Polygon

// Bounds implements Geometry.
func (m MultiPolygon) Bounds() Rect {
	return geometryBounds(len(m), func(i int) Rect { return m[i].Bounds() })
}

func (m MultiPolygon) appendWKT(b *strings.Builder, tagged bool) {
	if tagged {
		b.WriteString("MULTIPOLYGON ")
	}
	if len(m) == 0 {
		b.WriteString("EMPTY")
		return
	}
	b.WriteByte('(')
	for i, polygon := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		polygon.appendWKT(b, false)
	}
	b.WriteByte(')')
}

// String returns the tagged WKT form.
func (m MultiPolygon) String() string { return wkt(m) }

func wkt(g Geometry) string {
	var b strings.Builder
	g.appendWKT(&b, true)
	return b.String()
}

// appendPointsWKT writes "(x y, x y, ...)"; for rings the closing point is
// appended explicitly.
func appendPointsWKT(b *strings.Builder, points []Point, closeRing bool) {
	if len(points) == 0 {
		b.WriteString("EMPTY")
		return
	}
	b.WriteByte('(')
	for i, point := range points {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%f %f", point.X, point.Y)
	}
	if closeRing {
		fmt.Fprintf(b, ", %f %f", points[0].X, points[0].Y)
	}
	b.WriteByte(')')
}

func pointBounds(points []Point) Rect {
	bounds := Rect{}
	for i, point := range points {
		if i == 0 {
			bounds = point.Bounds()
			continue
		}
		bounds = union(bounds, point.Bounds())
	}
	return bounds
}

func geometryBounds(n int, at func(int) Rect) Rect {
	bounds := Rect{}
	for i := 0; i < n; i++ {
		if i == 0 {
			bounds = at(i)
			continue
		}
		bounds = union(bounds, at(i))
	}
	return bounds
}

func union(a, b Rect) Rect {
	if b.MinX < a.MinX {
		a.MinX = b.MinX
	}
	if b.MinY < a.MinY {
		a.MinY = b.MinY
	}
	if b.MaxX > a.MaxX {
		a.MaxX = b.MaxX
	}
	if b.MaxY > a.MaxY {
		a.MaxY = b.MaxY
	}
	return a
}
