// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package geometry

import "math"

// Rotation reports the winding of a point sequence: 1 for anti-clockwise
// (right-hand rule, inner area), -1 for clockwise (outer area), 0 for an
// empty or degenerate sequence. Calculated by summing the outer products
// of consecutive points.
func Rotation(points []Point) int {
	if len(points) == 0 {
		return 0
	}
	prev := points[0]
	sum := 0.0
	for _, point := range points[1:] {
		sum += point.Y*prev.X - point.X*prev.Y
		prev = point
	}
	if sum == 0 {
		return 0
	}
	return int(math.Copysign(1, sum))
}

// Wrap implements Geometry. Assumes the longitude is already in the range
// [-360, 360].
func (p Point) Wrap() Geometry {
	lon := p.X
	switch {
	case lon < -180:
		lon += 360
	case lon > 180:
		lon -= 360
	}
	return Point{lon, p.Y}
}

func wrapPoint(p Point) Point { return p.Wrap().(Point) }

// Wrap implements Geometry. Lines are divided into sub-lines where they
// cross the dateline.
func (l LineString) Wrap() Geometry {
	if len(l) == 0 {
		return l
	}
	first := wrapPoint(l[0])
	prev := first
	set := [][]Point{{first}}
	for _, point := range l[1:] {
		cur := wrapPoint(point)
		// relLon = lon mapped to [prev.X - 180, prev.X + 180]
		relLon := cur.X
		switch {
		case relLon < prev.X-180:
			relLon += 360
		case relLon > prev.X+180:
			relLon -= 360
		}
		last := len(set) - 1
		if relLon < -180 {
			midLat := cur.Y + ((-180-relLon)/(prev.X-relLon))*(prev.Y-cur.Y)
			set[last] = append(set[last], Point{-180, midLat})
			set = append(set, []Point{{180, midLat}})
			last++
		} else if relLon > 180 {
			midLat := prev.Y + ((180-prev.X)/(relLon-prev.X))*(cur.Y-prev.Y)
			set[last] = append(set[last], Point{180, midLat})
			set = append(set, []Point{{-180, midLat}})
			last++
		}
		prev = cur
		set[last] = append(set[last], cur)
	}
	if len(set) == 1 {
		return LineString(set[0])
	}
	lines := make(MultiLineString, 0, len(set))
	for _, points := range set {
		lines = append(lines, LineString(points))
	}
	return lines
}

// Wrap implements Geometry.
func (r LinearRing) Wrap() Geometry { return r }

// Wrap implements Geometry.
//
// Polygons are split at the dateline. A polygon that covers the north or
// south pole is unfolded by inserting a polar edge so it still covers the
// polar region on the flat canvas. Interior exclusion rings are dropped.
//
// The special case of a polygon covering both poles and running along the
// dateline produces a single ring with reversed winding; that ring becomes
// an exclusion inside the full-earth bounding box. Input polygons should
// be oriented using the right-hand rule or they may be turned into
// exclusions here.
func (p Polygon) Wrap() Geometry {
	if len(p) == 0 || len(p.ExteriorRing()) == 0 {
		return p
	}
	ring := p.ExteriorRing()
	first := wrapPoint(ring[0])
	prev := first
	// currentArea: -1 when the walk has unwound past -180, 1 past +180.
	currentArea := 0
	set := [][]Point{{first}}
	var crossingLat []float64
	for _, point := range ring[1:] {
		cur := wrapPoint(point)
		relLon := cur.X
		switch {
		case relLon < prev.X-180:
			relLon += 360
		case relLon > prev.X+180:
			relLon -= 360
		}
		last := len(set) - 1
		if relLon < -180 {
			if currentArea == -1 {
				// unsupported polygon
				return p
			}
			midLat := cur.Y + ((-180-relLon)/(prev.X-relLon))*(prev.Y-cur.Y)
			crossingLat = append(crossingLat, midLat)
			set[last] = append(set[last], Point{-180, midLat})
			set = append(set, []Point{{180, midLat}})
			last++
			currentArea--
		} else if relLon > 180 {
			if currentArea == 1 {
				// unsupported polygon
				return p
			}
			midLat := prev.Y + ((180-prev.X)/(relLon-prev.X))*(cur.Y-prev.Y)
			crossingLat = append(crossingLat, midLat)
			set[last] = append(set[last], Point{180, midLat})
			set = append(set, []Point{{-180, midLat}})
			last++
			currentArea++
		}
		prev = cur
		set[last] = append(set[last], cur)
	}

	if len(set) == 1 {
		if Rotation(set[0]) < 0 {
			world := LinearRing{{-180, -90}, {180, -90}, {180, 90}, {-180, 90}}
			return Polygon{world, LinearRing(set[0])}
		}
		return Polygon{LinearRing(set[0])}
	}

	// Prepend the final run to the first one; they are two halves of the
	// ring that wrapped around the start point.
	last := set[len(set)-1]
	if len(last) > 0 && last[len(last)-1] == set[0][0] {
		last = last[:len(last)-1]
	}
	set[0] = append(last, set[0]...)
	set = set[:len(set)-1]

	// Connect runs across the north pole when the walk encloses it.
	if len(crossingLat) > 0 {
		maxIndex := 0
		for i, lat := range crossingLat {
			if lat > crossingLat[maxIndex] {
				maxIndex = i
			}
		}
		nextIndex := 0
		if maxIndex < len(crossingLat)-1 {
			nextIndex = maxIndex + 1
		}
		if set[maxIndex][len(set[maxIndex])-1].X > set[nextIndex][0].X {
			set[maxIndex] = append(set[maxIndex], Point{180, 90}, Point{-180, 90})
			if maxIndex != nextIndex {
				set[maxIndex] = append(set[maxIndex], set[nextIndex]...)
				set[nextIndex] = set[maxIndex]
				set = append(set[:maxIndex], set[maxIndex+1:]...)
				crossingLat = append(crossingLat[:maxIndex], crossingLat[maxIndex+1:]...)
			}
		}
	}

	// Connect runs across the south pole when the walk encloses it.
	if len(crossingLat) > 0 {
		minIndex := 0
		for i, lat := range crossingLat {
			if lat < crossingLat[minIndex] {
				minIndex = i
			}
		}
		nextIndex := 0
		if minIndex < len(crossingLat)-1 {
			nextIndex = minIndex + 1
		}
		if set[minIndex][len(set[minIndex])-1].X < set[nextIndex][0].X {
			set[minIndex] = append(set[minIndex], Point{-180, -90}, Point{180, -90})
			if minIndex != nextIndex {
				set[minIndex] = append(set[minIndex], set[nextIndex]...)
				set[nextIndex] = set[minIndex]
				set = append(set[:minIndex], set[minIndex+1:]...)
			}
		}
	}

	if len(set) == 1 {
		return Polygon{LinearRing(set[0])}
	}
	polygons := make(MultiPolygon, 0, len(set))
	for _, points := range set {
		polygons = append(polygons, Polygon{LinearRing(points)})
	}
	return polygons
}

// Wrap implements Geometry.
func (m MultiPoint) Wrap() Geometry {
	wrapped := make(MultiPoint, len(m))
	for i, point := range m {
		wrapped[i] = wrapPoint(point)
	}
	return wrapped
}

// Wrap implements Geometry.
func (m MultiLineString) Wrap() Geometry {
	var lines MultiLineString
	for _, line := range m {
		switch wrapped := line.Wrap().(type) {
		case MultiLineString:
			lines = append(lines, wrapped...)
		case LineString:
			lines = append(lines, wrapped)
		}
	}
	return lines
}

// Wrap implements Geometry.
func (m MultiPolygon) Wrap() Geometry {
	var polygons MultiPolygon
	for _, polygon := range m {
		switch wrapped := polygon.Wrap().(type) {
		case MultiPolygon:
			polygons = append(polygons, wrapped...)
		case Polygon:
			polygons = append(polygons, wrapped)
		}
	}
	return polygons
}
