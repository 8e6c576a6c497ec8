// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package geometry

import "encoding/json"

type geojsonGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// EncodeGeoJSON returns the GeoJSON encoding of a geometry. Linear rings
// are closed on encode.
func EncodeGeoJSON(g Geometry) ([]byte, error) {
	var typ string
	var coordinates any
	switch g := g.(type) {
	case Point:
		typ, coordinates = "Point", pointCoords(g)
	case LineString:
		typ, coordinates = "LineString", lineCoords(g, false)
	case Polygon:
		typ, coordinates = "Polygon", polygonCoords(g)
	case MultiPoint:
		typ, coordinates = "MultiPoint", lineCoords(g, false)
	case MultiLineString:
		coords := make([][][2]float64, len(g))
		for i, line := range g {
			coords[i] = lineCoords(line, false)
		}
		typ, coordinates = "MultiLineString", coords
	case MultiPolygon:
		coords := make([][][][2]float64, len(g))
		for i, polygon := range g {
			coords[i] = polygonCoords(polygon)
		}
		typ, coordinates = "MultiPolygon", coords
	default:
		return nil, Error.New("cannot convert geometry type %T to geojson", g)
	}

	raw, err := json.Marshal(coordinates)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return json.Marshal(geojsonGeometry{Type: typ, Coordinates: raw})
}

// DecodeGeoJSON parses a GeoJSON geometry object.
func DecodeGeoJSON(data []byte) (Geometry, error) {
	var raw geojsonGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Error.Wrap(err)
	}

	switch raw.Type {
	case "Point":
		var coords [2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		return Point{coords[0], coords[1]}, nil
	case "LineString":
		var coords [][2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		return NewLineString(toPoints(coords))
	case "Polygon":
		var coords [][][2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		return polygonFromCoords(coords)
	case "MultiPoint":
		var coords [][2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		return MultiPoint(toPoints(coords)), nil
	case "MultiLineString":
		var coords [][][2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		lines := make(MultiLineString, 0, len(coords))
		for _, lineCoords := range coords {
			line, err := NewLineString(toPoints(lineCoords))
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
		return lines, nil
	case "MultiPolygon":
		var coords [][][][2]float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, Error.Wrap(err)
		}
		polygons := make(MultiPolygon, 0, len(coords))
		for _, polygonCoords := range coords {
			polygon, err := polygonFromCoords(polygonCoords)
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, polygon)
		}
		return polygons, nil
	}
	return nil, Error.New("cannot convert geojson type: %s", raw.Type)
}

func pointCoords(p Point) [2]float64 { return [2]float64{p.X, p.Y} }

func lineCoords(points []Point, closeRing bool) [][2]float64 {
	coords := make([][2]float64, 0, len(points)+1)
	for _, point := range points {
		coords = append(coords, pointCoords(point))
	}
	if closeRing && len(points) > 0 {
		coords = append(coords, pointCoords(points[0]))
	}
	return coords
}

func polygonCoords(p Polygon) [][][2]float64 {
	coords := make([][][2]float64, len(p))
	for i, ring := range p {
		coords[i] = lineCoords(ring, true)
	}
	return coords
}

func toPoints(coords [][2]float64) []Point {
	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{c[0], c[1]}
	}
	return points
}

func polygonFromCoords(coords [][][2]float64) (Polygon, error) {
	polygon := make(Polygon, 0, len(coords))
	for _, ringCoords := range coords {
		ring, err := ringFromPoints(toPoints(ringCoords))
		if err != nil {
			return nil, err
		}
		polygon = append(polygon, ring)
	}
	return polygon, nil
}

// ringFromPoints accepts a closed or unclosed ring and stores it without
// the closing point.
func ringFromPoints(points []Point) (LinearRing, error) {
	if len(points) > 1 && points[0] == points[len(points)-1] {
		points = points[:len(points)-1]
	}
	return NewLinearRing(points)
}
