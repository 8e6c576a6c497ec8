// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

// Package ewkb implements the extended well-known-binary geometry
// encoding used by the catalogue backends. Geometries are encoded
// little-endian with an SRID 4326 prefix; both byte orders are accepted
// on decode.
package ewkb

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"github.com/zeebo/errs"

	"muninn.io/muninn/geometry"
)

// Error is the default ewkb error class.
var Error = errs.Class("ewkb")

// Geometry type codes.
const (
	typePoint           = 1
	typeLineString      = 2
	typePolygon         = 3
	typeMultiPoint      = 4
	typeMultiLineString = 5
	typeMultiPolygon    = 6
)

const (
	sridFlag = 0x20000000
	srid4326 = 4326
)

// Encode returns the little-endian EWKB encoding with an SRID prefix.
func Encode(g geometry.Geometry) ([]byte, error) {
	e := encoder{}
	if err := e.geometry(g, true, true); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// EncodeHex returns the uppercase hex form of Encode.
func EncodeHex(g geometry.Geometry) (string, error) {
	raw, err := Encode(g)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

// Decode parses an EWKB geometry.
func Decode(data []byte) (geometry.Geometry, error) {
	d := &decoder{buf: data}
	if err := d.readOrder(); err != nil {
		return nil, err
	}
	g, err := d.geometry(0)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// DecodeHex parses the hex form of an EWKB geometry.
func DecodeHex(text string) (geometry.Geometry, error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return Decode(raw)
}

type encoder struct {
	buf []byte
}

func (e *encoder) geometry(g geometry.Geometry, tagged, srid bool) error {
	switch g := g.(type) {
	case geometry.Point:
		e.tag(typePoint, tagged, srid)
		e.point(g)
	case geometry.LineString:
		e.tag(typeLineString, tagged, srid)
		e.points(g, false)
	case geometry.LinearRing:
		e.tag(typeLineString, tagged, srid)
		e.points(g, true)
	case geometry.Polygon:
		e.tag(typePolygon, tagged, srid)
		e.uint32(uint32(len(g)))
		for _, ring := range g {
			e.points(ring, true)
		}
	case geometry.MultiPoint:
		e.tag(typeMultiPoint, tagged, srid)
		e.uint32(uint32(len(g)))
		for _, point := range g {
			e.tag(typePoint, true, false)
			e.point(point)
		}
	case geometry.MultiLineString:
		e.tag(typeMultiLineString, tagged, srid)
		e.uint32(uint32(len(g)))
		for _, line := range g {
			e.tag(typeLineString, true, false)
			e.points(line, false)
		}
	case geometry.MultiPolygon:
		e.tag(typeMultiPolygon, tagged, srid)
		e.uint32(uint32(len(g)))
		for _, polygon := range g {
			if err := e.geometry(polygon, true, false); err != nil {
				return err
			}
		}
	default:
		return Error.New("unsupported geometry type: %T", g)
	}
	return nil
}

func (e *encoder) tag(geometryType uint32, tagged, srid bool) {
	if !tagged {
		return
	}
	e.buf = append(e.buf, 1) // little-endian
	if srid {
		e.uint32(geometryType | sridFlag)
		e.uint32(srid4326)
		return
	}
	e.uint32(geometryType)
}

func (e *encoder) point(p geometry.Point) {
	e.float64(p.X)
	e.float64(p.Y)
}

// points writes a point count followed by the coordinates; rings are
// closed by repeating the first point.
func (e *encoder) points(points []geometry.Point, closeRing bool) {
	if len(points) == 0 {
		e.uint32(0)
		return
	}
	n := uint32(len(points))
	if closeRing {
		n++
	}
	e.uint32(n)
	for _, point := range points {
		e.point(point)
	}
	if closeRing {
		e.point(points[0])
	}
}

func (e *encoder) uint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) float64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

type decoder struct {
	buf   []byte
	order binary.ByteOrder
}

// order consumes the byte-order byte and configures the decoder.
func (d *decoder) readOrder() error {
	if len(d.buf) < 1 {
		return Error.New("truncated ewkb input")
	}
	switch d.buf[0] {
	case 0:
		d.order = binary.BigEndian
	case 1:
		d.order = binary.LittleEndian
	default:
		return Error.New("invalid byte order marker: %d", d.buf[0])
	}
	d.buf = d.buf[1:]
	return nil
}

func (d *decoder) geometry(expectedType uint32) (geometry.Geometry, error) {
	geometryType, err := d.uint32()
	if err != nil {
		return nil, err
	}
	flags := geometryType >> 28
	geometryType &= 0x00FFFFFF

	if expectedType != 0 && geometryType != expectedType {
		return nil, Error.New("unexpected ewkb type code: %d (expected: %d)", geometryType, expectedType)
	}

	switch flags {
	case 0x02:
		srid, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if srid != srid4326 {
			return nil, Error.New("unsupported srid code: %d", srid)
		}
	case 0x00:
	default:
		return nil, Error.New("unsupported ewkb type flags: %d", flags)
	}

	switch geometryType {
	case typePoint:
		return d.point()
	case typeLineString:
		points, err := d.points()
		if err != nil {
			return nil, err
		}
		return geometry.NewLineString(points)
	case typePolygon:
		return d.polygon()
	case typeMultiPoint:
		count, err := d.uint32()
		if err != nil {
			return nil, err
		}
		points := make(geometry.MultiPoint, 0, count)
		for i := uint32(0); i < count; i++ {
			member, err := d.member(typePoint)
			if err != nil {
				return nil, err
			}
			points = append(points, member.(geometry.Point))
		}
		return points, nil
	case typeMultiLineString:
		count, err := d.uint32()
		if err != nil {
			return nil, err
		}
		lines := make(geometry.MultiLineString, 0, count)
		for i := uint32(0); i < count; i++ {
			member, err := d.member(typeLineString)
			if err != nil {
				return nil, err
			}
			lines = append(lines, member.(geometry.LineString))
		}
		return lines, nil
	case typeMultiPolygon:
		count, err := d.uint32()
		if err != nil {
			return nil, err
		}
		polygons := make(geometry.MultiPolygon, 0, count)
		for i := uint32(0); i < count; i++ {
			member, err := d.member(typePolygon)
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, member.(geometry.Polygon))
		}
		return polygons, nil
	}
	return nil, Error.New("unsupported ewkb type code: %d", geometryType)
}

// member parses a nested geometry, which carries its own byte-order
// marker.
func (d *decoder) member(expectedType uint32) (geometry.Geometry, error) {
	if err := d.readOrder(); err != nil {
		return nil, err
	}
	return d.geometry(expectedType)
}

func (d *decoder) polygon() (geometry.Polygon, error) {
	count, err := d.uint32()
	if err != nil {
		return nil, err
	}
	polygon := make(geometry.Polygon, 0, count)
	for i := uint32(0); i < count; i++ {
		ring, err := d.ring()
		if err != nil {
			return nil, err
		}
		polygon = append(polygon, ring)
	}
	return polygon, nil
}

func (d *decoder) ring() (geometry.LinearRing, error) {
	points, err := d.points()
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return geometry.LinearRing(nil), nil
	}
	if len(points) < 4 {
		return nil, Error.New("linear ring should be empty or should contain >= 4 points")
	}
	if points[0] != points[len(points)-1] {
		return nil, Error.New("linear ring should be closed")
	}
	return geometry.NewLinearRing(points[:len(points)-1])
}

func (d *decoder) points() ([]geometry.Point, error) {
	count, err := d.uint32()
	if err != nil {
		return nil, err
	}
	points := make([]geometry.Point, 0, count)
	for i := uint32(0); i < count; i++ {
		point, err := d.point()
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

func (d *decoder) point() (geometry.Point, error) {
	x, err := d.float64()
	if err != nil {
		return geometry.Point{}, err
	}
	y, err := d.float64()
	if err != nil {
		return geometry.Point{}, err
	}
	return geometry.Point{X: x, Y: y}, nil
}

func (d *decoder) uint32() (uint32, error) {
	if len(d.buf) < 4 {
		return 0, Error.New("truncated ewkb input")
	}
	v := d.order.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v, nil
}

func (d *decoder) float64() (float64, error) {
	if len(d.buf) < 8 {
		return 0, Error.New("truncated ewkb input")
	}
	v := math.Float64frombits(d.order.Uint64(d.buf))
	d.buf = d.buf[8:]
	return v, nil
}
