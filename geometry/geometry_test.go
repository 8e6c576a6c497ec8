// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package geometry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"muninn.io/muninn/geometry"
)

func TestWKTRoundtrip(t *testing.T) {
	for _, text := range []string{
		"POINT (4.000000 52.000000)",
		"LINESTRING EMPTY",
		"LINESTRING (0.000000 0.000000, 1.000000 1.000000)",
		"POLYGON ((0.000000 0.000000, 4.000000 0.000000, 4.000000 4.000000, 0.000000 0.000000))",
		"MULTIPOINT ((0.000000 0.000000), (1.500000 -1.500000))",
		"MULTILINESTRING ((0.000000 0.000000, 1.000000 0.000000), (0.000000 1.000000, 1.000000 1.000000))",
		"MULTIPOLYGON (((0.000000 0.000000, 2.000000 0.000000, 2.000000 2.000000, 0.000000 0.000000)))",
	} {
		parsed, err := geometry.ParseWKT(text)
		require.NoError(t, err, text)
		require.Equal(t, text, parsed.String())
	}
}

func TestWKTErrors(t *testing.T) {
	for _, text := range []string{
		"CIRCLE (0 0)",
		"POINT (0 0) trailing",
		"POLYGON ((0 0, 1 0, 1 1))",
		"POLYGON ((0 0, 1 0, 1 1, 0 1))",
		"LINESTRING (0 0)",
	} {
		_, err := geometry.ParseWKT(text)
		require.Error(t, err, text)
	}
}

func TestNewLineString(t *testing.T) {
	_, err := geometry.NewLineString([]geometry.Point{{X: 1, Y: 1}})
	require.Error(t, err)

	empty, err := geometry.NewLineString(nil)
	require.NoError(t, err)
	require.True(t, empty.Closed())

	line, err := geometry.NewLineString([]geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})
	require.NoError(t, err)
	require.False(t, line.Closed())
}

func TestNewLinearRing(t *testing.T) {
	_, err := geometry.NewLinearRing([]geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})
	require.Error(t, err)

	ring, err := geometry.NewLinearRing([]geometry.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}})
	require.NoError(t, err)
	require.Equal(t, geometry.Rect{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}, ring.Bounds())
}

func TestBounds(t *testing.T) {
	point := geometry.Point{X: 4, Y: 52}
	require.Equal(t, geometry.Rect{MinX: 4, MinY: 52, MaxX: 4, MaxY: 52}, point.Bounds())

	line := geometry.LineString{{X: -3, Y: 2}, {X: 5, Y: -7}}
	require.Equal(t, geometry.Rect{MinX: -3, MinY: -7, MaxX: 5, MaxY: 2}, line.Bounds())
}

func TestRect(t *testing.T) {
	outer := geometry.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	inner := geometry.Rect{MinX: 2, MinY: 2, MaxX: 8, MaxY: 8}
	apart := geometry.Rect{MinX: 13, MinY: 14, MaxX: 20, MaxY: 20}

	require.True(t, outer.Covers(inner))
	require.False(t, inner.Covers(outer))
	require.True(t, outer.Intersects(inner))
	require.False(t, outer.Intersects(apart))
	require.Equal(t, 0.0, outer.Distance(inner))
	require.Equal(t, 5.0, outer.Distance(apart))
}

func TestGeoJSONRoundtrip(t *testing.T) {
	polygon := geometry.Polygon{
		{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}},
	}
	data, err := geometry.EncodeGeoJSON(polygon)
	require.NoError(t, err)

	decoded, err := geometry.DecodeGeoJSON(data)
	require.NoError(t, err)
	require.Equal(t, polygon, decoded)
}

func TestRotation(t *testing.T) {
	antiClockwise := []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	clockwise := []geometry.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 0, Y: 0}}

	require.Equal(t, 1, geometry.Rotation(antiClockwise))
	require.Equal(t, -1, geometry.Rotation(clockwise))
	require.Equal(t, 0, geometry.Rotation(nil))
}

func TestWrapPoint(t *testing.T) {
	require.Equal(t, geometry.Point{X: -170, Y: 10}, geometry.Point{X: 190, Y: 10}.Wrap())
	require.Equal(t, geometry.Point{X: 170, Y: 10}, geometry.Point{X: -190, Y: 10}.Wrap())
	require.Equal(t, geometry.Point{X: 45, Y: 10}, geometry.Point{X: 45, Y: 10}.Wrap())
}

func TestWrapLineStringAcrossDateline(t *testing.T) {
	line := geometry.LineString{{X: 170, Y: 0}, {X: 190, Y: 0}}
	wrapped := line.Wrap()

	multi, ok := wrapped.(geometry.MultiLineString)
	require.True(t, ok)
	require.Len(t, multi, 2)
	require.Equal(t, geometry.Point{X: 180, Y: 0}, multi[0][len(multi[0])-1])
	require.Equal(t, geometry.Point{X: -180, Y: 0}, multi[1][0])
}
