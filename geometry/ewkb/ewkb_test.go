// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package ewkb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"muninn.io/muninn/geometry"
	"muninn.io/muninn/geometry/ewkb"
)

func TestRoundtrip(t *testing.T) {
	for _, g := range []geometry.Geometry{
		geometry.Point{X: 4, Y: 52},
		geometry.LineString{{X: 0, Y: 0}, {X: 1, Y: 1}},
		geometry.LineString{},
		geometry.Polygon{
			{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}},
			{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}},
		},
		geometry.MultiPoint{{X: 0, Y: 0}, {X: 1.5, Y: -1.5}},
		geometry.MultiLineString{
			{{X: 0, Y: 0}, {X: 1, Y: 0}},
			{{X: 0, Y: 1}, {X: 1, Y: 1}},
		},
		geometry.MultiPolygon{
			{{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}}},
		},
	} {
		data, err := ewkb.Encode(g)
		require.NoError(t, err, g.String())

		decoded, err := ewkb.Decode(data)
		require.NoError(t, err, g.String())
		require.Equal(t, g, decoded, g.String())
	}
}

func TestHexRoundtrip(t *testing.T) {
	point := geometry.Point{X: 4, Y: 52}

	text, err := ewkb.EncodeHex(point)
	require.NoError(t, err)

	decoded, err := ewkb.DecodeHex(text)
	require.NoError(t, err)
	require.Equal(t, point, decoded)
}

func TestDecodeErrors(t *testing.T) {
	require.NotPanics(t, func() {
		_, err := ewkb.Decode(nil)
		require.Error(t, err)

		_, err = ewkb.Decode([]byte{0x01})
		require.Error(t, err)

		_, err = ewkb.DecodeHex("zz")
		require.Error(t, err)
	})

	// valid prefix with a truncated payload
	data, err := ewkb.Encode(geometry.Point{X: 4, Y: 52})
	require.NoError(t, err)
	_, err = ewkb.Decode(data[:len(data)-4])
	require.Error(t, err)
}
