package scanmatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGridMap_Validation(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		res           float64
	}{
		{"zero width", 0, 10, 0.05},
		{"negative height", 10, -1, 0.05},
		{"zero resolution", 10, 10, 0},
		{"NaN resolution", 10, 10, math.NaN()},
		{"infinite resolution", 10, 10, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGridMap(tt.width, tt.height, tt.res, Point{})
			assert.Error(t, err)
		})
	}
}

func TestGridMap_CellsStartUnknown(t *testing.T) {
	g, err := NewGridMap(3, 2, 0.1, Point{})
	require.NoError(t, err)
	for iy := 0; iy < 2; iy++ {
		for ix := 0; ix < 3; ix++ {
			assert.Equal(t, UnknownOccupancy, g.At(ix, iy))
		}
	}
}

func TestGridMap_SetClampsAndIgnoresOutside(t *testing.T) {
	g, err := NewGridMap(2, 2, 0.1, Point{})
	require.NoError(t, err)

	g.Set(0, 0, 1.7)
	g.Set(1, 0, -3)
	g.Set(5, 5, 1)

	assert.Equal(t, 1.0, g.At(0, 0))
	assert.Equal(t, 0.0, g.At(1, 0))
	assert.Equal(t, UnknownOccupancy, g.At(5, 5))
	assert.Equal(t, UnknownOccupancy, g.At(-1, 0))
}

func TestGridMap_CellIndex(t *testing.T) {
	g, err := NewGridMap(10, 10, 0.1, Point{X: 1, Y: -1})
	require.NoError(t, err)

	tests := []struct {
		p      Point
		ix, iy int
	}{
		{Point{X: 1.05, Y: -0.95}, 0, 0},
		{Point{X: 1.95, Y: -0.05}, 9, 9},
		{Point{X: 0.95, Y: -1.05}, -1, -1},
		{Point{X: 1.55, Y: -0.45}, 5, 5},
	}
	for _, tt := range tests {
		ix, iy := g.CellIndex(tt.p)
		assert.Equal(t, tt.ix, ix, "x of %+v", tt.p)
		assert.Equal(t, tt.iy, iy, "y of %+v", tt.p)
	}

	c := g.CellCenter(5, 5)
	assert.InDelta(t, 1.55, c.X, 1e-12)
	assert.InDelta(t, -0.45, c.Y, 1e-12)
}

func TestGridMap_Extent(t *testing.T) {
	g, err := NewGridMap(20, 10, 0.05, Point{X: -0.5, Y: 0.25})
	require.NoError(t, err)

	e := g.Extent()
	assert.InDelta(t, -0.5, e.Left(), 1e-12)
	assert.InDelta(t, 0.5, e.Right(), 1e-12)
	assert.InDelta(t, 0.25, e.Bottom(), 1e-12)
	assert.InDelta(t, 0.75, e.Top(), 1e-12)
}

func TestGridMap_MaxInRange(t *testing.T) {
	g, err := NewGridMap(4, 4, 1, Point{})
	require.NoError(t, err)
	for iy := 0; iy < 4; iy++ {
		for ix := 0; ix < 4; ix++ {
			g.Set(ix, iy, 0)
		}
	}
	g.Set(2, 3, 0.8)

	tests := []struct {
		name               string
		ix0, iy0, ix1, iy1 int
		want               float64
	}{
		{"single free cell", 0, 0, 0, 0, 0},
		{"box containing the peak", 1, 2, 3, 3, 0.8},
		{"box next to the peak", 0, 0, 3, 2, 0},
		{"swapped corners", 3, 3, 1, 2, 0.8},
		{"reaching outside", -1, 0, 0, 0, UnknownOccupancy},
		{"reaching outside past the peak", 2, 3, 2, 4, 0.8},
		{"entirely outside", 10, 10, 12, 12, UnknownOccupancy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.MaxInRange(tt.ix0, tt.iy0, tt.ix1, tt.iy1))
		})
	}
}

func TestGridMap_LevelZeroIsTheMap(t *testing.T) {
	g, err := NewGridMap(4, 4, 0.1, Point{})
	require.NoError(t, err)
	assert.Same(t, g, g.Level(0))
	assert.Same(t, g, g.Level(-2))
}

func TestGridMap_LevelPadsWithUnknown(t *testing.T) {
	g, err := NewGridMap(5, 4, 0.1, Point{X: 2, Y: 3})
	require.NoError(t, err)
	for iy := 0; iy < 4; iy++ {
		for ix := 0; ix < 5; ix++ {
			g.Set(ix, iy, 0)
		}
	}
	g.Set(4, 3, 1)

	l1 := g.Level(1)
	assert.Equal(t, 3, l1.Width)
	assert.Equal(t, 2, l1.Height)
	assert.InDelta(t, 0.2, l1.Resolution, 1e-15)
	assert.Equal(t, g.Origin, l1.Origin)
	assert.Equal(t, 0.0, l1.At(0, 0))
	assert.Equal(t, UnknownOccupancy, l1.At(2, 0), "half of the cell lies outside the map")
	assert.Equal(t, 1.0, l1.At(2, 1))

	l2 := g.Level(2)
	assert.Equal(t, 2, l2.Width)
	assert.Equal(t, 1, l2.Height)
	assert.Equal(t, 1.0, l2.At(1, 0))

	assert.Same(t, l1, g.Level(1), "levels are built once")
}

func TestGridMap_LevelsOverEstimateFinerLevels(t *testing.T) {
	g := newRoomGrid(t)

	for k := 1; k <= 5; k++ {
		coarse := g.Level(k)
		for iy := 0; iy < g.Height; iy++ {
			for ix := 0; ix < g.Width; ix++ {
				c := g.CellCenter(ix, iy)
				if coarse.ValueAt(c) < g.At(ix, iy) {
					t.Fatalf("level %d under-estimates cell (%d, %d): %v < %v",
						k, ix, iy, coarse.ValueAt(c), g.At(ix, iy))
				}
			}
		}
	}
}

func TestGridMap_ApplyLikelihoodField(t *testing.T) {
	g, err := NewGridMap(21, 21, 0.05, Point{})
	require.NoError(t, err)
	for iy := 0; iy < 21; iy++ {
		for ix := 0; ix < 21; ix++ {
			g.Set(ix, iy, 0)
		}
	}
	g.Set(10, 10, 1)
	before := g.Level(1)

	g.ApplyLikelihoodField(0.2)

	assert.Equal(t, 1.0, g.At(10, 10))
	sigma := 0.1
	assert.InDelta(t, math.Exp(-0.05*0.05/(2*sigma*sigma)), g.At(11, 10), 1e-12)
	assert.InDelta(t, math.Exp(-0.05*0.05/(2*sigma*sigma)), g.At(10, 9), 1e-12)
	assert.Greater(t, g.At(11, 10), g.At(12, 10))
	assert.Equal(t, 0.0, g.At(15, 10), "0.25 m is outside the radius")
	assert.Equal(t, 0.0, g.At(0, 0))

	after := g.Level(1)
	assert.NotSame(t, before, after, "pyramid is rebuilt after the field is applied")
	assert.Greater(t, after.At(5, 4), 0.0)
}

func TestGridMap_ApplyLikelihoodFieldOnlyRaises(t *testing.T) {
	g, err := NewGridMap(5, 1, 0.1, Point{})
	require.NoError(t, err)
	g.Set(0, 0, 1)
	g.Set(1, 0, 0)
	g.Set(2, 0, 0.6)

	g.ApplyLikelihoodField(0.3)
	assert.InDelta(t, math.Exp(-0.01/0.045), g.At(1, 0), 1e-12)
	assert.Equal(t, 0.6, g.At(2, 0), "cells above the falloff keep their value")
	assert.Equal(t, UnknownOccupancy, g.At(4, 0), "unknown cells beyond the radius stay unknown")

	raised := g.At(1, 0)
	g.ApplyLikelihoodField(0)
	assert.Equal(t, raised, g.At(1, 0))
}
