package mask

import (
	"testing"

	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_NoRegionsIsAllZero(t *testing.T) {
	sizes := [][2]int{{1, 1}, {64, 48}, {300, 500}}
	for _, s := range sizes {
		m := Build(s[0], s[1], nil, DefaultOptions())
		assert.True(t, m.IsZero())
		for _, w := range m.Weights {
			require.Zero(t, w)
		}
		assert.Zero(t, m.Coverage())
		m.Release()
	}
}

func TestBuild_SingleFaceOnLandscapeFrame(t *testing.T) {
	regions := []face.Region{{X: 1000, Y: 800, Width: 400, Height: 400, Score: 0.9}}
	m := Build(4000, 3000, regions, Options{Padding: 20, Feather: 10})
	defer m.Release()

	require.False(t, m.IsZero())

	// fully protected core (980,780)-(1420,1220)
	for _, p := range [][2]int{{980, 780}, {1419, 1219}, {1200, 1000}, {980, 1219}, {1419, 780}} {
		assert.InDelta(t, 1.0, m.At(p[0], p[1]), 1e-6, "core %v", p)
	}

	// ramp outside every edge
	assert.InDelta(t, 0.9, m.At(979, 1000), 1e-6)
	assert.InDelta(t, 0.9, m.At(1420, 1000), 1e-6)
	assert.InDelta(t, 0.9, m.At(1200, 779), 1e-6)
	assert.InDelta(t, 0.9, m.At(1200, 1220), 1e-6)
	assert.InDelta(t, 0.5, m.At(975, 1000), 1e-6)
	assert.InDelta(t, 0.1, m.At(1428, 1000), 1e-6)

	// zero from 10px beyond the edges
	assert.Zero(t, m.At(970, 1000))
	assert.Zero(t, m.At(1429, 1000))
	assert.Zero(t, m.At(1200, 770))
	assert.Zero(t, m.At(1200, 1229))
	assert.Zero(t, m.At(0, 0))
	assert.Zero(t, m.At(3999, 2999))

	// monotone decrease away from the core
	prev := m.At(1419, 1000)
	for x := 1420; x < 1432; x++ {
		cur := m.At(x, 1000)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestBuild_ClampsToImageBounds(t *testing.T) {
	regions := []face.Region{{X: -50, Y: -50, Width: 100, Height: 100}}
	m := Build(200, 200, regions, Options{Padding: 20, Feather: 10})
	defer m.Release()

	assert.InDelta(t, 1.0, m.At(0, 0), 1e-6)
	assert.InDelta(t, 1.0, m.At(69, 69), 1e-6)
	assert.InDelta(t, 0.9, m.At(70, 0), 1e-6)
	assert.Zero(t, m.At(80, 0))
	assert.Len(t, m.Weights, 200*200)
}

func TestBuild_OverlapTakesMaximum(t *testing.T) {
	regions := []face.Region{
		{X: 10, Y: 10, Width: 20, Height: 20},
		{X: 35, Y: 10, Width: 20, Height: 20},
	}
	m := Build(100, 60, regions, Options{Padding: 0, Feather: 10})
	defer m.Release()

	// x=32 is 3px right of region A and 3px left of region B
	assert.InDelta(t, 0.7, m.At(32, 20), 1e-6)
	// inside B, A's ramp must not lower it
	assert.InDelta(t, 1.0, m.At(36, 20), 1e-6)
	for _, w := range m.Weights {
		assert.LessOrEqual(t, w, float32(1))
		assert.GreaterOrEqual(t, w, float32(0))
	}
}

func TestBuild_ZeroFeatherIsHardEdge(t *testing.T) {
	regions := []face.Region{{X: 10, Y: 10, Width: 10, Height: 10}}
	m := Build(40, 40, regions, Options{Padding: 2, Feather: 0})
	defer m.Release()

	assert.InDelta(t, 1.0, m.At(8, 8), 1e-6)
	assert.Zero(t, m.At(7, 8))
	assert.Zero(t, m.At(22, 15))
	assert.InDelta(t, 1.0, m.At(21, 15), 1e-6)
}

func TestBuild_RegionOutsideImageIsIgnored(t *testing.T) {
	m := Build(100, 100, []face.Region{{X: 500, Y: 500, Width: 10, Height: 10}}, DefaultOptions())
	defer m.Release()
	assert.True(t, m.IsZero())
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	assert.Error(t, Options{Padding: -1}.Validate())
	assert.Error(t, Options{Feather: -1}.Validate())
}

func TestMask_AtOutOfRange(t *testing.T) {
	m := Build(10, 10, nil, DefaultOptions())
	assert.Zero(t, m.At(-1, 0))
	assert.Zero(t, m.At(10, 0))
	m.Release()
	assert.Zero(t, m.At(1, 1))
}
