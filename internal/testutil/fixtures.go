package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CubeFunc maps an input color in [0,1] to its graded value.
type CubeFunc func(r, g, b float64) (float64, float64, float64)

// IdentityCube returns the input unchanged.
func IdentityCube(r, g, b float64) (float64, float64, float64) { return r, g, b }

// InvertCube returns the complement of the input.
func InvertCube(r, g, b float64) (float64, float64, float64) { return 1 - r, 1 - g, 1 - b }

// WriteCube writes an n³ .cube file sampling fn, with red varying fastest,
// and returns its path.
func WriteCube(t testing.TB, dir, name string, n int, fn CubeFunc) string {
	t.Helper()
	require.GreaterOrEqual(t, n, 2)

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	w := bufio.NewWriter(f)
	_, err = fmt.Fprintf(w, "# generated\nTITLE \"%s\"\nLUT_3D_SIZE %d\n", name, n)
	require.NoError(t, err)
	step := 1 / float64(n-1)
	for b := range n {
		for g := range n {
			for r := range n {
				outR, outG, outB := fn(float64(r)*step, float64(g)*step, float64(b)*step)
				_, err = fmt.Fprintf(w, "%.6f %.6f %.6f\n", outR, outG, outB)
				require.NoError(t, err)
			}
		}
	}
	require.NoError(t, w.Flush())
	return path
}

// WriteWatermark writes a transparent PNG logo and returns its path.
func WriteWatermark(t testing.TB, dir string) string {
	t.Helper()
	return SavePNG(t, dir, "watermark.png", Logo("EVENT", 70))
}
