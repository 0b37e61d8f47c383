// Package lut loads Adobe .cube 3D lookup tables and grades images through
// them with trilinear interpolation.
package lut

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MaxSize bounds the grid edge length accepted from a file.
const MaxSize = 256

var (
	// ErrInvalidSize is returned for a missing or out-of-range LUT_3D_SIZE.
	ErrInvalidSize = errors.New("invalid LUT grid size")
	// ErrRowCount is returned when the data rows do not match N³.
	ErrRowCount = errors.New("LUT row count mismatch")
	// ErrLayout is returned for data rows before LUT_3D_SIZE or a repeated
	// LUT_3D_SIZE header.
	ErrLayout = errors.New("malformed LUT layout")
)

// CubeLUT is a read-only 3D color lattice. It is safe for concurrent use.
type CubeLUT struct {
	Title     string
	Size      int
	DomainMin [3]float32
	DomainMax [3]float32

	// table holds Size³ RGB triples, red varying fastest.
	table []float32
}

// Load reads a .cube file from disk.
func Load(path string) (*CubeLUT, error) {
	f, err := os.Open(path) //nolint:gosec // G304: LUT path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open LUT: %w", err)
	}
	defer func() { _ = f.Close() }()

	l, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse LUT %s: %w", path, err)
	}
	return l, nil
}

// Parse reads a .cube document. Comments, blank lines, TITLE and 1D size
// headers are skipped. LUT_3D_SIZE must appear exactly once, before the data. Values above 1 switch the whole table to a 0..255
// scale.
func Parse(r io.Reader) (*CubeLUT, error) {
	l := &CubeLUT{DomainMax: [3]float32{1, 1, 1}}
	var rows [][3]float32

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "TITLE":
			l.Title = strings.Trim(strings.TrimSpace(line[len(fields[0]):]), `"`)
			continue
		case "LUT_1D_SIZE":
			continue
		case "LUT_3D_SIZE":
			if l.Size != 0 {
				return nil, fmt.Errorf("line %d: %w: duplicate LUT_3D_SIZE", lineNo, ErrLayout)
			}
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: %w", lineNo, ErrInvalidSize)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 2 || n > MaxSize {
				return nil, fmt.Errorf("line %d: %w: %q", lineNo, ErrInvalidSize, fields[1])
			}
			l.Size = n
			rows = make([][3]float32, 0, n*n*n)
			continue
		case "DOMAIN_MIN", "DOMAIN_MAX":
			v, err := parseTriple(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if strings.EqualFold(fields[0], "DOMAIN_MIN") {
				l.DomainMin = v
			} else {
				l.DomainMax = v
			}
			continue
		}

		if l.Size == 0 {
			return nil, fmt.Errorf("line %d: %w: data row before LUT_3D_SIZE", lineNo, ErrLayout)
		}
		v, err := parseTriple(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read LUT: %w", err)
	}

	if l.Size == 0 {
		return nil, fmt.Errorf("%w: LUT_3D_SIZE missing", ErrInvalidSize)
	}
	want := l.Size * l.Size * l.Size
	if len(rows) != want {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrRowCount, len(rows), want)
	}
	for i := range 3 {
		if l.DomainMax[i] <= l.DomainMin[i] {
			return nil, fmt.Errorf("invalid domain on channel %d: [%g, %g]", i, l.DomainMin[i], l.DomainMax[i])
		}
	}

	scale := float32(1)
	for _, v := range rows {
		if v[0] > 1 || v[1] > 1 || v[2] > 1 {
			scale = 1.0 / 255
			break
		}
	}

	l.table = make([]float32, 0, want*3)
	for _, v := range rows {
		l.table = append(l.table, v[0]*scale, v[1]*scale, v[2]*scale)
	}
	return l, nil
}

func parseTriple(fields []string) ([3]float32, error) {
	var out [3]float32
	if len(fields) != 3 {
		return out, fmt.Errorf("expected 3 values, got %d", len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return out, fmt.Errorf("bad value %q: %w", f, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// Identity returns an N-point identity lattice (linear ramp on each axis).
func Identity(n int) (*CubeLUT, error) {
	if n < 2 || n > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	l := &CubeLUT{Title: "identity", Size: n, DomainMax: [3]float32{1, 1, 1}}
	l.table = make([]float32, 0, n*n*n*3)
	step := 1 / float32(n-1)
	for b := range n {
		for g := range n {
			for r := range n {
				l.table = append(l.table, float32(r)*step, float32(g)*step, float32(b)*step)
			}
		}
	}
	return l, nil
}

// WriteCube serializes l in .cube format.
func (l *CubeLUT) WriteCube(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if l.Title != "" {
		_, _ = fmt.Fprintf(bw, "TITLE %q\n", l.Title)
	}
	_, _ = fmt.Fprintf(bw, "LUT_3D_SIZE %d\n", l.Size)
	_, _ = fmt.Fprintf(bw, "DOMAIN_MIN %g %g %g\n", l.DomainMin[0], l.DomainMin[1], l.DomainMin[2])
	_, _ = fmt.Fprintf(bw, "DOMAIN_MAX %g %g %g\n", l.DomainMax[0], l.DomainMax[1], l.DomainMax[2])
	for i := 0; i < len(l.table); i += 3 {
		_, _ = fmt.Fprintf(bw, "%.6f %.6f %.6f\n", l.table[i], l.table[i+1], l.table[i+2])
	}
	return bw.Flush()
}

// vertex returns the RGB stored at lattice coordinate (r, g, b).
func (l *CubeLUT) vertex(r, g, b int) (float32, float32, float32) {
	i := ((b*l.Size+g)*l.Size + r) * 3
	return l.table[i], l.table[i+1], l.table[i+2]
}
