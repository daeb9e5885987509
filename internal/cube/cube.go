// Package cube holds the in-memory labeled arrays that sit between the file
// readers and the store writer.
package cube

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when files or frames disagree on their
	// non-time axes.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrEmpty is returned for a cube without time steps or variables.
	ErrEmpty = errors.New("nothing to concatenate")
)

// Grid is the spatial part of a labeled array. Y and X hold the coordinate
// of every row and column.
type Grid struct {
	Y []float64
	X []float64
}

// Size returns the number of cells in one time step.
func (g Grid) Size() int {
	return len(g.Y) * len(g.X)
}

// Equal reports whether both grids have the same shape and coordinates.
func (g Grid) Equal(o Grid) bool {
	return equalCoords(g.Y, o.Y) && equalCoords(g.X, o.X)
}

// Check returns ErrShapeMismatch describing the difference between the grids.
func (g Grid) Check(o Grid) error {
	if len(g.Y) != len(o.Y) || len(g.X) != len(o.X) {
		return errors.Wrapf(ErrShapeMismatch, "grid %dx%d does not match %dx%d", len(o.Y), len(o.X), len(g.Y), len(g.X))
	}
	if !g.Equal(o) {
		return errors.Wrapf(ErrShapeMismatch, "grid %dx%d has different coordinate values", len(o.Y), len(o.X))
	}
	return nil
}

func equalCoords(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

// Frame is one time step of one file: every variable over the grid in
// (y, x) row-major order.
type Frame struct {
	Time time.Time
	Vars map[string][]float32
}

// Cube is a block of time steps over one grid. Every variable is held in a
// single buffer allocated up front, laid out (time, y, x), or (time, x, y)
// when Transposed.
type Cube struct {
	Times      []time.Time
	Grid       Grid
	Transposed bool

	names []string
	vars  map[string][]float32
}

// New allocates a cube of nt time steps for the named variables.
func New(grid Grid, names []string, nt int, transposed bool) (*Cube, error) {
	if nt < 1 || len(names) == 0 {
		return nil, ErrEmpty
	}
	c := &Cube{
		Times:      make([]time.Time, nt),
		Grid:       grid,
		Transposed: transposed,
		names:      append([]string(nil), names...),
		vars:       make(map[string][]float32, len(names)),
	}
	sort.Strings(c.names)
	for _, name := range c.names {
		c.vars[name] = make([]float32, nt*grid.Size())
	}
	return c, nil
}

// Put copies frame f into time step t. The frame must carry exactly the
// cube's variables, each with one value per grid cell.
func (c *Cube) Put(t int, f *Frame) error {
	if t < 0 || t >= len(c.Times) {
		return errors.Errorf("time step %d out of range [0,%d)", t, len(c.Times))
	}
	if len(f.Vars) != len(c.vars) {
		return errors.Wrapf(ErrShapeMismatch, "frame at %s has %d variables, want %d", f.Time.Format(time.DateOnly), len(f.Vars), len(c.vars))
	}
	ny, nx := len(c.Grid.Y), len(c.Grid.X)
	size := ny * nx
	for name, v := range f.Vars {
		buf, ok := c.vars[name]
		if !ok {
			return errors.Wrapf(ErrShapeMismatch, "frame at %s has unexpected variable %q", f.Time.Format(time.DateOnly), name)
		}
		if len(v) != size {
			return errors.Wrapf(ErrShapeMismatch, "variable %q has %d values, want %d", name, len(v), size)
		}
		dst := buf[t*size : (t+1)*size]
		if !c.Transposed {
			copy(dst, v)
			continue
		}
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				dst[i*ny+j] = v[j*nx+i]
			}
		}
	}
	c.Times[t] = f.Time
	return nil
}

// Var returns the values of a variable, or nil.
func (c *Cube) Var(name string) []float32 {
	return c.vars[name]
}

// DuplicateTimes returns every timestamp that occurs more than once.
func DuplicateTimes(times []time.Time) []time.Time {
	seen := make(map[time.Time]int, len(times))
	var dups []time.Time
	for _, t := range times {
		seen[t]++
		if seen[t] == 2 {
			dups = append(dups, t)
		}
	}
	return dups
}
