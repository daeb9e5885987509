package convert

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
	"github.com/rtm0/zarrcube/internal/source"
	"github.com/rtm0/zarrcube/internal/zarr"
)

var epoch = time.Unix(0, 0).UTC()

// timeUnits are the encodings tried for the time coordinate, coarsest
// first.
var timeUnits = []struct {
	name string
	step time.Duration
}{
	{"days", 24 * time.Hour},
	{"hours", time.Hour},
	{"minutes", time.Minute},
	{"seconds", time.Second},
}

// Plan is the layout of the output store.
type Plan struct {
	Dataset  string
	Location string
	Files    int

	// Shape, ChunkShape and Dims describe every data variable.
	Shape      []int
	ChunkShape []int
	Dims       []string
	// Blocks is the number of chunk rows along time. Each is written as
	// one task.
	Blocks int

	Times      []time.Time
	TimeUnits  string
	TimeValues []int64

	Grid  cube.Grid
	Vars  []source.Var
	Attrs map[string]any

	d catalog.Dataset
}

// NewPlan lays out the store of dataset d over the sorted index x. Chunk
// sizes larger than an axis are clamped to its length.
func NewPlan(d catalog.Dataset, x *Index) (*Plan, error) {
	if len(x.Entries) == 0 {
		return nil, cube.ErrEmpty
	}
	if d.Chunks.Time < 1 || d.Chunks.Y < 1 || d.Chunks.X < 1 {
		return nil, errors.Errorf("chunk sizes must be positive, got %s", d.Chunks)
	}
	nt, ny, nx := len(x.Entries), len(x.Grid.Y), len(x.Grid.X)
	if ny == 0 || nx == 0 {
		return nil, errors.Errorf("empty grid %dx%d", ny, nx)
	}
	ct, cy, cx := min(d.Chunks.Time, nt), min(d.Chunks.Y, ny), min(d.Chunks.X, nx)

	p := &Plan{
		Dataset:    d.Name,
		Location:   d.Output,
		Files:      len(x.Files),
		Shape:      []int{nt, ny, nx},
		ChunkShape: []int{ct, cy, cx},
		Dims:       []string{d.Axes.Time, d.Axes.Y, d.Axes.X},
		Blocks:     (nt + ct - 1) / ct,
		Times:      x.Times(),
		Grid:       x.Grid,
		Vars:       x.Vars,
		Attrs:      groupAttrs(d, x.Attrs),
		d:          d,
	}
	if d.Transpose {
		p.Shape = []int{nt, nx, ny}
		p.ChunkShape = []int{ct, cx, cy}
		p.Dims = []string{d.Axes.Time, d.Axes.X, d.Axes.Y}
	}
	p.TimeUnits, p.TimeValues = EncodeTimes(p.Times)
	return p, nil
}

// EncodeTimes returns the CF units and integer offsets of times, in the
// coarsest unit since the Unix epoch that represents every timestamp
// exactly.
func EncodeTimes(times []time.Time) (string, []int64) {
	unit := timeUnits[len(timeUnits)-1]
	for _, u := range timeUnits {
		exact := true
		for _, t := range times {
			if t.Sub(epoch)%u.step != 0 {
				exact = false
				break
			}
		}
		if exact {
			unit = u
			break
		}
	}
	values := make([]int64, len(times))
	for i, t := range times {
		values[i] = int64(t.Sub(epoch) / unit.step)
	}
	return unit.name + " since 1970-01-01", values
}

func groupAttrs(d catalog.Dataset, file map[string]any) map[string]any {
	attrs := make(map[string]any, len(file)+len(d.Attrs))
	for k, v := range file {
		attrs[k] = v
	}
	for _, k := range d.DropAttrs {
		delete(attrs, k)
	}
	for k, v := range d.Attrs {
		attrs[k] = v
	}
	return attrs
}

func coordAttrs(name, axis string) map[string]any {
	attrs := map[string]any{"axis": axis}
	switch strings.ToLower(name) {
	case "lat", "latitude":
		attrs["units"] = "degrees_north"
		attrs["standard_name"] = "latitude"
		attrs["long_name"] = "latitude"
	case "lon", "longitude":
		attrs["units"] = "degrees_east"
		attrs["standard_name"] = "longitude"
		attrs["long_name"] = "longitude"
	}
	return attrs
}

// VarNames returns the data variable names in lexical order.
func (p *Plan) VarNames() []string {
	names := make([]string, len(p.Vars))
	for i, v := range p.Vars {
		names[i] = v.Name
	}
	return names
}

// BlockBytes estimates the memory one block task holds: the block buffer of
// every variable, one source frame and the encode buffers of one chunk.
func (p *Plan) BlockBytes() int64 {
	cells := int64(len(p.Grid.Y)) * int64(len(p.Grid.X))
	chunk := int64(p.ChunkShape[0]) * int64(p.ChunkShape[1]) * int64(p.ChunkShape[2])
	return 4 * ((int64(p.ChunkShape[0])+1)*cells*int64(len(p.Vars)) + 4*chunk)
}

// Declare creates every array of the plan in w and writes the coordinate
// arrays, which are small enough to go in one chunk each.
func (p *Plan) Declare(ctx context.Context, w *zarr.Writer) error {
	level, shuffle := p.d.Compression.Level, p.d.Compression.Shuffle
	w.SetAttrs(p.Attrs)

	nt := len(p.Times)
	meta, err := zarr.NewArrayMeta(zarr.Int64, []int{nt}, []int{nt}, level, shuffle)
	if err != nil {
		return err
	}
	timeAttrs := map[string]any{
		"units":         p.TimeUnits,
		"calendar":      "proleptic_gregorian",
		"standard_name": "time",
	}
	if err := w.CreateArray(ctx, p.d.Axes.Time, meta, []string{p.d.Axes.Time}, timeAttrs); err != nil {
		return err
	}
	if err := zarr.WriteArray(ctx, w, p.d.Axes.Time, p.TimeValues); err != nil {
		return err
	}

	for _, c := range []struct {
		name, axis string
		values     []float64
	}{
		{p.d.Axes.Y, "Y", p.Grid.Y},
		{p.d.Axes.X, "X", p.Grid.X},
	} {
		n := len(c.values)
		meta, err := zarr.NewArrayMeta(zarr.Float64, []int{n}, []int{n}, level, shuffle)
		if err != nil {
			return err
		}
		if err := w.CreateArray(ctx, c.name, meta, []string{c.name}, coordAttrs(c.name, c.axis)); err != nil {
			return err
		}
		if err := zarr.WriteArray(ctx, w, c.name, c.values); err != nil {
			return err
		}
	}

	for _, v := range p.Vars {
		meta, err := zarr.NewArrayMeta(zarr.Float32, p.Shape, p.ChunkShape, level, shuffle)
		if err != nil {
			return err
		}
		if err := w.CreateArray(ctx, v.Name, meta, p.Dims, v.Attrs); err != nil {
			return errors.Wrapf(err, "variable %s", v.Name)
		}
	}
	return nil
}

// Summary writes a human-readable description of the plan to out.
func (p *Plan) Summary(out io.Writer) error {
	first, last := p.Times[0], p.Times[len(p.Times)-1]
	var b strings.Builder
	fmt.Fprintf(&b, "dataset:     %s\n", p.Dataset)
	fmt.Fprintf(&b, "output:      %s\n", p.Location)
	fmt.Fprintf(&b, "files:       %d\n", p.Files)
	fmt.Fprintf(&b, "time steps:  %d (%s to %s)\n", len(p.Times), first.Format(time.DateOnly), last.Format(time.DateOnly))
	fmt.Fprintf(&b, "time units:  %s\n", p.TimeUnits)
	fmt.Fprintf(&b, "dimensions:  %s\n", strings.Join(p.Dims, ", "))
	fmt.Fprintf(&b, "shape:       %v\n", p.Shape)
	fmt.Fprintf(&b, "chunks:      %v\n", p.ChunkShape)
	fmt.Fprintf(&b, "blocks:      %d\n", p.Blocks)
	fmt.Fprintf(&b, "memory:      %.1f MiB per block\n", float64(p.BlockBytes())/(1<<20))
	fmt.Fprintf(&b, "compression: zstd level %d, shuffle %t\n", p.d.Compression.Level, p.d.Compression.Shuffle)
	fmt.Fprintf(&b, "variables:   %s\n", strings.Join(p.VarNames(), ", "))
	_, err := io.WriteString(out, b.String())
	return err
}
