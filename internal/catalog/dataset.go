// Package catalog describes the datasets zarrcube knows how to convert. Each
// dataset is a declarative record: where its files live, how a file name
// encodes time, which codes mean "no data", how variables and axes are named
// in the store and how the store is chunked and compressed.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Format is the file format of a dataset's source files.
type Format string

// Supported source formats.
const (
	NetCDF  Format = "netcdf"
	GeoTIFF Format = "geotiff"
	HDF5    Format = "hdf5"
)

// Dataset is the complete description of one conversion.
type Dataset struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Format      Format `toml:"format"`
	InputDir    string `toml:"input_dir"`
	Pattern     string `toml:"pattern"`
	Output      string `toml:"output"`

	Time       TimeRule  `toml:"time"`
	FillValues []float64 `toml:"fill_values"`

	// Variables selects and renames source variables. For GeoTIFF sources
	// Source is the 1-based band number. An empty list keeps every variable
	// under its source name.
	Variables     []Variable `toml:"variables"`
	DropVariables []string   `toml:"drop_variables"`
	DropAttrs     []string   `toml:"drop_attrs"`

	Axes      Axes `toml:"axes"`
	Transpose bool `toml:"transpose"`

	Chunks      Chunks      `toml:"chunks"`
	Compression Compression `toml:"compression"`

	Attrs map[string]any `toml:"attrs"`
	// Grid georeferences tiles whose own georeferencing cannot be read.
	Grid *Extent `toml:"grid"`
	// FloatSamples marks GeoTIFF tiles holding floating point samples.
	FloatSamples bool `toml:"float_samples"`
}

// Variable maps a source variable or band to its name in the store.
type Variable struct {
	Source string         `toml:"source"`
	Name   string         `toml:"name"`
	Attrs  map[string]any `toml:"attrs"`
}

// Axes names the time and spatial axes in the source files and in the store.
type Axes struct {
	Time string `toml:"time"`
	Y    string `toml:"y"`
	X    string `toml:"x"`

	SourceTime string `toml:"source_time"`
	SourceY    string `toml:"source_y"`
	SourceX    string `toml:"source_x"`
}

// Chunks is the chunk descriptor applied to every data variable.
type Chunks struct {
	Time int `toml:"time"`
	Y    int `toml:"y"`
	X    int `toml:"x"`
}

// String formats the descriptor as time,y,x.
func (c Chunks) String() string {
	return fmt.Sprintf("%d,%d,%d", c.Time, c.Y, c.X)
}

// Compression configures the zstd codec and the byte-shuffle filter.
type Compression struct {
	Level   int  `toml:"level"`
	Shuffle bool `toml:"shuffle"`
}

// Extent places a regular global or regional grid: the outer edges of the
// top-left pixel and the pixel size in degrees.
type Extent struct {
	West       float64 `toml:"west"`
	North      float64 `toml:"north"`
	Resolution float64 `toml:"resolution"`
}

// Centers returns the pixel-centre coordinates of an ny by nx grid.
func (e Extent) Centers(ny, nx int) (y, x []float64) {
	y = make([]float64, ny)
	x = make([]float64, nx)
	for j := range y {
		y[j] = e.North - (float64(j)+0.5)*e.Resolution
	}
	for i := range x {
		x[i] = e.West + (float64(i)+0.5)*e.Resolution
	}
	return y, x
}

// WithDefaults fills unset axis names, pattern and compression level.
func (d Dataset) WithDefaults() Dataset {
	if d.Axes.Time == "" {
		d.Axes.Time = "time"
	}
	if d.Axes.Y == "" {
		d.Axes.Y = "lat"
	}
	if d.Axes.X == "" {
		d.Axes.X = "lon"
	}
	if d.Axes.SourceTime == "" {
		d.Axes.SourceTime = "time"
	}
	if d.Axes.SourceY == "" {
		d.Axes.SourceY = d.Axes.Y
	}
	if d.Axes.SourceX == "" {
		d.Axes.SourceX = d.Axes.X
	}
	if d.Pattern == "" {
		switch d.Format {
		case GeoTIFF:
			d.Pattern = "*.tif"
		case HDF5:
			d.Pattern = "*.h5"
		default:
			d.Pattern = "*.nc"
		}
	}
	if d.Compression.Level == 0 {
		d.Compression.Level = 3
	}
	if d.Time.Layout == "" {
		d.Time.Layout = LayoutCoordinate
	}
	return d
}

// Validate reports configuration errors that would otherwise surface late
// in a run.
func (d Dataset) Validate() error {
	if d.Name == "" {
		return errors.New("dataset has no name")
	}
	switch d.Format {
	case NetCDF, GeoTIFF, HDF5:
	default:
		return errors.Errorf("dataset %s: unknown format %q", d.Name, d.Format)
	}
	if d.Chunks.Time < 1 || d.Chunks.Y < 1 || d.Chunks.X < 1 {
		return errors.Errorf("dataset %s: chunk sizes must be positive, got %s", d.Name, d.Chunks)
	}
	if d.Compression.Level < 1 || d.Compression.Level > 22 {
		return errors.Errorf("dataset %s: zstd level %d out of range 1..22", d.Name, d.Compression.Level)
	}
	if err := d.Time.validate(); err != nil {
		return errors.Wrapf(err, "dataset %s", d.Name)
	}
	if d.Time.FromCoordinate() && d.Format != NetCDF {
		return errors.Errorf("dataset %s: only netcdf sources carry a time coordinate", d.Name)
	}
	if d.Format == GeoTIFF && len(d.Variables) == 0 {
		return errors.Errorf("dataset %s: geotiff sources need a band to variable mapping", d.Name)
	}
	if d.Format == HDF5 && len(d.Variables) == 0 {
		return errors.Errorf("dataset %s: hdf5 sources need a dataset to variable mapping", d.Name)
	}
	seen := make(map[string]bool, len(d.Variables))
	for _, v := range d.Variables {
		if v.Source == "" || v.Name == "" {
			return errors.Errorf("dataset %s: variable mapping %+v is incomplete", d.Name, v)
		}
		if seen[v.Name] {
			return errors.Errorf("dataset %s: variable %q mapped twice", d.Name, v.Name)
		}
		seen[v.Name] = true
	}
	if d.Grid != nil && d.Grid.Resolution <= 0 {
		return errors.Errorf("dataset %s: grid resolution must be positive", d.Name)
	}
	return nil
}

// Catalog is a set of datasets addressable by name.
type Catalog struct {
	datasets map[string]Dataset
}

// New returns a catalog holding the built-in datasets followed by extra,
// where a later definition replaces an earlier one of the same name.
func New(extra ...Dataset) *Catalog {
	c := &Catalog{datasets: make(map[string]Dataset)}
	for _, d := range Builtin() {
		c.datasets[d.Name] = d
	}
	for _, d := range extra {
		c.datasets[d.Name] = d
	}
	return c
}

// Lookup returns the named dataset with defaults applied.
func (c *Catalog) Lookup(name string) (Dataset, error) {
	d, ok := c.datasets[name]
	if !ok {
		return Dataset{}, errors.Errorf("unknown dataset %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return d.WithDefaults(), nil
}

// Names returns all dataset names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
