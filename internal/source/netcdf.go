package source

import (
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
)

// Attributes that describe the missing-value encoding of a variable. They
// select cells to mask and are not carried to the store, where NaN is the
// fill value.
var fillAttrs = []string{"_FillValue", "missing_value"}

// netcdfFile reads a NetCDF3 or NetCDF4 file one time step at a time.
type netcdfFile struct {
	path  string
	nc    api.Group
	grid  cube.Grid
	times []time.Time
	vars  []netcdfVar
	attrs map[string]any
}

type netcdfVar struct {
	Var
	vg      api.VarGetter
	timed   bool
	missing []float64
}

func openNetCDF(path string, d catalog.Dataset) (File, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	f := &netcdfFile{path: path, nc: nc}
	if err := f.init(d); err != nil {
		nc.Close()
		return nil, err
	}
	return f, nil
}

func (f *netcdfFile) init(d catalog.Dataset) error {
	var err error
	if f.grid.Y, err = dimValues(f.nc, d.Axes.SourceY); err != nil {
		return err
	}
	if f.grid.X, err = dimValues(f.nc, d.Axes.SourceX); err != nil {
		return err
	}
	if d.Time.FromCoordinate() {
		if f.times, err = coordinateTimes(f.nc, d.Axes.SourceTime); err != nil {
			return err
		}
	} else if f.times, err = fileTime(f.path, d.Time); err != nil {
		return err
	}

	f.attrs, _ = varAttrs(f.nc.Attributes(), d.DropAttrs)

	timed := []string{d.Axes.SourceTime, d.Axes.SourceY, d.Axes.SourceX}
	static := timed[1:]
	sentinels := d.FillValues
	for _, name := range f.nc.ListVariables() {
		mapping, ok := storeName(d, name)
		if !ok || name == d.Axes.SourceTime || name == d.Axes.SourceY || name == d.Axes.SourceX {
			continue
		}
		vg, err := f.nc.GetVarGetter(name)
		if err != nil {
			return errors.Wrapf(err, "variable %s", name)
		}
		dims := vg.Dimensions()
		v := netcdfVar{vg: vg}
		switch {
		case equalDims(dims, timed):
			v.timed = true
			if n := int(vg.Len()); n != len(f.times) {
				return errors.Wrapf(cube.ErrShapeMismatch, "variable %s has %d time steps, the file has %d", name, n, len(f.times))
			}
		case equalDims(dims, static):
			// Repeated at every time step of the file.
		default:
			if len(d.Variables) > 0 {
				return errors.Wrapf(cube.ErrShapeMismatch, "variable %s has dimensions %v, want %v or %v", name, dims, timed, static)
			}
			continue
		}
		v.Name = mapping.Name
		v.Attrs, v.missing = varAttrs(vg.Attributes(), d.DropAttrs)
		v.missing = append(v.missing, sentinels...)
		for k, val := range mapping.Attrs {
			v.Attrs[k] = val
		}
		f.vars = append(f.vars, v)
	}
	for _, m := range d.Variables {
		if !f.has(m.Name) {
			return errors.Errorf("variable %s not found", m.Source)
		}
	}
	if len(f.vars) == 0 {
		return errors.Errorf("no variable over (%s, %s)", d.Axes.SourceY, d.Axes.SourceX)
	}
	return nil
}

func (f *netcdfFile) has(name string) bool {
	for _, v := range f.vars {
		if v.Name == name {
			return true
		}
	}
	return false
}

// dimValues reads a 1-D coordinate variable as float64 whatever its type.
func dimValues(nc api.Group, dimName string) ([]float64, error) {
	dim, err := nc.GetVarGetter(dimName)
	if err != nil {
		return nil, errors.Wrapf(err, "coordinate %s", dimName)
	}
	v, err := dim.Values()
	if err != nil {
		return nil, errors.Wrapf(err, "coordinate %s", dimName)
	}
	return flatten[float64](v)
}

func coordinateTimes(nc api.Group, name string) ([]time.Time, error) {
	vals, err := dimValues(nc, name)
	if err != nil {
		return nil, err
	}
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	units, ok := vg.Attributes().Get("units")
	if !ok {
		return nil, errors.Errorf("coordinate %s has no units", name)
	}
	s, ok := units.(string)
	if !ok {
		return nil, errors.Errorf("coordinate %s units %v are not text", name, units)
	}
	return DecodeCFTime(vals, s)
}

// varAttrs converts a variable's attributes, leaving out drop and the
// missing-value attributes, whose values are returned separately.
func varAttrs(am api.AttributeMap, drop []string) (map[string]any, []float64) {
	attrs := map[string]any{}
	var missing []float64
	if am == nil {
		return attrs, nil
	}
keys:
	for _, k := range am.Keys() {
		v, _ := am.Get(k)
		for _, fa := range fillAttrs {
			if k == fa {
				missing = append(missing, attrFloats(v)...)
				continue keys
			}
		}
		for _, dk := range drop {
			if k == dk {
				continue keys
			}
		}
		attrs[k] = attrValue(v)
	}
	return attrs, missing
}

func equalDims(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *netcdfFile) Path() string       { return f.path }
func (f *netcdfFile) Grid() cube.Grid    { return f.grid }
func (f *netcdfFile) Times() []time.Time { return f.times }

func (f *netcdfFile) Attrs() map[string]any { return copyAttrs(f.attrs) }

func (f *netcdfFile) Vars() []Var {
	vars := make([]Var, len(f.vars))
	for i, v := range f.vars {
		vars[i] = Var{Name: v.Name, Attrs: copyAttrs(v.Attrs)}
	}
	sortVars(vars)
	return vars
}

// Frame reads time step i of every variable. Variables without a time axis
// are read whole.
func (f *netcdfFile) Frame(i int) (*cube.Frame, error) {
	if i < 0 || i >= len(f.times) {
		return nil, errors.Errorf("%s: time step %d out of range [0,%d)", f.path, i, len(f.times))
	}
	fr := &cube.Frame{Time: f.times[i], Vars: make(map[string][]float32, len(f.vars))}
	for _, v := range f.vars {
		var (
			raw any
			err error
		)
		if v.timed {
			begin := int64(i)
			raw, err = v.vg.GetSlice(begin, begin+1)
		} else {
			raw, err = v.vg.Values()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: read %s", f.path, v.Name)
		}
		data, err := flatten[float32](raw)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: convert %s", f.path, v.Name)
		}
		if len(data) != f.grid.Size() {
			return nil, errors.Wrapf(cube.ErrShapeMismatch, "%s: %s has %d values per time step, want %d", f.path, v.Name, len(data), f.grid.Size())
		}
		cube.Mask(data, v.missing)
		fr.Vars[v.Name] = data
	}
	return fr, nil
}

func (f *netcdfFile) Close() error {
	f.nc.Close()
	return nil
}
