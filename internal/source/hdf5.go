package source

import (
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/scigolib/hdf5"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
)

// hdf5File reads 2-D datasets of an HDF5 file gridded by two 1-D
// coordinate datasets. Each file is one time step.
type hdf5File struct {
	path  string
	f     *hdf5.File
	grid  cube.Grid
	times []time.Time
	vars  []hdf5Var
}

type hdf5Var struct {
	Var
	ds      *hdf5.Dataset
	missing []float64
}

func openHDF5(path string, d catalog.Dataset) (File, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, err
	}
	hf := &hdf5File{path: path, f: f}
	if err := hf.init(d); err != nil {
		f.Close()
		return nil, err
	}
	return hf, nil
}

func datasetPath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + name
}

func (hf *hdf5File) init(d catalog.Dataset) error {
	if len(d.Variables) == 0 {
		return errors.New("hdf5 sources need a variable mapping")
	}
	datasets := map[string]*hdf5.Dataset{}
	hf.f.Walk(func(p string, obj hdf5.Object) {
		if ds, ok := obj.(*hdf5.Dataset); ok {
			datasets[p] = ds
		}
	})
	lookup := func(name string) (*hdf5.Dataset, error) {
		ds, ok := datasets[datasetPath(name)]
		if !ok {
			return nil, errors.Errorf("dataset %s not found", datasetPath(name))
		}
		return ds, nil
	}

	var err error
	for _, axis := range []struct {
		name string
		dst  *[]float64
	}{{d.Axes.SourceY, &hf.grid.Y}, {d.Axes.SourceX, &hf.grid.X}} {
		ds, err := lookup(axis.name)
		if err != nil {
			return err
		}
		if *axis.dst, err = ds.Read(); err != nil {
			return errors.Wrapf(err, "coordinate %s", axis.name)
		}
	}
	if hf.times, err = fileTime(hf.path, d.Time); err != nil {
		return err
	}
	for _, m := range d.Variables {
		ds, err := lookup(m.Source)
		if err != nil {
			return err
		}
		v := hdf5Var{ds: ds, Var: Var{Name: m.Name}}
		v.Attrs, v.missing = splitAttrs(hdf5Attrs(ds), d.DropAttrs)
		v.missing = append(v.missing, d.FillValues...)
		for k, val := range m.Attrs {
			v.Attrs[k] = val
		}
		hf.vars = append(hf.vars, v)
	}
	return nil
}

// hdf5Attr is one attribute of a dataset, decoded.
type hdf5Attr struct {
	name  string
	value any
}

func hdf5Attrs(ds *hdf5.Dataset) []hdf5Attr {
	list, err := ds.Attributes()
	if err != nil {
		return nil
	}
	out := make([]hdf5Attr, 0, len(list))
	for _, a := range list {
		v, err := a.ReadValue()
		if err != nil {
			continue
		}
		out = append(out, hdf5Attr{name: a.Name, value: v})
	}
	return out
}

// splitAttrs separates the no-data attributes from the rest, leaving out
// those named in drop.
func splitAttrs(list []hdf5Attr, drop []string) (map[string]any, []float64) {
	attrs := map[string]any{}
	var missing []float64
	for _, a := range list {
		switch {
		case slices.Contains(fillAttrs, a.name):
			missing = append(missing, attrFloats(a.value)...)
		case slices.Contains(drop, a.name):
		default:
			attrs[a.name] = attrValue(a.value)
		}
	}
	return attrs, missing
}

func (hf *hdf5File) Path() string       { return hf.path }
func (hf *hdf5File) Grid() cube.Grid    { return hf.grid }
func (hf *hdf5File) Times() []time.Time { return hf.times }

func (hf *hdf5File) Attrs() map[string]any { return map[string]any{} }

func (hf *hdf5File) Vars() []Var {
	vars := make([]Var, len(hf.vars))
	for i, v := range hf.vars {
		vars[i] = Var{Name: v.Name, Attrs: copyAttrs(v.Attrs)}
	}
	sortVars(vars)
	return vars
}

func (hf *hdf5File) Frame(i int) (*cube.Frame, error) {
	if i != 0 {
		return nil, errors.Errorf("%s: time step %d out of range [0,1)", hf.path, i)
	}
	fr := &cube.Frame{Time: hf.times[0], Vars: make(map[string][]float32, len(hf.vars))}
	for _, v := range hf.vars {
		raw, err := v.ds.Read()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: read %s", hf.path, v.Name)
		}
		if len(raw) != hf.grid.Size() {
			return nil, errors.Wrapf(cube.ErrShapeMismatch, "%s: %s has %d values, want %d", hf.path, v.Name, len(raw), hf.grid.Size())
		}
		data := appendConv(make([]float32, 0, len(raw)), raw)
		cube.Mask(data, v.missing)
		fr.Vars[v.Name] = data
	}
	return fr, nil
}

func (hf *hdf5File) Close() error {
	return hf.f.Close()
}
