// Package source finds the files of a dataset and reads them one time step
// at a time as labeled frames.
package source

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
)

// ErrNoFiles is returned when a directory holds no file matching the
// dataset's pattern.
var ErrNoFiles = errors.New("no matching input files")

// Discover returns the regular files in dir whose names match pattern, in
// lexical order of their paths.
func Discover(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "pattern %q", pattern)
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	files := matches[:0]
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.Wrapf(err, "stat %s", m)
		}
		if fi.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, errors.Wrapf(err, "input directory")
		}
		return nil, errors.Wrapf(ErrNoFiles, "%s in %s", pattern, dir)
	}
	sort.Strings(files)
	return files, nil
}

// Var describes one data variable of a file under its store name.
type Var struct {
	Name  string
	Attrs map[string]any
}

// File is an opened source file. Metadata is available right away. Pixel
// data is only read by Frame.
type File interface {
	Path() string
	Grid() cube.Grid
	// Times returns one timestamp per time step.
	Times() []time.Time
	// Vars lists the data variables in lexical order of their names.
	Vars() []Var
	// Attrs returns the file's global attributes.
	Attrs() map[string]any
	// Frame reads time step i with every sentinel value replaced by NaN.
	Frame(i int) (*cube.Frame, error)
	Close() error
}

// Open opens path as a file of dataset d.
func Open(path string, d catalog.Dataset) (File, error) {
	var (
		f   File
		err error
	)
	switch d.Format {
	case catalog.NetCDF:
		f, err = openNetCDF(path, d)
	case catalog.GeoTIFF:
		f, err = openGeoTIFF(path, d)
	case catalog.HDF5:
		f, err = openHDF5(path, d)
	default:
		return nil, errors.Errorf("unsupported format %q", d.Format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return f, nil
}

// fileTime returns the single timestamp encoded in the name of path.
func fileTime(path string, rule catalog.TimeRule) ([]time.Time, error) {
	t, err := rule.Parse(path)
	if err != nil {
		return nil, err
	}
	return []time.Time{t}, nil
}

// storeName returns the mapping of source variable src and whether the
// dataset selects it.
func storeName(d catalog.Dataset, src string) (catalog.Variable, bool) {
	if len(d.Variables) == 0 {
		for _, drop := range d.DropVariables {
			if drop == src {
				return catalog.Variable{}, false
			}
		}
		return catalog.Variable{Source: src, Name: src}, true
	}
	for _, v := range d.Variables {
		if v.Source == src {
			return v, true
		}
	}
	return catalog.Variable{}, false
}

func sortVars(vars []Var) {
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
