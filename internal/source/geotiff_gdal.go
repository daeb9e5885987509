//go:build gdal

package source

import (
	"strconv"
	"sync"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
)

var registerOnce sync.Once

func init() {
	openGeoTIFF = openGDAL
	hasGDAL = true
}

// gdalFile reads any band of a GeoTIFF through GDAL and georeferences it
// with the file's own geotransform.
type gdalFile struct {
	path      string
	ds        *godal.Dataset
	grid      cube.Grid
	times     []time.Time
	bands     []gdalBand
	sentinels []float64
}

type gdalBand struct {
	Var
	band   godal.Band
	nodata []float64
}

func openGDAL(path string, d catalog.Dataset) (File, error) {
	registerOnce.Do(godal.RegisterAll)
	ds, err := godal.Open(path)
	if err != nil {
		return nil, err
	}
	f := &gdalFile{path: path, ds: ds, sentinels: d.FillValues}
	if err := f.init(d); err != nil {
		ds.Close()
		return nil, err
	}
	return f, nil
}

func (f *gdalFile) init(d catalog.Dataset) error {
	var err error
	if f.times, err = fileTime(f.path, d.Time); err != nil {
		return err
	}
	st := f.ds.Structure()
	if gt, err := f.ds.GeoTransform(); err == nil && gt[1] != 0 && gt[5] != 0 {
		f.grid.Y = make([]float64, st.SizeY)
		f.grid.X = make([]float64, st.SizeX)
		for j := range f.grid.Y {
			f.grid.Y[j] = gt[3] + (float64(j)+0.5)*gt[5]
		}
		for i := range f.grid.X {
			f.grid.X[i] = gt[0] + (float64(i)+0.5)*gt[1]
		}
	} else if d.Grid != nil {
		f.grid.Y, f.grid.X = d.Grid.Centers(st.SizeY, st.SizeX)
	} else {
		return errors.New("tile has no geotransform and the dataset no grid extent")
	}

	bands := f.ds.Bands()
	for _, v := range d.Variables {
		n, err := strconv.Atoi(v.Source)
		if err != nil || n < 1 || n > len(bands) {
			return errors.Errorf("band %q out of range 1..%d", v.Source, len(bands))
		}
		b := gdalBand{Var: Var{Name: v.Name, Attrs: copyAttrs(v.Attrs)}, band: bands[n-1]}
		if nd, ok := b.band.NoData(); ok {
			b.nodata = []float64{nd}
		}
		f.bands = append(f.bands, b)
	}
	return nil
}

func (f *gdalFile) Path() string       { return f.path }
func (f *gdalFile) Grid() cube.Grid    { return f.grid }
func (f *gdalFile) Times() []time.Time { return f.times }

func (f *gdalFile) Attrs() map[string]any { return map[string]any{} }

func (f *gdalFile) Vars() []Var {
	vars := make([]Var, len(f.bands))
	for i, b := range f.bands {
		vars[i] = Var{Name: b.Name, Attrs: copyAttrs(b.Attrs)}
	}
	sortVars(vars)
	return vars
}

func (f *gdalFile) Frame(i int) (*cube.Frame, error) {
	if i != 0 {
		return nil, errors.Errorf("%s: time step %d out of range [0,1)", f.path, i)
	}
	nx, ny := len(f.grid.X), len(f.grid.Y)
	fr := &cube.Frame{Time: f.times[0], Vars: make(map[string][]float32, len(f.bands))}
	for _, b := range f.bands {
		data := make([]float32, nx*ny)
		if err := b.band.Read(0, 0, data, nx, ny); err != nil {
			return nil, errors.Wrapf(err, "%s: read %s", f.path, b.Name)
		}
		cube.Mask(data, append(b.nodata, f.sentinels...))
		fr.Vars[b.Name] = data
	}
	return fr, nil
}

func (f *gdalFile) Close() error {
	return f.ds.Close()
}
