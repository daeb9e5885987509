// Package sourcetest writes small NetCDF, TIFF and HDF5 files for tests.
package sourcetest

import (
	"image"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/scigolib/hdf5"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

// Var is one NetCDF variable. Data is a flat []float32, []float64,
// []int32 or []int16 in row-major order; Attrs values are strings or such
// slices.
type Var struct {
	Name  string
	Dims  []string
	Data  any
	Attrs map[string]any
}

// NetCDF describes a NetCDF3 file.
type NetCDF struct {
	Dims  []string
	Lens  []int
	Vars  []Var
	Attrs map[string]any
}

// WriteNetCDF writes nc to path.
func WriteNetCDF(t testing.TB, path string, nc NetCDF) {
	t.Helper()
	h := cdf.NewHeader(nc.Dims, nc.Lens)
	for k, v := range nc.Attrs {
		h.AddAttribute("", k, v)
	}
	for _, v := range nc.Vars {
		template := reflect.MakeSlice(reflect.TypeOf(v.Data), 1, 1).Interface()
		h.AddVariable(v.Name, v.Dims, template)
		for k, a := range v.Attrs {
			h.AddAttribute(v.Name, k, a)
		}
	}
	h.Define()

	ff, err := os.Create(path)
	require.NoError(t, err)
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	require.NoError(t, err)
	for _, v := range nc.Vars {
		end := f.Header.Lengths(v.Name)
		start := make([]int, len(end))
		_, err := f.Writer(v.Name, start, end).Write(v.Data)
		require.NoError(t, err, v.Name)
	}
	require.NoError(t, cdf.UpdateNumRecs(ff))
}

// Grid returns coordinates 0..n-1 for ny rows and nx columns, rows
// descending as in north-up rasters.
func Grid(ny, nx int) (y, x []float64) {
	y = make([]float64, ny)
	x = make([]float64, nx)
	for j := range y {
		y[j] = float64(ny - 1 - j)
	}
	for i := range x {
		x[i] = float64(i)
	}
	return y, x
}

// WriteGray16 writes a single-band 16 bit TIFF of width w holding values
// in row-major order.
func WriteGray16(t testing.TB, path string, w int, values []uint16) {
	t.Helper()
	h := len(values) / w
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i, v := range values {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}))
}

// HDF5Var is one 2-D float32 dataset.
type HDF5Var struct {
	Path string
	Data []float32
}

// WriteHDF5 writes 1-D float64 coordinate datasets yName and xName and
// the given ny by nx datasets to path.
func WriteHDF5(t testing.TB, path, yName string, y []float64, xName string, x []float64, vars ...HDF5Var) {
	t.Helper()
	fw, err := hdf5.CreateForWrite(path, hdf5.CreateTruncate)
	require.NoError(t, err)
	for _, c := range []struct {
		name string
		v    []float64
	}{{yName, y}, {xName, x}} {
		dw, err := fw.CreateDataset("/"+strings.TrimPrefix(c.name, "/"), hdf5.Float64, []uint64{uint64(len(c.v))})
		require.NoError(t, err)
		require.NoError(t, dw.Write(c.v))
	}
	for _, v := range vars {
		dw, err := fw.CreateDataset(v.Path, hdf5.Float32, []uint64{uint64(len(y)), uint64(len(x))})
		require.NoError(t, err)
		require.NoError(t, dw.Write(v.Data))
	}
	require.NoError(t, fw.Close())
}
