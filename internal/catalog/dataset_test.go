package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDatasetsAreValid(t *testing.T) {
	c := New()
	for _, name := range c.Names() {
		d, err := c.Lookup(name)
		require.NoError(t, err)
		assert.NoError(t, d.Validate(), name)
	}
}

func TestLookupAppliesDefaults(t *testing.T) {
	d, err := New().Lookup("gimms-lai4g")
	require.NoError(t, err)
	assert.Equal(t, "*.tif", d.Pattern)
	assert.Equal(t, Axes{Time: "time", Y: "lat", X: "lon", SourceTime: "time", SourceY: "lat", SourceX: "lon"}, d.Axes)
	assert.Equal(t, Chunks{Time: 1, Y: 2160, X: 4320}, d.Chunks)
	assert.Equal(t, []float64{65535}, d.FillValues)

	d, err = New().Lookup("netcdf")
	require.NoError(t, err)
	assert.Equal(t, "latitude", d.Axes.SourceY)
	assert.Equal(t, "longitude", d.Axes.X)
}

func TestLookupUnknown(t *testing.T) {
	_, err := New().Lookup("modis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gimms-lai4g")
}

func TestValidate(t *testing.T) {
	base, err := New().Lookup("tcsif")
	require.NoError(t, err)

	d := base
	d.Chunks.Y = 0
	assert.Error(t, d.Validate())

	d = base
	d.Format = "grib"
	assert.Error(t, d.Validate())

	d = base
	d.Time = TimeRule{Layout: LayoutCoordinate}
	assert.Error(t, d.Validate())

	d = base
	d.Variables = nil
	assert.Error(t, d.Validate())

	d = base
	d.Compression.Level = 40
	assert.Error(t, d.Validate())
}

func TestExtentCenters(t *testing.T) {
	y, x := Extent{West: -180, North: 90, Resolution: 0.5}.Centers(360, 720)
	require.Len(t, y, 360)
	require.Len(t, x, 720)
	assert.Equal(t, 89.75, y[0])
	assert.Equal(t, -89.75, y[359])
	assert.Equal(t, -179.75, x[0])
	assert.Equal(t, 179.75, x[719])
}

const extraCatalog = `
[[dataset]]
name = "modis-lai"
format = "hdf5"
input_dir = "MOD15A2H"
output = "mod15.zarr"
fill_values = [255.0, 254.0]

[dataset.time]
layout = "doy"
token = 1

[[dataset.variables]]
source = "/Lai_500m"
name = "LAI"
[dataset.variables.attrs]
units = "m2/m2"
valid_range = [0, 100]

[dataset.chunks]
time = 1
y = 512
x = 512

[dataset.compression]
level = 7
shuffle = true

[dataset.attrs]
title = "MODIS LAI"
`

func TestLoad(t *testing.T) {
	ds, err := Load(strings.NewReader(extraCatalog))
	require.NoError(t, err)
	require.Len(t, ds, 1)

	d := ds[0]
	assert.Equal(t, "modis-lai", d.Name)
	assert.Equal(t, HDF5, d.Format)
	assert.Equal(t, []float64{255, 254}, d.FillValues)
	assert.Equal(t, TimeRule{Layout: LayoutDayOfYear, Token: 1}, d.Time)
	assert.Equal(t, Chunks{Time: 1, Y: 512, X: 512}, d.Chunks)
	assert.Equal(t, Compression{Level: 7, Shuffle: true}, d.Compression)
	require.Len(t, d.Variables, 1)
	assert.Equal(t, "LAI", d.Variables[0].Name)
	assert.Equal(t, "m2/m2", d.Variables[0].Attrs["units"])
	assert.Equal(t, "MODIS LAI", d.Attrs["title"])

	c := New(ds...)
	got, err := c.Lookup("modis-lai")
	require.NoError(t, err)
	assert.Equal(t, "*.h5", got.Pattern)
	assert.Contains(t, c.Names(), "gimms-ndvi")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(extraCatalog), 0o644))
	ds, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, ds, 1)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[[dataset]]\nname = \"x\"\nformat = \"netcdf\"\n"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, bad)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader(extraCatalog + "\n[[dataset]]\nname = \"x\"\nformat = \"netcdf\"\nchunk = 3\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidDataset(t *testing.T) {
	_, err := Load(strings.NewReader("[[dataset]]\nname = \"x\"\nformat = \"netcdf\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk sizes")
}
