package convert

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
	"github.com/rtm0/zarrcube/internal/source"
	"github.com/rtm0/zarrcube/internal/source/sourcetest"
	"github.com/rtm0/zarrcube/internal/zarr"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func laiDataset() catalog.Dataset {
	return catalog.Dataset{
		Name:        "lai",
		Format:      catalog.GeoTIFF,
		Time:        catalog.TimeRule{Layout: catalog.LayoutHalfMonth, Token: -1},
		FillValues:  []float64{65535},
		Variables:   []catalog.Variable{{Source: "1", Name: "LAI", Attrs: map[string]any{"units": "m2/m2"}}},
		Chunks:      catalog.Chunks{Time: 2, Y: 2, X: 3},
		Compression: catalog.Compression{Level: 3, Shuffle: true},
		Attrs:       map[string]any{"title": "test LAI"},
		Grid:        &catalog.Extent{West: -180, North: 90, Resolution: 90},
	}
}

// writeTiles writes three 4x2 tiles. Lexical file order differs from time
// order; tile k holds 10k+i at pixel i, except pixel 3 of the second tile
// which is the no-data code.
func writeTiles(t *testing.T) string {
	dir := t.TempDir()
	for k, name := range []string{"b_20200101.tif", "c_20200115.tif", "a_20200201.tif"} {
		values := make([]uint16, 8)
		for i := range values {
			values[i] = uint16(10*k + i)
		}
		if k == 1 {
			values[3] = 65535
		}
		sourcetest.WriteGray16(t, filepath.Join(dir, name), 4, values)
	}
	return dir
}

func newConverter(opts Options) (*Converter, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return New(log, opts, nil), hook
}

func openGroup(t *testing.T, location string) *zarr.Group {
	t.Helper()
	store, closeStore, err := zarr.Open(context.Background(), location)
	require.NoError(t, err)
	t.Cleanup(func() { closeStore() })
	g, err := zarr.OpenConsolidated(context.Background(), store)
	require.NoError(t, err)
	return g
}

func TestRunGeoTIFF(t *testing.T) {
	ctx := context.Background()
	in := writeTiles(t)
	out := filepath.Join(t.TempDir(), "lai.zarr")
	c, _ := newConverter(Options{InputDir: in, Output: out, Workers: 2})

	res, err := c.Run(ctx, laiDataset())
	require.NoError(t, err)
	assert.Equal(t, out, res.Location)
	assert.Equal(t, []int{3, 2, 4}, res.Plan.Shape)
	assert.Equal(t, []int{2, 2, 3}, res.Plan.ChunkShape)
	assert.Equal(t, 2, res.Plan.Blocks)

	g := openGroup(t, out)
	assert.Equal(t, []string{"LAI", "lat", "lon", "time"}, g.Names())
	attrs, err := g.Attrs()
	require.NoError(t, err)
	assert.Equal(t, "test LAI", attrs["title"])

	tm, err := g.Array("time")
	require.NoError(t, err)
	days, err := zarr.ReadArray[int64](ctx, tm)
	require.NoError(t, err)
	assert.Equal(t, []int64{18269, 18284, 18300}, days)
	assert.Equal(t, "days since 1970-01-01", tm.Attrs["units"])
	assert.Equal(t, "proleptic_gregorian", tm.Attrs["calendar"])

	lon, err := g.Array("lon")
	require.NoError(t, err)
	x, err := zarr.ReadArray[float64](ctx, lon)
	require.NoError(t, err)
	assert.Equal(t, []float64{-135, -45, 45, 135}, x)
	assert.Equal(t, "degrees_east", lon.Attrs["units"])

	a, err := g.Array("LAI")
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "lat", "lon"}, a.Dimensions())
	assert.Equal(t, "m2/m2", a.Attrs["units"])
	lai, err := zarr.ReadArray[float32](ctx, a)
	require.NoError(t, err)
	require.Len(t, lai, 24)
	for k := 0; k < 3; k++ {
		for i := 0; i < 8; i++ {
			v := lai[8*k+i]
			if k == 1 && i == 3 {
				assert.True(t, math.IsNaN(float64(v)))
				continue
			}
			assert.Equal(t, float32(10*k+i), v, "step %d pixel %d", k, i)
		}
	}

	require.Len(t, res.Stats, 1)
	st := res.Stats[0]
	assert.Equal(t, "LAI", st.Name)
	assert.Equal(t, 23, st.Valid)
	assert.Equal(t, 1, st.Missing)
	assert.Equal(t, 0.0, st.Min)
	assert.Equal(t, 27.0, st.Max)

	snap := c.Status().Snapshot()
	assert.Equal(t, StageDone, snap.Stage)
	assert.Equal(t, 2, snap.BlocksDone)
	assert.Equal(t, 2, snap.BlocksTotal)
	assert.Positive(t, snap.Chunks)
	assert.Positive(t, snap.Bytes)
	assert.Positive(t, snap.Writing)
}

func TestRunOverwriteAndDeterminism(t *testing.T) {
	ctx := context.Background()
	in := writeTiles(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.zarr")
	second := filepath.Join(dir, "second.zarr")

	c, _ := newConverter(Options{InputDir: in, Output: first})
	_, err := c.Run(ctx, laiDataset())
	require.NoError(t, err)

	_, err = c.Run(ctx, laiDataset())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageWrite, se.Stage)
	assert.ErrorIs(t, err, zarr.ErrExists)

	c, _ = newConverter(Options{InputDir: in, Output: first, Overwrite: true, Workers: 1})
	_, err = c.Run(ctx, laiDataset())
	require.NoError(t, err)
	c, _ = newConverter(Options{InputDir: in, Output: second, Workers: 3})
	_, err = c.Run(ctx, laiDataset())
	require.NoError(t, err)

	keys, err := zarr.NewDirStore(first).Keys()
	require.NoError(t, err)
	other, err := zarr.NewDirStore(second).Keys()
	require.NoError(t, err)
	require.Equal(t, keys, other)
	for _, k := range keys {
		a, err := os.ReadFile(filepath.Join(first, filepath.FromSlash(k)))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(second, filepath.FromSlash(k)))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), k)
	}
}

func TestRunDryRun(t *testing.T) {
	in := writeTiles(t)
	out := filepath.Join(t.TempDir(), "lai.zarr")
	c, _ := newConverter(Options{InputDir: in, Output: out, DryRun: true, Chunks: &catalog.Chunks{Time: 1, Y: 10, X: 10}})

	res, err := c.Run(context.Background(), laiDataset())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, []int{1, 2, 4}, res.Plan.ChunkShape)
	assert.Equal(t, 3, res.Plan.Blocks)
	assert.NoDirExists(t, out)

	var buf bytes.Buffer
	require.NoError(t, res.Plan.Summary(&buf))
	assert.Contains(t, buf.String(), "time steps:  3 (2020-01-08 to 2020-02-08)")
	assert.Contains(t, buf.String(), "variables:   LAI")
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	empty := t.TempDir()
	out := filepath.Join(t.TempDir(), "out.zarr")
	c, _ := newConverter(Options{InputDir: empty, Output: out})
	_, err := c.Run(ctx, laiDataset())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDiscover, se.Stage)
	assert.ErrorIs(t, err, source.ErrNoFiles)
	assert.Equal(t, source.ErrNoFiles, errors.Cause(err))
	assert.NoDirExists(t, out)
	assert.Equal(t, StageAborted, c.Status().Snapshot().Stage)

	in := writeTiles(t)
	sourcetest.WriteGray16(t, filepath.Join(in, "d_20200215.tif"), 2, []uint16{1, 2, 3, 4})
	c, _ = newConverter(Options{InputDir: in, Output: out})
	_, err = c.Run(ctx, laiDataset())
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageIndex, se.Stage)
	assert.ErrorIs(t, err, cube.ErrShapeMismatch)
	assert.NoDirExists(t, out)

	in = writeTiles(t)
	sourcetest.WriteGray16(t, filepath.Join(in, "d_2020-02.tif"), 4, make([]uint16, 8))
	c, _ = newConverter(Options{InputDir: in, Output: out})
	_, err = c.Run(ctx, laiDataset())
	var pe *catalog.ParseError
	assert.ErrorAs(t, err, &pe)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	c, _ = newConverter(Options{InputDir: writeTiles(t), Output: out})
	_, err = c.Run(cancelled, laiDataset())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, out)
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Empty(t, entries)

	d := laiDataset()
	d.Chunks.Time = 0
	c, _ = newConverter(Options{InputDir: in, Output: out})
	_, err = c.Run(ctx, d)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePlan, se.Stage)
}

func TestRunNetCDFTransposed(t *testing.T) {
	ctx := context.Background()
	in := t.TempDir()
	for k, year := range []string{"2019", "2018"} {
		sourcetest.WriteNetCDF(t, filepath.Join(in, "deadwood_"+year+".nc"), sourcetest.NetCDF{
			Dims:  []string{"y", "x"},
			Lens:  []int{2, 3},
			Attrs: map[string]any{"GDAL": "3.4", "institution": "RSC4Earth"},
			Vars: []sourcetest.Var{
				{Name: "y", Dims: []string{"y"}, Data: []float64{20, 10}},
				{Name: "x", Dims: []string{"x"}, Data: []float64{1, 2, 3}},
				{Name: "Band1", Dims: []string{"y", "x"}, Data: []int16{
					int16(10*k + 0), int16(10*k + 1), int16(10*k + 2),
					int16(10*k + 3), int16(10*k + 4), 255,
				}},
			},
		})
	}
	d := catalog.Dataset{
		Name:        "deadwood",
		Format:      catalog.NetCDF,
		Time:        catalog.TimeRule{Layout: catalog.LayoutYear, Token: -1},
		FillValues:  []float64{255},
		Variables:   []catalog.Variable{{Source: "Band1", Name: "deadwood"}},
		DropAttrs:   []string{"GDAL"},
		Axes:        catalog.Axes{Y: "y", X: "x"},
		Transpose:   true,
		Chunks:      catalog.Chunks{Time: 1, Y: 2, X: 2},
		Compression: catalog.Compression{Level: 5},
	}
	out := filepath.Join(t.TempDir(), "deadwood.zarr")
	c, _ := newConverter(Options{InputDir: in, Output: out})
	res, err := c.Run(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, res.Plan.Shape)
	assert.Equal(t, []int{1, 2, 2}, res.Plan.ChunkShape)

	g := openGroup(t, out)
	attrs, err := g.Attrs()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"institution": "RSC4Earth"}, attrs)

	a, err := g.Array("deadwood")
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "x", "y"}, a.Dimensions())
	v, err := zarr.ReadArray[float32](ctx, a)
	require.NoError(t, err)
	require.Len(t, v, 12)
	// 2018 comes from the second file (k=1), stored x-major.
	assert.Equal(t, []float32{10, 13, 11, 14, 12}, v[:5])
	assert.True(t, math.IsNaN(float64(v[5])))
	assert.Equal(t, []float32{0, 3, 1, 4, 2}, v[6:11])

	y, err := g.Array("y")
	require.NoError(t, err)
	assert.NotContains(t, y.Attrs, "units")
}

func TestEncodeTimes(t *testing.T) {
	units, v := EncodeTimes([]time.Time{date(1970, 1, 2), date(1969, 12, 31)})
	assert.Equal(t, "days since 1970-01-01", units)
	assert.Equal(t, []int64{1, -1}, v)

	units, v = EncodeTimes([]time.Time{date(2020, 1, 1), date(2020, 1, 1).Add(12 * time.Hour)})
	assert.Equal(t, "hours since 1970-01-01", units)
	assert.Equal(t, []int64{438288, 438300}, v)

	units, _ = EncodeTimes([]time.Time{date(2020, 1, 1).Add(90 * time.Second)})
	assert.Equal(t, "seconds since 1970-01-01", units)
}

func TestIndexSortKeepsDuplicates(t *testing.T) {
	x := &Index{Entries: []Entry{
		{File: 0, Time: date(2020, 3, 1)},
		{File: 1, Time: date(2020, 1, 1)},
		{File: 2, Time: date(2020, 3, 1)},
	}}
	dups := x.Sort()
	assert.Equal(t, []time.Time{date(2020, 3, 1)}, dups)
	assert.Equal(t, []int{1, 0, 2}, []int{x.Entries[0].File, x.Entries[1].File, x.Entries[2].File})
}

func TestMergeStats(t *testing.T) {
	nan := cube.NaN
	blocks := [][]VarStats{
		{blockStats("a", []float32{1, 2, 3, nan})},
		{blockStats("a", []float32{nan, nan})},
		{blockStats("a", []float32{10})},
	}
	got := mergeStats([]string{"a"}, blocks)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Valid)
	assert.Equal(t, 3, got[0].Missing)
	assert.Equal(t, 1.0, got[0].Min)
	assert.Equal(t, 10.0, got[0].Max)
	assert.InDelta(t, 4.0, got[0].Mean, 1e-12)

	empty := mergeStats([]string{"b"}, [][]VarStats{{blockStats("b", []float32{nan})}})
	assert.Zero(t, empty[0].Valid)
	assert.True(t, math.IsNaN(empty[0].Mean))
	assert.NotContains(t, empty[0].Fields(), "mean")
}

func TestRunMemoryLimit(t *testing.T) {
	in := writeTiles(t)
	d := laiDataset()
	d.Chunks = catalog.Chunks{Time: 1, Y: 2, X: 4}

	c, hook := newConverter(Options{InputDir: in, Output: filepath.Join(t.TempDir(), "lai.zarr"), Workers: 8, MemoryLimit: 1})
	res, err := c.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workers)
	// One block holds two steps of the 2x4 grid plus one chunk's encode
	// buffers.
	assert.Equal(t, int64(4*(2*8+4*8)), res.Plan.BlockBytes())
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "reducing workers to fit the memory limit" {
			warned = true
			assert.Equal(t, 3, e.Data["requested"])
		}
	}
	assert.True(t, warned)

	c, _ = newConverter(Options{InputDir: in, DryRun: true, Workers: 8, MemoryLimit: 1 << 30})
	res, err = c.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Workers, "never more workers than blocks")
}

func TestBlockStatsDoesNotAllocate(t *testing.T) {
	data := make([]float32, 1<<16)
	for i := range data {
		data[i] = float32(i % 7)
	}
	data[3] = cube.NaN
	allocs := testing.AllocsPerRun(10, func() {
		s := blockStats("LAI", data)
		if s.Valid != len(data)-1 {
			t.Fatalf("valid = %d", s.Valid)
		}
	})
	assert.Zero(t, allocs)
}
