package zarr

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "0", ChunkKey(nil, "."))
	assert.Equal(t, "7", ChunkKey([]int{7}, "."))
	assert.Equal(t, "1.0.12", ChunkKey([]int{1, 0, 12}, "."))
}

func TestEachChunkOrder(t *testing.T) {
	var got [][]int
	require.NoError(t, EachChunk([]int{2, 1, 3}, func(idx []int) error {
		got = append(got, append([]int(nil), idx...))
		return nil
	}))
	assert.Equal(t, [][]int{
		{0, 0, 0}, {0, 0, 1}, {0, 0, 2},
		{1, 0, 0}, {1, 0, 1}, {1, 0, 2},
	}, got)

	calls := 0
	require.NoError(t, EachChunk([]int{3, 0}, func([]int) error { calls++; return nil }))
	assert.Zero(t, calls)
}

func TestExtractInsertPadsBoundary(t *testing.T) {
	// 3x5 array, 2x2 chunks: chunk (1,2) holds only element [2,4].
	src := make([]int32, 15)
	for i := range src {
		src[i] = int32(i)
	}
	shape, chunks := []int{3, 5}, []int{2, 2}

	assert.Equal(t, []int32{0, 1, 5, 6}, Extract(src, shape, chunks, []int{0, 0}, -1))
	assert.Equal(t, []int32{14, -1, -1, -1}, Extract(src, shape, chunks, []int{1, 2}, -1))

	dst := make([]int32, 15)
	require.NoError(t, EachChunk([]int{2, 3}, func(idx []int) error {
		Insert(dst, shape, chunks, idx, Extract(src, shape, chunks, idx, -1))
		return nil
	}))
	assert.Equal(t, src, dst)
}

func TestShuffleRoundTrip(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	sh := shuffle(src, 4)
	assert.Equal(t, []byte{1, 5, 2, 6, 3, 7, 4, 8, 9}, sh)
	assert.Equal(t, src, unshuffle(sh, 4))
}

func TestCodecRoundTrip(t *testing.T) {
	for _, shuffle := range []bool{false, true} {
		meta, err := NewArrayMeta(Float32, []int{4, 4}, []int{4, 4}, 5, shuffle)
		require.NoError(t, err)
		vals := []float32{1.5, float32(math.NaN()), -3, 0, 1e9, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
		raw, err := EncodeValues(meta.DType, vals)
		require.NoError(t, err)
		enc, err := meta.Encode(raw)
		require.NoError(t, err)
		dec, err := meta.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, raw, dec)
	}
}

func TestNewArrayMeta(t *testing.T) {
	m, err := NewArrayMeta(Float32, []int{10, 3}, []int{4, 3}, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "NaN", m.FillValue)
	assert.Equal(t, []int{3, 1}, m.NumChunks())
	assert.Equal(t, []Filter{{ElementSize: 4, ID: "shuffle"}}, m.Filters)

	m, err = NewArrayMeta(Uint8, []int{2}, []int{2}, 3, true)
	require.NoError(t, err)
	assert.Nil(t, m.Filters)
	assert.Nil(t, m.FillValue)

	_, err = NewArrayMeta(Float32, []int{2}, []int{0}, 3, false)
	assert.Error(t, err)
	_, err = NewArrayMeta(Float32, []int{2, 2}, []int{2}, 3, false)
	assert.Error(t, err)
}

// writeGroup writes a small cube: data (time, lat, lon) with 3x3x5 values
// chunked 2x2x2, plus coordinates.
func writeGroup(t *testing.T, store Store) []float32 {
	t.Helper()
	ctx := context.Background()
	w := NewWriter(store)
	w.SetAttrs(map[string]any{"title": "test"})

	data := make([]float32, 45)
	for i := range data {
		data[i] = float32(i)
	}
	data[7] = float32(math.NaN())

	meta, err := NewArrayMeta(Float32, []int{3, 3, 5}, []int{2, 2, 2}, 3, true)
	require.NoError(t, err)
	require.NoError(t, w.CreateArray(ctx, "gpp", meta, []string{"time", "lat", "lon"}, map[string]any{"units": "g"}))
	for k := 0; k < 2; k++ {
		lo, hi := k*2*15, min((k+1)*2, 3)*15
		require.NoError(t, WriteSlab(ctx, w, "gpp", k, data[lo:hi]))
	}

	tm, err := NewArrayMeta(Int64, []int{3}, []int{3}, 3, false)
	require.NoError(t, err)
	require.NoError(t, w.CreateArray(ctx, "time", tm, []string{"time"}, map[string]any{"units": "days since 1970-01-01"}))
	require.NoError(t, WriteArray(ctx, w, "time", []int64{18269, 18284, 18300}))

	require.NoError(t, w.Close(ctx))
	return data
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewDirStore(dir)
	data := writeGroup(t, store)

	g, err := OpenConsolidated(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpp", "time"}, g.Names())
	attrs, err := g.Attrs()
	require.NoError(t, err)
	assert.Equal(t, "test", attrs["title"])

	a, err := g.Array("gpp")
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "lat", "lon"}, a.Dimensions())
	assert.Equal(t, "g", a.Attrs["units"])
	got, err := ReadArray[float32](ctx, a)
	require.NoError(t, err)
	require.Len(t, got, len(data))
	assert.True(t, math.IsNaN(float64(got[7])))
	got[7], data[7] = 0, 0
	assert.Equal(t, data, got)

	// Every chunk on disk is full size, including those on the boundary.
	chunk, err := ReadChunk[float32](ctx, a, []int{1, 1, 2})
	require.NoError(t, err)
	require.Len(t, chunk, 8)
	assert.Equal(t, float32(44), chunk[0])
	assert.True(t, math.IsNaN(float64(chunk[1])))

	tv, err := g.Array("time")
	require.NoError(t, err)
	times, err := ReadArray[int64](ctx, tv)
	require.NoError(t, err)
	assert.Equal(t, []int64{18269, 18284, 18300}, times)

	_, err = ReadArray[float64](ctx, a)
	assert.Error(t, err)
	_, err = g.Array("ndvi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsolidatedMetadataMatchesDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewDirStore(t.TempDir())
	writeGroup(t, store)

	b, err := store.Get(ctx, ConsolidatedKey)
	require.NoError(t, err)
	var cm ConsolidatedMetadata
	require.NoError(t, json.Unmarshal(b, &cm))
	assert.Equal(t, 1, cm.Format)

	keys, err := store.Keys()
	require.NoError(t, err)
	for _, k := range []string{".zgroup", ".zattrs", "gpp/.zarray", "gpp/.zattrs", "time/.zarray", "time/.zattrs"} {
		assert.Contains(t, keys, k)
		doc, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.JSONEq(t, string(doc), string(cm.Metadata[k]), k)
	}
	assert.Contains(t, keys, "gpp/1.1.2")
	assert.Contains(t, keys, "time/0")
}

func TestMissingChunkReadsAsFill(t *testing.T) {
	ctx := context.Background()
	store := NewDirStore(t.TempDir())
	w := NewWriter(store)
	meta, err := NewArrayMeta(Float32, []int{4}, []int{2}, 1, false)
	require.NoError(t, err)
	require.NoError(t, w.CreateArray(ctx, "v", meta, []string{"x"}, nil))
	raw, err := EncodeValues(Float32, []float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(ctx, "v", []int{0}, raw))
	require.NoError(t, w.Close(ctx))

	g, err := OpenConsolidated(ctx, store)
	require.NoError(t, err)
	a, err := g.Array("v")
	require.NoError(t, err)
	got, err := ReadArray[float32](ctx, a)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got[0])
	assert.True(t, math.IsNaN(float64(got[3])))
}

func TestWriterRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	w := NewWriter(NewDirStore(t.TempDir()))
	meta, err := NewArrayMeta(Float32, []int{4}, []int{2}, 1, false)
	require.NoError(t, err)
	assert.Error(t, w.CreateArray(ctx, "v", meta, []string{"x", "y"}, nil))
	require.NoError(t, w.CreateArray(ctx, "v", meta, []string{"x"}, nil))
	assert.Error(t, w.CreateArray(ctx, "v", meta, []string{"x"}, nil))
	assert.Error(t, w.WriteChunk(ctx, "v", []int{0}, []byte{1, 2, 3}))
	assert.Error(t, WriteArray(ctx, w, "v", []float32{1}))
	assert.Error(t, WriteSlab(ctx, w, "v", 2, []float32{1, 2}))
	assert.Error(t, WriteArray(ctx, w, "u", []float32{1}))
}

func TestRewriteIsByteIdentical(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeGroup(t, NewDirStore(a))
	writeGroup(t, NewDirStore(b))

	keys, err := NewDirStore(a).Keys()
	require.NoError(t, err)
	keysB, err := NewDirStore(b).Keys()
	require.NoError(t, err)
	require.Equal(t, keys, keysB)
	for _, k := range keys {
		x, err := os.ReadFile(filepath.Join(a, k))
		require.NoError(t, err)
		y, err := os.ReadFile(filepath.Join(b, k))
		require.NoError(t, err)
		assert.Equal(t, x, y, k)
	}
}

func TestDirTargetCommit(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "out", "cube.zarr")

	target, err := Create(ctx, dest, false, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, dest, target.Location())
	writeGroup(t, target)
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "nothing visible before commit")
	require.NoError(t, target.Commit(ctx))

	_, err = OpenConsolidated(ctx, NewDirStore(dest))
	require.NoError(t, err)

	_, err = Create(ctx, dest, false, logrus.New())
	assert.ErrorIs(t, err, ErrExists)

	// Overwrite replaces the store wholesale.
	require.NoError(t, os.WriteFile(filepath.Join(dest, "leftover"), []byte("x"), 0o644))
	target, err = Create(ctx, "file://"+dest, true, logrus.New())
	require.NoError(t, err)
	writeGroup(t, target)
	require.NoError(t, target.Commit(ctx))
	_, err = os.Stat(filepath.Join(dest, "leftover"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories are cleaned up")
}

func TestDirTargetOverwriteUnderStagingLikeParent(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), ".runs.tmp-1", "out.zarr")
	for range 2 {
		target, err := CreateDir(dest, true)
		require.NoError(t, err)
		writeGroup(t, target)
		require.NoError(t, target.Commit(ctx))
	}
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.zarr", entries[0].Name())
}

func TestDirTargetAbort(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	dest := filepath.Join(parent, "cube.zarr")

	target, err := CreateDir(dest, false)
	require.NoError(t, err)
	writeGroup(t, target)
	require.NoError(t, target.Abort(ctx))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBlobTarget(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	// Wrapping a bucket hands its ownership to the wrapper, so every view
	// opens its own handle on the shared directory.
	open := func() *blob.Bucket {
		b, err := fileblob.OpenBucket(dir, nil)
		require.NoError(t, err)
		return b
	}
	view := func() *BlobStore {
		s := NewBlobStore(blob.PrefixedBucket(open(), "cube.zarr/"))
		t.Cleanup(func() { s.bucket.Close() })
		return s
	}
	exists := func(key string) bool {
		b := open()
		defer b.Close()
		ok, err := b.Exists(ctx, key)
		require.NoError(t, err)
		return ok
	}

	seed := open()
	require.NoError(t, seed.WriteAll(ctx, "cube.zarr/stale/0.0.0", []byte("old"), nil))
	require.NoError(t, seed.WriteAll(ctx, "cube.zarr/.zmetadata", []byte("{}"), nil))
	require.NoError(t, seed.Close())

	_, err := CreateBlob(ctx, view().bucket, "file://cube.zarr", false, log)
	assert.ErrorIs(t, err, ErrExists)
	assert.True(t, exists("cube.zarr/.zmetadata"))

	target, err := CreateBlob(ctx, view().bucket, "file://cube.zarr", true, log)
	require.NoError(t, err)
	assert.False(t, exists("cube.zarr/.zmetadata"), "consolidated metadata of the replaced store is removed first")
	assert.True(t, exists("cube.zarr/stale/0.0.0"))

	data := writeGroup(t, target)
	require.NoError(t, target.Commit(ctx))
	assert.NotEmpty(t, hook.AllEntries())

	store := view()
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "stale/0.0.0")
	assert.Contains(t, keys, ConsolidatedKey)

	g, err := OpenConsolidated(ctx, store)
	require.NoError(t, err)
	a, err := g.Array("gpp")
	require.NoError(t, err)
	got, err := ReadArray[float32](ctx, a)
	require.NoError(t, err)
	assert.Equal(t, data[44], got[44])

	target, err = CreateBlob(ctx, view().bucket, "file://cube.zarr", true, log)
	require.NoError(t, err)
	writeGroup(t, target)
	require.NoError(t, target.Abort(ctx))
	keys, err = view().Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBlobTargetCommitNeedsMetadata(t *testing.T) {
	ctx := context.Background()
	target, err := CreateBlob(ctx, memblob.OpenBucket(nil), "mem://", false, logrus.New())
	require.NoError(t, err)
	require.NoError(t, target.Put(ctx, "x/0", []byte{1}))
	assert.Error(t, target.Commit(ctx))
}
