package zarr

import (
	"context"
	"encoding/json"
	"math"
	"path"
	"sync"

	"github.com/pkg/errors"
)

// Writer builds one Zarr group in a Store. Arrays are declared up front with
// CreateArray, chunks may then be written concurrently, and Close writes the
// group and consolidated metadata.
type Writer struct {
	store Store

	mu     sync.Mutex
	attrs  map[string]any
	arrays map[string]*arrayDecl
	closed bool
}

type arrayDecl struct {
	meta  ArrayMeta
	attrs map[string]any
}

// NewWriter returns a Writer for an empty group in store.
func NewWriter(store Store) *Writer {
	return &Writer{
		store:  store,
		attrs:  map[string]any{},
		arrays: map[string]*arrayDecl{},
	}
}

// SetAttrs replaces the group attributes.
func (w *Writer) SetAttrs(attrs map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attrs = attrs
}

// CreateArray declares array name with its metadata, attributes, and
// dimension names, and writes its metadata documents.
func (w *Writer) CreateArray(ctx context.Context, name string, meta ArrayMeta, dims []string, attrs map[string]any) error {
	if len(dims) != len(meta.Shape) {
		return errors.Errorf("array %s: %d dimension names for rank %d", name, len(dims), len(meta.Shape))
	}
	a := map[string]any{}
	for k, v := range attrs {
		a[k] = v
	}
	a[DimensionsAttr] = dims

	w.mu.Lock()
	if _, ok := w.arrays[name]; ok {
		w.mu.Unlock()
		return errors.Errorf("array %s declared twice", name)
	}
	w.arrays[name] = &arrayDecl{meta: meta, attrs: a}
	w.mu.Unlock()

	if err := w.putJSON(ctx, path.Join(name, ArrayKey), meta); err != nil {
		return err
	}
	return w.putJSON(ctx, path.Join(name, AttrsKey), a)
}

// Meta returns the metadata array name was declared with.
func (w *Writer) Meta(name string) (ArrayMeta, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.arrays[name]
	if !ok {
		return ArrayMeta{}, errors.Errorf("array %s not declared", name)
	}
	return a.meta, nil
}

// WriteChunk encodes raw, a full chunk of little-endian elements, and stores
// it as chunk idx of array name.
func (w *Writer) WriteChunk(ctx context.Context, name string, idx []int, raw []byte) error {
	meta, err := w.Meta(name)
	if err != nil {
		return err
	}
	size, _ := meta.DType.Size()
	if len(raw) != meta.ChunkLen()*size {
		return errors.Errorf("array %s chunk %v: %d bytes, want %d", name, idx, len(raw), meta.ChunkLen()*size)
	}
	enc, err := meta.Encode(raw)
	if err != nil {
		return errors.Wrapf(err, "array %s chunk %v", name, idx)
	}
	return w.store.Put(ctx, path.Join(name, ChunkKey(idx, ".")), enc)
}

// WriteArray writes every chunk of array name from data, the whole array in
// C order.
func WriteArray[T Number](ctx context.Context, w *Writer, name string, data []T) error {
	meta, err := w.Meta(name)
	if err != nil {
		return err
	}
	if len(data) != product(meta.Shape) {
		return errors.Errorf("array %s: %d values for shape %v", name, len(data), meta.Shape)
	}
	return writeRegion(ctx, w, name, meta, data, meta.Shape, -1)
}

// WriteSlab writes the chunks of array name whose first-axis chunk index is
// k. slab holds the array's values for first-axis positions
// [k*chunks[0], min((k+1)*chunks[0], shape[0])) in C order.
func WriteSlab[T Number](ctx context.Context, w *Writer, name string, k int, slab []T) error {
	meta, err := w.Meta(name)
	if err != nil {
		return err
	}
	if len(meta.Shape) == 0 {
		return errors.Errorf("array %s is a scalar", name)
	}
	nk := meta.NumChunks()[0]
	if k < 0 || k >= nk {
		return errors.Errorf("array %s: slab %d out of range [0,%d)", name, k, nk)
	}
	shape := append([]int(nil), meta.Shape...)
	shape[0] = min(meta.Chunks[0], meta.Shape[0]-k*meta.Chunks[0])
	if len(slab) != product(shape) {
		return errors.Errorf("array %s slab %d: %d values for shape %v", name, k, len(slab), shape)
	}
	return writeRegion(ctx, w, name, meta, slab, shape, k)
}

// writeRegion writes the chunks covered by data, which has the given shape.
// With row < 0 data is the whole array; otherwise it is first-axis chunk row.
func writeRegion[T Number](ctx context.Context, w *Writer, name string, meta ArrayMeta, data []T, shape []int, row int) error {
	fill := fillOf[T](meta)
	n := meta.NumChunks()
	if row >= 0 {
		n[0] = 1
	}
	buf := make([]T, product(meta.Chunks))
	return EachChunk(n, func(idx []int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := extractInto(buf, data, shape, meta.Chunks, idx, fill)
		raw, err := EncodeValues(meta.DType, chunk)
		if err != nil {
			return err
		}
		key := append([]int(nil), idx...)
		if row >= 0 {
			key[0] = row
		}
		return w.WriteChunk(ctx, name, key, raw)
	})
}

// Close writes the group metadata and, last, the consolidated metadata.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	attrs := w.attrs
	arrays := w.arrays
	w.mu.Unlock()

	docs := map[string]any{
		GroupKey: GroupMeta{ZarrFormat: Version},
		AttrsKey: attrs,
	}
	for name, a := range arrays {
		docs[path.Join(name, ArrayKey)] = a.meta
		docs[path.Join(name, AttrsKey)] = a.attrs
	}
	if err := w.putJSON(ctx, GroupKey, docs[GroupKey]); err != nil {
		return err
	}
	if err := w.putJSON(ctx, AttrsKey, attrs); err != nil {
		return err
	}

	cm := ConsolidatedMetadata{Metadata: map[string]json.RawMessage{}, Format: 1}
	for k, v := range docs {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "encode %s", k)
		}
		cm.Metadata[k] = b
	}
	return w.putJSON(ctx, ConsolidatedKey, cm)
}

func (w *Writer) putJSON(ctx context.Context, key string, v any) error {
	b, err := marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return w.store.Put(ctx, key, b)
}

func fillOf[T Number](meta ArrayMeta) T {
	switch meta.DType {
	case Float32, Float64:
		return T(meta.Fill())
	}
	if f, ok := meta.FillValue.(float64); ok && !math.IsNaN(f) {
		return T(f)
	}
	return 0
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
