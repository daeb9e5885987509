package zarr

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Group is a Zarr group opened through its consolidated metadata.
type Group struct {
	store Store
	docs  map[string]json.RawMessage
}

// OpenConsolidated reads the consolidated metadata of the group in store.
func OpenConsolidated(ctx context.Context, store Store) (*Group, error) {
	b, err := store.Get(ctx, ConsolidatedKey)
	if err != nil {
		return nil, err
	}
	var cm ConsolidatedMetadata
	if err := json.Unmarshal(b, &cm); err != nil {
		return nil, errors.Wrap(err, "decode consolidated metadata")
	}
	if cm.Format != 1 {
		return nil, errors.Errorf("unsupported consolidated metadata format %d", cm.Format)
	}
	return &Group{store: store, docs: cm.Metadata}, nil
}

// Attrs returns the group attributes.
func (g *Group) Attrs() (map[string]any, error) {
	return g.attrs(AttrsKey)
}

func (g *Group) attrs(key string) (map[string]any, error) {
	a := map[string]any{}
	raw, ok := g.docs[key]
	if !ok {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return a, nil
}

// Names lists the arrays of the group in lexical order.
func (g *Group) Names() []string {
	var names []string
	for k := range g.docs {
		if name, ok := strings.CutSuffix(k, "/"+ArrayKey); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Array is one array of a Group.
type Array struct {
	Name  string
	Meta  ArrayMeta
	Attrs map[string]any
	store Store
}

// Array opens array name.
func (g *Group) Array(name string) (*Array, error) {
	raw, ok := g.docs[path.Join(name, ArrayKey)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "array %s", name)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrapf(err, "decode %s metadata", name)
	}
	attrs, err := g.attrs(path.Join(name, AttrsKey))
	if err != nil {
		return nil, err
	}
	return &Array{Name: name, Meta: meta, Attrs: attrs, store: g.store}, nil
}

// Dimensions returns the dimension names recorded for the array.
func (a *Array) Dimensions() []string {
	raw, _ := a.Attrs[DimensionsAttr].([]any)
	dims := make([]string, 0, len(raw))
	for _, d := range raw {
		s, _ := d.(string)
		dims = append(dims, s)
	}
	return dims
}

// ReadChunk returns the decoded elements of chunk idx, or nil when the chunk
// was never written.
func ReadChunk[T Number](ctx context.Context, a *Array, idx []int) ([]T, error) {
	b, err := a.store.Get(ctx, path.Join(a.Name, ChunkKey(idx, ".")))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := a.Meta.Decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "array %s chunk %v", a.Name, idx)
	}
	v, err := DecodeValues(a.Meta.DType, raw)
	if err != nil {
		return nil, err
	}
	out, ok := v.([]T)
	if !ok {
		return nil, errors.Errorf("array %s holds %s, not %T", a.Name, a.Meta.DType, out)
	}
	if len(out) != a.Meta.ChunkLen() {
		return nil, errors.Errorf("array %s chunk %v has %d elements, want %d", a.Name, idx, len(out), a.Meta.ChunkLen())
	}
	return out, nil
}

// ReadArray assembles the whole array in C order. Missing chunks read as the
// fill value.
func ReadArray[T Number](ctx context.Context, a *Array) ([]T, error) {
	out := make([]T, product(a.Meta.Shape))
	fill := fillOf[T](a.Meta)
	for i := range out {
		out[i] = fill
	}
	err := EachChunk(a.Meta.NumChunks(), func(idx []int) error {
		chunk, err := ReadChunk[T](ctx, a, idx)
		if err != nil || chunk == nil {
			return err
		}
		Insert(out, a.Meta.Shape, a.Meta.Chunks, idx, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
