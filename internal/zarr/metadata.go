// Package zarr writes and reads Zarr v2 groups of chunked, compressed arrays
// with consolidated metadata.
package zarr

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Version is the Zarr storage format version written by this package.
const Version = 2

// Metadata keys.
const (
	GroupKey        = ".zgroup"
	AttrsKey        = ".zattrs"
	ArrayKey        = ".zarray"
	ConsolidatedKey = ".zmetadata"
)

// DimensionsAttr lists the dimension names of an array, as xarray expects.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

// DType is a NumPy-style little-endian type string.
type DType string

// Data types used by this package.
const (
	Float32 DType = "<f4"
	Float64 DType = "<f8"
	Int64   DType = "<i8"
	Int32   DType = "<i4"
	Uint16  DType = "<u2"
	Uint8   DType = "|u1"
)

// Size returns the number of bytes of one element.
func (d DType) Size() (int, error) {
	switch d {
	case Float64, Int64:
		return 8, nil
	case Float32, Int32:
		return 4, nil
	case Uint16:
		return 2, nil
	case Uint8:
		return 1, nil
	}
	return 0, errors.Errorf("unsupported dtype %q", string(d))
}

// ArrayMeta is the content of a .zarray document. Fields are declared in the
// order zarr-python sorts them.
type ArrayMeta struct {
	Chunks     []int       `json:"chunks"`
	Compressor *Compressor `json:"compressor"`
	DType      DType       `json:"dtype"`
	FillValue  any         `json:"fill_value"`
	Filters    []Filter    `json:"filters"`
	Order      string      `json:"order"`
	Shape      []int       `json:"shape"`
	ZarrFormat int         `json:"zarr_format"`
}

// Compressor configures the zstd codec.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// Filter configures the byte-shuffle filter.
type Filter struct {
	ElementSize int    `json:"elementsize"`
	ID          string `json:"id"`
}

// GroupMeta is the content of a .zgroup document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// ConsolidatedMetadata gathers every metadata document of a group so the
// group can be opened by reading one object.
type ConsolidatedMetadata struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

// NewArrayMeta returns the metadata of a C-ordered array compressed with
// zstd at level, byte-shuffled first when shuffle is set. Float arrays get
// NaN as fill value.
func NewArrayMeta(dtype DType, shape, chunks []int, level int, shuffle bool) (ArrayMeta, error) {
	if len(shape) != len(chunks) {
		return ArrayMeta{}, errors.Errorf("shape %v and chunks %v differ in rank", shape, chunks)
	}
	size, err := dtype.Size()
	if err != nil {
		return ArrayMeta{}, err
	}
	for i, c := range chunks {
		if c < 1 {
			return ArrayMeta{}, errors.Errorf("chunk size %d on axis %d is not positive", c, i)
		}
	}
	m := ArrayMeta{
		Chunks:     chunks,
		Compressor: &Compressor{ID: "zstd", Level: level},
		DType:      dtype,
		Order:      "C",
		Shape:      shape,
		ZarrFormat: Version,
	}
	switch dtype {
	case Float32, Float64:
		m.FillValue = "NaN"
	}
	if shuffle && size > 1 {
		m.Filters = []Filter{{ElementSize: size, ID: "shuffle"}}
	}
	return m, nil
}

// NumChunks returns how many chunks the array has along each axis.
func (m ArrayMeta) NumChunks() []int {
	n := make([]int, len(m.Shape))
	for i := range m.Shape {
		n[i] = (m.Shape[i] + m.Chunks[i] - 1) / m.Chunks[i]
	}
	return n
}

// ChunkLen returns the number of elements in one chunk.
func (m ArrayMeta) ChunkLen() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// Fill returns the fill value as a float64, NaN when it is "NaN" or unset.
func (m ArrayMeta) Fill() float64 {
	switch v := m.FillValue.(type) {
	case float64:
		return v
	case string:
		switch v {
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
	}
	return math.NaN()
}

// marshal encodes a metadata document the way zarr-python does.
func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}
