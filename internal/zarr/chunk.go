package zarr

import (
	"strconv"
	"strings"
)

// ChunkKey generates the key for a chunk given its indices and a separator.
// For Zarr V2, the separator is typically ".".
// Example: indices=[1, 4], separator="." -> "1.4"
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}

	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// EachChunk calls fn with the indices of every chunk of a grid with n chunks
// per axis, last axis fastest. The slice passed to fn is reused.
func EachChunk(n []int, fn func(idx []int) error) error {
	for _, c := range n {
		if c == 0 {
			return nil
		}
	}
	idx := make([]int, len(n))
	for {
		if err := fn(idx); err != nil {
			return err
		}
		axis := len(n) - 1
		for ; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < n[axis] {
				break
			}
			idx[axis] = 0
		}
		if axis < 0 {
			return nil
		}
	}
}

// Extract copies chunk idx of a C-ordered array of the given shape into a
// full-size chunk buffer. Cells beyond the array edge get fill.
func Extract[T any](src []T, shape, chunks, idx []int, fill T) []T {
	return extractInto(make([]T, product(chunks)), src, shape, chunks, idx, fill)
}

// extractInto is Extract into a caller-owned chunk buffer.
func extractInto[T any](dst, src []T, shape, chunks, idx []int, fill T) []T {
	for i := range dst {
		dst[i] = fill
	}
	copyChunk(shape, chunks, idx, func(arrOff, chunkOff, length int) {
		copy(dst[chunkOff:chunkOff+length], src[arrOff:arrOff+length])
	})
	return dst
}

// Insert is the inverse of Extract: it copies the in-bounds part of chunk
// idx into dst.
func Insert[T any](dst []T, shape, chunks, idx []int, chunk []T) {
	copyChunk(shape, chunks, idx, func(arrOff, chunkOff, length int) {
		copy(dst[arrOff:arrOff+length], chunk[chunkOff:chunkOff+length])
	})
}

// copyChunk calls fn once per contiguous row shared by the array and chunk
// idx, with the row's offset in each and its length.
func copyChunk(shape, chunks, idx []int, fn func(arrOff, chunkOff, length int)) {
	rank := len(shape)
	if rank == 0 {
		fn(0, 0, 1)
		return
	}
	origin := make([]int, rank)
	extent := make([]int, rank)
	for i := range shape {
		origin[i] = idx[i] * chunks[i]
		extent[i] = min(chunks[i], shape[i]-origin[i])
		if extent[i] <= 0 {
			return
		}
	}
	arrStride := strides(shape)
	chunkStride := strides(chunks)

	pos := make([]int, rank-1)
	for {
		arrOff := origin[rank-1]
		chunkOff := 0
		for i, p := range pos {
			arrOff += (origin[i] + p) * arrStride[i]
			chunkOff += p * chunkStride[i]
		}
		fn(arrOff, chunkOff, extent[rank-1])

		axis := rank - 2
		for ; axis >= 0; axis-- {
			pos[axis]++
			if pos[axis] < extent[axis] {
				break
			}
			pos[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}
