package zarr

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var (
	encodersMu sync.Mutex
	encoders   = map[int]*zstd.Encoder{}

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

// encoder returns the shared encoder for a zstd level. EncodeAll on a
// single-threaded encoder is deterministic, so identical chunks always
// compress to identical bytes.
func encoder(level int) (*zstd.Encoder, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if enc, ok := encoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "zstd level %d", level)
	}
	encoders[level] = enc
	return enc, nil
}

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// Encode applies the filters and the compressor of m to raw chunk bytes.
func (m ArrayMeta) Encode(raw []byte) ([]byte, error) {
	buf := raw
	for _, f := range m.Filters {
		switch f.ID {
		case "shuffle":
			buf = shuffle(buf, f.ElementSize)
		default:
			return nil, errors.Errorf("unsupported filter %q", f.ID)
		}
	}
	if m.Compressor == nil {
		return buf, nil
	}
	if m.Compressor.ID != "zstd" {
		return nil, errors.Errorf("unsupported compressor %q", m.Compressor.ID)
	}
	enc, err := encoder(m.Compressor.Level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(buf, make([]byte, 0, len(buf)/2)), nil
}

// Decode reverses Encode.
func (m ArrayMeta) Decode(data []byte) ([]byte, error) {
	buf := data
	if m.Compressor != nil {
		if m.Compressor.ID != "zstd" {
			return nil, errors.Errorf("unsupported compressor %q", m.Compressor.ID)
		}
		dec, err := sharedDecoder()
		if err != nil {
			return nil, errors.Wrap(err, "zstd decoder")
		}
		buf, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decode")
		}
	}
	for i := len(m.Filters) - 1; i >= 0; i-- {
		f := m.Filters[i]
		switch f.ID {
		case "shuffle":
			buf = unshuffle(buf, f.ElementSize)
		default:
			return nil, errors.Errorf("unsupported filter %q", f.ID)
		}
	}
	return buf, nil
}

// shuffle groups the i-th byte of every element together, the layout
// numcodecs' Shuffle filter produces. Trailing bytes that do not make a whole
// element are kept in place.
func shuffle(src []byte, size int) []byte {
	if size <= 1 {
		return src
	}
	n := len(src) / size
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			dst[j*n+i] = src[i*size+j]
		}
	}
	copy(dst[n*size:], src[n*size:])
	return dst
}

func unshuffle(src []byte, size int) []byte {
	if size <= 1 {
		return src
	}
	n := len(src) / size
	dst := make([]byte, len(src))
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			dst[i*size+j] = src[j*n+i]
		}
	}
	copy(dst[n*size:], src[n*size:])
	return dst
}

// Number is the set of element types the store reads and writes.
type Number interface {
	~float32 | ~float64 | ~int64 | ~int32 | ~uint16 | ~uint8
}

// EncodeValues converts values to little-endian bytes of dtype.
func EncodeValues[T Number](dtype DType, values []T) ([]byte, error) {
	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(values)*size)
	le := binary.LittleEndian
	for i, v := range values {
		b := out[i*size : (i+1)*size]
		switch dtype {
		case Float32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(b, math.Float64bits(float64(v)))
		case Int64:
			le.PutUint64(b, uint64(int64(v)))
		case Int32:
			le.PutUint32(b, uint32(int32(v)))
		case Uint16:
			le.PutUint16(b, uint16(v))
		case Uint8:
			b[0] = uint8(v)
		}
	}
	return out, nil
}

// DecodeValues converts little-endian bytes of dtype into a typed slice:
// []float32, []float64, []int64, []int32, []uint16 or []uint8.
func DecodeValues(dtype DType, b []byte) (any, error) {
	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}
	if len(b)%size != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of %s elements", len(b), dtype)
	}
	n := len(b) / size
	le := binary.LittleEndian
	switch dtype {
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		return out, nil
	case Float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(b[i*8:]))
		}
		return out, nil
	case Int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(le.Uint64(b[i*8:]))
		}
		return out, nil
	case Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(le.Uint32(b[i*4:]))
		}
		return out, nil
	case Uint16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = le.Uint16(b[i*2:])
		}
		return out, nil
	default:
		out := make([]uint8, n)
		copy(out, b)
		return out, nil
	}
}
