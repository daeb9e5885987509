package source

import (
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

func appendConv[T, S number](dst []T, src []S) []T {
	for _, v := range src {
		dst = append(dst, T(v))
	}
	return dst
}

// flatten turns the nested slices a NetCDF or HDF5 reader returns into one
// row-major slice.
func flatten[T float32 | float64](v any) ([]T, error) {
	return appendFlat[T](nil, reflect.ValueOf(v))
}

func appendFlat[T float32 | float64](dst []T, v reflect.Value) ([]T, error) {
	if !v.IsValid() {
		return nil, errors.New("no values")
	}
	if v.Kind() != reflect.Slice {
		f, err := cast.ToFloat64E(v.Interface())
		if err != nil {
			return nil, err
		}
		return append(dst, T(f)), nil
	}
	if v.Type().Elem().Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			var err error
			if dst, err = appendFlat(dst, v.Index(i)); err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	switch x := v.Interface().(type) {
	case []float32:
		return appendConv(dst, x), nil
	case []float64:
		return appendConv(dst, x), nil
	case []int8:
		return appendConv(dst, x), nil
	case []uint8:
		return appendConv(dst, x), nil
	case []int16:
		return appendConv(dst, x), nil
	case []uint16:
		return appendConv(dst, x), nil
	case []int32:
		return appendConv(dst, x), nil
	case []uint32:
		return appendConv(dst, x), nil
	case []int64:
		return appendConv(dst, x), nil
	case []uint64:
		return appendConv(dst, x), nil
	}
	for i := 0; i < v.Len(); i++ {
		f, err := cast.ToFloat64E(v.Index(i).Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		dst = append(dst, T(f))
	}
	return dst, nil
}

// attrFloats returns the numeric values of an attribute, scalar or vector.
func attrFloats(v any) []float64 {
	if s, ok := v.(string); ok {
		f, err := cast.ToFloat64E(strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		return []float64{f}
	}
	f, err := flatten[float64](v)
	if err != nil {
		return nil
	}
	return f
}

// attrValue converts a source attribute to a value that encodes to JSON:
// one-element vectors become scalars, integers int64, floats float64, and
// non-finite floats their string spelling.
func attrValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.Len() == 1 {
			return attrValue(rv.Index(0).Interface())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = attrValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Float32, reflect.Float64:
		return jsonFloat(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return cast.ToString(v)
}

func jsonFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

var cfUnits = map[string]time.Duration{
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"d":       24 * time.Hour,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"hr":      time.Hour,
	"h":       time.Hour,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"min":     time.Minute,
	"seconds": time.Second,
	"second":  time.Second,
	"sec":     time.Second,
	"s":       time.Second,
}

var cfReferenceLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4:5 -07:00",
	"2006-1-2 15:4",
	"2006-1-2",
}

// DecodeCFTime converts offsets in CF units such as
// "days since 1970-01-01 00:00:00" to UTC timestamps.
func DecodeCFTime(values []float64, units string) ([]time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, errors.Errorf("time units %q lack a reference date", units)
	}
	step, ok := cfUnits[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return nil, errors.Errorf("unsupported time unit %q", unit)
	}
	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	var (
		epoch time.Time
		err   error
	)
	for _, layout := range cfReferenceLayouts {
		if epoch, err = time.Parse(layout, ref); err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Errorf("unparseable reference date %q", ref)
	}
	epoch = epoch.UTC()

	out := make([]time.Time, len(values))
	perDay := float64(24*time.Hour) / float64(step)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("time value %d is %v", i, v)
		}
		days := math.Floor(v / perDay)
		rest := (v - days*perDay) * float64(step)
		out[i] = epoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(rest)))
	}
	return out, nil
}
