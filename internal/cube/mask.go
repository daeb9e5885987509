package cube

import "math"

// NaN is the missing-value marker of every data variable.
var NaN = float32(math.NaN())

// Mask replaces every value equal to one of the sentinels with NaN and
// returns how many values it replaced.
func Mask(data []float32, sentinels []float64) int {
	if len(sentinels) == 0 {
		return 0
	}
	codes := make([]float32, 0, len(sentinels))
	for _, s := range sentinels {
		if !math.IsNaN(s) {
			codes = append(codes, float32(s))
		}
	}
	var n int
	for i, v := range data {
		for _, c := range codes {
			if v == c {
				data[i] = NaN
				n++
				break
			}
		}
	}
	return n
}

// IsMissing reports whether v is the missing-value marker.
func IsMissing(v float32) bool {
	return v != v
}
