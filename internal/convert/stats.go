package convert

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rtm0/zarrcube/internal/cube"
)

// VarStats summarizes the values of one data variable.
type VarStats struct {
	Name    string
	Valid   int
	Missing int
	Min     float64
	Max     float64
	Mean    float64
}

// Fields returns s as log fields.
func (s VarStats) Fields() logrus.Fields {
	f := logrus.Fields{"var": s.Name, "valid": s.Valid, "missing": s.Missing}
	if s.Valid > 0 {
		f["min"] = s.Min
		f["max"] = s.Max
		f["mean"] = s.Mean
	}
	return f
}

// blockStats summarizes data in one pass.
func blockStats(name string, data []float32) VarStats {
	s := VarStats{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range data {
		if cube.IsMissing(v) {
			s.Missing++
			continue
		}
		f := float64(v)
		s.Valid++
		sum += f
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
	}
	if s.Valid == 0 {
		s.Min, s.Max, s.Mean = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Mean = sum / float64(s.Valid)
	return s
}

// mergeStats combines per-block statistics. blocks[k][i] belongs to
// names[i]; the mean is the block means weighted by their valid counts.
func mergeStats(names []string, blocks [][]VarStats) []VarStats {
	out := make([]VarStats, len(names))
	for i, name := range names {
		s := VarStats{Name: name, Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
		var mins, maxs, means, weights []float64
		for _, b := range blocks {
			bs := b[i]
			s.Missing += bs.Missing
			if bs.Valid == 0 {
				continue
			}
			s.Valid += bs.Valid
			mins = append(mins, bs.Min)
			maxs = append(maxs, bs.Max)
			means = append(means, bs.Mean)
			weights = append(weights, float64(bs.Valid))
		}
		if s.Valid > 0 {
			s.Min = floats.Min(mins)
			s.Max = floats.Max(maxs)
			s.Mean = stat.Mean(means, weights)
		}
		out[i] = s
	}
	return out
}
