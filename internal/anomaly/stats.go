package anomaly

import "math"

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mu := mean(vals)
	var sum float64
	for _, v := range vals {
		d := v - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

// olsSlope fits value = a + b*index by ordinary least squares and
// returns b. Zero when the series is too short or degenerate.
func olsSlope(vals []float64) float64 {
	n := float64(len(vals))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// absReturns computes |v_i - v_{i-1}| / |v_{i-1}| for consecutive
// samples, skipping pairs whose base is zero.
func absReturns(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		base := math.Abs(vals[i-1])
		if base == 0 {
			continue
		}
		out = append(out, math.Abs(vals[i]-vals[i-1])/base)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
