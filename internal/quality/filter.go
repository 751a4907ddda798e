// Package quality masks scan measurements that fall outside configured limits.
package quality

import "github.com/openso2/so2home/internal/models"

// Filter returns a copy of values with every out-of-range entry set to 0.
// An entry is out of range when its value or its intensity falls outside the
// limits. The output always has the same length as values; intensities must
// be at least as long.
func Filter(values, intensities []float64, limits models.QualityLimits) []float64 {
	out := make([]float64, len(values))
	FilterInto(out, values, intensities, limits)
	return out
}

// FilterInto is Filter writing into dst, which must be at least len(values).
func FilterInto(dst, values, intensities []float64, limits models.QualityLimits) {
	_ = dst[:len(values)]
	_ = intensities[:len(values)]
	for i, v := range values {
		in := intensities[i]
		if v < limits.MinSCD || v > limits.MaxSCD || in < limits.MinIntensity || in > limits.MaxIntensity {
			dst[i] = 0
			continue
		}
		dst[i] = v
	}
}

// Mask reports, per index, whether the measurement passed the limits.
func Mask(values, intensities []float64, limits models.QualityLimits) []bool {
	ok := make([]bool, len(values))
	for i, v := range values {
		in := intensities[i]
		ok[i] = !(v < limits.MinSCD || v > limits.MaxSCD || in < limits.MinIntensity || in > limits.MaxIntensity)
	}
	return ok
}
