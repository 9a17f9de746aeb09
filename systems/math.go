package systems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var zeroVec r3.Vec

// clampFloat clamps a value between min and max.
func clampFloat(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// SafeUnit returns v scaled to unit length, or the zero vector when v has
// zero or non-finite length. r3.Unit would return NaN components instead.
func SafeUnit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return zeroVec
	}
	return r3.Scale(1/n, v)
}

// ClampMagnitude caps the length of v at maxLen. Vectors already within the
// cap are returned unchanged, so the operation is idempotent.
func ClampMagnitude(v r3.Vec, maxLen float64) r3.Vec {
	if maxLen <= 0 {
		return zeroVec
	}
	n2 := r3.Norm2(v)
	if n2 <= maxLen*maxLen {
		return v
	}
	scale := maxLen / math.Sqrt(n2)
	out := r3.Scale(scale, v)
	// Rounding can leave the result a hair above the cap; walk the scale down
	// until a second clamp would be a no-op.
	for r3.Norm2(out) > maxLen*maxLen {
		scale = math.Nextafter(scale, 0)
		out = r3.Scale(scale, v)
	}
	return out
}

// distanceSq returns the squared distance between two points.
func distanceSq(a, b r3.Vec) float64 {
	return r3.Norm2(r3.Sub(a, b))
}

// assertFinite panics on NaN/Inf in builds tagged flockdebug.
func assertFinite(name string, v r3.Vec) {
	if debugAsserts && !IsFinite(v) {
		panic(fmt.Sprintf("systems: non-finite %s vector %v", name, v))
	}
}
