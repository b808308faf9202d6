package utils

import "math"

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// InchesToMeters converts inches to meters.
func InchesToMeters(inches float64) float64 {
	return inches * 0.0254
}

// AngleModulus wraps an angle in radians to (-pi, pi].
func AngleModulus(radians float64) float64 {
	if radians > -math.Pi && radians <= math.Pi {
		return radians
	}
	wrapped := math.Mod(radians+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// AngleDiff returns the signed shortest rotation in radians that takes a to b.
func AngleDiff(a, b float64) float64 {
	return AngleModulus(b - a)
}

// Float64AlmostEqual reports whether a and b are within epsilon of each other.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// Square returns n*n.
func Square(n float64) float64 {
	return n * n
}
