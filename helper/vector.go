package helper

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// normEpsilon clamps the squared norm so an all-zero vector does not divide by zero.
const normEpsilon = 1e-12

// Normalize rescales v in place to unit L2 norm and returns it.
func Normalize(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	sumSq := floats.Dot(v, v)
	floats.Scale(1/math.Sqrt(math.Max(sumSq, normEpsilon)), v)
	return v
}

// Dot is the raw dot product over the common prefix of a and b.
func Dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	return floats.Dot(a[:n], b[:n])
}

// Cosine returns the similarity of two already normalized vectors, which is their
// dot product. Vectors of different length are compared on the shorter one.
func Cosine(a, b []float64) float64 {
	return Dot(a, b)
}
