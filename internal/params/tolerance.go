package params

import "math"

// Tolerance bounds float comparison for file import. Integral types ignore
// it and compare rounded values exactly.
type Tolerance struct {
	Abs float64
	Rel float64
}

func DefaultTolerance() Tolerance {
	return Tolerance{Abs: 1e-4, Rel: 1e-6}
}

// Within reports whether a and b are indistinguishable for type t.
func (tol Tolerance) Within(t Type, a, b float64) bool {
	if t.Integral() {
		return t.Equal(a, b)
	}
	diff := math.Abs(a - b)
	limit := tol.Abs + tol.Rel*math.Max(math.Abs(a), math.Abs(b))
	return diff <= limit
}
