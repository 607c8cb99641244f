package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Side places v relative to the inclusive range [lo, hi]:
// -1 below, 0 inside (bounds included), +1 above.
// Bounds are taken as given; callers validate lo <= hi.
// A NaN v compares false everywhere and reports 0; callers that care
// must test for it first.
func Side[T constraints.Float | constraints.Integer](v, lo, hi T) int {
	switch {
	case v > hi:
		return 1
	case v < lo:
		return -1
	default:
		return 0
	}
}

// Between reports lo <= v && v <= hi.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	return v >= lo && v <= hi
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
