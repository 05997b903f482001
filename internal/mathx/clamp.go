// Package mathx provides small generic numeric helpers shared by the
// vehicle model, the Manager's message handler, and the Bridge's command
// converter.
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

// Between reports lo <= v && v <= hi (order-insensitive).
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// Min/Max for convenience.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Abs works for signed integers and floats, unlike the integer-only
// helper this is descended from: the vehicle model needs |vx| and |wz|
// on float64.
func Abs[T constraints.Float | constraints.Signed](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// Sign returns -1, 0, or 1 according to the sign of x.
func Sign[T constraints.Float | constraints.Signed](x T) T {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Lerp returns the linear interpolation between a and b at t in [0,1].
// t is not clamped; callers that need a bounded result should Clamp t first.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
