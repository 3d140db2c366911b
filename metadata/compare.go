package metadata

import (
	"cmp"
	"math"
)

// totalOrderKey maps a float64 onto a uint64 whose unsigned order is the
// IEEE-754 totalOrder predicate.
func totalOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits>>63 == 1 {
		return ^bits
	}
	return bits | 1<<63
}

// compareIntFloat orders an int against a float without rounding the int.
// The order agrees with totalOrderKey: -0.0 sorts below 0 and NaNs sort
// beyond every int on the side of their sign bit.
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		if math.Signbit(f) {
			return 1
		}
		return -1
	case f >= 1<<63:
		return -1
	case f < -(1 << 63):
		return 1
	case f == 0 && math.Signbit(f):
		if i < 0 {
			return -1
		}
		return 1
	}
	t := math.Trunc(f)
	if c := cmp.Compare(i, int64(t)); c != 0 {
		return c
	}
	switch frac := f - t; {
	case frac > 0:
		return -1
	case frac < 0:
		return 1
	default:
		return 0
	}
}

// compareValues orders two scalar values of compatible kinds.
// ok is false when the kinds cannot be ordered against each other.
func compareValues(a, b Value) (c int, ok bool) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return cmp.Compare(a.I64, b.I64), true
	case a.Kind == KindInt && b.Kind == KindFloat:
		return compareIntFloat(a.I64, b.F64), true
	case a.Kind == KindFloat && b.Kind == KindInt:
		return -compareIntFloat(b.I64, a.F64), true
	case a.Kind == KindFloat && b.Kind == KindFloat:
		return cmp.Compare(totalOrderKey(a.F64), totalOrderKey(b.F64)), true
	case a.Kind == KindString && b.Kind == KindString:
		return cmp.Compare(a.S, b.S), true
	default:
		return 0, false
	}
}

func equalScalar(a, b Value) bool {
	if a.Kind == KindBool || b.Kind == KindBool {
		return a.Kind == b.Kind && a.B == b.B
	}
	if a.Kind == KindInt && b.Kind == KindFloat {
		i, ok := exactInt(b.F64)
		return ok && i == a.I64
	}
	if a.Kind == KindFloat && b.Kind == KindInt {
		return equalScalar(b, a)
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// valueEquals applies list semantics: a list field equals a scalar operand
// when any element does.
func valueEquals(field, operand Value) bool {
	if field.Kind == KindArray {
		for _, e := range field.A {
			if equalScalar(e, operand) {
				return true
			}
		}
		return false
	}
	return equalScalar(field, operand)
}

func valueIn(field Value, set []Value) bool {
	for _, s := range set {
		if valueEquals(field, s) {
			return true
		}
	}
	return false
}
