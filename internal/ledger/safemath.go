package ledger

import "math/bits"

// addChecked returns a+b and reports whether the sum fits in uint64.
func addChecked(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// mulDiv returns floor(a*b/c) using a 128-bit intermediate product, and
// reports whether the result is representable. It returns false when c is
// zero or when the quotient would not fit in uint64.
func mulDiv(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, true
}
