package lottery

import "math/bits"

// cost returns price*count and false if the product overflows.
func cost(price, count uint64) (uint64, bool) {
	hi, lo := bits.Mul64(price, count)
	return lo, hi == 0
}

// Split divides pool between the operator and the winner. The commission
// is truncated, so the remainder of the division goes to the winner and
// the two shares always add up to pool. percent must not exceed 100.
func Split(pool, percent uint64) (commission, winnerShare uint64) {
	hi, lo := bits.Mul64(pool, percent)
	// pool < 2^64 and percent <= 100, so hi < 100 and Div64 cannot panic.
	commission, _ = bits.Div64(hi, lo, 100)
	return commission, pool - commission
}
