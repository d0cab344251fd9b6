// Package rational provides exact rational-number arithmetic for timestamp
// rescaling, avoiding the float drift that accumulates when PTS/DTS values
// are converted between timebases over a long-running stream.
package rational

// Rational is a timebase or timestamp expressed as Num/Den, kept as exact
// integers instead of a float so repeated rescaling never drifts.
type Rational struct {
	Num int64
	Den int64
}

// New returns a Rational after reducing it to lowest terms.
func New(num, den int64) Rational {
	return Rational{Num: num, Den: den}.reduce()
}

func (r Rational) reduce() Rational {
	if r.Den == 0 {
		return r
	}
	g := gcd(abs(r.Num), abs(r.Den))
	if g == 0 {
		return r
	}
	sign := int64(1)
	if (r.Num < 0) != (r.Den < 0) {
		sign = -1
	}
	return Rational{Num: sign * abs(r.Num) / g, Den: abs(r.Den) / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Rescale converts a timestamp expressed in timebase `from` to the
// equivalent timestamp in timebase `to`, rounding to the nearest integer.
// Invariant 5: every packet PTS/DTS is rescaled this way before being
// written to the output container.
func Rescale(ts int64, from, to Rational) int64 {
	if from.Den == 0 || to.Den == 0 || from == to {
		return ts
	}
	// ts * (from.Num/from.Den) * (to.Den/to.Num), rearranged to delay
	// division as long as possible and rounded half-away-from-zero.
	num := ts * from.Num * to.Den
	den := from.Den * to.Num
	if den == 0 {
		return ts
	}
	return roundDiv(num, den)
}

func roundDiv(num, den int64) int64 {
	if den < 0 {
		num, den = -num, -den
	}
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}

// Seconds returns the rational's value as a float64, e.g. a measured PTS
// span expressed in seconds.
func (r Rational) Seconds() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Mul returns r multiplied by the integer scalar n, interpreted as n/1.
func (r Rational) Mul(n int64) Rational {
	return New(r.Num*n, r.Den)
}

// Compare returns -1, 0, or 1 comparing r to other, without ever
// converting to floating point.
func (r Rational) Compare(other Rational) int {
	lhs := r.Num * other.Den
	rhs := other.Num * r.Den
	if r.Den < 0 {
		lhs = -lhs
	}
	if other.Den < 0 {
		rhs = -rhs
	}
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}
