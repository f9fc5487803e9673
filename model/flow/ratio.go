package flow

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Fraction is an exact rational threshold used for protocol-critical
// comparisons (kickout, quorum) so that every node reaches the same answer.
type Fraction struct {
	Numerator   uint64
	Denominator uint64
}

// NewFraction returns the fraction num/den.
func NewFraction(num, den uint64) Fraction {
	return Fraction{Numerator: num, Denominator: den}
}

// Validate checks that the fraction lies within [0, 1] and has a positive denominator.
func (f Fraction) Validate() error {
	if f.Denominator == 0 {
		return fmt.Errorf("fraction denominator must be positive")
	}
	if f.Numerator > f.Denominator {
		return fmt.Errorf("fraction %d/%d exceeds one", f.Numerator, f.Denominator)
	}
	return nil
}

// ExceededBy reports whether part/total is strictly greater than the fraction.
// A zero total is never exceeded.
func (f Fraction) ExceededBy(part, total uint64) bool {
	if total == 0 {
		return false
	}
	// part/total > num/den  <=>  part*den > num*total
	return mulCompare(part, f.Denominator, f.Numerator, total) > 0
}

// ParseFraction parses a fraction written as "num/den".
func ParseFraction(s string) (Fraction, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return Fraction{}, fmt.Errorf("malformed fraction %q, expected num/den", s)
	}
	num, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("malformed numerator in %q: %w", s, err)
	}
	den, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Fraction{}, fmt.Errorf("malformed denominator in %q: %w", s, err)
	}
	f := NewFraction(num, den)
	return f, f.Validate()
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// mulCompare compares a*b with c*d without overflowing 64 bits.
func mulCompare(a, b, c, d uint64) int {
	hi1, lo1 := bits.Mul64(a, b)
	hi2, lo2 := bits.Mul64(c, d)
	switch {
	case hi1 != hi2:
		if hi1 > hi2 {
			return 1
		}
		return -1
	case lo1 != lo2:
		if lo1 > lo2 {
			return 1
		}
		return -1
	default:
		return 0
	}
}
