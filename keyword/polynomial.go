package keyword

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
)

// FromRoots returns the coefficients, from the constant to the leading one,
// of prod_i (x - roots[i]) mod T.
func FromRoots(roots []uint64, T uint64) (coeffs []uint64) {

	coeffs = make([]uint64, len(roots)+1)
	coeffs[0] = 1

	for i, r := range roots {
		neg := (T - r%T) % T
		// multiply by (x - r) in place, from the top
		coeffs[i+1] = coeffs[i]
		for j := i; j > 0; j-- {
			coeffs[j] = (coeffs[j-1] + he.MulMod(coeffs[j], neg, T)) % T
		}
		coeffs[0] = he.MulMod(coeffs[0], neg, T)
	}

	return
}

// Interpolate returns the coefficients of the unique polynomial of degree
// smaller than len(xs) mapping xs[i] to ys[i] mod T, computed with Newton's
// divided differences. T must be prime and the xs distinct.
func Interpolate(xs, ys []uint64, T uint64) (coeffs []uint64, err error) {

	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d points for %d values", he.ErrConfiguration, len(xs), len(ys))
	}

	n := len(xs)

	if n == 0 {
		return []uint64{0}, nil
	}

	// divided differences, in place
	d := make([]uint64, n)
	for i := range d {
		d[i] = ys[i] % T
	}

	for j := 1; j < n; j++ {
		for i := n - 1; i >= j; i-- {

			den := (xs[i]%T + T - xs[i-j]%T) % T
			if den == 0 {
				return nil, fmt.Errorf("%w: duplicate point %d", he.ErrConfiguration, xs[i])
			}

			num := (d[i] + T - d[i-1]) % T
			d[i] = he.MulMod(num, he.InvMod(den, T), T)
		}
	}

	// Horner on the Newton basis: d[0] + (x - x0)(d[1] + (x - x1)(...))
	coeffs = make([]uint64, n)
	coeffs[0] = d[n-1]

	for i := n - 2; i >= 0; i-- {
		neg := (T - xs[i]%T) % T
		// coeffs = coeffs * (x - xs[i]) + d[i]
		for j := n - 1 - i; j > 0; j-- {
			coeffs[j] = (coeffs[j-1] + he.MulMod(coeffs[j], neg, T)) % T
		}
		coeffs[0] = (he.MulMod(coeffs[0], neg, T) + d[i]) % T
	}

	return
}

// Evaluate returns sum_i coeffs[i] * x^i mod T.
func Evaluate(coeffs []uint64, x, T uint64) (y uint64) {
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = (he.MulMod(y, x, T) + coeffs[i]) % T
	}
	return
}
