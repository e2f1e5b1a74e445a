package he

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/tuneinsight/lattigo/v5/ring"
	"golang.org/x/exp/constraints"
)

// RunTimed runs f and prints msg followed by the time it took.
func RunTimed(msg string, f func() (err error)) (err error) {
	fmt.Printf("%s: ", msg)
	now := time.Now()
	if err = f(); err != nil {
		fmt.Println()
		return
	}
	fmt.Printf("%s\n", time.Since(now))
	return
}

// GenXPow2NTT generates X^({-1 if div else 1} * {2^{0 <= i < LogN}}) in the NTT and Montgomery domain.
func GenXPow2NTT(r *ring.Ring, logN int, div bool) (xPow []ring.Poly) {

	xPow = make([]ring.Poly, logN)

	moduli := r.ModuliChain()[:r.Level()+1]
	BRC := r.BRedConstants()

	for i := 0; i < logN; i++ {

		xPow[i] = r.NewPoly()

		if i == 0 {

			// X^{-1} = -X^{N-1}, the sign is fixed once all the powers are derived
			idx := 1
			if div {
				idx = r.N() - 1
			}

			for j := range moduli {
				xPow[i].Coeffs[j][idx] = ring.MForm(1, moduli[j], BRC[j])
			}

			r.NTT(xPow[i], xPow[i])

		} else {
			r.MulCoeffsMontgomery(xPow[i-1], xPow[i-1], xPow[i]) // X^{2^i} = X^{2^{i-1}} * X^{2^{i-1}}
		}
	}

	if div {
		r.Neg(xPow[0], xPow[0])
	}

	return
}

// Log2Ceil returns ceil(log2(x)) for x > 0 and 0 otherwise.
func Log2Ceil[T constraints.Integer](x T) int {
	if x <= 1 {
		return 0
	}
	return bits.Len64(uint64(x - 1))
}

// DivCeil returns ceil(a/b).
func DivCeil[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// Product returns the product of the elements of v.
func Product[T constraints.Integer](v []T) (p T) {
	p = 1
	for i := range v {
		p *= v[i]
	}
	return
}

// Sum returns the sum of the elements of v.
func Sum[T constraints.Integer](v []T) (s T) {
	for i := range v {
		s += v[i]
	}
	return
}

// MulMod returns a*b mod m.
func MulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a%m, b%m)
	return bits.Rem64(hi, lo, m)
}

// InvMod returns a^{-1} mod m for a prime m.
func InvMod(a, m uint64) uint64 {
	return ring.ModExp(a%m, m-2, m)
}
