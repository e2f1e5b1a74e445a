// Package expand implements the oblivious expansion of a ciphertext packing
// m values in its coefficients into m ciphertexts, each encrypting one of
// the values as a constant polynomial.
package expand

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// Rounds returns the number of expansion rounds needed to extract m values.
func Rounds(m int) int {
	return he.Log2Ceil(m)
}

// SlotPosition returns the coefficient index at which the j-th of m values must
// be packed, i.e. j * N / 2^Rounds(m).
func SlotPosition(j, m, N int) int {
	return j * (N >> Rounds(m))
}

// Pack returns the coefficient vector of N elements packing values for
// an expansion into len(values) ciphertexts.
func Pack(values []uint64, N int) (coeffs []uint64, err error) {

	if len(values) < 1 || len(values) > N {
		return nil, fmt.Errorf("%w: cannot pack %d values in %d coefficients", he.ErrConfiguration, len(values), N)
	}

	coeffs = make([]uint64, N)
	for j, v := range values {
		coeffs[SlotPosition(j, len(values), N)] = v
	}

	return
}

// galoisElement returns the Galois element of the automorphism X -> X^{N/2^index + 1}.
func galoisElement(N, index int) uint64 {
	return uint64(N>>index) + 1
}

// GaloisElements returns the Galois elements required to expand m values.
func GaloisElements(params heint.Parameters, m int) (galEls []uint64) {
	rounds := Rounds(m)
	for i := 0; i < rounds; i++ {
		galEls = append(galEls, galoisElement(params.N(), params.LogN()-rounds+i))
	}
	return
}

// AllGaloisElements returns the Galois elements required to expand up to N values.
func AllGaloisElements(params heint.Parameters) (galEls []uint64) {
	return GaloisElements(params, params.N())
}

// Expander expands packed ciphertexts.
// An Expander is not safe for concurrent use, see ShallowCopy.
type Expander struct {
	*he.Context
	*heint.Evaluator
	evk rlwe.EvaluationKeySet

	// X^{-2^i} in the NTT and Montgomery domain
	xPowInv []ring.Poly
}

// NewExpander instantiates a new Expander with the given Galois keys.
func NewExpander(ctx *he.Context, evk rlwe.EvaluationKeySet) *Expander {
	return &Expander{
		Context:   ctx,
		Evaluator: heint.NewEvaluator(ctx.Parameters, evk),
		evk:       evk,
		xPowInv:   he.GenXPow2NTT(ctx.RingQ(), ctx.LogN(), true),
	}
}

// ShallowCopy returns a copy of the expander that can be used concurrently with the original.
func (e Expander) ShallowCopy() *Expander {
	return &Expander{
		Context:   e.Context,
		Evaluator: e.Evaluator.ShallowCopy(),
		evk:       e.evk,
		xPowInv:   e.xPowInv,
	}
}

// Expand returns m ciphertexts where the j-th encrypts, as a constant polynomial,
// the coefficient of ct at SlotPosition(j, m, N).
//
// Each round doubles the messages, so the scale of the outputs is the scale
// of ct multiplied by 2^Rounds(m) and decoding them yields the packed values.
func (e Expander) Expand(ct *rlwe.Ciphertext, m int) (cts []*rlwe.Ciphertext, err error) {

	N := e.N()

	if m < 1 || m > N {
		return nil, fmt.Errorf("%w: cannot expand %d values from a ring of degree %d", he.ErrConfiguration, m, N)
	}

	if err = e.CheckCiphertext(ct); err != nil {
		return
	}

	if ct.Degree() != 1 || !ct.IsNTT {
		return nil, fmt.Errorf("%w: expansion requires a degree 1 ciphertext in the NTT domain", he.ErrConfiguration)
	}

	if err = e.CheckGaloisKeys(e.evk, GaloisElements(e.Parameters, m)); err != nil {
		return
	}

	rounds := Rounds(m)
	level := ct.Level()
	ringQ := e.RingQ().AtLevel(level)

	cts = []*rlwe.Ciphertext{ct.CopyNew()}

	rot := heint.NewCiphertext(e.Parameters, 1, level)

	for i := 0; i < rounds; i++ {

		index := e.LogN() - rounds + i
		galEl := galoisElement(N, index)
		half := len(cts)

		next := make([]*rlwe.Ciphertext, min(half<<1, m))

		for j := 0; j < half; j++ {

			if err = e.Automorphism(cts[j], galEl, rot); err != nil {
				return nil, fmt.Errorf("eval.Automorphism: %w", err)
			}

			// Odd part: (t - sigma(t)) * X^{-2^index}
			if j+half < len(next) {

				odd := heint.NewCiphertext(e.Parameters, 1, level)

				if err = e.Sub(cts[j], rot, odd); err != nil {
					return nil, fmt.Errorf("eval.Sub: %w", err)
				}

				for k := range odd.Value {
					ringQ.MulCoeffsMontgomery(odd.Value[k], e.xPowInv[index], odd.Value[k])
				}

				next[j+half] = odd
			}

			// Even part: t + sigma(t)
			if err = e.Add(cts[j], rot, cts[j]); err != nil {
				return nil, fmt.Errorf("eval.Add: %w", err)
			}

			next[j] = cts[j]
		}

		cts = next
	}

	T := e.PlaintextModulus()
	factor := ring.ModExp(2, uint64(rounds), T)

	for i := range cts {
		cts[i].Scale = e.NewScale(he.MulMod(cts[i].Scale.Uint64()%T, factor, T))
	}

	return
}
