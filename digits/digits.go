// Package digits implements the lossless decomposition of ciphertexts into
// plaintexts of bounded bit-width, its inverse, and the base-2^b digit
// decomposition of plaintexts used by the gadget products.
package digits

import (
	"fmt"
	"math/bits"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// PlaneBits returns floor(log2(T)), the number of bits carried
// by each plane of a decomposed ciphertext.
func PlaneBits(T uint64) int {
	return bits.Len64(T) - 1
}

// ExpansionRatio returns the number of planes needed to represent one
// polynomial of a ciphertext at the given level.
func ExpansionRatio(params heint.Parameters, level int) (r int) {
	pBits := PlaneBits(params.PlaintextModulus())
	for _, qi := range params.Q()[:level+1] {
		r += he.DivCeil(bits.Len64(qi), pBits)
	}
	return
}

// Transform decomposes and composes ciphertexts.
// It holds no buffer and is safe for concurrent use.
type Transform struct {
	*he.Context
}

// NewTransform instantiates a new Transform.
func NewTransform(ctx *he.Context) *Transform {
	return &Transform{Context: ctx}
}

// Decompose slices the coefficients of every polynomial of ct into planes of
// floor(log2(T)) bits. The planes are ordered by polynomial, then modulus, then
// shift, and there are (ct.Degree()+1) * ExpansionRatio(ct.Level()) of them.
// Each plane is a polynomial of N coefficients smaller than T.
// The raw representation of ct is sliced, whether or not it is in the NTT domain.
func (t Transform) Decompose(ct *rlwe.Ciphertext) (planes []ring.Poly) {

	N := t.N()
	level := ct.Level()
	pBits := PlaneBits(t.PlaintextModulus())
	mask := uint64(1)<<pBits - 1
	moduli := t.Q()[:level+1]

	planes = make([]ring.Poly, 0, (ct.Degree()+1)*ExpansionRatio(t.Parameters, level))

	for _, poly := range ct.Value {
		for j, qj := range moduli {

			coeffs := poly.Coeffs[j]

			for shift := 0; shift < bits.Len64(qj); shift += pBits {

				plane := ring.NewPoly(N, 0)
				dst := plane.Coeffs[0]

				for k := range dst {
					dst[k] = (coeffs[k] >> shift) & mask
				}

				planes = append(planes, plane)
			}
		}
	}

	return
}

// Compose is the inverse of Decompose: it shifts and accumulates the planes
// back into a new ciphertext of the given degree and level, carrying meta.
// Planes must have been reduced modulo T, i.e. be the exact output of Decompose
// or the decryption of its encryption.
func (t Transform) Compose(planes []ring.Poly, degree, level int, meta *rlwe.MetaData) (ct *rlwe.Ciphertext, err error) {

	if level < 0 || level > t.MaxLevel() {
		return nil, fmt.Errorf("%w: invalid level %d", he.ErrConfiguration, level)
	}

	if want := (degree + 1) * ExpansionRatio(t.Parameters, level); len(planes) != want {
		return nil, fmt.Errorf("%w: got %d planes but degree=%d & level=%d require %d", he.ErrConfiguration, len(planes), degree, level, want)
	}

	pBits := PlaneBits(t.PlaintextModulus())
	moduli := t.Q()[:level+1]

	ct = rlwe.NewCiphertext(t.Parameters, degree, level)

	if meta != nil {
		*ct.MetaData = *meta
	}

	var idx int
	for _, poly := range ct.Value {
		for j, qj := range moduli {

			dst := poly.Coeffs[j]

			for shift := 0; shift < bits.Len64(qj); shift += pBits {

				src := planes[idx].Coeffs[0]

				if len(src) != len(dst) {
					return nil, fmt.Errorf("%w: plane %d has %d coefficients, expected %d", he.ErrConfiguration, idx, len(src), len(dst))
				}

				for k := range dst {
					dst[k] += src[k] << shift
				}

				idx++
			}

			for k := range dst {
				if dst[k] >= qj {
					return nil, fmt.Errorf("%w: composed coefficient is not reduced modulo q[%d]", he.ErrInvariant, j)
				}
			}
		}
	}

	return
}

// GadgetShifts returns the shifts bits(T) - (p+1)*baseBit for 0 <= p < decompSize.
func GadgetShifts(T uint64, decompSize, baseBit int) (shifts []int, err error) {

	if decompSize < 1 || baseBit < 1 || baseBit > 63 {
		return nil, fmt.Errorf("%w: invalid decomposition %d x %d bits", he.ErrConfiguration, decompSize, baseBit)
	}

	total := bits.Len64(T)

	shifts = make([]int, decompSize)
	for p := range shifts {
		if shifts[p] = total - (p+1)*baseBit; shifts[p] < 0 {
			return nil, fmt.Errorf("%w: decomposition %d x %d bits exceeds the %d bits of the plaintext modulus", he.ErrConfiguration, decompSize, baseBit, total)
		}
	}

	return
}

// GadgetFactors returns 2^{shift_p} mod T, the factors by which the
// ciphertext digits must be scaled for DecompMul to return the product
// with the plaintext.
func GadgetFactors(T uint64, decompSize, baseBit int) (factors []uint64, err error) {

	var shifts []int
	if shifts, err = GadgetShifts(T, decompSize, baseBit); err != nil {
		return
	}

	factors = make([]uint64, decompSize)
	for p, s := range shifts {
		factors[p] = ring.ModExp(2, uint64(s), T)
	}

	return
}

// PlainDecompose splits the coefficient plaintext pt (N coefficients smaller
// than T) into decompSize digit planes of baseBit bits, most significant first.
// Each digit plane is returned as a polynomial of R_Q at the given level, in the
// coefficient domain, ready to be multiplied with a ciphertext digit by DecompMul.
func (t Transform) PlainDecompose(pt []uint64, decompSize, baseBit, level int) (digits []ring.Poly, err error) {

	var shifts []int
	if shifts, err = GadgetShifts(t.PlaintextModulus(), decompSize, baseBit); err != nil {
		return
	}

	ringQ := t.RingQ().AtLevel(level)

	if len(pt) > ringQ.N() {
		return nil, fmt.Errorf("%w: %d coefficients > N=%d", he.ErrConfiguration, len(pt), ringQ.N())
	}

	mask := uint64(1)<<baseBit - 1
	moduli := ringQ.ModuliChain()[:level+1]
	BRC := ringQ.BRedConstants()

	digits = make([]ring.Poly, decompSize)

	for p, shift := range shifts {

		digits[p] = ringQ.NewPoly()

		for k, c := range pt {

			digit := (c >> shift) & mask

			for j := range moduli {
				digits[p].Coeffs[j][k] = ring.BRedAdd(digit, moduli[j], BRC[j])
			}
		}
	}

	return
}

// DecompMul returns sum_p ctDigits[p] * ptDigits[p], where the plaintext
// digits are the output of PlainDecompose and the ciphertext digits are
// in the NTT domain.
func (t Transform) DecompMul(ctDigits []*rlwe.Ciphertext, ptDigits []ring.Poly) (res *rlwe.Ciphertext, err error) {

	if len(ctDigits) == 0 || len(ctDigits) != len(ptDigits) {
		return nil, fmt.Errorf("%w: %d ciphertext digits for %d plaintext digits", he.ErrConfiguration, len(ctDigits), len(ptDigits))
	}

	level := ctDigits[0].Level()
	degree := ctDigits[0].Degree()

	for i := range ctDigits {

		if ctDigits[i].Level() != level || ctDigits[i].Degree() != degree {
			return nil, fmt.Errorf("%w: ciphertext digits have mismatching levels or degrees", he.ErrConfiguration)
		}

		if !ctDigits[i].IsNTT {
			return nil, fmt.Errorf("%w: ciphertext digit %d is not in the NTT domain", he.ErrConfiguration, i)
		}

		if ptDigits[i].Level() < level {
			return nil, fmt.Errorf("%w: plaintext digit %d is at level %d < %d", he.ErrConfiguration, i, ptDigits[i].Level(), level)
		}
	}

	ringQ := t.RingQ().AtLevel(level)

	res = rlwe.NewCiphertext(t.Parameters, degree, level)
	*res.MetaData = *ctDigits[0].MetaData

	buff := ringQ.NewPoly()

	for p := range ctDigits {

		ringQ.NTT(ptDigits[p], buff)
		ringQ.MForm(buff, buff)

		for i := range res.Value {
			if p == 0 {
				ringQ.MulCoeffsMontgomery(ctDigits[p].Value[i], buff, res.Value[i])
			} else {
				ringQ.MulCoeffsMontgomeryThenAdd(ctDigits[p].Value[i], buff, res.Value[i])
			}
		}
	}

	return
}
