// Package codec implements the encoding of integer vectors into plaintexts,
// either one value per SIMD slot or one value per ring coefficient, as well
// as the operand form used by the lazy ciphertext-plaintext products.
package codec

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// Codec encodes and decodes plaintexts.
// A Codec is not safe for concurrent use, see ShallowCopy.
type Codec struct {
	*he.Context
	*heint.Encoder
}

// New instantiates a new Codec.
func New(ctx *he.Context) *Codec {
	return &Codec{
		Context: ctx,
		Encoder: heint.NewEncoder(ctx.Parameters),
	}
}

// ShallowCopy returns a copy of the codec sharing the read-only
// context and owning its own buffers.
func (c Codec) ShallowCopy() *Codec {
	return &Codec{
		Context: c.Context,
		Encoder: c.Encoder.ShallowCopy(),
	}
}

// EncodeBatched encodes one value per slot on a new plaintext at the given level and scale.
func (c Codec) EncodeBatched(values []uint64, level int, scale rlwe.Scale) (pt *rlwe.Plaintext, err error) {

	if err = c.CheckBatching(); err != nil {
		return
	}

	if len(values) > c.MaxSlots() {
		return nil, fmt.Errorf("%w: %d values > %d slots", he.ErrConfiguration, len(values), c.MaxSlots())
	}

	pt = heint.NewPlaintext(c.Parameters, level)
	pt.Scale = scale

	if err = c.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("ecd.Encode: %w", err)
	}

	return
}

// EncodeCoefficients encodes one value per ring coefficient on a new
// plaintext at the given level and scale.
func (c Codec) EncodeCoefficients(values []uint64, level int, scale rlwe.Scale) (pt *rlwe.Plaintext, err error) {

	if len(values) > c.RingT().N() {
		return nil, fmt.Errorf("%w: %d values > %d coefficients", he.ErrConfiguration, len(values), c.RingT().N())
	}

	pt = heint.NewPlaintext(c.Parameters, level)
	pt.IsBatched = false // i.e. tags that the plaintext has no special encoding
	pt.Scale = scale

	if err = c.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("ecd.Encode: %w", err)
	}

	return
}

// Decode decodes pt according to its metadata.
func (c Codec) Decode(pt *rlwe.Plaintext) (values []uint64, err error) {
	values = make([]uint64, c.N())
	if err = c.Encoder.Decode(pt, values); err != nil {
		return nil, fmt.Errorf("ecd.Decode: %w", err)
	}
	return
}

// Operand returns values as a polynomial of R_Q at the given level, in the
// NTT and Montgomery domain and without the T^{-1} scaling of the messages,
// ready to be multiplied with ciphertexts by the lazy Montgomery products.
// If batched is true, values are mapped to the slots, else to the coefficients.
func (c Codec) Operand(values []uint64, batched bool, level int) (pQ ring.Poly, err error) {

	ringT := c.RingT()
	pT := ringT.NewPoly()

	if batched {

		if err = c.CheckBatching(); err != nil {
			return
		}

		if err = c.EncodeRingT(values, c.NewScale(1), pT); err != nil {
			return pQ, fmt.Errorf("ecd.EncodeRingT: %w", err)
		}

	} else {

		if len(values) > ringT.N() {
			return pQ, fmt.Errorf("%w: %d values > %d coefficients", he.ErrConfiguration, len(values), ringT.N())
		}

		copy(pT.Coeffs[0], values)
		ringT.Reduce(pT, pT)
	}

	return c.OperandFromRingT(pT, level), nil
}

// OperandFromRingT lifts pT, a polynomial with coefficients modulo the
// plaintext modulus, to an operand of R_Q at the given level.
func (c Codec) OperandFromRingT(pT ring.Poly, level int) (pQ ring.Poly) {

	ringQ := c.RingQ().AtLevel(level)

	pQ = ringQ.NewPoly()

	// False = not scale by T^{-1} mod Q
	c.RingT2Q(level, false, pT, pQ)

	// Montgomery domain
	ringQ.MForm(pQ, pQ)

	// NTT domain
	ringQ.NTT(pQ, pQ)

	return
}

// OperandFromCoefficients lifts coeffs, a vector of N integers smaller than
// every modulus of the chain, to an operand of R_Q at the given level.
// Contrary to OperandFromRingT, it does not require the plaintext ring to
// address every coefficient.
func (c Codec) OperandFromCoefficients(coeffs []uint64, level int) (pQ ring.Poly, err error) {

	ringQ := c.RingQ().AtLevel(level)

	if len(coeffs) > ringQ.N() {
		return pQ, fmt.Errorf("%w: %d coefficients > N=%d", he.ErrConfiguration, len(coeffs), ringQ.N())
	}

	pQ = ringQ.NewPoly()

	for j := range pQ.Coeffs {
		copy(pQ.Coeffs[j], coeffs)
	}

	ringQ.MForm(pQ, pQ)
	ringQ.NTT(pQ, pQ)

	return
}
