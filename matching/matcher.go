// Package matching implements the homomorphic evaluation of the per-slot
// matching polynomials on the powers of an encrypted query, either by the
// naive method or by the Paterson-Stockmeyer method.
package matching

import (
	"fmt"
	"math/bits"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Matcher evaluates matching polynomials.
// A Matcher is not safe for concurrent use, see ShallowCopy.
type Matcher struct {
	*he.Context
	*heint.Evaluator
	ecd *codec.Codec
	enc *rlwe.Encryptor
}

// NewMatcher instantiates a new Matcher. The public key is only
// required to evaluate polynomials of degree zero and can be nil.
func NewMatcher(ctx *he.Context, rlk *rlwe.RelinearizationKey, pk *rlwe.PublicKey) (*Matcher, error) {

	if err := ctx.CheckBatching(); err != nil {
		return nil, err
	}

	if err := ctx.CheckRelinearizationKey(rlk); err != nil {
		return nil, err
	}

	m := &Matcher{
		Context:   ctx,
		Evaluator: heint.NewEvaluator(ctx.Parameters, rlwe.NewMemEvaluationKeySet(rlk)),
		ecd:       codec.New(ctx),
	}

	if pk != nil {
		m.enc = heint.NewEncryptor(ctx.Parameters, pk)
	}

	return m, nil
}

// ShallowCopy returns a copy of the matcher that can be used concurrently with the original.
func (m Matcher) ShallowCopy() *Matcher {
	cpy := &Matcher{
		Context:   m.Context,
		Evaluator: m.Evaluator.ShallowCopy(),
		ecd:       m.ecd.ShallowCopy(),
	}
	if m.enc != nil {
		cpy.enc = m.enc.ShallowCopy()
	}
	return cpy
}

// Evaluate returns an encryption of sum_i coeffs[i] * x^i, slot-wise, where
// coeffs[i] is the vector of the i-th coefficient of each slot polynomial.
//
// If psLowPower is zero, powers[i] must encrypt x^{i+1} for 0 <= i < degree.
// Else, with L = psLowPower and H = degree/(L+1), powers[j] must encrypt
// x^{j+1} for 0 <= j < min(L, degree) and powers[L+i-1] must encrypt x^{i(L+1)} for 1 <= i <= H,
// i.e. the layout returned by powers.Builder.
//
// The result is at level 0, in the coefficient domain, with the least
// significant bits that do not carry any information set to zero.
func (m Matcher) Evaluate(coeffs [][]uint64, powers []*rlwe.Ciphertext, psLowPower int) (res *rlwe.Ciphertext, err error) {

	if len(coeffs) == 0 {
		return nil, fmt.Errorf("%w: empty polynomial", he.ErrConfiguration)
	}

	if psLowPower < 0 {
		return nil, fmt.Errorf("%w: negative low power", he.ErrConfiguration)
	}

	degree := len(coeffs) - 1

	for i := range coeffs {
		if len(coeffs[i]) > m.MaxSlots() {
			return nil, fmt.Errorf("%w: coefficient %d has %d values > %d slots", he.ErrConfiguration, i, len(coeffs[i]), m.MaxSlots())
		}
	}

	if degree == 0 {
		res, err = m.encryptConstant(coeffs[0])
	} else if psLowPower == 0 {
		res, err = m.evaluateNaive(coeffs, powers)
	} else {
		res, err = m.evaluatePatersonStockmeyer(coeffs, powers, psLowPower)
	}

	if err != nil {
		return
	}

	return res, m.finalize(res)
}

// encryptConstant returns a fresh encryption of c0 under the public key.
func (m Matcher) encryptConstant(c0 []uint64) (res *rlwe.Ciphertext, err error) {

	if m.enc == nil {
		return nil, fmt.Errorf("%w: a polynomial of degree 0 requires a public key", he.ErrConfiguration)
	}

	var pt *rlwe.Plaintext
	if pt, err = m.ecd.EncodeBatched(c0, m.HighLevel(), m.NewScale(1)); err != nil {
		return
	}

	if res, err = m.enc.EncryptNew(pt); err != nil {
		return nil, fmt.Errorf("enc.EncryptNew: %w", err)
	}

	return
}

func (m Matcher) evaluateNaive(coeffs [][]uint64, powers []*rlwe.Ciphertext) (res *rlwe.Ciphertext, err error) {

	degree := len(coeffs) - 1

	if err = m.checkPowers(powers, degree); err != nil {
		return
	}

	high := m.HighLevel()
	target := m.NewScale(1)

	for i := 1; i <= degree; i++ {

		var xi *rlwe.Ciphertext
		if xi, err = m.rescaleTo(powers[i-1], high); err != nil {
			return nil, fmt.Errorf("x^%d: %w", i, err)
		}

		if res, err = m.mulThenAccumulate(xi, coeffs[i], target, res); err != nil {
			return nil, fmt.Errorf("x^%d: %w", i, err)
		}
	}

	return res, m.addConstant(res, coeffs[0])
}

func (m Matcher) evaluatePatersonStockmeyer(coeffs [][]uint64, powers []*rlwe.Ciphertext, L int) (res *rlwe.Ciphertext, err error) {

	degree := len(coeffs) - 1
	H := degree / (L + 1)
	nLow := min(L, degree)

	if err = m.checkPowers(powers, nLow+H); err != nil {
		return
	}

	low, high := m.LowLevel(), m.HighLevel()
	target := m.NewScale(1)
	T := m.PlaintextModulus()

	// Scale factor applied by the rescaling from the low to the high level.
	delta := m.rescaleFactor(low, high)

	lowPowers := make([]*rlwe.Ciphertext, nLow)
	for j := range lowPowers {
		if lowPowers[j], err = m.rescaleTo(powers[j], low); err != nil {
			return nil, fmt.Errorf("x^%d: %w", j+1, err)
		}
	}

	highPowers := make([]*rlwe.Ciphertext, H)
	for i := range highPowers {
		if highPowers[i], err = m.rescaleTo(powers[L+i], high); err != nil {
			return nil, fmt.Errorf("x^%d: %w", (i+1)*(L+1), err)
		}
	}

	// inner returns sum_{j=1}^{length} coeffs[offset+j] * x^j rescaled at the high level,
	// with its scale equal to scale.
	inner := func(offset, length int, scale rlwe.Scale) (sum *rlwe.Ciphertext, err error) {

		scaleLow := m.NewScale(he.MulMod(scale.Uint64(), he.InvMod(delta, T), T))

		for j := 1; j <= length; j++ {
			if sum, err = m.mulThenAccumulate(lowPowers[j-1], coeffs[offset+j], scaleLow, sum); err != nil {
				return nil, fmt.Errorf("x^%d: %w", j, err)
			}
		}

		return m.rescaleTo(sum, high)
	}

	// Blocks i = 1, ..., H with a non-empty inner polynomial:
	// all the full ones, then the remainder if any.
	var blocks [][2]int
	for i := 1; i < H; i++ {
		blocks = append(blocks, [2]int{i, L})
	}

	if rem := degree % (L + 1); rem > 0 && H > 0 {
		blocks = append(blocks, [2]int{H, rem})
	}

	for _, b := range blocks {

		i, length := b[0], b[1]
		xh := highPowers[i-1]

		var sum *rlwe.Ciphertext
		if sum, err = inner(i*(L+1), length, m.divScale(target, xh.Scale)); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}

		var prod *rlwe.Ciphertext
		if prod, err = m.MulNew(sum, xh); err != nil {
			return nil, fmt.Errorf("eval.MulNew: %w", err)
		}

		if res, err = m.accumulate(prod, res); err != nil {
			return
		}
	}

	// Single relinearization of the sum of the ciphertext-ciphertext products
	if res != nil {
		relin := heint.NewCiphertext(m.Parameters, 1, res.Level())
		if err = m.Relinearize(res, relin); err != nil {
			return nil, fmt.Errorf("eval.Relinearize: %w", err)
		}
		res = relin
	}

	length := L
	if H == 0 {
		length = degree
	}

	var sum *rlwe.Ciphertext
	if sum, err = inner(0, length, target); err != nil {
		return nil, fmt.Errorf("block 0: %w", err)
	}

	if res, err = m.accumulate(sum, res); err != nil {
		return
	}

	// Constant coefficients of the inner polynomials
	for i := 1; i <= H; i++ {
		if res, err = m.mulThenAccumulate(highPowers[i-1], coeffs[i*(L+1)], target, res); err != nil {
			return nil, fmt.Errorf("x^%d: %w", i*(L+1), err)
		}
	}

	return res, m.addConstant(res, coeffs[0])
}

// checkPowers checks that the first n powers are well formed.
func (m Matcher) checkPowers(powers []*rlwe.Ciphertext, n int) (err error) {

	if len(powers) < n {
		return fmt.Errorf("%w: %d powers < %d required powers", he.ErrConfiguration, len(powers), n)
	}

	if err = m.CheckCiphertexts(powers[:n]); err != nil {
		return
	}

	for i := range powers[:n] {
		if powers[i].Degree() != 1 {
			return fmt.Errorf("%w: power %d has degree %d", he.ErrConfiguration, i, powers[i].Degree())
		}
	}

	return
}

// rescaleTo returns a copy of ct rescaled down to the given level.
func (m Matcher) rescaleTo(ct *rlwe.Ciphertext, level int) (out *rlwe.Ciphertext, err error) {

	if ct.Level() < level {
		return nil, fmt.Errorf("%w: ciphertext at level %d < %d", he.ErrConfiguration, ct.Level(), level)
	}

	out = ct.CopyNew()

	for out.Level() > level {
		if err = m.Rescale(out, out); err != nil {
			return nil, fmt.Errorf("eval.Rescale: %w", err)
		}
	}

	return
}

// rescaleFactor returns prod_{from >= j > to} q_j^{-1} mod T, i.e. the factor by
// which the scale of a ciphertext is multiplied when rescaled from level from to level to.
func (m Matcher) rescaleFactor(from, to int) (f uint64) {
	T := m.PlaintextModulus()
	f = 1
	for _, qj := range m.Q()[to+1 : from+1] {
		f = he.MulMod(f, he.InvMod(qj%T, T), T)
	}
	return
}

// divScale returns a/b mod T.
func (m Matcher) divScale(a, b rlwe.Scale) rlwe.Scale {
	T := m.PlaintextModulus()
	return m.NewScale(he.MulMod(a.Uint64(), he.InvMod(b.Uint64()%T, T), T))
}

// mulThenAccumulate returns acc + ct * values, where values are encoded
// such that the product has the given scale. acc can be nil.
func (m Matcher) mulThenAccumulate(ct *rlwe.Ciphertext, values []uint64, scale rlwe.Scale, acc *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {

	pt, err := m.ecd.EncodeBatched(values, ct.Level(), m.divScale(scale, ct.Scale))
	if err != nil {
		return nil, err
	}

	prod, err := m.MulNew(ct, pt)
	if err != nil {
		return nil, fmt.Errorf("eval.MulNew: %w", err)
	}

	return m.accumulate(prod, acc)
}

// accumulate returns acc + ct, or ct if acc is nil.
func (m Matcher) accumulate(ct, acc *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {

	if acc == nil {
		return ct, nil
	}

	if err := m.Add(acc, ct, acc); err != nil {
		return nil, fmt.Errorf("eval.Add: %w", err)
	}

	return acc, nil
}

// addConstant adds c0 as a plaintext at the scale of ct.
func (m Matcher) addConstant(ct *rlwe.Ciphertext, c0 []uint64) (err error) {

	var pt *rlwe.Plaintext
	if pt, err = m.ecd.EncodeBatched(c0, ct.Level(), m.NewScale(ct.Scale.Uint64()%m.PlaintextModulus())); err != nil {
		return
	}

	if err = m.Add(ct, pt, ct); err != nil {
		return fmt.Errorf("eval.Add: %w", err)
	}

	return
}

// finalize rescales ct to level 0, switches it to the coefficient domain
// and zeroes the irrelevant least significant bits.
func (m Matcher) finalize(ct *rlwe.Ciphertext) (err error) {

	for ct.Level() > 0 {
		if err = m.Rescale(ct, ct); err != nil {
			return fmt.Errorf("eval.Rescale: %w", err)
		}
	}

	ringQ := m.RingQ().AtLevel(0)

	if ct.IsNTT {
		for i := range ct.Value {
			ringQ.INTT(ct.Value[i], ct.Value[i])
		}
		ct.IsNTT = false
	}

	if n := IrrelevantBits(m.Parameters); n > 0 {
		mask := ^(uint64(1)<<n - 1)
		for i := range ct.Value {
			coeffs := ct.Value[i].Coeffs[0]
			for k := range coeffs {
				coeffs[k] &= mask
			}
		}
	}

	return
}

// IrrelevantBits returns the number of least significant bits of the
// coefficients of a ciphertext at level 0 that can be zeroed without
// destroying the message.
func IrrelevantBits(params heint.Parameters) int {
	keep := bits.Len64(params.PlaintextModulus()) + bits.Len64(uint64(params.N())) - 1

	return max(0, bits.Len64(params.Q()[0])-keep)
}
