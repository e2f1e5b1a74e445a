package matching

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/powers"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

// horner evaluates the slot polynomials on x modulo T.
func horner(coeffs [][]uint64, x []uint64, T uint64) (y []uint64) {
	y = make([]uint64, len(x))
	for i := range y {
		for d := len(coeffs) - 1; d >= 0; d-- {
			y[i] = (he.MulMod(y[i], x[i], T) + coeffs[d][i]) % T
		}
	}
	return
}

func TestMatcher(t *testing.T) {

	ctx, err := he.NewContextFromLiteral(he.MatchingParametersLiteral, 0)
	require.NoError(t, err)

	params := ctx.Parameters
	T := params.PlaintextModulus()
	slots := params.MaxSlots()

	kgen := heint.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk, ctx.EvaluationKeyParameters())
	enc := heint.NewEncryptor(params, sk)
	dec := heint.NewDecryptor(params, sk)
	ecd := codec.New(ctx)

	builder, err := powers.NewBuilder(ctx, rlk)
	require.NoError(t, err)

	matcher, err := NewMatcher(ctx, rlk, pk)
	require.NoError(t, err)

	max := new(big.Int).SetUint64(T)
	random := func() (v []uint64) {
		v = make([]uint64, slots)
		for i := range v {
			v[i] = sampling.RandInt(max).Uint64()
		}
		return
	}

	x := random()
	x[0] = 3

	// query encrypts x^e for each source e
	query := func(sources []int) (cts []*rlwe.Ciphertext) {
		cts = make([]*rlwe.Ciphertext, len(sources))
		for i, e := range sources {
			xe := make([]uint64, slots)
			for k := range xe {
				xe[k] = 1
				for j := 0; j < e; j++ {
					xe[k] = he.MulMod(xe[k], x[k], T)
				}
			}
			pt, err := ecd.EncodeBatched(xe, params.MaxLevel(), params.NewScale(1))
			require.NoError(t, err)
			cts[i], err = enc.EncryptNew(pt)
			require.NoError(t, err)
		}
		return
	}

	decrypt := func(ct *rlwe.Ciphertext) []uint64 {
		require.Equal(t, 0, ct.Level())
		require.False(t, ct.IsNTT)
		have, err := ecd.Decode(dec.DecryptNew(ct))
		require.NoError(t, err)
		return have[:slots]
	}

	const degree = 8

	coeffs := make([][]uint64, degree+1)
	for i := range coeffs {
		coeffs[i] = random()
	}

	want := horner(coeffs, x, T)

	t.Run("Naive", func(t *testing.T) {

		sources := []int{1, 3}

		table, err := powers.GenerateTable(sources, degree, 0)
		require.NoError(t, err)

		xPowers, err := builder.Compute(query(sources), table)
		require.NoError(t, err)

		res, err := matcher.Evaluate(coeffs, xPowers, 0)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(want, decrypt(res)))
	})

	for _, L := range []int{2, 3} {

		t.Run("PatersonStockmeyer", func(t *testing.T) {

			sources := []int{1, 2, L + 1}

			table, err := powers.GenerateTable(sources, degree, L)
			require.NoError(t, err)

			xPowers, err := builder.Compute(query(sources), table)
			require.NoError(t, err)

			res, err := matcher.ShallowCopy().Evaluate(coeffs, xPowers, L)
			require.NoError(t, err)

			have := decrypt(res)
			require.Empty(t, cmp.Diff(want, have))
			require.Equal(t, horner(coeffs, []uint64{3}, T)[0], have[0])
		})
	}

	t.Run("LowDegreePatersonStockmeyer", func(t *testing.T) {

		// degree < L+1: only the inner polynomial of block 0
		sources := []int{1, 2}

		table, err := powers.GenerateTable([]int{1, 2, 3}, 3, 2)
		require.NoError(t, err)

		xPowers, err := builder.Compute(query([]int{1, 2, 3}), table)
		require.NoError(t, err)

		low := coeffs[:len(sources)+1]

		res, err := matcher.Evaluate(low, xPowers, 2)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(horner(low, x, T), decrypt(res)))
	})

	t.Run("PatersonStockmeyerFewerPowersThanL", func(t *testing.T) {

		// degree <= L only needs the first degree powers
		table, err := powers.GenerateTable([]int{1}, 2, 0)
		require.NoError(t, err)

		xPowers, err := builder.Compute(query([]int{1}), table)
		require.NoError(t, err)
		require.Len(t, xPowers, 2)

		res, err := matcher.Evaluate(coeffs[:3], xPowers, 4)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(horner(coeffs[:3], x, T), decrypt(res)))
	})

	t.Run("IrrelevantBits", func(t *testing.T) {

		n := IrrelevantBits(params)
		require.Greater(t, n, 0)

		table, err := powers.GenerateTable([]int{1}, 1, 0)
		require.NoError(t, err)

		xPowers, err := builder.Compute(query([]int{1}), table)
		require.NoError(t, err)

		res, err := matcher.Evaluate(coeffs[:2], xPowers, 0)
		require.NoError(t, err)

		mask := uint64(1)<<n - 1
		for i := range res.Value {
			for _, c := range res.Value[i].Coeffs[0] {
				require.Zero(t, c&mask)
			}
		}

		require.Empty(t, cmp.Diff(horner(coeffs[:2], x, T), decrypt(res)))
	})

	t.Run("DegreeZero", func(t *testing.T) {

		res, err := matcher.Evaluate(coeffs[:1], nil, 0)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(coeffs[0], decrypt(res)))

		noPk, err := NewMatcher(ctx, rlk, nil)
		require.NoError(t, err)

		_, err = noPk.Evaluate(coeffs[:1], nil, 0)
		require.ErrorIs(t, err, he.ErrConfiguration)
	})

	t.Run("MissingPowers", func(t *testing.T) {
		_, err := matcher.Evaluate(coeffs, query([]int{1}), 0)
		require.ErrorIs(t, err, he.ErrConfiguration)

		_, err = matcher.Evaluate(nil, nil, 0)
		require.ErrorIs(t, err, he.ErrConfiguration)
	})
}
