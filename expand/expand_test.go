package expand

import (
	"math/big"
	"testing"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

func TestGaloisElements(t *testing.T) {

	params, err := heint.NewParametersFromLiteral(he.PIRParametersLiteral)
	require.NoError(t, err)

	N := params.N()

	require.Empty(t, GaloisElements(params, 1))
	require.Equal(t, []uint64{5, 3}, GaloisElements(params, 3))

	all := AllGaloisElements(params)
	require.Len(t, all, params.LogN())
	require.Equal(t, uint64(N+1), all[0])
	require.Equal(t, uint64(3), all[len(all)-1])

	require.Equal(t, 0, SlotPosition(0, 5, N))
	require.Equal(t, 3*N/8, SlotPosition(3, 5, N))
	require.Equal(t, 7, SlotPosition(7, N, N))
}

func TestExpand(t *testing.T) {

	for _, lit := range []heint.ParametersLiteral{he.PIRParametersLiteral, he.FoldingParametersLiteral} {

		ctx, err := he.NewContextFromLiteral(lit, 0)
		require.NoError(t, err)

		params := ctx.Parameters
		T := params.PlaintextModulus()
		N := params.N()

		kgen := heint.NewKeyGenerator(params)
		sk := kgen.GenSecretKeyNew()
		gks := kgen.GenGaloisKeysNew(AllGaloisElements(params), sk, ctx.EvaluationKeyParameters())
		enc := heint.NewEncryptor(params, sk)
		dec := heint.NewDecryptor(params, sk)
		ecd := codec.New(ctx)

		expander := NewExpander(ctx, rlwe.NewMemEvaluationKeySet(nil, gks...))

		max := new(big.Int).SetUint64(T)

		for _, m := range []int{1, 3, 16, 33} {

			values := make([]uint64, m)
			for i := range values {
				values[i] = sampling.RandInt(max).Uint64()
			}

			coeffs, err := Pack(values, N)
			require.NoError(t, err)

			pt, err := ecd.EncodeCoefficients(coeffs, params.MaxLevel(), params.NewScale(1))
			require.NoError(t, err)

			ct, err := enc.EncryptNew(pt)
			require.NoError(t, err)

			cts, err := expander.ShallowCopy().Expand(ct, m)
			require.NoError(t, err)
			require.Len(t, cts, m)

			for j := range cts {

				have, err := ecd.Decode(dec.DecryptNew(cts[j]))
				require.NoError(t, err)

				require.Equal(t, values[j], have[0], "m=%d j=%d", m, j)

				for k := 1; k < N; k++ {
					require.Zero(t, have[k], "m=%d j=%d k=%d", m, j, k)
				}
			}
		}

		t.Run("InvalidSize", func(t *testing.T) {

			ct := heint.NewCiphertext(params, 1, params.MaxLevel())

			_, err := expander.Expand(ct, N+1)
			require.ErrorIs(t, err, he.ErrConfiguration)

			_, err = expander.Expand(ct, 0)
			require.ErrorIs(t, err, he.ErrConfiguration)

			_, err = Pack(make([]uint64, N+1), N)
			require.ErrorIs(t, err, he.ErrConfiguration)
		})

		t.Run("MissingKeys", func(t *testing.T) {

			ct := heint.NewCiphertext(params, 1, params.MaxLevel())

			partial := rlwe.NewMemEvaluationKeySet(nil, gks[:1]...)

			_, err := NewExpander(ctx, partial).Expand(ct, 4)
			require.ErrorIs(t, err, he.ErrConfiguration)

			_, err = NewExpander(ctx, nil).Expand(ct, 2)
			require.ErrorIs(t, err, he.ErrConfiguration)
		})
	}
}
