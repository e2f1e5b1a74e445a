package codec

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

func randomVector(n int, T uint64) (v []uint64) {
	max := new(big.Int).SetUint64(T)
	v = make([]uint64, n)
	for i := range v {
		v[i] = sampling.RandInt(max).Uint64()
	}
	return
}

func TestCodec(t *testing.T) {

	ctx, err := he.NewContextFromLiteral(he.FoldingParametersLiteral, 0)
	require.NoError(t, err)

	params := ctx.Parameters
	T := params.PlaintextModulus()

	kgen := heint.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	enc := heint.NewEncryptor(params, sk)
	dec := heint.NewDecryptor(params, sk)

	c := New(ctx)

	t.Run("Batched", func(t *testing.T) {

		want := randomVector(params.MaxSlots(), T)

		pt, err := c.EncodeBatched(want, params.MaxLevel(), params.NewScale(1))
		require.NoError(t, err)

		ct, err := enc.EncryptNew(pt)
		require.NoError(t, err)

		have, err := c.Decode(dec.DecryptNew(ct))
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(want, have))
	})

	t.Run("Coefficients", func(t *testing.T) {

		want := randomVector(params.N(), T)

		pt, err := c.EncodeCoefficients(want, 0, params.NewScale(3))
		require.NoError(t, err)

		ct, err := enc.EncryptNew(pt)
		require.NoError(t, err)

		have, err := c.Decode(dec.DecryptNew(ct))
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(want, have))
	})

	t.Run("TooManyValues", func(t *testing.T) {
		_, err := c.EncodeCoefficients(make([]uint64, params.N()+1), 0, params.NewScale(1))
		require.ErrorIs(t, err, he.ErrConfiguration)
	})

	t.Run("Operand", func(t *testing.T) {

		for _, batched := range []bool{true, false} {

			a := randomVector(params.N(), T)
			b := randomVector(params.N(), T)

			var pt *rlwe.Plaintext
			if batched {
				pt, err = c.EncodeBatched(a, params.MaxLevel(), params.NewScale(1))
			} else {
				pt, err = c.EncodeCoefficients(a, params.MaxLevel(), params.NewScale(1))
			}
			require.NoError(t, err)

			ct, err := enc.EncryptNew(pt)
			require.NoError(t, err)

			op, err := c.Operand(b, batched, params.MaxLevel())
			require.NoError(t, err)

			ringQ := params.RingQ().AtLevel(ct.Level())
			for i := range ct.Value {
				ringQ.MulCoeffsMontgomery(ct.Value[i], op, ct.Value[i])
			}

			have, err := c.Decode(dec.DecryptNew(ct))
			require.NoError(t, err)

			want := make([]uint64, params.N())
			if batched {
				for i := range want {
					want[i] = he.MulMod(a[i], b[i], T)
				}
			} else {
				// Negacyclic convolution modulo T
				N := params.N()
				for i := 0; i < N; i++ {
					for j := 0; j < N; j++ {
						prod := he.MulMod(a[i], b[j], T)
						if k := i + j; k < N {
							want[k] = (want[k] + prod) % T
						} else {
							want[k-N] = (want[k-N] + T - prod) % T
						}
					}
				}
			}

			require.Empty(t, cmp.Diff(want, have))
		}
	})

	t.Run("ShallowCopy", func(t *testing.T) {
		cpy := c.ShallowCopy()
		require.True(t, cpy.Context == c.Context)
		require.False(t, cpy.Encoder == c.Encoder)
	})
}
