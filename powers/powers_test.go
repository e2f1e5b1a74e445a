package powers

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

func TestTable(t *testing.T) {

	t.Run("GenerateNaive", func(t *testing.T) {
		table, err := GenerateTable([]int{1, 3}, 8, 0)
		require.NoError(t, err)
		require.Equal(t, 8, table.Size())
		require.Equal(t, [2]int{1, 0}, table.Parents()[0])
		require.Equal(t, [2]int{1, 1}, table.Parents()[1])
		require.Equal(t, [2]int{3, 0}, table.Parents()[2])
		require.Equal(t, [2]int{1, 3}, table.Parents()[3])
		require.Equal(t, [2]int{3, 3}, table.Parents()[5])
		require.Equal(t, 2, table.Depth())
		require.Equal(t, []int{0, 2}, table.SourceRows())
	})

	t.Run("GeneratePatersonStockmeyer", func(t *testing.T) {
		table, err := GenerateTable([]int{1, 2, 3}, 8, 2)
		require.NoError(t, err)
		// x, x^2 | x^3, x^6
		require.Equal(t, 4, table.Size())
		require.Equal(t, [][2]int{{1, 0}, {2, 0}, {1, 0}, {1, 1}}, table.Parents())
		require.Equal(t, []int{0, 1, 2}, table.SourceRows())
		require.Equal(t, 1, table.Depth())
	})

	t.Run("Invalid", func(t *testing.T) {

		for name, tc := range map[string]struct {
			parents [][2]int
			sources []int
			L       int
		}{
			"Empty":            {nil, []int{1}, 0},
			"NoSource":         {[][2]int{{1, 0}}, nil, 0},
			"NegativeLowPower": {[][2]int{{1, 0}}, []int{1}, -1},
			"LowPowerTooLarge": {[][2]int{{1, 0}, {1, 1}}, []int{1}, 2},
			"DuplicateSource":  {[][2]int{{1, 0}, {1, 1}}, []int{1, 1}, 0},
			"SourceOutside":    {[][2]int{{1, 0}, {1, 1}}, []int{1, 3}, 0},
			"ComputedSource":   {[][2]int{{1, 0}, {1, 1}}, []int{1, 2}, 0},
			"NotComputed":      {[][2]int{{1, 0}, {0, 0}}, []int{1}, 0},
			"ForwardParent":    {[][2]int{{1, 0}, {1, 1}, {1, 3}}, []int{1}, 0},
			"WrongSum":         {[][2]int{{1, 0}, {1, 1}, {1, 1}}, []int{1}, 0},
			"NotMultiple":      {[][2]int{{1, 0}, {1, 1}, {1, 0}}, []int{1, 4}, 2},
			"ZeroSource":       {[][2]int{{1, 0}}, []int{0}, 0},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := NewTable(tc.parents, tc.sources, tc.L)
				require.ErrorIs(t, err, he.ErrConfiguration)
			})
		}

		_, err := GenerateTable([]int{2}, 4, 0)
		require.ErrorIs(t, err, he.ErrConfiguration)

		_, err = GenerateTable([]int{9}, 8, 0)
		require.ErrorIs(t, err, he.ErrConfiguration)
	})
}

func TestBuilder(t *testing.T) {

	ctx, err := he.NewContextFromLiteral(he.MatchingParametersLiteral, 0)
	require.NoError(t, err)

	params := ctx.Parameters
	T := params.PlaintextModulus()

	kgen := heint.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	rlk := kgen.GenRelinearizationKeyNew(sk, ctx.EvaluationKeyParameters())
	enc := heint.NewEncryptor(params, sk)
	dec := heint.NewDecryptor(params, sk)
	ecd := codec.New(ctx)

	builder, err := NewBuilder(ctx, rlk)
	require.NoError(t, err)

	max := new(big.Int).SetUint64(T)
	x := make([]uint64, params.MaxSlots())
	for i := range x {
		x[i] = sampling.RandInt(max).Uint64()
	}

	pow := func(e int) (y []uint64) {
		y = make([]uint64, len(x))
		for i := range y {
			y[i] = 1
			for j := 0; j < e; j++ {
				y[i] = he.MulMod(y[i], x[i], T)
			}
		}
		return
	}

	encryptSources := func(sources []int) (query []*rlwe.Ciphertext) {
		query = make([]*rlwe.Ciphertext, len(sources))
		for i, e := range sources {
			pt, err := ecd.EncodeBatched(pow(e), params.MaxLevel(), params.NewScale(1))
			require.NoError(t, err)
			query[i], err = enc.EncryptNew(pt)
			require.NoError(t, err)
		}
		return
	}

	verify := func(ct *rlwe.Ciphertext, e int) {
		have, err := ecd.Decode(dec.DecryptNew(ct))
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(pow(e), have), "x^%d", e)
	}

	t.Run("Naive", func(t *testing.T) {

		sources := []int{1, 3}

		table, err := GenerateTable(sources, 8, 0)
		require.NoError(t, err)

		query := encryptSources(sources)

		powers, err := builder.Compute(query, table)
		require.NoError(t, err)
		require.Len(t, powers, 8)

		for i := range powers {
			require.Equal(t, 1, powers[i].Degree())
			verify(powers[i], i+1)
		}

		// The query is left untouched
		verify(query[1], 3)
	})

	t.Run("PatersonStockmeyer", func(t *testing.T) {

		L := 2
		sources := []int{1, 2, 3}

		table, err := GenerateTable(sources, 8, L)
		require.NoError(t, err)

		powers, err := builder.ShallowCopy().Compute(encryptSources(sources), table)
		require.NoError(t, err)

		for i := 0; i < L; i++ {
			verify(powers[i], i+1)
		}

		for k := 1; k <= table.Size()-L; k++ {
			verify(powers[L+k-1], k*(L+1))
		}
	})

	t.Run("QuerySizeMismatch", func(t *testing.T) {

		table, err := GenerateTable([]int{1, 3}, 8, 0)
		require.NoError(t, err)

		_, err = builder.Compute(encryptSources([]int{1}), table)
		require.ErrorIs(t, err, he.ErrConfiguration)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := NewBuilder(ctx, nil)
		require.ErrorIs(t, err, he.ErrConfiguration)
	})
}
