package api

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/digits"
	"github.com/pro7ech/fhe-org-2024/pir-engine/expand"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/powers"
	"github.com/pro7ech/fhe-org-2024/pir-engine/reduce"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

func requireKind(t *testing.T, err error, kind error) {
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr), "%v", err)
	require.Equal(t, kind, apiErr.Kind, "%v", err)
	require.ErrorIs(t, err, kind)
}

func decode(t *testing.T, data [][]byte) (cts []*rlwe.Ciphertext) {
	cts = make([]*rlwe.Ciphertext, len(data))
	for i := range data {
		cts[i] = new(rlwe.Ciphertext)
		require.NoError(t, cts[i].UnmarshalBinary(data[i]))
	}
	return
}

func TestMatching(t *testing.T) {

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

	paramsBytes, err := params.MarshalBinary()
	require.NoError(t, err)

	rlkBytes, err := rlk.MarshalBinary()
	require.NoError(t, err)

	pkBytes, err := pk.MarshalBinary()
	require.NoError(t, err)

	max := new(big.Int).SetUint64(T)
	x := make([]uint64, slots)
	for i := range x {
		x[i] = sampling.RandInt(max).Uint64()
	}

	pow := func(e int) (y []uint64) {
		y = make([]uint64, slots)
		for i := range y {
			y[i] = 1
			for j := 0; j < e; j++ {
				y[i] = he.MulMod(y[i], x[i], T)
			}
		}
		return
	}

	const degree = 8
	sources := []int{1, 3}

	query := make([][]byte, len(sources))
	for i, e := range sources {
		pt, err := ecd.EncodeBatched(pow(e), params.MaxLevel(), params.NewScale(1))
		require.NoError(t, err)
		ct, err := enc.EncryptNew(pt)
		require.NoError(t, err)
		query[i], err = ct.MarshalBinary()
		require.NoError(t, err)
	}

	table, err := powers.GenerateTable(sources, degree, 0)
	require.NoError(t, err)

	xPowers, err := ComputeEncryptedPowers(paramsBytes, rlkBytes, query, table.Parents(), table.Sources(), 0)
	require.NoError(t, err)
	require.Len(t, xPowers, degree)

	for i, ct := range decode(t, xPowers) {
		have, err := ecd.Decode(dec.DecryptNew(ct))
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(pow(i+1), have[:slots]), "power %d", i+1)
	}

	coeffs := make([][]uint64, degree+1)
	for i := range coeffs {
		coeffs[i] = make([]uint64, slots)
		for j := range coeffs[i] {
			coeffs[i][j] = sampling.RandInt(max).Uint64()
		}
	}

	res, err := ComputeMatches(paramsBytes, rlkBytes, pkBytes, coeffs, xPowers, 0)
	require.NoError(t, err)

	want := make([]uint64, slots)
	for j := range want {
		for d := degree; d >= 0; d-- {
			want[j] = (he.MulMod(want[j], x[j], T) + coeffs[d][j]) % T
		}
	}

	have, err := ecd.Decode(dec.DecryptNew(decode(t, [][]byte{res})[0]))
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want, have[:slots]))

	t.Run("Errors", func(t *testing.T) {

		_, err := ComputeEncryptedPowers([]byte{1, 2, 3}, rlkBytes, query, table.Parents(), table.Sources(), 0)
		requireKind(t, err, he.ErrConfiguration)

		_, err = ComputeEncryptedPowers(paramsBytes, rlkBytes, query[:1], table.Parents(), table.Sources(), 0)
		requireKind(t, err, he.ErrConfiguration)

		_, err = ComputeEncryptedPowers(paramsBytes, rlkBytes, query, [][2]int{{1, 0}, {5, 5}}, []int{1}, 0)
		requireKind(t, err, he.ErrConfiguration)

		_, err = ComputeEncryptedPowers(paramsBytes, []byte{0}, query, table.Parents(), table.Sources(), 0)
		requireKind(t, err, he.ErrProvenance)

		_, err = ComputeMatches(paramsBytes, rlkBytes, nil, coeffs, [][]byte{{0, 1}}, 0)
		requireKind(t, err, he.ErrProvenance)

		_, err = ComputeMatches(paramsBytes, rlkBytes, nil, coeffs[:1], nil, 0)
		requireKind(t, err, he.ErrConfiguration)
	})
}

func TestPIR(t *testing.T) {

	// N=4096, one prime, 16 rows, nvec=[16], index 5
	ctx, err := he.NewContextFromLiteral(he.PIRParametersLiteral, 0)
	require.NoError(t, err)

	params := ctx.Parameters
	N := params.N()

	const index, size, width = 5, 16, 8
	nvec := []int{size}

	kgen := heint.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	gks := kgen.GenGaloisKeysNew(expand.GaloisElements(params, size), sk, ctx.EvaluationKeyParameters())
	enc := heint.NewEncryptor(params, sk)
	dec := heint.NewDecryptor(params, sk)
	ecd := codec.New(ctx)

	paramsBytes, err := params.MarshalBinary()
	require.NoError(t, err)

	keys, err := rlwe.NewMemEvaluationKeySet(nil, gks...).MarshalBinary()
	require.NoError(t, err)

	oneHot := make([]uint64, size)
	oneHot[index] = 1

	coeffs, err := expand.Pack(oneHot, N)
	require.NoError(t, err)

	pt, err := ecd.EncodeCoefficients(coeffs, params.MaxLevel(), params.NewScale(1))
	require.NoError(t, err)

	ct, err := enc.EncryptNew(pt)
	require.NoError(t, err)

	packed, err := ct.MarshalBinary()
	require.NoError(t, err)

	selectors, err := ExpandQuery(paramsBytes, keys, packed, size)
	require.NoError(t, err)
	require.Len(t, selectors, size)

	for j, sel := range decode(t, selectors) {
		have, err := ecd.Decode(dec.DecryptNew(sel))
		require.NoError(t, err)
		require.Equal(t, oneHot[j], have[0])
	}

	database := make([][]uint64, size)
	for i := range database {
		database[i] = make([]uint64, width)
		for j := range database[i] {
			database[i][j] = uint64(i*width + j)
		}
	}

	data, err := GenerateReply(paramsBytes, keys, database, false, selectors, nvec)
	require.NoError(t, err)

	reply := new(reduce.Reply)
	require.NoError(t, reply.UnmarshalBinary(data))
	require.Len(t, reply.Ciphertexts, 1)

	have, err := reply.Decode(digits.NewTransform(ctx), dec, ecd)
	require.NoError(t, err)
	require.Equal(t, database[index], have[:width])

	t.Run("Errors", func(t *testing.T) {

		_, err := ExpandQuery(paramsBytes, keys, packed, N+1)
		requireKind(t, err, he.ErrConfiguration)

		_, err = ExpandQuery(paramsBytes, keys, []byte{0}, size)
		requireKind(t, err, he.ErrProvenance)

		_, err = GenerateReply(paramsBytes, keys, database, false, selectors[:4], nvec)
		requireKind(t, err, he.ErrConfiguration)

		_, err = GenerateReply(paramsBytes, keys, database, false, selectors, []int{4})
		requireKind(t, err, he.ErrConfiguration)
	})
}
