// Package api exposes the engine to a host process over serialized inputs:
// every cryptographic object crosses the boundary in the canonical binary
// encoding of lattigo and every failure is returned as an *Error.
package api

import (
	"errors"
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/expand"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/matching"
	"github.com/pro7ech/fhe-org-2024/pir-engine/powers"
	"github.com/pro7ech/fhe-org-2024/pir-engine/reduce"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Error is the error returned by every function of the package.
// Kind is one of he.ErrConfiguration, he.ErrProvenance or he.ErrInvariant.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {

	if err == nil {
		return nil
	}

	kind := he.ErrInvariant
	for _, k := range []error{he.ErrConfiguration, he.ErrProvenance} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}

	return &Error{Op: op, Kind: kind, Err: err}
}

// ComputeEncryptedPowers returns the encrypted powers of the query described by
// the parent table, see powers.NewTable and powers.Builder.
func ComputeEncryptedPowers(params, relinKey []byte, query [][]byte, table [][2]int, sources []int, psLowPower int) (out [][]byte, err error) {

	defer func() { err = wrap("ComputeEncryptedPowers", err) }()

	var ctx *he.Context
	if ctx, err = decodeContext(params); err != nil {
		return
	}

	var rlk *rlwe.RelinearizationKey
	if rlk, err = decodeRelinearizationKey(ctx, relinKey); err != nil {
		return
	}

	var t *powers.Table
	if t, err = powers.NewTable(table, sources, psLowPower); err != nil {
		return
	}

	var cts []*rlwe.Ciphertext
	if cts, err = decodeCiphertexts(ctx, query); err != nil {
		return
	}

	var builder *powers.Builder
	if builder, err = powers.NewBuilder(ctx, rlk); err != nil {
		return
	}

	if cts, err = builder.Compute(cts, t); err != nil {
		return
	}

	return encodeCiphertexts(cts)
}

// ComputeMatches evaluates the slot-wise polynomial with coefficients coeffs on the
// encrypted powers, see matching.Matcher. The public key is only required by
// polynomials of degree zero and can be empty.
func ComputeMatches(params, relinKey, publicKey []byte, coeffs [][]uint64, xPowers [][]byte, psLowPower int) (out []byte, err error) {

	defer func() { err = wrap("ComputeMatches", err) }()

	var ctx *he.Context
	if ctx, err = decodeContext(params); err != nil {
		return
	}

	var rlk *rlwe.RelinearizationKey
	if rlk, err = decodeRelinearizationKey(ctx, relinKey); err != nil {
		return
	}

	var pk *rlwe.PublicKey
	if len(publicKey) != 0 {
		pk = new(rlwe.PublicKey)
		if err = pk.UnmarshalBinary(publicKey); err != nil {
			return nil, fmt.Errorf("%w: rlwe.PublicKey.UnmarshalBinary: %v", he.ErrProvenance, err)
		}
	}

	var cts []*rlwe.Ciphertext
	if cts, err = decodeCiphertexts(ctx, xPowers); err != nil {
		return
	}

	var matcher *matching.Matcher
	if matcher, err = matching.NewMatcher(ctx, rlk, pk); err != nil {
		return
	}

	var res *rlwe.Ciphertext
	if res, err = matcher.Evaluate(coeffs, cts, psLowPower); err != nil {
		return
	}

	return res.MarshalBinary()
}

// ExpandQuery expands the packed ciphertext into m ciphertexts, see expand.Expander.
func ExpandQuery(params, galoisKeys, packed []byte, m int) (out [][]byte, err error) {

	defer func() { err = wrap("ExpandQuery", err) }()

	var ctx *he.Context
	if ctx, err = decodeContext(params); err != nil {
		return
	}

	if m < 1 || m > ctx.N() {
		return nil, fmt.Errorf("%w: cannot expand %d values from a ring of degree %d", he.ErrConfiguration, m, ctx.N())
	}

	var evk *rlwe.MemEvaluationKeySet
	if evk, err = decodeEvaluationKeySet(galoisKeys); err != nil {
		return
	}

	var cts []*rlwe.Ciphertext
	if cts, err = decodeCiphertexts(ctx, [][]byte{packed}); err != nil {
		return
	}

	if cts, err = expand.NewExpander(ctx, evk).Expand(cts[0], m); err != nil {
		return
	}

	return encodeCiphertexts(cts)
}

// GenerateReply encodes the database and folds it along nvec with the selectors
// of the query, given dimension after dimension (nvec[0] selectors first).
// keys is an encoded rlwe.MemEvaluationKeySet, which must hold a relinearization
// key if a dimension after the first is folded with ciphertext products.
// The reply is encoded with reduce.Reply.MarshalBinary.
func GenerateReply(params, keys []byte, database [][]uint64, batched bool, query [][]byte, nvec []int) (out []byte, err error) {

	defer func() { err = wrap("GenerateReply", err) }()

	var ctx *he.Context
	if ctx, err = decodeContext(params); err != nil {
		return
	}

	var evk *rlwe.MemEvaluationKeySet
	if evk, err = decodeEvaluationKeySet(keys); err != nil {
		return
	}

	if err = reduce.CheckDimensions(nvec, len(database)); err != nil {
		return
	}

	if total := he.Sum(nvec); len(query) != total {
		return nil, fmt.Errorf("%w: %d query ciphertexts for %d selectors", he.ErrConfiguration, len(query), total)
	}

	var cts []*rlwe.Ciphertext
	if cts, err = decodeCiphertexts(ctx, query); err != nil {
		return
	}

	selectors := make([][]*rlwe.Ciphertext, len(nvec))
	for i, n := range nvec {
		selectors[i], cts = cts[:n], cts[n:]
	}

	reducer := reduce.NewReducer(ctx, evk)

	var db *reduce.Database
	if db, err = reducer.EncodeDatabase(database, batched); err != nil {
		return
	}

	var reply *reduce.Reply
	if reply, err = reducer.Reply(db, nvec, selectors); err != nil {
		return
	}

	return reply.MarshalBinary()
}

func decodeContext(data []byte) (*he.Context, error) {

	var params heint.Parameters
	if err := params.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: heint.Parameters.UnmarshalBinary: %v", he.ErrConfiguration, err)
	}

	// A single prime without auxiliary modulus key-switches with a base two decomposition
	var baseTwoDecomposition int
	if params.MaxLevel() == 0 && params.PCount() == 0 {
		baseTwoDecomposition = he.BaseTwoDecomposition
	}

	return he.NewContext(params, baseTwoDecomposition)
}

func decodeRelinearizationKey(ctx *he.Context, data []byte) (rlk *rlwe.RelinearizationKey, err error) {

	rlk = new(rlwe.RelinearizationKey)
	if err = rlk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: rlwe.RelinearizationKey.UnmarshalBinary: %v", he.ErrProvenance, err)
	}

	return rlk, ctx.CheckRelinearizationKey(rlk)
}

func decodeEvaluationKeySet(data []byte) (evk *rlwe.MemEvaluationKeySet, err error) {
	evk = new(rlwe.MemEvaluationKeySet)
	if err = evk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: rlwe.MemEvaluationKeySet.UnmarshalBinary: %v", he.ErrProvenance, err)
	}
	return
}

func decodeCiphertexts(ctx *he.Context, data [][]byte) (cts []*rlwe.Ciphertext, err error) {

	cts = make([]*rlwe.Ciphertext, len(data))

	for i := range data {

		cts[i] = new(rlwe.Ciphertext)
		if err = cts[i].UnmarshalBinary(data[i]); err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: rlwe.Ciphertext.UnmarshalBinary: %v", he.ErrProvenance, i, err)
		}

		if err = ctx.CheckCiphertext(cts[i]); err != nil {
			return nil, fmt.Errorf("ciphertext %d: %w", i, err)
		}
	}

	return
}

func encodeCiphertexts(cts []*rlwe.Ciphertext) (data [][]byte, err error) {
	data = make([][]byte, len(cts))
	for i := range cts {
		if data[i], err = cts[i].MarshalBinary(); err != nil {
			return nil, fmt.Errorf("rlwe.Ciphertext.MarshalBinary: %w", err)
		}
	}
	return
}
