package he

import (
	"fmt"
	"slices"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/utils"
)

// Positions in the modulus chain, counted from the terminal level.
// A chain index larger than the maximum level maps onto the maximum level.
const (
	ChainIndexTerminal = 0
	ChainIndexHigh     = 1
	ChainIndexLow      = 2
)

// Context is the immutable encryption context shared, read-only,
// by every component of the engine.
type Context struct {
	heint.Parameters

	// BaseTwoDecomposition is the power of two decomposition of the
	// evaluation keys. Zero means RNS decomposition only.
	BaseTwoDecomposition int
}

// NewContext validates the parameters and returns a new Context.
func NewContext(params heint.Parameters, baseTwoDecomposition int) (*Context, error) {

	if params.N() == 0 {
		return nil, fmt.Errorf("%w: uninitialized parameters", ErrConfiguration)
	}

	if baseTwoDecomposition < 0 {
		return nil, fmt.Errorf("%w: negative base two decomposition", ErrConfiguration)
	}

	// A single prime without auxiliary modulus can only key-switch
	// with an additional base two decomposition.
	if params.MaxLevel() == 0 && params.PCount() == 0 && baseTwoDecomposition == 0 {
		return nil, fmt.Errorf("%w: key-switching requires an auxiliary modulus, a second prime or a base two decomposition", ErrConfiguration)
	}

	return &Context{
		Parameters:           params,
		BaseTwoDecomposition: baseTwoDecomposition,
	}, nil
}

// CheckBatching returns an error if the plaintext modulus does not
// allow one slot per ring coefficient (T = 1 mod 2N).
func (c Context) CheckBatching() error {
	if c.RingT() == nil || c.RingT().N() != c.N() {
		return fmt.Errorf("%w: plaintext modulus %d does not support batching for N=%d", ErrConfiguration, c.PlaintextModulus(), c.N())
	}
	return nil
}

// EvaluationKeyParameters returns the parameters of the evaluation keys
// (relinearization and Galois keys).
func (c Context) EvaluationKeyParameters() rlwe.EvaluationKeyParameters {
	if c.BaseTwoDecomposition > 0 {
		return rlwe.EvaluationKeyParameters{BaseTwoDecomposition: utils.Pointy(c.BaseTwoDecomposition)}
	}
	return rlwe.EvaluationKeyParameters{}
}

// LevelForChainIndex returns the level matching the given chain index,
// or the maximum level if the chain is shorter.
func (c Context) LevelForChainIndex(idx int) int {
	return min(idx, c.MaxLevel())
}

// LowLevel is the level at which the low powers of the Paterson-Stockmeyer
// evaluation are consumed.
func (c Context) LowLevel() int {
	return c.LevelForChainIndex(ChainIndexLow)
}

// HighLevel is the level at which the high powers of the Paterson-Stockmeyer
// evaluation, and all the powers of the naive evaluation, are consumed.
func (c Context) HighLevel() int {
	return c.LevelForChainIndex(ChainIndexHigh)
}

// CheckParameters returns an ErrProvenance if other does not describe
// the same scheme as the context.
func (c Context) CheckParameters(other heint.Parameters) error {
	if c.LogN() != other.LogN() ||
		c.PlaintextModulus() != other.PlaintextModulus() ||
		!slices.Equal(c.Q(), other.Q()) ||
		!slices.Equal(c.P(), other.P()) {
		return fmt.Errorf("%w: parameters do not match the context", ErrProvenance)
	}
	return nil
}

// CheckCiphertext returns an ErrProvenance if ct cannot have been
// generated under the context.
func (c Context) CheckCiphertext(ct *rlwe.Ciphertext) error {

	if ct == nil || ct.MetaData == nil || len(ct.Value) == 0 {
		return fmt.Errorf("%w: malformed ciphertext", ErrProvenance)
	}

	if ct.Degree() > 2 {
		return fmt.Errorf("%w: ciphertext degree %d > 2", ErrProvenance, ct.Degree())
	}

	if ct.Level() > c.MaxLevel() {
		return fmt.Errorf("%w: ciphertext level %d > max level %d", ErrProvenance, ct.Level(), c.MaxLevel())
	}

	for i := range ct.Value {
		if ct.Value[i].N() != c.N() {
			return fmt.Errorf("%w: ciphertext ring degree %d != %d", ErrProvenance, ct.Value[i].N(), c.N())
		}

		if ct.Value[i].Level() != ct.Level() {
			return fmt.Errorf("%w: ciphertext polynomials have mismatching levels", ErrProvenance)
		}
	}

	return nil
}

// CheckCiphertexts calls CheckCiphertext on each element.
func (c Context) CheckCiphertexts(cts []*rlwe.Ciphertext) error {
	for i := range cts {
		if err := c.CheckCiphertext(cts[i]); err != nil {
			return fmt.Errorf("ciphertext %d: %w", i, err)
		}
	}
	return nil
}

// CheckRelinearizationKey returns an ErrProvenance if rlk does not
// match the context.
func (c Context) CheckRelinearizationKey(rlk *rlwe.RelinearizationKey) error {
	if rlk == nil {
		return fmt.Errorf("%w: missing relinearization key", ErrConfiguration)
	}
	if rlk.LevelQ() != c.MaxLevelQ() {
		return fmt.Errorf("%w: relinearization key level %d != %d", ErrProvenance, rlk.LevelQ(), c.MaxLevelQ())
	}
	return nil
}

// CheckGaloisKeys returns an error if evk does not hold a Galois key
// for each of the given Galois elements.
func (c Context) CheckGaloisKeys(evk rlwe.EvaluationKeySet, galEls []uint64) error {
	if evk == nil {
		return fmt.Errorf("%w: missing evaluation keys", ErrConfiguration)
	}
	for _, galEl := range galEls {
		gk, err := evk.GetGaloisKey(galEl)
		if err != nil {
			return fmt.Errorf("%w: missing Galois key for element %d", ErrConfiguration, galEl)
		}
		if gk.LevelQ() != c.MaxLevelQ() {
			return fmt.Errorf("%w: Galois key level %d != %d", ErrProvenance, gk.LevelQ(), c.MaxLevelQ())
		}
	}
	return nil
}
