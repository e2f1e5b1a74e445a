package powers

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Builder computes the powers of a query.
// A Builder is not safe for concurrent use, see ShallowCopy.
type Builder struct {
	*he.Context
	*heint.Evaluator
}

// NewBuilder instantiates a new Builder with the given relinearization key.
func NewBuilder(ctx *he.Context, rlk *rlwe.RelinearizationKey) (*Builder, error) {

	if err := ctx.CheckRelinearizationKey(rlk); err != nil {
		return nil, err
	}

	return &Builder{
		Context:   ctx,
		Evaluator: heint.NewEvaluator(ctx.Parameters, rlwe.NewMemEvaluationKeySet(rlk)),
	}, nil
}

// ShallowCopy returns a copy of the builder that can be used concurrently with the original.
func (b Builder) ShallowCopy() *Builder {
	return &Builder{
		Context:   b.Context,
		Evaluator: b.Evaluator.ShallowCopy(),
	}
}

// Compute returns the Size() powers described by the table, where query[i]
// encrypts x^{table.Sources()[i]}. The query ciphertexts are not modified.
//
// Products use the scale invariant tensoring so the powers stay at the
// level of the query.
func (b Builder) Compute(query []*rlwe.Ciphertext, table *Table) (powers []*rlwe.Ciphertext, err error) {

	if table == nil {
		return nil, fmt.Errorf("%w: missing power table", he.ErrConfiguration)
	}

	if len(query) != len(table.sources) {
		return nil, fmt.Errorf("%w: %d query ciphertexts for %d source powers", he.ErrConfiguration, len(query), len(table.sources))
	}

	if err = b.CheckCiphertexts(query); err != nil {
		return
	}

	for i := range query {
		if query[i].Degree() != 1 {
			return nil, fmt.Errorf("%w: query ciphertext %d has degree %d", he.ErrConfiguration, i, query[i].Degree())
		}
	}

	powers = make([]*rlwe.Ciphertext, table.Size())

	for i, row := range table.sourceRows {
		powers[row] = query[i].CopyNew()
	}

	for _, h := range table.halves() {

		for row := h[0]; row < h[1]; row++ {

			x, y := table.parents[row][0], table.parents[row][1]

			if y == 0 {
				continue
			}

			// x == y squares the parent
			if powers[row], err = b.MulRelinScaleInvariantNew(powers[h[0]+x-1], powers[h[0]+y-1]); err != nil {
				return nil, fmt.Errorf("eval.MulRelinScaleInvariantNew: %w", err)
			}
		}
	}

	return
}
