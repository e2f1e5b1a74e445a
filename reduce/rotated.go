package reduce

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// RotatedSlots returns the slot of the one-hot selector of each dimension
// for the rotation based reply: p_0 = coords[0] and p_i = p_{i-1} + coords[i]
// modulo the number of columns N/2. The selected item ends in the last slot.
func RotatedSlots(coords []int, N int) (slots []int) {
	columns := N >> 1
	slots = make([]int, len(coords))
	var p int
	for i, c := range coords {
		p = (p + c) % columns
		slots[i] = p
	}
	return
}

// RotationGaloisElements returns the Galois elements required by ReplyRotated for nvec.
func RotationGaloisElements(params heint.Parameters, nvec []int) (galEls []uint64) {
	var n int
	for i := 1; i < len(nvec); i++ {
		n = max(n, nvec[i])
	}
	for j := 1; j < n; j++ {
		galEls = append(galEls, params.GaloisElement(-j))
	}
	return
}

// ReplyRotated folds the values along nvec with batched one-hot selectors and
// returns a ciphertext holding the selected value in the slot
// RotatedSlots(Coordinates(index, nvec), N)[len(nvec)-1].
//
// The first dimension maps the items k + t*P_0 to the slots t of the plaintext
// of group k. Each following dimension aligns the groups with column rotations
// before a multiplication with its selector, so the reply consumes one level
// per dimension after the first and is never re-encoded.
func (r Reducer) ReplyRotated(values []uint64, nvec []int, selectors []*rlwe.Ciphertext) (ct *rlwe.Ciphertext, err error) {

	if err = r.CheckBatching(); err != nil {
		return
	}

	if err = CheckDimensions(nvec, len(values)); err != nil {
		return
	}

	columns := r.N() >> 1

	for i, n := range nvec {
		if n > columns {
			return nil, fmt.Errorf("%w: dimension %d of size %d > %d columns", he.ErrConfiguration, i, n, columns)
		}
	}

	if len(selectors) != len(nvec) {
		return nil, fmt.Errorf("%w: %d selectors for %d dimensions", he.ErrConfiguration, len(selectors), len(nvec))
	}

	if err = r.CheckCiphertexts(selectors); err != nil {
		return
	}

	level := selectors[0].Level()

	for i, sel := range selectors {
		if sel.Degree() != 1 || sel.Level() != level {
			return nil, fmt.Errorf("%w: selector %d must be a degree 1 ciphertext at level %d", he.ErrConfiguration, i, level)
		}
	}

	if depth := len(nvec) - 1; depth > level {
		return nil, fmt.Errorf("%w: %d dimensions require a depth of %d > level %d", he.ErrConfiguration, len(nvec), depth, level)
	}

	if len(nvec) > 1 {

		if r.evk == nil {
			return nil, fmt.Errorf("%w: missing relinearization key", he.ErrConfiguration)
		}

		if _, err = r.evk.GetRelinearizationKey(); err != nil {
			return nil, fmt.Errorf("%w: missing relinearization key", he.ErrConfiguration)
		}

		if err = r.CheckGaloisKeys(r.evk, RotationGaloisElements(r.Parameters, nvec)); err != nil {
			return
		}
	}

	strides := Strides(nvec)

	working := make([]*rlwe.Ciphertext, strides[0])

	if err = r.parallel(len(working), func(eval *heint.Evaluator, k int) (err error) {

		column := make([]uint64, nvec[0])
		for t := range column {
			if idx := k + t*strides[0]; idx < len(values) {
				column[t] = values[idx]
			}
		}

		pt := heint.NewPlaintext(r.Parameters, level)
		if err = eval.Encode(column, pt); err != nil {
			return fmt.Errorf("eval.Encode: %w", err)
		}

		if working[k], err = eval.MulNew(selectors[0], pt); err != nil {
			return fmt.Errorf("eval.MulNew: %w", err)
		}

		return
	}); err != nil {
		return nil, fmt.Errorf("dimension 0: %w", err)
	}

	for i := 1; i < len(nvec); i++ {

		stride := strides[i]
		sel := selectors[i].CopyNew()
		r.DropLevel(sel, sel.Level()-working[0].Level())

		next := make([]*rlwe.Ciphertext, stride)

		if err = r.parallel(stride, func(eval *heint.Evaluator, k int) (err error) {

			acc := working[k].CopyNew()
			rot := heint.NewCiphertext(r.Parameters, 1, acc.Level())

			for j := 1; j < nvec[i]; j++ {

				if err = eval.RotateColumns(working[k+j*stride], -j, rot); err != nil {
					return fmt.Errorf("eval.RotateColumns: %w", err)
				}

				if err = eval.Add(acc, rot, acc); err != nil {
					return fmt.Errorf("eval.Add: %w", err)
				}
			}

			if next[k], err = eval.MulRelinNew(acc, sel); err != nil {
				return fmt.Errorf("eval.MulRelinNew: %w", err)
			}

			if err = eval.Rescale(next[k], next[k]); err != nil {
				return fmt.Errorf("eval.Rescale: %w", err)
			}

			return
		}); err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}

		working = next
	}

	if len(working) != 1 {
		return nil, fmt.Errorf("%w: %d ciphertexts left after folding", he.ErrInvariant, len(working))
	}

	return working[0], nil
}
