// Package reduce implements the dimensional folding of an encoded database
// by a query made of one-hot encrypted selectors per dimension, with the
// digit re-encoding of the intermediate ciphertexts once the modulus chain
// is exhausted.
package reduce

import (
	"fmt"
	"math"
	"sync"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/digits"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// Reducer folds databases along the dimensions of a query.
// A Reducer is not safe for concurrent use, see ShallowCopy.
type Reducer struct {
	*he.Context
	*heint.Evaluator
	ecd *codec.Codec
	tr  *digits.Transform
	evk rlwe.EvaluationKeySet

	// Workers is the number of goroutines folding a dimension.
	// Values smaller than 2 fold sequentially.
	Workers int

	// ForceReencode re-encodes the working ciphertexts before each dimension
	// after the first, even when they could still be multiplied together.
	ForceReencode bool
}

// NewReducer instantiates a new Reducer. The evaluation key set must hold a
// relinearization key if a dimension after the first is folded without
// re-encoding, and the rotation keys if ReplyRotated is used.
func NewReducer(ctx *he.Context, evk rlwe.EvaluationKeySet) *Reducer {
	return &Reducer{
		Context:   ctx,
		Evaluator: heint.NewEvaluator(ctx.Parameters, evk),
		ecd:       codec.New(ctx),
		tr:        digits.NewTransform(ctx),
		evk:       evk,
	}
}

// ShallowCopy returns a copy of the reducer that can be used concurrently with the original.
func (r Reducer) ShallowCopy() *Reducer {
	return &Reducer{
		Context:       r.Context,
		Evaluator:     r.Evaluator.ShallowCopy(),
		ecd:           r.ecd.ShallowCopy(),
		tr:            r.tr,
		evk:           r.evk,
		Workers:       r.Workers,
		ForceReencode: r.ForceReencode,
	}
}

// EncodeDatabase encodes the rows with the codec of the reducer, see EncodeDatabase.
func (r Reducer) EncodeDatabase(rows [][]uint64, batched bool) (*Database, error) {
	return EncodeDatabase(r.ecd, rows, batched)
}

// state is the working set of a fold: groups of lanes, stored as working[group*lanes + lane].
type state struct {
	working []*rlwe.Ciphertext
	lanes   int
	layers  []Layer
}

// Reply folds db along nvec and returns the selected item.
// selectors[i] must hold nvec[i] degree 1 ciphertexts, all at the same level,
// encrypting constant polynomials equal to one at the coordinate of the
// requested index along the i-th dimension, see Coordinates, and zero elsewhere.
func (r Reducer) Reply(db *Database, nvec []int, selectors [][]*rlwe.Ciphertext) (reply *Reply, err error) {

	if db == nil {
		return nil, fmt.Errorf("%w: missing database", he.ErrConfiguration)
	}

	if err = CheckDimensions(nvec, db.Len()); err != nil {
		return
	}

	if err = r.checkSelectors(nvec, selectors); err != nil {
		return
	}

	if level := selectors[0][0].Level(); level > db.Level {
		return nil, fmt.Errorf("%w: selectors at level %d > database level %d", he.ErrConfiguration, level, db.Level)
	}

	strides := Strides(nvec)

	st := &state{lanes: 1}

	if st.working, err = r.foldPlaintexts(db, selectors[0], strides[0]); err != nil {
		return nil, fmt.Errorf("dimension 0: %w", err)
	}

	for i := 1; i < len(nvec); i++ {

		if r.ForceReencode || st.working[0].Level() == 0 {
			err = r.foldReencoded(st, selectors[i], strides[i])
		} else {
			err = r.foldCiphertexts(st, selectors[i], strides[i])
		}

		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
	}

	if len(st.working) != st.lanes {
		return nil, fmt.Errorf("%w: %d ciphertexts left for %d lanes", he.ErrInvariant, len(st.working), st.lanes)
	}

	return &Reply{Ciphertexts: st.working, Layers: st.layers}, nil
}

func (r Reducer) checkSelectors(nvec []int, selectors [][]*rlwe.Ciphertext) (err error) {

	if len(selectors) != len(nvec) {
		return fmt.Errorf("%w: %d selector dimensions for %d dimensions", he.ErrConfiguration, len(selectors), len(nvec))
	}

	for i := range selectors {

		if len(selectors[i]) != nvec[i] {
			return fmt.Errorf("%w: %d selectors for dimension %d of size %d", he.ErrConfiguration, len(selectors[i]), i, nvec[i])
		}

		if err = r.CheckCiphertexts(selectors[i]); err != nil {
			return fmt.Errorf("dimension %d: %w", i, err)
		}

		for j, ct := range selectors[i] {
			if ct.Degree() != 1 || !ct.IsNTT || ct.Level() != selectors[i][0].Level() {
				return fmt.Errorf("%w: selector %d of dimension %d must be a degree 1 ciphertext in the NTT domain at level %d", he.ErrConfiguration, j, i, selectors[i][0].Level())
			}
		}
	}

	return
}

// foldPlaintexts returns, for each group k < stride, sum_j sel[j] * db[k + j*stride].
func (r Reducer) foldPlaintexts(db *Database, sel []*rlwe.Ciphertext, stride int) (out []*rlwe.Ciphertext, err error) {

	out = make([]*rlwe.Ciphertext, stride)

	err = r.parallel(stride, func(_ *heint.Evaluator, k int) (err error) {

		if out[k], err = r.lazyFold(sel, func(j int) (op ring.Poly, ok bool, err error) {
			if idx := k + j*stride; idx < db.Len() {
				return db.Items[idx], true, nil
			}
			return
		}); err != nil {
			return
		}

		out[k].IsBatched = db.Batched

		return
	})

	return
}

// foldCiphertexts folds the working set with ciphertext-ciphertext products
// followed by a relinearization and a rescaling per output.
func (r Reducer) foldCiphertexts(st *state, sel []*rlwe.Ciphertext, stride int) (err error) {

	if err = r.checkWorkingSet(st, len(sel), stride); err != nil {
		return
	}

	if r.evk == nil {
		return fmt.Errorf("%w: missing relinearization key", he.ErrConfiguration)
	}

	if _, err = r.evk.GetRelinearizationKey(); err != nil {
		return fmt.Errorf("%w: missing relinearization key", he.ErrConfiguration)
	}

	level := st.working[0].Level()

	if sel[0].Level() < level {
		return fmt.Errorf("%w: selectors at level %d < working level %d", he.ErrConfiguration, sel[0].Level(), level)
	}

	dropped := make([]*rlwe.Ciphertext, len(sel))
	for j := range sel {
		dropped[j] = sel[j].CopyNew()
		r.DropLevel(dropped[j], sel[j].Level()-level)
		// A selector is a constant polynomial, valid under both encodings.
		dropped[j].IsBatched = st.working[0].IsBatched
	}

	lanes := st.lanes
	out := make([]*rlwe.Ciphertext, stride*lanes)

	if err = r.parallel(len(out), func(eval *heint.Evaluator, o int) (err error) {

		k, e := o/lanes, o%lanes

		var acc *rlwe.Ciphertext

		for j := range dropped {

			var prod *rlwe.Ciphertext
			if prod, err = eval.MulNew(st.working[(k+j*stride)*lanes+e], dropped[j]); err != nil {
				return fmt.Errorf("eval.MulNew: %w", err)
			}

			if acc == nil {
				acc = prod
			} else if err = eval.Add(acc, prod, acc); err != nil {
				return fmt.Errorf("eval.Add: %w", err)
			}
		}

		out[o] = heint.NewCiphertext(r.Parameters, 1, acc.Level())

		if err = eval.Relinearize(acc, out[o]); err != nil {
			return fmt.Errorf("eval.Relinearize: %w", err)
		}

		if err = eval.Rescale(out[o], out[o]); err != nil {
			return fmt.Errorf("eval.Rescale: %w", err)
		}

		return
	}); err != nil {
		return
	}

	st.working = out

	return
}

// foldReencoded decomposes each working ciphertext into plaintexts with
// digits.Transform and folds these plaintexts with lazy ciphertext-plaintext
// products. The number of lanes is multiplied by the number of planes.
func (r Reducer) foldReencoded(st *state, sel []*rlwe.Ciphertext, stride int) (err error) {

	if err = r.checkWorkingSet(st, len(sel), stride); err != nil {
		return
	}

	ref := st.working[0]

	layer := Layer{
		Level:    ref.Level(),
		Degree:   ref.Degree(),
		MetaData: *ref.MetaData.CopyNew(),
		Ratio:    digits.ExpansionRatio(r.Parameters, ref.Level()),
	}

	E := layer.Planes()

	planes := make([][]ring.Poly, len(st.working))

	if err = r.parallel(len(planes), func(_ *heint.Evaluator, w int) (err error) {

		if ct := st.working[w]; ct.Level() != layer.Level || ct.Degree() != layer.Degree {
			return fmt.Errorf("%w: working ciphertext %d has level %d and degree %d, expected %d and %d", he.ErrInvariant, w, ct.Level(), ct.Degree(), layer.Level, layer.Degree)
		}

		if planes[w] = r.tr.Decompose(st.working[w]); len(planes[w]) != E {
			return fmt.Errorf("%w: %d planes, expected %d", he.ErrInvariant, len(planes[w]), E)
		}

		return
	}); err != nil {
		return
	}

	lanes := st.lanes * E
	level := sel[0].Level()
	out := make([]*rlwe.Ciphertext, stride*lanes)

	if err = r.parallel(len(out), func(_ *heint.Evaluator, o int) (err error) {

		k, l := o/lanes, o%lanes
		e, p := l/E, l%E

		if out[o], err = r.lazyFold(sel, func(j int) (op ring.Poly, ok bool, err error) {
			plane := planes[(k+j*stride)*st.lanes+e][p]
			if op, err = r.ecd.OperandFromCoefficients(plane.Coeffs[0], level); err != nil {
				return
			}
			return op, true, nil
		}); err != nil {
			return
		}

		// planes are coefficient vectors
		out[o].IsBatched = false

		return
	}); err != nil {
		return
	}

	st.working = out
	st.lanes = lanes
	st.layers = append(st.layers, layer)

	return
}

func (r Reducer) checkWorkingSet(st *state, n, stride int) error {
	if want := n * stride * st.lanes; len(st.working) != want {
		return fmt.Errorf("%w: %d working ciphertexts, expected %d", he.ErrInvariant, len(st.working), want)
	}
	return nil
}

// lazyFold returns sum_j sel[j] * operand(j) over the j for which the operand
// exists. Products are accumulated without modular reduction as long as the
// accumulator cannot overflow. The result carries the metadata of sel[0].
func (r Reducer) lazyFold(sel []*rlwe.Ciphertext, operand func(j int) (op ring.Poly, ok bool, err error)) (acc *rlwe.Ciphertext, err error) {

	level := sel[0].Level()
	ringQ := r.RingQ().AtLevel(level)

	acc = rlwe.NewCiphertext(r.Parameters, 1, level)
	*acc.MetaData = *sel[0].MetaData

	// MulCoeffsMontgomeryLazy returns values in [0, 2q)
	var qmax uint64
	for _, qi := range ringQ.ModuliChain()[:level+1] {
		qmax = max(qmax, qi)
	}
	budget := max(1, int(math.MaxUint64/(2*qmax)))

	var terms int
	for j := range sel {

		var op ring.Poly
		var ok bool
		if op, ok, err = operand(j); err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		if terms == budget {
			for i := range acc.Value {
				ringQ.Reduce(acc.Value[i], acc.Value[i])
			}
			terms = 1
		}

		for i := range acc.Value {
			if terms == 0 {
				ringQ.MulCoeffsMontgomeryLazy(sel[j].Value[i], op, acc.Value[i])
			} else {
				ringQ.MulCoeffsMontgomeryLazyThenAddLazy(sel[j].Value[i], op, acc.Value[i])
			}
		}

		terms++
	}

	for i := range acc.Value {
		ringQ.Reduce(acc.Value[i], acc.Value[i])
	}

	return
}

// task is the unit of work of the worker pool.
type task struct {
	i   int
	err error
}

// parallel calls f on 0 <= i < n, distributing the calls among r.Workers
// goroutines that each own a shallow copy of the evaluator.
// It returns the error of the smallest failing index.
func (r Reducer) parallel(n int, f func(eval *heint.Evaluator, i int) error) (err error) {

	workers := min(r.Workers, n)

	if workers < 2 {
		for i := 0; i < n; i++ {
			if err = f(r.Evaluator, i); err != nil {
				return
			}
		}
		return
	}

	tasks := make(chan *task)
	wg := &sync.WaitGroup{}
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			eval := r.Evaluator.ShallowCopy()
			for t := range tasks {
				t.err = f(eval, t.i)
			}
			wg.Done()
		}()
	}

	taskList := make([]*task, n)
	for i := range taskList {
		taskList[i] = &task{i: i}
		tasks <- taskList[i]
	}
	close(tasks)
	wg.Wait()

	for _, t := range taskList {
		if t.err != nil {
			return t.err
		}
	}

	return
}
