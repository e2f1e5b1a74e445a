// Package powers implements the server-side computation of all the
// encrypted powers of a query from the subset of powers sent by the client.
package powers

import (
	"fmt"
	"slices"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
)

// Table is the multiplication DAG producing the powers of a query.
//
// Row i stores the 1-based parent powers (a, b) of the power it computes.
// Rows with b = 0 are sources, i.e. they are provided by the client.
//
// When PSLowPower = L > 0, the table is split into two halves: rows [0, L)
// compute the low powers x^1, ..., x^L and rows [L, Size) compute the high
// powers x^{(L+1)}, x^{2(L+1)}, ... The parents of a high row are block
// numbers, i.e. exponents divided by L+1.
type Table struct {
	parents    [][2]int
	sources    []int
	sourceRows []int
	psLowPower int
}

// NewTable validates and returns a new Table.
// sources are the exponents of the query ciphertexts, in the order of the query.
func NewTable(parents [][2]int, sources []int, psLowPower int) (*Table, error) {

	size := len(parents)

	if size == 0 {
		return nil, fmt.Errorf("%w: empty power table", he.ErrConfiguration)
	}

	if psLowPower < 0 || (psLowPower > 0 && psLowPower >= size) {
		return nil, fmt.Errorf("%w: invalid low power %d for a table of %d rows", he.ErrConfiguration, psLowPower, size)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no source power", he.ErrConfiguration)
	}

	t := &Table{
		parents:    slices.Clone(parents),
		sources:    slices.Clone(sources),
		sourceRows: make([]int, len(sources)),
		psLowPower: psLowPower,
	}

	isSource := make([]bool, size)

	for i, e := range sources {

		row, err := t.sourceRow(e)
		if err != nil {
			return nil, err
		}

		if row >= size {
			return nil, fmt.Errorf("%w: source power %d maps to row %d outside of the table", he.ErrConfiguration, e, row)
		}

		if isSource[row] {
			return nil, fmt.Errorf("%w: duplicate source power %d", he.ErrConfiguration, e)
		}

		if parents[row][1] != 0 {
			return nil, fmt.Errorf("%w: row %d of source power %d has parents %v", he.ErrConfiguration, row, e, parents[row])
		}

		isSource[row] = true
		t.sourceRows[i] = row
	}

	for _, h := range t.halves() {

		for k := 0; k < h[1]-h[0]; k++ {

			row := h[0] + k

			if isSource[row] {
				continue
			}

			a, b := parents[row][0], parents[row][1]

			if b == 0 {
				return nil, fmt.Errorf("%w: row %d is neither a source nor computed", he.ErrConfiguration, row)
			}

			// Parents are powers of the same half, 1-based, and strictly
			// smaller than the power computed by the row.
			if a < 1 || b < 1 || a > k || b > k {
				return nil, fmt.Errorf("%w: row %d has parents %v that do not precede it", he.ErrConfiguration, row, parents[row])
			}

			if a+b != k+1 {
				return nil, fmt.Errorf("%w: row %d has parents %v that do not sum to %d", he.ErrConfiguration, row, parents[row], k+1)
			}
		}
	}

	return t, nil
}

// sourceRow returns the row in which the source of exponent e is placed.
func (t Table) sourceRow(e int) (row int, err error) {

	if e < 1 {
		return 0, fmt.Errorf("%w: invalid source power %d", he.ErrConfiguration, e)
	}

	L := t.psLowPower

	if L == 0 || e <= L {
		return e - 1, nil
	}

	if e%(L+1) != 0 {
		return 0, fmt.Errorf("%w: source power %d is neither a low power nor a multiple of %d", he.ErrConfiguration, e, L+1)
	}

	return L + e/(L+1) - 1, nil
}

// halves returns the [start, end) rows of the independent DAGs.
func (t Table) halves() [][2]int {
	if t.psLowPower == 0 {
		return [][2]int{{0, len(t.parents)}}
	}
	return [][2]int{{0, t.psLowPower}, {t.psLowPower, len(t.parents)}}
}

// Size returns the number of rows of the table.
func (t Table) Size() int {
	return len(t.parents)
}

// PSLowPower returns the low power of the Paterson-Stockmeyer split, or 0.
func (t Table) PSLowPower() int {
	return t.psLowPower
}

// Parents returns a copy of the parent pairs.
func (t Table) Parents() [][2]int {
	return slices.Clone(t.parents)
}

// Sources returns a copy of the source exponents.
func (t Table) Sources() []int {
	return slices.Clone(t.sources)
}

// SourceRows returns the row of each source, in the order of the query.
func (t Table) SourceRows() []int {
	return slices.Clone(t.sourceRows)
}

// Depth returns the multiplicative depth of the table, i.e. the largest
// number of sequential products needed to reach a row from the sources.
func (t Table) Depth() (depth int) {

	depths := make([]int, len(t.parents))

	for _, h := range t.halves() {
		for row := h[0]; row < h[1]; row++ {
			if a, b := t.parents[row][0], t.parents[row][1]; b != 0 {
				depths[row] = max(depths[h[0]+a-1], depths[h[0]+b-1]) + 1
				depth = max(depth, depths[row])
			}
		}
	}

	return
}

// GenerateTable returns a minimum depth table computing all the powers up
// to maxPower from the given source exponents. If psLowPower = L > 0, the
// low half computes x^1, ..., x^L from the sources <= L and the high half
// computes the first maxPower/(L+1) block powers from the sources > L.
func GenerateTable(sources []int, maxPower, psLowPower int) (*Table, error) {

	if psLowPower < 0 {
		return nil, fmt.Errorf("%w: negative low power", he.ErrConfiguration)
	}

	var parents [][2]int
	var err error

	if psLowPower == 0 {

		if parents, err = minDepthParents(sources, maxPower); err != nil {
			return nil, err
		}

	} else {

		L := psLowPower

		var low, high []int
		for _, e := range sources {
			if e <= L {
				low = append(low, e)
			} else {
				high = append(high, e/(L+1))
			}
		}

		var lowParents, highParents [][2]int

		if lowParents, err = minDepthParents(low, L); err != nil {
			return nil, fmt.Errorf("low powers: %w", err)
		}

		if highParents, err = minDepthParents(high, maxPower/(L+1)); err != nil {
			return nil, fmt.Errorf("high powers: %w", err)
		}

		parents = append(lowParents, highParents...)
	}

	return NewTable(parents, sources, psLowPower)
}

// minDepthParents returns the parents of the powers 1, ..., upper where each
// non-source power p is the product of the two smaller powers of minimum depth.
func minDepthParents(sources []int, upper int) (parents [][2]int, err error) {

	if upper < 1 {
		return nil, fmt.Errorf("%w: invalid largest power %d", he.ErrConfiguration, upper)
	}

	parents = make([][2]int, upper)
	depths := make([]int, upper)
	defined := make([]bool, upper)

	for _, e := range sources {
		if e < 1 || e > upper {
			return nil, fmt.Errorf("%w: source power %d is not in [1, %d]", he.ErrConfiguration, e, upper)
		}
		parents[e-1] = [2]int{e, 0}
		defined[e-1] = true
	}

	for p := 1; p <= upper; p++ {

		if defined[p-1] {
			continue
		}

		best := -1
		for s1 := 1; s1 < p; s1++ {
			s2 := p - s1
			if d := max(depths[s1-1], depths[s2-1]) + 1; best == -1 || d < best {
				best = d
				parents[p-1] = [2]int{s1, s2}
			}
		}

		if best == -1 {
			return nil, fmt.Errorf("%w: power %d cannot be derived from the sources %v", he.ErrConfiguration, p, sources)
		}

		depths[p-1] = best
		defined[p-1] = true
	}

	return
}
