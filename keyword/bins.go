package keyword

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
)

// Entry is an item of the server set with its label, a value modulo T.
type Entry struct {
	Item  []byte
	Label uint64
}

// Layout is the server set hashed into bins, each bin mapped to one slot.
//
// Matching[d][j] is the d-th coefficient of prod_{y in bin j} (x - y), which
// vanishes exactly on the values of the bin. Labels[d][j] is the d-th
// coefficient of the polynomial interpolating the labels of bin j on its values.
type Layout struct {
	Matching [][]uint64
	Labels   [][]uint64
	Load     int
}

// NewLayout hashes the entries into hasher.Bins() bins and interpolates the
// polynomials of each bin. The number of bins must not exceed the number of
// slots. Entries sharing a bin must hash to distinct values.
func NewLayout(hasher *Hasher, entries []Entry) (l *Layout, err error) {

	T := hasher.t

	values := make([][]uint64, hasher.Bins())
	labels := make([][]uint64, hasher.Bins())

	for i, e := range entries {

		if e.Label >= T {
			return nil, fmt.Errorf("%w: label %d of entry %d >= %d", he.ErrConfiguration, e.Label, i, T)
		}

		bin, value := hasher.Hash(e.Item)
		values[bin] = append(values[bin], value)
		labels[bin] = append(labels[bin], e.Label)
	}

	var load int
	for j := range values {
		load = max(load, len(values[j]))
	}

	l = &Layout{
		Matching: make([][]uint64, load+1),
		Labels:   make([][]uint64, max(load, 1)),
		Load:     load,
	}

	for d := range l.Matching {
		l.Matching[d] = make([]uint64, hasher.Bins())
	}

	for d := range l.Labels {
		l.Labels[d] = make([]uint64, hasher.Bins())
	}

	for j := range values {

		for d, c := range FromRoots(values[j], T) {
			l.Matching[d][j] = c
		}

		var g []uint64
		if g, err = Interpolate(values[j], labels[j], T); err != nil {
			return nil, fmt.Errorf("bin %d: %w", j, err)
		}

		for d, c := range g {
			l.Labels[d][j] = c
		}
	}

	return
}

// Query is the plaintext query of the client: one value per slot and the
// slot of each item.
type Query struct {
	Values []uint64
	Slots  []int
}

// NewQuery hashes the items into their slot. Two items of the query
// cannot share a bin.
func NewQuery(hasher *Hasher, items [][]byte) (q *Query, err error) {

	q = &Query{
		Values: make([]uint64, hasher.Bins()),
		Slots:  make([]int, len(items)),
	}

	used := make(map[int]int, len(items))

	for i, item := range items {

		bin, value := hasher.Hash(item)

		if j, ok := used[bin]; ok {
			return nil, fmt.Errorf("%w: items %d and %d share bin %d", he.ErrConfiguration, j, i, bin)
		}

		used[bin] = i
		q.Values[bin] = value
		q.Slots[i] = bin
	}

	return
}

// SourcePowers returns, for each source power e, the slot-wise x^e mod T of
// the query values, i.e. the plaintexts the client encrypts for the
// powers.Builder of the server.
func (q Query) SourcePowers(sources []int, T uint64) (powers [][]uint64) {

	powers = make([][]uint64, len(sources))

	for i, e := range sources {
		powers[i] = make([]uint64, len(q.Values))
		for j, x := range q.Values {
			y := uint64(1)
			for k := 0; k < e; k++ {
				y = he.MulMod(y, x, T)
			}
			powers[i][j] = y
		}
	}

	return
}

// Decode returns, for each item of the query, whether it is in the server set
// and its label if it is. matches and labels are the decrypted outputs of the
// evaluation of the matching and label polynomials.
func (q Query) Decode(matches, labels []uint64) (found []bool, values []uint64, err error) {

	if len(matches) < len(q.Values) || (labels != nil && len(labels) < len(q.Values)) {
		return nil, nil, fmt.Errorf("%w: decrypted vectors shorter than %d bins", he.ErrConfiguration, len(q.Values))
	}

	found = make([]bool, len(q.Slots))
	values = make([]uint64, len(q.Slots))

	for i, slot := range q.Slots {
		if found[i] = matches[slot] == 0; found[i] && labels != nil {
			values[i] = labels[slot]
		}
	}

	return
}
