package reduce

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/ring"
)

// Database is a list of plaintexts in operand form, i.e. lifted to R_Q at
// Level, in the NTT and Montgomery domain. A Database is immutable once
// encoded and can be shared between goroutines.
type Database struct {
	Batched bool
	Level   int
	Items   []ring.Poly
}

// EncodeDatabase encodes each row as one plaintext in operand form at the maximum
// level. If batched is true, the values of a row are mapped to the slots, else to
// the coefficients.
func EncodeDatabase(ecd *codec.Codec, rows [][]uint64, batched bool) (db *Database, err error) {

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty database", he.ErrConfiguration)
	}

	level := ecd.MaxLevel()

	db = &Database{
		Batched: batched,
		Level:   level,
		Items:   make([]ring.Poly, len(rows)),
	}

	for i := range rows {
		if db.Items[i], err = ecd.Operand(rows[i], batched, level); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}

	return
}

// Len returns the number of items of the database.
func (db Database) Len() int {
	return len(db.Items)
}

// Strides returns P_i = prod_{d > i} nvec[d], the distance between two
// consecutive items of the i-th dimension.
func Strides(nvec []int) (strides []int) {
	strides = make([]int, len(nvec))
	p := 1
	for i := len(nvec) - 1; i >= 0; i-- {
		strides[i] = p
		p *= nvec[i]
	}
	return
}

// Coordinates returns the position of index along each dimension,
// such that index = sum_i coords[i] * Strides(nvec)[i].
func Coordinates(index int, nvec []int) (coords []int, err error) {

	if err = CheckDimensions(nvec, index+1); err != nil {
		return
	}

	if index < 0 {
		return nil, fmt.Errorf("%w: negative index", he.ErrConfiguration)
	}

	coords = make([]int, len(nvec))
	for i, p := range Strides(nvec) {
		coords[i] = index / p
		index %= p
	}

	return
}

// CheckDimensions returns an error if nvec cannot index size items.
func CheckDimensions(nvec []int, size int) error {

	if len(nvec) == 0 {
		return fmt.Errorf("%w: no dimension", he.ErrConfiguration)
	}

	for i, n := range nvec {
		if n < 1 {
			return fmt.Errorf("%w: dimension %d has size %d", he.ErrConfiguration, i, n)
		}
	}

	if total := he.Product(nvec); total < size {
		return fmt.Errorf("%w: dimensions %v index %d < %d items", he.ErrConfiguration, nvec, total, size)
	}

	return nil
}
