// Package pir implements single-server index PIR on top of the engine:
// the client packs one one-hot vector per dimension of the database into
// a ciphertext, the server expands the query into selectors, folds its
// encoded database and returns the reply that the client decodes.
package pir

import (
	"fmt"
	"math/rand"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"gonum.org/v1/gonum/mat"
)

// Database is a table of items, one row per item, each row holding
// Width values modulo the plaintext modulus.
type Database struct {
	*mat.Dense
}

// NewDatabase returns a deterministic pseudo-random database of
// size rows with width values smaller than T each.
func NewDatabase(size, width int, T uint64) Database {

	//#nosec G404
	r := rand.New(rand.NewSource(0))

	m := make([]float64, size*width)

	for i := range m {
		m[i] = float64(r.Uint64() % T)
	}

	return Database{
		Dense: mat.NewDense(size, width, m),
	}
}

// NewDatabaseFromRows returns a database holding the given rows.
// Rows shorter than the longest one are padded with zeros.
func NewDatabaseFromRows(rows [][]uint64) (db Database, err error) {

	if len(rows) == 0 {
		return db, fmt.Errorf("%w: empty database", he.ErrConfiguration)
	}

	var width int
	for i := range rows {
		width = max(width, len(rows[i]))
	}

	if width == 0 {
		return db, fmt.Errorf("%w: empty rows", he.ErrConfiguration)
	}

	db.Dense = mat.NewDense(len(rows), width, nil)

	for i := range rows {
		for j, v := range rows[i] {
			if v >= 1<<53 {
				return Database{}, fmt.Errorf("%w: value %d of row %d is not representable", he.ErrConfiguration, v, i)
			}
			db.Set(i, j, float64(v))
		}
	}

	return
}

// Size returns the number of rows in the DB.
func (db Database) Size() int {
	rows, _ := db.Dims()
	return rows
}

// Width returns the number of values per row.
func (db Database) Width() int {
	_, cols := db.Dims()
	return cols
}

// Row returns the values of the i-th row.
func (db Database) Row(i int) (row []uint64) {
	_, cols := db.Dims()
	raw := db.RawMatrix()
	src := raw.Data[i*raw.Stride : i*raw.Stride+cols]
	row = make([]uint64, cols)
	for j := range row {
		row[j] = uint64(src[j])
	}
	return
}

// Rows returns the values of every row.
func (db Database) Rows() (rows [][]uint64) {
	rows = make([][]uint64, db.Size())
	for i := range rows {
		rows[i] = db.Row(i)
	}
	return
}
