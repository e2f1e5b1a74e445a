package pir

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/expand"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/reduce"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
	"github.com/zeebo/blake3"
)

// Snapshot is an immutable encoded version of the database.
type Snapshot struct {
	*reduce.Database
	Nvec    []int
	Width   int
	Version uint64

	// Digest is the blake3 digest of the rows the snapshot was encoded from.
	Digest [32]byte
}

// Server answers queries over the last published snapshot.
// Publish and ProcessQuery can be called concurrently: a query is answered
// from the snapshot that was current when it started.
type Server struct {
	*he.Context
	ecd *codec.Codec

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64

	// Workers is the number of goroutines folding each dimension.
	Workers int

	// ForceReencode re-encodes the working ciphertexts between every dimension.
	ForceReencode bool

	// SkDebug enables the printing of intermediate values.
	SkDebug *rlwe.SecretKey
}

// NewServer instantiates a new server without database.
func NewServer(ctx *he.Context) *Server {
	return &Server{
		Context: ctx,
		ecd:     codec.New(ctx),
	}
}

// Digest returns the blake3 digest of the rows.
func Digest(rows [][]uint64) (digest [32]byte) {
	h := blake3.New()
	buf := make([]byte, 8)
	for i := range rows {
		binary.LittleEndian.PutUint64(buf, uint64(len(rows[i])))
		_, _ = h.Write(buf)
		for _, v := range rows[i] {
			binary.LittleEndian.PutUint64(buf, v)
			_, _ = h.Write(buf)
		}
	}
	copy(digest[:], h.Sum(nil))
	return
}

// Publish encodes db and atomically replaces the current snapshot.
// The previous snapshot stays valid for the queries still using it.
func (s *Server) Publish(db Database, nvec []int) (snap *Snapshot, err error) {

	if err = reduce.CheckDimensions(nvec, db.Size()); err != nil {
		return
	}

	rows := db.Rows()

	T := s.PlaintextModulus()
	for i := range rows {
		for _, v := range rows[i] {
			if v >= T {
				return nil, fmt.Errorf("%w: value %d of row %d >= plaintext modulus %d", he.ErrConfiguration, v, i, T)
			}
		}
	}

	var encoded *reduce.Database
	if encoded, err = reduce.EncodeDatabase(s.ecd.ShallowCopy(), rows, false); err != nil {
		return
	}

	snap = &Snapshot{
		Database: encoded,
		Nvec:     slices.Clone(nvec),
		Width:    db.Width(),
		Version:  s.version.Add(1),
		Digest:   Digest(rows),
	}

	s.snapshot.Store(snap)

	return
}

// Snapshot returns the current snapshot, or nil if nothing was published.
func (s *Server) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// ProcessQuery expands the query into selectors and folds the current snapshot.
func (s *Server) ProcessQuery(q *Query, evk rlwe.EvaluationKeySet) (reply *reduce.Reply, err error) {

	snap := s.snapshot.Load()

	if snap == nil {
		return nil, fmt.Errorf("%w: no published database", he.ErrConfiguration)
	}

	if q == nil || !slices.Equal(q.Nvec, snap.Nvec) || len(q.Ciphertexts) != len(q.Nvec) {
		return nil, fmt.Errorf("%w: query does not match the dimensions %v of the database", he.ErrConfiguration, snap.Nvec)
	}

	expander := expand.NewExpander(s.Context, evk)

	selectors := make([][]*rlwe.Ciphertext, len(q.Nvec))
	for i, n := range q.Nvec {

		if selectors[i], err = expander.Expand(q.Ciphertexts[i], n); err != nil {
			return nil, fmt.Errorf("expander.Expand: dimension %d: %w", i, err)
		}

		for j := range selectors[i] {
			s.PrintDebug(fmt.Sprintf("Selector [%d][%d]", i, j), selectors[i][j], 1)
		}
	}

	reducer := reduce.NewReducer(s.Context, evk)
	reducer.Workers = s.Workers
	reducer.ForceReencode = s.ForceReencode

	if reply, err = reducer.Reply(snap.Database, snap.Nvec, selectors); err != nil {
		return nil, fmt.Errorf("reducer.Reply: %w", err)
	}

	if len(reply.Layers) == 0 {
		s.PrintDebug("Reply", reply.Ciphertexts[0], min(4, snap.Width))
	}

	return
}

// PrintDebug prints the first n decrypted values of ct if SkDebug is set.
func (s *Server) PrintDebug(msg string, ct *rlwe.Ciphertext, n int) {

	if s.SkDebug == nil {
		return
	}

	dec := heint.NewDecryptor(s.Parameters, s.SkDebug)

	v, err := s.ecd.ShallowCopy().Decode(dec.DecryptNew(ct))
	if err != nil {
		panic(err)
	}

	fmt.Printf("%s: %v\n", msg, v[:min(n, len(v))])
}
