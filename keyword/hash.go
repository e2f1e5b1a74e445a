// Package keyword implements the plaintext side of keyword PIR and labeled
// PSI: hashing items to bins and field elements, the per-bin matching and
// label polynomials, their layout into the batched coefficient vectors
// consumed by matching.Matcher, and the client-side query and decoding.
package keyword

import (
	"encoding/binary"
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"golang.org/x/crypto/blake2b"
)

// Hasher maps items to a bin and to an element of Z_T.
type Hasher struct {
	key  []byte
	bins int
	t    uint64
}

// NewHasher returns a Hasher keyed with key, of at most 64 bytes,
// mapping items to bins bins and values modulo T.
func NewHasher(key []byte, bins int, T uint64) (*Hasher, error) {

	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("%w: hash key of %d bytes > %d", he.ErrConfiguration, len(key), blake2b.Size)
	}

	if bins < 1 {
		return nil, fmt.Errorf("%w: invalid number of bins %d", he.ErrConfiguration, bins)
	}

	if T < 2 {
		return nil, fmt.Errorf("%w: invalid plaintext modulus %d", he.ErrConfiguration, T)
	}

	return &Hasher{key: append([]byte{}, key...), bins: bins, t: T}, nil
}

// Bins returns the number of bins.
func (h Hasher) Bins() int {
	return h.bins
}

// Hash returns the bin of the item and its value in Z_T.
func (h Hasher) Hash(item []byte) (bin int, value uint64) {

	// New256 only fails on keys longer than 64 bytes
	hash, _ := blake2b.New256(h.key)
	_, _ = hash.Write(item)
	digest := hash.Sum(nil)

	bin = int(binary.LittleEndian.Uint64(digest[:8]) % uint64(h.bins))
	value = binary.LittleEndian.Uint64(digest[8:16]) % h.t

	return
}
