package reduce

import (
	"encoding/binary"
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/digits"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/ring"
	"github.com/tuneinsight/lattigo/v5/utils/structs"
)

// Layer describes the ciphertexts that were decomposed by one re-encoding.
type Layer struct {
	Level    int
	Degree   int
	MetaData rlwe.MetaData
	Ratio    int
}

// Planes returns the number of planes produced per decomposed ciphertext.
func (l Layer) Planes() int {
	return (l.Degree + 1) * l.Ratio
}

// Reply is the answer of the server to a query.
// Without re-encoding it holds a single ciphertext.
// Each re-encoding multiplies the number of ciphertexts by the number
// of planes of its layer.
type Reply struct {
	Ciphertexts []*rlwe.Ciphertext
	Layers      []Layer
}

// Decode decrypts the reply, composing back the planes of each layer
// from the last to the first, and returns the decoded values of the item.
func (r Reply) Decode(tr *digits.Transform, dec *rlwe.Decryptor, ecd *codec.Codec) (values []uint64, err error) {

	if len(r.Ciphertexts) == 0 {
		return nil, fmt.Errorf("%w: empty reply", he.ErrConfiguration)
	}

	cts := r.Ciphertexts

	for l := len(r.Layers) - 1; l >= 0; l-- {

		layer := r.Layers[l]
		E := layer.Planes()

		if E < 1 || len(cts)%E != 0 {
			return nil, fmt.Errorf("%w: layer %d: %d ciphertexts for %d planes", he.ErrInvariant, l, len(cts), E)
		}

		next := make([]*rlwe.Ciphertext, len(cts)/E)

		for e := range next {

			planes := make([]ring.Poly, E)

			for p := range planes {

				var coeffs []uint64
				if coeffs, err = ecd.Decode(dec.DecryptNew(cts[e*E+p])); err != nil {
					return nil, fmt.Errorf("layer %d: %w", l, err)
				}

				planes[p] = ring.NewPoly(len(coeffs), 0)
				copy(planes[p].Coeffs[0], coeffs)
			}

			if next[e], err = tr.Compose(planes, layer.Degree, layer.Level, &layer.MetaData); err != nil {
				return nil, fmt.Errorf("layer %d: %w", l, err)
			}
		}

		cts = next
	}

	if len(cts) != 1 {
		return nil, fmt.Errorf("%w: %d ciphertexts left after composition", he.ErrInvariant, len(cts))
	}

	return ecd.Decode(dec.DecryptNew(cts[0]))
}

// MarshalBinary encodes the reply on a slice of bytes.
// The layers are written first, each as its level, degree and ratio
// followed by its length-prefixed metadata, then the ciphertexts.
func (r Reply) MarshalBinary() (p []byte, err error) {

	p = binary.LittleEndian.AppendUint64(p, uint64(len(r.Layers)))

	for _, layer := range r.Layers {

		p = binary.LittleEndian.AppendUint64(p, uint64(layer.Level))
		p = binary.LittleEndian.AppendUint64(p, uint64(layer.Degree))
		p = binary.LittleEndian.AppendUint64(p, uint64(layer.Ratio))

		var meta []byte
		if meta, err = layer.MetaData.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("MetaData.MarshalBinary: %w", err)
		}

		p = binary.LittleEndian.AppendUint64(p, uint64(len(meta)))
		p = append(p, meta...)
	}

	cts := make(structs.Vector[rlwe.Ciphertext], len(r.Ciphertexts))
	for i := range cts {
		cts[i] = *r.Ciphertexts[i]
	}

	var data []byte
	if data, err = cts.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("structs.Vector[rlwe.Ciphertext].MarshalBinary: %w", err)
	}

	return append(p, data...), nil
}

// UnmarshalBinary decodes a slice of bytes generated by MarshalBinary on the reply.
func (r *Reply) UnmarshalBinary(p []byte) (err error) {

	next := func() (v uint64, err error) {
		if len(p) < 8 {
			return 0, fmt.Errorf("%w: truncated reply", he.ErrConfiguration)
		}
		v = binary.LittleEndian.Uint64(p)
		p = p[8:]
		return
	}

	var n uint64
	if n, err = next(); err != nil {
		return
	}

	if n > uint64(len(p)) {
		return fmt.Errorf("%w: invalid number of layers %d", he.ErrConfiguration, n)
	}

	r.Layers = make([]Layer, n)

	for i := range r.Layers {

		var fields [4]uint64
		for j := range fields {
			if fields[j], err = next(); err != nil {
				return
			}
		}

		if fields[3] > uint64(len(p)) {
			return fmt.Errorf("%w: truncated reply", he.ErrConfiguration)
		}

		r.Layers[i].Level = int(fields[0])
		r.Layers[i].Degree = int(fields[1])
		r.Layers[i].Ratio = int(fields[2])

		if err = r.Layers[i].MetaData.UnmarshalBinary(p[:fields[3]]); err != nil {
			return fmt.Errorf("%w: MetaData.UnmarshalBinary: %v", he.ErrConfiguration, err)
		}

		p = p[fields[3]:]
	}

	cts := structs.Vector[rlwe.Ciphertext]{}
	if err = cts.UnmarshalBinary(p); err != nil {
		return fmt.Errorf("%w: structs.Vector[rlwe.Ciphertext].UnmarshalBinary: %v", he.ErrConfiguration, err)
	}

	r.Ciphertexts = make([]*rlwe.Ciphertext, len(cts))
	for i := range cts {
		r.Ciphertexts[i] = &cts[i]
	}

	return
}
