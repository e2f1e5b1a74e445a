package pir

import (
	"fmt"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/digits"
	"github.com/pro7ech/fhe-org-2024/pir-engine/expand"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/reduce"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Query is an encrypted index: one ciphertext per dimension packing
// the one-hot vector of the coordinate of the index along it.
type Query struct {
	Nvec        []int
	Ciphertexts []*rlwe.Ciphertext
}

// Client is a struct storing the necessary elements
// to generate queries and decode replies.
type Client struct {
	*he.Context
	sk  *rlwe.SecretKey
	ecd *codec.Codec
	enc *rlwe.Encryptor
	dec *rlwe.Decryptor
	tr  *digits.Transform
}

// NewClient instantiates a new client with a fresh secret key.
func NewClient(ctx *he.Context) *Client {

	sk := heint.NewKeyGenerator(ctx.Parameters).GenSecretKeyNew()

	return &Client{
		Context: ctx,
		sk:      sk,
		ecd:     codec.New(ctx),
		enc:     heint.NewEncryptor(ctx.Parameters, sk),
		dec:     heint.NewDecryptor(ctx.Parameters, sk),
		tr:      digits.NewTransform(ctx),
	}
}

// SecretKey returns the secret key of the client.
// It is only meant to enable the debug printing of the server.
func (c Client) SecretKey() *rlwe.SecretKey {
	return c.sk
}

// GenEvaluationKeys generates the public evaluation keys the server needs to
// answer queries over nvec: the relinearization key and the Galois keys of
// the expansion of the largest dimension.
func (c Client) GenEvaluationKeys(nvec []int) (evk *rlwe.MemEvaluationKeySet, err error) {

	if err = reduce.CheckDimensions(nvec, 0); err != nil {
		return
	}

	var m int
	for _, n := range nvec {
		m = max(m, n)
	}

	if m > c.N() {
		return nil, fmt.Errorf("%w: dimension of size %d > N=%d", he.ErrConfiguration, m, c.N())
	}

	kgen := heint.NewKeyGenerator(c.Parameters)
	evkParams := c.EvaluationKeyParameters()

	rlk := kgen.GenRelinearizationKeyNew(c.sk, evkParams)
	gks := kgen.GenGaloisKeysNew(expand.GaloisElements(c.Parameters, m), c.sk, evkParams)

	return rlwe.NewMemEvaluationKeySet(rlk, gks...), nil
}

// Query encrypts the index for a database folded along nvec.
func (c Client) Query(index int, nvec []int) (q *Query, err error) {

	var coords []int
	if coords, err = reduce.Coordinates(index, nvec); err != nil {
		return
	}

	q = &Query{
		Nvec:        append([]int{}, nvec...),
		Ciphertexts: make([]*rlwe.Ciphertext, len(nvec)),
	}

	for i, n := range nvec {

		oneHot := make([]uint64, n)
		oneHot[coords[i]] = 1

		var coeffs []uint64
		if coeffs, err = expand.Pack(oneHot, c.N()); err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}

		var pt *rlwe.Plaintext
		if pt, err = c.ecd.EncodeCoefficients(coeffs, c.MaxLevel(), c.NewScale(1)); err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}

		if q.Ciphertexts[i], err = c.enc.EncryptNew(pt); err != nil {
			return nil, fmt.Errorf("enc.EncryptNew: %w", err)
		}
	}

	return
}

// Decode decrypts the reply and returns the first width values of the item.
func (c Client) Decode(reply *reduce.Reply, width int) (values []uint64, err error) {

	if reply == nil {
		return nil, fmt.Errorf("%w: missing reply", he.ErrConfiguration)
	}

	if values, err = reply.Decode(c.tr, c.dec, c.ecd); err != nil {
		return
	}

	if width > len(values) {
		return nil, fmt.Errorf("%w: width %d > %d decoded values", he.ErrConfiguration, width, len(values))
	}

	return values[:width], nil
}

// Noise returns the residual noise of each ciphertext of a reply without
// re-encoding layer, measured against the expected item.
func (c Client) Noise(reply *reduce.Reply, want []uint64) (noises []he.Noise, err error) {

	if len(reply.Layers) != 0 {
		return nil, fmt.Errorf("%w: cannot measure the noise of a re-encoded reply", he.ErrConfiguration)
	}

	noises = make([]he.Noise, len(reply.Ciphertexts))
	for i, ct := range reply.Ciphertexts {
		if noises[i], err = he.MeasureNoise(c.Parameters, ct, want, c.ecd.Encoder, c.dec); err != nil {
			return
		}
	}

	return
}
