package he

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ALTree/bigfloat"
	"github.com/montanaflynn/stats"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Noise stores the log2 of the residual noise of a ciphertext
// and its remaining budget in bits.
type Noise struct {
	Std, Min, Max float64

	// Bound is log2(Q_level / 2T), the largest noise
	// that still allows correct decryption.
	Bound float64
}

// Budget returns the remaining noise budget in bits.
// A non-positive budget means that the ciphertext does not
// decrypt correctly anymore.
func (n Noise) Budget() float64 {
	return n.Bound - n.Max
}

func (n Noise) String() string {
	return fmt.Sprintf("Log2(Noise): std=%f | min=%f | max=%f (max %f for correct decryption)", n.Std, n.Min, n.Max, n.Bound)
}

// MeasureNoise returns the residual noise of ct with respect to the expected
// values want. It requires the secret key and is only meant for tests and
// parameter validation.
func MeasureNoise(params heint.Parameters, ct *rlwe.Ciphertext, want []uint64, ecd *heint.Encoder, dec *rlwe.Decryptor) (n Noise, err error) {

	level := ct.Level()

	pt := heint.NewPlaintext(params, level)
	*pt.MetaData = *ct.MetaData

	if err = ecd.Encode(want, pt); err != nil {
		return n, fmt.Errorf("ecd.Encode: %w", err)
	}

	tmp := ct.CopyNew()
	params.RingQ().AtLevel(level).Sub(tmp.Value[0], pt.Value, tmp.Value[0])

	n.Std, n.Min, n.Max = rlwe.Norm(tmp, dec)
	n.Bound = log2Big(params.RingQ().ModulusAtLevel[level]) - math.Log2(float64(2*params.PlaintextModulus()))

	return
}

// NoiseSummary aggregates the remaining budgets of a set of ciphertexts.
type NoiseSummary struct {
	Mean, Median, StdDev, Min float64
}

// Summarize aggregates the budgets of the given noise measurements.
func Summarize(noises []Noise) (s NoiseSummary, err error) {

	budgets := make(stats.Float64Data, len(noises))
	for i := range noises {
		budgets[i] = noises[i].Budget()
	}

	if s.Mean, err = stats.Mean(budgets); err != nil {
		return s, fmt.Errorf("stats.Mean: %w", err)
	}

	if s.Median, err = stats.Median(budgets); err != nil {
		return s, fmt.Errorf("stats.Median: %w", err)
	}

	if s.StdDev, err = stats.StandardDeviation(budgets); err != nil {
		return s, fmt.Errorf("stats.StandardDeviation: %w", err)
	}

	if s.Min, err = stats.Min(budgets); err != nil {
		return s, fmt.Errorf("stats.Min: %w", err)
	}

	return
}

// log2Big returns log2(x) for moduli that may exceed the float64 range.
func log2Big(x *big.Int) float64 {
	xF := new(big.Float).SetPrec(128).SetInt(x)
	ln2 := bigfloat.Log(new(big.Float).SetPrec(128).SetInt64(2))
	res, _ := new(big.Float).Quo(bigfloat.Log(xF), ln2).Float64()
	return res
}
