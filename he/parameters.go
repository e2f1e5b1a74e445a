package he

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tuneinsight/lattigo/v5/he/heint"
)

const (
	// PlaintextModulus is the default plaintext modulus.
	// 65537 = 1 mod 2N for every N <= 2^15, hence supports batching.
	PlaintextModulus uint64 = 65537

	// BaseTwoDecomposition is the power of two decomposition
	// of the evaluation keys of the single prime parameters.
	BaseTwoDecomposition = 14
)

var (
	// PIRParametersLiteral is a single prime parameter set for index PIR.
	// N=4096 & Log(QP) = 120
	PIRParametersLiteral = heint.ParametersLiteral{
		LogN:             12,
		LogQ:             []int{60},
		LogP:             []int{60},
		PlaintextModulus: PlaintextModulus,
	}

	// MatchingParametersLiteral is a three primes parameter set for the
	// encrypted powers and the polynomial matching.
	// N=4096 & Log(QP) = 224
	MatchingParametersLiteral = heint.ParametersLiteral{
		LogN:             12,
		LogQ:             []int{56, 56, 56},
		LogP:             []int{56},
		PlaintextModulus: PlaintextModulus,
	}

	// FoldingParametersLiteral is a two primes parameter set for
	// multi-dimensional folding with one ciphertext-ciphertext product
	// before the need for a re-encoding.
	// N=4096 & Log(QP) = 180
	FoldingParametersLiteral = heint.ParametersLiteral{
		LogN:             12,
		LogQ:             []int{60, 60},
		LogP:             []int{60},
		PlaintextModulus: PlaintextModulus,
	}
)

// NewContextFromLiteral instantiates the heint.Parameters from the literal
// and returns the validated Context.
func NewContextFromLiteral(lit heint.ParametersLiteral, baseTwoDecomposition int) (*Context, error) {
	params, err := heint.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("%w: heint.NewParametersFromLiteral: %v", ErrConfiguration, err)
	}
	return NewContext(params, baseTwoDecomposition)
}

// LoadParametersLiteral reads a JSON encoded heint.ParametersLiteral.
func LoadParametersLiteral(path string) (lit heint.ParametersLiteral, err error) {

	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return lit, fmt.Errorf("os.ReadFile: %w", err)
	}

	if err = json.Unmarshal(data, &lit); err != nil {
		return lit, fmt.Errorf("%w: json.Unmarshal: %v", ErrConfiguration, err)
	}

	return
}
