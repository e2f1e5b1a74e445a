package he

import (
	"errors"
)

// Error kinds shared by every component of the engine.
// They are wrapped with fmt.Errorf and inspected with errors.Is.
var (
	// ErrConfiguration reports an invalid parameter set, an unsupported
	// feature of the parameter set or inconsistent sizes between the inputs
	// of a call. It is always detected before any homomorphic work starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvenance reports a key or a ciphertext that was not generated
	// under the active parameters.
	ErrProvenance = errors.New("provenance error")

	// ErrInvariant reports an internal inconsistency discovered while an
	// algorithm is running.
	ErrInvariant = errors.New("invariant violation")
)
