package protocols

import (
	"fmt"
	"math"
)

// STARKParameters accounts for the trace-size and query-count choices a
// proving session commits to before the transcript opens (§4.H). It is kept
// separate from FRIConfig because it additionally tracks the padded trace
// length and the zero-knowledge randomizer count, neither of which the FRI
// sub-protocol itself needs to know about.
type STARKParameters struct {
	// SecurityLevel is the conjectured security level in bits. The system
	// has soundness error roughly 2^(-SecurityLevel).
	SecurityLevel int

	// LogBlowupFactor is log2 of the ratio between the randomized trace
	// domain and the FRI domain (§4.H: pinned to 1 for the 96-bit-regular
	// profile).
	LogBlowupFactor int

	// NumTraceRandomizers is the number of randomizer rows mixed into the
	// execution trace for zero-knowledge.
	NumTraceRandomizers int

	// NumQueries is the number of independent FRI query repetitions.
	NumQueries int
}

// DefaultSTARKParameters returns the 96-bit-regular profile (§4.H):
// log_blowup_factor=1, n_queries=80, matching DefaultFRIConfig.
func DefaultSTARKParameters() STARKParameters {
	return STARKParameters{
		SecurityLevel:       96,
		LogBlowupFactor:     1,
		NumTraceRandomizers: 0,
		NumQueries:          80,
	}
}

// NewSTARKParameters derives a query count from a target security level,
// keeping the blowup factor fixed at the profile's default.
func NewSTARKParameters(securityLevel int) STARKParameters {
	numQueries := securityLevel
	if numQueries < 40 {
		numQueries = 40
	}
	return STARKParameters{
		SecurityLevel:       securityLevel,
		LogBlowupFactor:     1,
		NumTraceRandomizers: 0,
		NumQueries:          numQueries,
	}
}

// Validate checks the parameters are internally consistent.
func (sp *STARKParameters) Validate() error {
	if sp.SecurityLevel < 80 {
		return fmt.Errorf("security level must be at least 80 bits, got %d", sp.SecurityLevel)
	}
	if sp.LogBlowupFactor < 1 {
		return fmt.Errorf("log blowup factor must be at least 1, got %d", sp.LogBlowupFactor)
	}
	if sp.NumTraceRandomizers < 0 {
		return fmt.Errorf("number of trace randomizers cannot be negative, got %d", sp.NumTraceRandomizers)
	}
	if sp.NumQueries < sp.SecurityLevel/3 {
		return fmt.Errorf("number of FRI queries too low for security level")
	}
	return nil
}

// RandomizedTraceLength computes the padded trace length after adding
// zero-knowledge randomizers, rounded up to the next power of two.
func (sp *STARKParameters) RandomizedTraceLength(paddedHeight int) int {
	return nextPowerOfTwo(paddedHeight + sp.NumTraceRandomizers)
}

// FRIDomainSize returns the size of the coefficient vector FRI folds,
// i.e. the randomized trace length scaled by the blowup factor.
func (sp *STARKParameters) FRIDomainSize(paddedHeight int) int {
	return sp.RandomizedTraceLength(paddedHeight) << uint(sp.LogBlowupFactor)
}

// ToFRIConfig derives the FRIConfig this session's queries should run with.
func (sp *STARKParameters) ToFRIConfig(powBits int) FRIConfig {
	return FRIConfig{
		LogBlowupFactor: sp.LogBlowupFactor,
		NumQueries:      sp.NumQueries,
		PowBits:         powBits,
	}
}

// ComputeSecurityLevel estimates the soundness actually achieved by these
// parameters against a given padded trace height: FRI's query soundness is
// estimated as log2(domain_size) * NumQueries / 2^LogBlowupFactor bits,
// capped at SecurityLevel.
func (sp *STARKParameters) ComputeSecurityLevel(paddedHeight int) float64 {
	domainSize := float64(sp.FRIDomainSize(paddedHeight))
	friSecurity := math.Log2(domainSize) * float64(sp.NumQueries) / float64(uint(1)<<uint(sp.LogBlowupFactor))
	return math.Min(float64(sp.SecurityLevel), friSecurity)
}

// String returns a human-readable representation of the parameters.
func (sp *STARKParameters) String() string {
	return fmt.Sprintf("STARK{Security: %d bits, Blowup: 2^%d, Randomizers: %d, Queries: %d}",
		sp.SecurityLevel, sp.LogBlowupFactor, sp.NumTraceRandomizers, sp.NumQueries)
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
