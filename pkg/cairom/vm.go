package cairom

import (
	"github.com/cairo-m/cairo-m-prover/internal/cairom/prover"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
)

// VM is the public interface over a loaded Cairo-M program.
type VM interface {
	// Execute runs entrypoint with args and returns the resulting trace.
	// Calling Execute again replaces the state State reports.
	Execute(entrypoint string, args []FieldElement) (*RunResult, error)

	// State returns the register file and run status observed after the
	// most recent Execute call.
	State() VMState
}

// VMState is the VM's externally observable state after a run (§3).
type VMState struct {
	PC       uint32
	FP       uint32
	Clock    uint32
	Halted   bool
	StepsRun uint32
}

type vmImpl struct {
	program *vm.Program
	opts    vm.Options
	last    *vm.RunnerOutput
}

// NewVM creates a VM bound to program, using opts as its step budget and
// print-collection policy for every Execute call.
func NewVM(program *Program, opts RunOptions) VM {
	if opts.MaxSteps == 0 {
		opts = vm.DefaultOptions()
	}
	return &vmImpl{program: program, opts: opts}
}

// Execute runs entrypoint with args to completion, a step-budget abort, or
// a failing instruction (§4.C). The returned error, when non-nil, wraps the
// same RunError recorded on the result.
func (v *vmImpl) Execute(entrypoint string, args []FieldElement) (*RunResult, error) {
	out, err := vm.Run(v.program, entrypoint, args, v.opts)
	v.last = out
	if err != nil {
		return out, &VMError{Code: errorCodeFor(out), Message: err.Error(), Cause: err}
	}
	return out, nil
}

// State reports the register file after the most recent Execute call, read
// off the last executed bundle's successor registers (or the zero value if
// Execute has not been called, or the run aborted before any instruction
// completed).
func (v *vmImpl) State() VMState {
	if v.last == nil {
		return VMState{}
	}
	s := VMState{Halted: v.last.Err == nil, StepsRun: v.last.StepsRun}
	if n := len(v.last.Bundles); n > 0 {
		last := v.last.Bundles[n-1]
		s.PC, s.FP, s.Clock = last.NextPC, last.NextFP, last.Clock
	}
	return s
}

func errorCodeFor(out *vm.RunnerOutput) ErrorCode {
	if out == nil || out.Err == nil {
		return ErrUnknown
	}
	switch out.Err.Kind {
	case vm.ErrUninitialisedRead:
		return ErrUninitialisedRead
	case vm.ErrDivisionByZero:
		return ErrDivisionByZero
	case vm.ErrUnknownOpcode:
		return ErrUnknownOpcode
	case vm.ErrStepLimit:
		return ErrStepLimit
	case vm.ErrInvalidEntryPoint:
		return ErrInvalidEntryPoint
	case vm.ErrInvalidArgumentCount:
		return ErrInvalidArgumentCount
	default:
		return ErrUnknown
	}
}

// Adapt re-expresses a completed run into the per-component, boundary-
// annotated trace Prove consumes (§4.D).
func Adapt(result *RunResult) (*AdaptedTrace, error) {
	adapted, err := vm.Adapt(result)
	if err != nil {
		return nil, &VMError{Code: ErrProofGeneration, Message: "adapting execution trace", Cause: err}
	}
	return adapted, nil
}

// Prove runs the full proving pipeline over a completed run: adapting the
// trace, committing every component, building the interaction argument, and
// proving the resulting composition's low degree via FRI (§4.H).
func Prove(result *RunResult, cfg *Config) (*Proof, error) {
	adapted, err := Adapt(result)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	proof, err := prover.Prove(result, adapted, cfg.HashFunction, cfg.DebugAssertions)
	if err != nil {
		return nil, &VMError{Code: ErrProofGeneration, Message: "generating proof", Cause: err}
	}
	return proof, nil
}

// Verify replays a proof's own transcript and checks its commitments, logup
// sum, proof-of-work grind, and FRI low-degree proof (§4.I).
func Verify(proof *Proof) error {
	if err := prover.Verify(proof); err != nil {
		return &VMError{Code: ErrProofVerification, Message: "verifying proof", Cause: err}
	}
	return nil
}
