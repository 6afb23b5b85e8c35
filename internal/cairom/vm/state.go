package vm

import "github.com/cairo-m/cairo-m-prover/internal/cairom/core"

// State is the VM's register file (§3): pc points into the instruction
// stream, fp frames the current linear-memory window. clock is bumped on
// every access (instruction fetch or data access, §3). All three are M31
// field elements; addresses derived from fp+off wrap within the field
// rather than faulting, per §4.B's documented saturating-address policy.
type State struct {
	PC    core.M31
	FP    core.M31
	Clock core.M31
}

// addr computes an fp-relative operand address as an M31 field element,
// returning its canonical uint32 value for use as a Memory key.
func addr(fp core.M31, off core.M31) uint32 {
	return fp.Add(off).Value()
}

// ErrorKind names the VM's failure taxonomy (§7).
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrUninitialisedRead
	ErrDivisionByZero
	ErrUnknownOpcode
	ErrStepLimit
	ErrInvalidEntryPoint
	ErrInvalidArgumentCount
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUninitialisedRead:
		return "UninitialisedRead"
	case ErrDivisionByZero:
		return "DivisionByZero"
	case ErrUnknownOpcode:
		return "UnknownOpcode"
	case ErrStepLimit:
		return "StepLimit"
	case ErrInvalidEntryPoint:
		return "InvalidEntryPoint"
	case ErrInvalidArgumentCount:
		return "InvalidArgumentCount"
	default:
		return "None"
	}
}

// RunError wraps an ErrorKind with the step at which it was raised, mirroring
// the donor's own *VMError{Code, Message, Cause} shape.
type RunError struct {
	Kind    ErrorKind
	Step    uint32
	Message string
}

func (e *RunError) Error() string {
	if e.Message != "" {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String()
}

// DebugPrint is one side-effecting Print* emission (§4.C), collected only
// when Options.CollectPrints is set.
type DebugPrint struct {
	Step  uint32
	IsU32 bool
	M31Value core.M31
	U32Value uint32
}

// Options configures a VM run (§4.C).
type Options struct {
	MaxSteps      uint32
	CollectPrints bool
}

// DefaultOptions returns a conservative step budget with debug prints off.
func DefaultOptions() Options {
	return Options{MaxSteps: 1 << 20, CollectPrints: false}
}

// RunnerOutput is what a completed (or aborted) Run produces: the step-by-
// step state trace, the bundle of executed instructions in order, the
// memory log, and any error that terminated the run early (§4.C: "On any
// instruction failure the VM returns the partial trace up to but not
// including the failing step, plus an error kind").
type RunnerOutput struct {
	States   []State
	Bundles  []ExecutionBundle
	Memory   *Memory
	Prints   []DebugPrint
	Err      *RunError
	StepsRun uint32
}
