package vm

import "github.com/cairo-m/cairo-m-prover/internal/cairom/core"

// DataAccess is one memory access a component consumes, carrying both sides
// of the per-address clock chain so the Memory logup relation (§4.F) can
// emit the matched +1/-1 fraction pair. A bundle's unused operand slots are
// simply absent from its Accesses slice (§4.D: "absent slots are explicitly
// tagged None" at the bundle level; per-component trace layout then omits
// the column entirely for operands it never uses, §4.G).
type DataAccess struct {
	Address   uint32
	PrevClock uint32
	PrevValue core.QM31
	Value     core.QM31
}

// ExecutionBundle is one row per executed instruction (§3): the fetch
// access plus up to three data accesses, keyed by the state the VM was in
// when it executed that step.
type ExecutionBundle struct {
	PC    uint32
	FP    uint32
	Clock uint32

	// NextPC/NextFP are the register values the instruction produced,
	// carried same-row rather than read off a physically adjacent
	// component row: component rows for one opcode are drawn from
	// wherever in the whole execution that opcode happened to run, so a
	// literal "next physical row" has no causal meaning per component.
	// The opcode-dispatch relation (§4.F) is what stitches one step's
	// NextPC/NextFP to the next step's PC/FP across components.
	NextPC uint32
	NextFP uint32

	InstPrevClock uint32
	Instruction   Instruction

	Accesses []DataAccess

	// JnzTaken distinguishes the two Jnz AIR components (§4.G): true routes
	// the bundle to the taken component, false to the not-taken one. Unused
	// for every other opcode.
	JnzTaken bool

	// Padding marks a dummy row inserted by the adapter to round a
	// component's bundle count up to a power of two (§4.D). Padding rows
	// carry zeroed fields and disable every algebraic/interaction
	// contribution via the component's selector column (§4.G).
	Padding bool
}
