package cairom

import (
	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/prover"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
)

// FieldElement is a QM31 value: Cairo-M's register, memory cell, and
// instruction-word word type all live in the degree-4 extension of M31.
type FieldElement = core.QM31

// Program is the parsed instruction stream and entrypoint table a VM runs
// (§3, §6).
type Program = vm.Program

// Instruction is one decoded Cairo-M instruction.
type Instruction = vm.Instruction

// Opcode is a variant in Cairo-M's closed instruction set.
type Opcode = vm.Opcode

// RunOptions configures a VM run: the step budget and whether Print*
// side-effects are collected.
type RunOptions = vm.Options

// RunResult is a completed (or aborted) run: the step-by-step state trace,
// the per-instruction bundle list, the memory log, and any error that
// terminated execution early.
type RunResult = vm.RunnerOutput

// AdaptedTrace is a run re-expressed into per-opcode components and memory
// boundary projections, the input Prove consumes.
type AdaptedTrace = vm.AdaptedTrace

// Proof is the full STARK artefact Prove produces and Verify consumes.
type Proof = prover.Proof

// Claim is every public value a verifier needs before interaction.
type Claim = prover.Claim

// InteractionClaim is every component's claimed logup sum plus the
// interaction proof-of-work nonce.
type InteractionClaim = prover.InteractionClaim

// Config configures proof generation: which hash function backs the
// Fiat-Shamir transcript ("sha256", "sha3", or "poseidon"), and whether each
// component re-checks its own constraints before Prove commits its trace
// (§7: "ConstraintUnsatisfied ... only in debug-assertions mode").
type Config struct {
	HashFunction    string
	DebugAssertions bool
}

// DefaultConfig returns the sha3-backed transcript configuration used
// throughout the reference parameter set (§4.H), with debug assertions off
// (the composition polynomial is the actual soundness argument; the
// per-component re-check is an optional, slower sanity pass).
func DefaultConfig() *Config {
	return &Config{HashFunction: "sha3", DebugAssertions: false}
}

// DefaultRunOptions returns a conservative step budget with debug prints
// off (§4.C).
func DefaultRunOptions() RunOptions {
	return vm.DefaultOptions()
}

// ParseProgram decodes a compiled program's JSON artefact (§6).
func ParseProgram(data []byte) (*Program, error) {
	p, err := vm.ParseProgram(data)
	if err != nil {
		return nil, &VMError{Code: ErrInvalidProgram, Message: "parsing compiled program", Cause: err}
	}
	return p, nil
}
