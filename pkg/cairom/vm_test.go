package cairom_test

import (
	"testing"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
	"github.com/cairo-m/cairo-m-prover/pkg/cairom"
)

func retOnlyProgram() *cairom.Program {
	p := vm.NewProgram()
	p.Instructions = []vm.Instruction{{Op: vm.Ret}}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	return p
}

func TestVMExecuteCleanHalt(t *testing.T) {
	m := cairom.NewVM(retOnlyProgram(), cairom.DefaultRunOptions())
	result, err := m.Execute("main", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("expected a clean halt, got %v", result.Err)
	}

	state := m.State()
	if !state.Halted {
		t.Fatal("expected the VM to report halted after a clean run")
	}
	if state.FP != 0 {
		t.Fatalf("expected fp to return to 0 after Ret, got %d", state.FP)
	}
	if state.PC != uint32(len(retOnlyProgram().Instructions)) {
		t.Fatalf("expected pc at the sentinel, got %d", state.PC)
	}
}

func TestVMExecuteInvalidEntryPoint(t *testing.T) {
	m := cairom.NewVM(retOnlyProgram(), cairom.DefaultRunOptions())
	_, err := m.Execute("does-not-exist", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown entrypoint")
	}
	ve, ok := err.(*cairom.VMError)
	if !ok {
		t.Fatalf("expected *cairom.VMError, got %T", err)
	}
	if ve.Code != cairom.ErrInvalidEntryPoint {
		t.Fatalf("expected ErrInvalidEntryPoint, got %s", ve.Code)
	}
}

func TestProveVerifyRoundTrip(t *testing.T) {
	m := cairom.NewVM(retOnlyProgram(), cairom.DefaultRunOptions())
	result, err := m.Execute("main", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	proof, err := cairom.Prove(result, cairom.DefaultConfig())
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := cairom.Verify(proof); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	m := cairom.NewVM(retOnlyProgram(), cairom.DefaultRunOptions())
	result, err := m.Execute("main", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	proof, err := cairom.Prove(result, cairom.DefaultConfig())
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if len(proof.Claim.FinalMemory) == 0 {
		t.Fatal("expected at least one touched memory address")
	}
	proof.Claim.FinalMemory[0].Addr ^= 1

	err = cairom.Verify(proof)
	if err == nil {
		t.Fatal("expected verification to fail on a tampered proof")
	}
	ve, ok := err.(*cairom.VMError)
	if !ok || ve.Code != cairom.ErrProofVerification {
		t.Fatalf("expected ErrProofVerification, got %#v", err)
	}
}
