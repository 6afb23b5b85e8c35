package integration_test

import (
	"bytes"
	"testing"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
)

// §8 invariant 4: parse(serialize(p)) == p for Program.
func TestProgramRoundTrip(t *testing.T) {
	p := vm.NewProgram()
	p.CompilerVersion = "0.1.0-test"
	p.FunctionAddresses = map[string]uint32{"main": 0, "helper": 3}
	p.Instructions = []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(42), Off1: m31(3)},
		{Op: vm.JmpRelImm, Off0: m31(1)},
		{Op: vm.Ret},
		{Op: vm.StoreAddFpImm, Off0: m31(3), Off1: m31(4), Off2: m31(7)},
		{Op: vm.Ret},
	}

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := vm.ParseProgram(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got.CompilerVersion != p.CompilerVersion {
		t.Fatalf("compiler version mismatch: got %q want %q", got.CompilerVersion, p.CompilerVersion)
	}
	if len(got.FunctionAddresses) != len(p.FunctionAddresses) {
		t.Fatalf("function address count mismatch: got %d want %d", len(got.FunctionAddresses), len(p.FunctionAddresses))
	}
	for name, addr := range p.FunctionAddresses {
		if got.FunctionAddresses[name] != addr {
			t.Fatalf("entrypoint %q address mismatch: got %d want %d", name, got.FunctionAddresses[name], addr)
		}
	}
	if len(got.Instructions) != len(p.Instructions) {
		t.Fatalf("instruction count mismatch: got %d want %d", len(got.Instructions), len(p.Instructions))
	}
	for i, inst := range p.Instructions {
		gi := got.Instructions[i]
		if gi.Op != inst.Op || !gi.Off0.Equal(inst.Off0) || !gi.Off1.Equal(inst.Off1) || !gi.Off2.Equal(inst.Off2) {
			t.Fatalf("instruction %d mismatch: got %+v want %+v", i, gi, inst)
		}
	}

	// Serializing the round-tripped program again must reproduce the exact
	// same bytes (ParseProgram/Serialize agree with each other).
	data2, err := got.Serialize()
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if !bytes.Equal(data, data2) {
		t.Fatalf("serialize(parse(serialize(p))) != serialize(p)")
	}
}

func TestParseProgramRejectsUnknownOpcode(t *testing.T) {
	_, err := vm.ParseProgram([]byte(`{"data":[["ff",0,0,0]],"function_addresses":{},"compiler_version":""}`))
	if err == nil {
		t.Fatal("expected an error parsing an out-of-range opcode id")
	}
}
