// Package integration_test exercises the end-to-end scenarios named in
// spec §8 against the public cairom API plus the instruction-level vm
// package needed to hand-assemble small programs.
package integration_test

import (
	"testing"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
	"github.com/cairo-m/cairo-m-prover/pkg/cairom"
)

func m31(v uint64) core.M31 { return core.NewM31(v) }

func runMain(t *testing.T, instructions []vm.Instruction) *vm.RunnerOutput {
	t.Helper()
	p := vm.NewProgram()
	p.Instructions = instructions
	p.FunctionAddresses = map[string]uint32{"main": 0}
	out, err := vm.Run(p, "main", nil, vm.DefaultOptions())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

// S1 — StoreImm trace: mem[fp+dst] = imm, clock bumps by one, the write
// event carries prev_value=0 (uninitialised default) and prev_clock=0.
func TestS1StoreImmTrace(t *testing.T) {
	out := runMain(t, []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(42), Off1: m31(3)},
		{Op: vm.Ret},
	})
	if len(out.Bundles) == 0 {
		t.Fatal("expected at least one executed bundle")
	}
	b := out.Bundles[0]
	if b.Instruction.Op != vm.StoreImm {
		t.Fatalf("expected first bundle to be StoreImm, got %s", b.Instruction.Op)
	}
	if len(b.Accesses) != 1 {
		t.Fatalf("expected exactly one data access, got %d", len(b.Accesses))
	}
	a := b.Accesses[0]
	if a.Address != 3 {
		t.Fatalf("expected address fp(0)+dst(3)=3, got %d", a.Address)
	}
	if !a.PrevValue.IsZero() {
		t.Fatalf("expected prev_value=0 on first touch, got %s", a.PrevValue.String())
	}
	want := core.QM31FromM31(m31(42))
	if !a.Value.Equal(want) {
		t.Fatalf("expected value=42, got %s", a.Value.String())
	}
	if a.PrevClock != 0 {
		t.Fatalf("expected prev_clock=0, got %d", a.PrevClock)
	}
	if b.Clock == a.PrevClock {
		t.Fatal("expected new_clock > prev_clock")
	}
}

// S2 — JmpAbsImm(tgt) sets pc=tgt unconditionally and carries no data
// accesses.
func TestS2JmpAbsImm(t *testing.T) {
	out := runMain(t, []vm.Instruction{
		{Op: vm.JmpAbsImm, Off0: m31(2)},
		{Op: vm.Ret}, // never reached
		{Op: vm.Ret},
	})
	b := out.Bundles[0]
	if b.Instruction.Op != vm.JmpAbsImm {
		t.Fatalf("expected JmpAbsImm, got %s", b.Instruction.Op)
	}
	if len(b.Accesses) != 0 {
		t.Fatalf("expected zero data accesses for JmpAbsImm, got %d", len(b.Accesses))
	}
	if b.NextPC != 2 {
		t.Fatalf("expected next pc=2, got %d", b.NextPC)
	}
}

// S3 — JnzFpImm taken: a nonzero condition routes the step to the taken
// branch and adds the jump-offset displacement.
func TestS3JnzFpImmTaken(t *testing.T) {
	out := runMain(t, []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(1), Off1: m31(3)}, // mem[fp+3] = 1 (nonzero cond)
		{Op: vm.JnzFpImm, Off0: m31(3), Off1: m31(23)}, // pc=1, taken -> pc = 1+23 = 24
		{Op: vm.Ret},
	})
	jnz := out.Bundles[1]
	if jnz.Instruction.Op != vm.JnzFpImm {
		t.Fatalf("expected JnzFpImm, got %s", jnz.Instruction.Op)
	}
	if !jnz.JnzTaken {
		t.Fatal("expected the taken branch for a nonzero condition")
	}
	if jnz.NextPC != 24 {
		t.Fatalf("expected next pc=24, got %d", jnz.NextPC)
	}
}

// S3 (not-taken twin) — a zero condition falls through to pc+size and the
// not-taken component owns the bundle.
func TestS3JnzFpImmNotTaken(t *testing.T) {
	out := runMain(t, []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(0), Off1: m31(3)},
		{Op: vm.JnzFpImm, Off0: m31(3), Off1: m31(23)},
		{Op: vm.Ret},
	})
	jnz := out.Bundles[1]
	if jnz.JnzTaken {
		t.Fatal("expected the not-taken branch for a zero condition")
	}
	if jnz.NextPC != 2 {
		t.Fatalf("expected fallthrough to pc+size=2, got %d", jnz.NextPC)
	}
	if len(jnz.Accesses) != 1 {
		t.Fatalf("expected the not-taken component to carry only the condition access, got %d", len(jnz.Accesses))
	}
}

// S4 — CallRelImm(rel, new_fp_off) saves the old fp and a return address,
// bumps fp by new_fp_off, and Ret later restores both.
func TestS4CallRelImmAndRet(t *testing.T) {
	out := runMain(t, []vm.Instruction{
		{Op: vm.CallRelImm, Off0: m31(2), Off1: m31(5)}, // pc=0 -> target pc=2, new_fp = 0+5 = 5
		{Op: vm.Ret},                                     // call returns here (pc=1), then halts via the sentinel
		{Op: vm.Ret},                                     // callee: returns to pc=1
	})
	call := out.Bundles[0]
	if call.Instruction.Op != vm.CallRelImm {
		t.Fatalf("expected CallRelImm, got %s", call.Instruction.Op)
	}
	if call.NextFP != 5 {
		t.Fatalf("expected new fp=5, got %d", call.NextFP)
	}
	if call.NextPC != 2 {
		t.Fatalf("expected target pc=2, got %d", call.NextPC)
	}
	if len(call.Accesses) != 2 {
		t.Fatalf("expected 2 data accesses (saved fp, return address), got %d", len(call.Accesses))
	}
	if !call.Accesses[0].Value.Equal(core.QM31FromM31(m31(0))) {
		t.Fatalf("expected saved fp=0, got %s", call.Accesses[0].Value.String())
	}
	if !call.Accesses[1].Value.Equal(core.QM31FromM31(m31(1))) {
		t.Fatalf("expected saved return address=pc+1=1, got %s", call.Accesses[1].Value.String())
	}

	ret := out.Bundles[1]
	if ret.Instruction.Op != vm.Ret {
		t.Fatalf("expected Ret, got %s", ret.Instruction.Op)
	}
	if ret.NextFP != 0 {
		t.Fatalf("expected fp restored to 0, got %d", ret.NextFP)
	}
	if ret.NextPC != 1 {
		t.Fatalf("expected pc restored to 1, got %d", ret.NextPC)
	}
}

// S5 — Memory logup balance: a program that writes, reads, then writes the
// same address produces three events whose multiset of sinks matches the
// sources, and the prover's boundary-aware logup sum is zero end to end.
func TestS5MemoryLogupBalance(t *testing.T) {
	p := vm.NewProgram()
	p.Instructions = []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(7), Off1: m31(3)},
		{Op: vm.StoreDerefFp, Off0: m31(3), Off1: m31(4)}, // mem[fp+4] = mem[fp+3] (read then write elsewhere)
		{Op: vm.StoreImm, Off0: m31(9), Off1: m31(3)},      // overwrite address 3 again
		{Op: vm.Ret},
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}

	result, err := vm.Run(p, "main", nil, vm.DefaultOptions())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := result.Memory.Events()
	var addr3Events int
	for _, e := range events {
		if e.Addr == 3 {
			addr3Events++
		}
	}
	if addr3Events != 3 {
		t.Fatalf("expected 3 events touching address 3 (write, read, overwrite), got %d", addr3Events)
	}

	adapted, err := vm.Adapt(result)
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	proof, err := cairom.Prove(result, cairom.DefaultConfig())
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := cairom.Verify(proof); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(adapted.FinalMemory) == 0 {
		t.Fatal("expected a nonempty final-memory boundary")
	}
}

// S6 — Range-check overflow: a clock delta at or beyond the RangeCheck_20
// width must be rejected.
func TestS6RangeCheckWidth(t *testing.T) {
	rc := vm.DefaultRangeCheck()
	if rc.InRange(1 << 20) {
		t.Fatal("expected 2^20 to fall outside RangeCheck_20's range")
	}
	if !rc.InRange((1 << 20) - 1) {
		t.Fatal("expected 2^20-1 to fall inside RangeCheck_20's range")
	}
}

// Division by the field's zero element fails with DivisionByZero (§4.C,
// §7), never silently producing a result.
func TestDivisionByZeroFails(t *testing.T) {
	p := vm.NewProgram()
	p.Instructions = []vm.Instruction{
		{Op: vm.StoreImm, Off0: m31(0), Off1: m31(3)},
		{Op: vm.StoreDivFpImm, Off0: m31(3), Off1: m31(4), Off2: m31(0)},
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	out, err := vm.Run(p, "main", nil, vm.DefaultOptions())
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
	if out.Err == nil || out.Err.Kind != vm.ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %#v", out.Err)
	}
}

// A read of a never-written address fails with UninitialisedRead (§4.B).
func TestUninitialisedReadFails(t *testing.T) {
	p := vm.NewProgram()
	p.Instructions = []vm.Instruction{
		{Op: vm.StoreDerefFp, Off0: m31(50), Off1: m31(3)},
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	out, err := vm.Run(p, "main", nil, vm.DefaultOptions())
	if err == nil {
		t.Fatal("expected an uninitialised-read error")
	}
	if out.Err == nil || out.Err.Kind != vm.ErrUninitialisedRead {
		t.Fatalf("expected ErrUninitialisedRead, got %#v", out.Err)
	}
}

// A step budget exceeded by an infinite loop aborts with StepLimit rather
// than running forever (§4.C).
func TestStepLimitAborts(t *testing.T) {
	p := vm.NewProgram()
	p.Instructions = []vm.Instruction{
		{Op: vm.JmpRelImm, Off0: m31(0)}, // infinite self-loop
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	out, err := vm.Run(p, "main", nil, vm.Options{MaxSteps: 16})
	if err == nil {
		t.Fatal("expected a step-limit error")
	}
	if out.Err == nil || out.Err.Kind != vm.ErrStepLimit {
		t.Fatalf("expected ErrStepLimit, got %#v", out.Err)
	}
	if out.StepsRun != 16 {
		t.Fatalf("expected exactly the configured step budget to run, got %d", out.StepsRun)
	}
}
