package vm

import (
	"testing"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// arithFpFpInplaceProgram builds a program that loads two distinct values
// into two distinct frame slots, applies one in-place Fp,Fp arithmetic
// opcode across them, and returns, so op's result can be read back off the
// destination slot.
func arithFpFpInplaceProgram(op Opcode, a, b uint64) *Program {
	p := NewProgram()
	p.Instructions = []Instruction{
		{Op: StoreImm, Off0: core.NewM31(a), Off1: core.NewM31(2)}, // mem[fp+2] = a
		{Op: StoreImm, Off0: core.NewM31(b), Off1: core.NewM31(3)}, // mem[fp+3] = b
		{Op: op, Off0: core.NewM31(2), Off1: core.NewM31(3)},       // mem[fp+2] op= mem[fp+3]
		{Op: Ret},
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	return p
}

func runAndAdapt(t *testing.T, p *Program) (*RunnerOutput, *AdaptedTrace) {
	t.Helper()
	out, err := Run(p, "main", nil, DefaultOptions())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	adapted, err := Adapt(out)
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	return out, adapted
}

// TestArithFpFpInplaceUsesDistinctOperands pins down the in-place Fp,Fp
// arithmetic opcodes' semantics: Off0 and Off1 are the two distinct operand
// slots, and the result is written back to Off0 — not Off0 read twice.
func TestArithFpFpInplaceUsesDistinctOperands(t *testing.T) {
	cases := []struct {
		op      Opcode
		a, b    uint64
		wantFp2 uint64
	}{
		{StoreAddFpFpInplace, 10, 5, 15},
		{StoreSubFpFpInplace, 10, 5, 5},
		{StoreMulFpFpInplace, 10, 5, 50},
		{StoreDivFpFpInplace, 10, 5, 2},
	}
	for _, c := range cases {
		t.Run(c.op.String(), func(t *testing.T) {
			p := arithFpFpInplaceProgram(c.op, c.a, c.b)
			out, adapted := runAndAdapt(t, p)

			got, err := out.Memory.ReadNoTrace(2)
			if err != nil {
				t.Fatalf("reading mem[fp+2]: %v", err)
			}
			want := core.QM31FromM31(core.NewM31(c.wantFp2))
			if !got.Equal(want) {
				t.Fatalf("%s(%d,%d): got mem[fp+2]=%s, want %s", c.op, c.a, c.b, got.String(), want.String())
			}

			key := ComponentKey{Op: c.op}
			cb, ok := adapted.Components[key]
			if !ok {
				t.Fatalf("no component bucket for %s", c.op)
			}
			if err := NewComponent(cb).CheckConstraints(); err != nil {
				t.Fatalf("CheckConstraints: %v", err)
			}
		})
	}
}

// TestArithFpFpNonInplaceUsesDistinctOperands exercises the non-in-place
// Fp,Fp form (three distinct slots: two operands, one destination) the
// same way, so both forms are pinned against regressing into each other.
func TestArithFpFpNonInplaceUsesDistinctOperands(t *testing.T) {
	p := NewProgram()
	p.Instructions = []Instruction{
		{Op: StoreImm, Off0: core.NewM31(10), Off1: core.NewM31(2)},
		{Op: StoreImm, Off0: core.NewM31(5), Off1: core.NewM31(3)},
		{Op: StoreSubFpFp, Off0: core.NewM31(2), Off1: core.NewM31(3), Off2: core.NewM31(4)},
		{Op: Ret},
	}
	p.FunctionAddresses = map[string]uint32{"main": 0}
	out, adapted := runAndAdapt(t, p)

	got, err := out.Memory.ReadNoTrace(4)
	if err != nil {
		t.Fatalf("reading mem[fp+4]: %v", err)
	}
	want := core.QM31FromM31(core.NewM31(5))
	if !got.Equal(want) {
		t.Fatalf("StoreSubFpFp: got %s, want %s", got.String(), want.String())
	}

	cb := adapted.Components[ComponentKey{Op: StoreSubFpFp}]
	if err := NewComponent(cb).CheckConstraints(); err != nil {
		t.Fatalf("CheckConstraints: %v", err)
	}
}
