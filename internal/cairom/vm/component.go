package vm

import (
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/protocols"
)

// ConstraintUnsatisfiedError is raised only in debug-assertions mode (§7):
// it names the component and row whose algebraic identity failed to hold,
// which in a correctly-generated trace never happens.
type ConstraintUnsatisfiedError struct {
	Component string
	Row       int
	Detail    string
}

func (e *ConstraintUnsatisfiedError) Error() string {
	return fmt.Sprintf("cairom: constraint unsatisfied in %s row %d: %s", e.Component, e.Row, e.Detail)
}

// Component is one opcode's AIR: trace generation, row-level constraint
// evaluation, and claim/interaction-claim publication (§4.G). A single
// table keyed by ComponentKey dispatches bundles to the right Component
// value (§9).
type Component struct {
	Key     ComponentKey
	Bundles *ComponentBundles
}

// NewComponent builds the component for one adapted bucket of bundles.
func NewComponent(cb *ComponentBundles) *Component {
	return &Component{Key: cb.Key, Bundles: cb}
}

// Claim publishes this component's row count (§4.G).
func (c *Component) Claim() protocols.Claim {
	return protocols.Claim{LogSize: c.Bundles.LogSize(), NumReal: c.Bundles.NumReal}
}

// CheckConstraints re-verifies every algebraic identity §4.G names, over
// every row (real and padding — a correctly-built padding row trivially
// satisfies every check since all its fields are zero and its accesses are
// zeroed with equal clocks). Used only when debug assertions are enabled
// (§7); the STARK's actual soundness comes from the composition polynomial
// this same set of identities is compiled into (§4.H), not from this
// re-check.
func (c *Component) CheckConstraints() error {
	name := c.Key.Name()
	for row, b := range c.Bundles.Bundles {
		if b.Padding {
			continue
		}
		if err := checkOpcodeConsistency(b, c.Key); err != nil {
			return &ConstraintUnsatisfiedError{Component: name, Row: row, Detail: err.Error()}
		}
		if err := checkAddresses(b); err != nil {
			return &ConstraintUnsatisfiedError{Component: name, Row: row, Detail: err.Error()}
		}
		if err := checkSemantics(b, c.Key); err != nil {
			return &ConstraintUnsatisfiedError{Component: name, Row: row, Detail: err.Error()}
		}
		if err := checkClockMonotonicity(b); err != nil {
			return &ConstraintUnsatisfiedError{Component: name, Row: row, Detail: err.Error()}
		}
	}
	return nil
}

// checkOpcodeConsistency is the "opcode_id column equals the component's
// fixed variant constant" identity (§4.G).
func checkOpcodeConsistency(b ExecutionBundle, key ComponentKey) error {
	if b.Instruction.Op != key.Op {
		return fmt.Errorf("row opcode %s does not match component opcode %s", b.Instruction.Op, key.Op)
	}
	return nil
}

// addressOffsets returns the fp-relative offset expected to have produced
// each of this opcode's DataAccess addresses, in access order (§4.G). A nil
// entry marks an access whose address instead chains through a prior
// access's value (a double dereference), left to checkSemantics to verify.
func addressOffsets(inst Instruction) []*core.M31 {
	off0, off1, off2 := inst.Off0, inst.Off1, inst.Off2
	one := core.OneM31()
	switch inst.Op {
	case StoreImm:
		return []*core.M31{&off1}
	case StoreDerefFp:
		return []*core.M31{&off0, &off1}
	case StoreDoubleDerefFp:
		return []*core.M31{&off0, nil, &off2}
	case StoreAddFpFp, StoreSubFpFp, StoreMulFpFp, StoreDivFpFp:
		return []*core.M31{&off0, &off1, &off2}
	case StoreAddFpFpInplace, StoreSubFpFpInplace, StoreMulFpFpInplace, StoreDivFpFpInplace:
		return []*core.M31{&off0, &off1, &off0}
	case StoreAddFpImm, StoreSubFpImm, StoreMulFpImm, StoreDivFpImm:
		return []*core.M31{&off0, &off1}
	case StoreAddFpImmInplace, StoreSubFpImmInplace, StoreMulFpImmInplace, StoreDivFpImmInplace:
		return []*core.M31{&off0, &off0}
	case JmpAbsDerefFp, JmpRelDerefFp:
		return []*core.M31{&off0}
	case JmpAbsDoubleDerefFp, JmpRelDoubleDerefFp:
		return []*core.M31{&off0, nil}
	case JmpAbsAddFpFp, JmpRelAddFpFp, JmpAbsMulFpFp, JmpRelMulFpFp:
		return []*core.M31{&off0, &off1}
	case JmpAbsAddFpImm, JmpRelAddFpImm, JmpAbsMulFpImm, JmpRelMulFpImm:
		return []*core.M31{&off0}
	case JnzFpImm:
		return []*core.M31{&off0}
	case JnzFpFp:
		return []*core.M31{&off0, &off1} // not-taken bundles simply lack the second access
	case CallAbsImm, CallRelImm:
		off1Plus1 := off1.Add(one)
		return []*core.M31{&off1, &off1Plus1}
	case CallAbsFp, CallRelFp:
		off1Plus1 := off1.Add(one)
		return []*core.M31{&off0, &off1, &off1Plus1}
	case Ret:
		zero := core.ZeroM31()
		return []*core.M31{&zero, &one}
	default:
		return nil
	}
}

// checkAddresses is the "address_i = fp + off_i" identity (§4.G), applied
// to every access whose address is directly fp-relative.
func checkAddresses(b ExecutionBundle) error {
	fp := core.NewM31(uint64(b.FP))
	expected := addressOffsets(b.Instruction)
	for i, off := range expected {
		if off == nil || i >= len(b.Accesses) {
			continue
		}
		want := addr(fp, *off)
		if b.Accesses[i].Address != want {
			return fmt.Errorf("access %d address %d does not equal fp+off (%d)", i, b.Accesses[i].Address, want)
		}
	}
	return nil
}

// checkSemantics re-derives each opcode's data-dependent identity: the
// arithmetic results, double-dereference chains, and control-flow targets
// named in §4.C/§4.G, purely from the bundle's own recorded fields (no
// access to live VM memory — this is the AIR's job, working from committed
// trace values only).
func checkSemantics(b ExecutionBundle, key ComponentKey) error {
	inst := b.Instruction
	acc := b.Accesses
	fp := core.NewM31(uint64(b.FP))
	pc := core.NewM31(uint64(b.PC))

	switch inst.Op {
	case StoreImm:
		if !acc[0].Value.Equal(core.QM31FromM31(inst.Off0)) {
			return fmt.Errorf("StoreImm wrote wrong value")
		}
	case StoreDerefFp:
		if !acc[1].Value.Equal(acc[0].Value) {
			return fmt.Errorf("StoreDerefFp: dst value does not match src value")
		}
	case StoreDoubleDerefFp:
		tmp := acc[0].Value.ToM31Array()[0]
		if acc[1].Address != addr(tmp, inst.Off1) {
			return fmt.Errorf("StoreDoubleDerefFp: middle access address does not equal tmp+off1")
		}
		if !acc[2].Value.Equal(acc[1].Value) {
			return fmt.Errorf("StoreDoubleDerefFp: dst value does not match dereferenced value")
		}
	case StoreAddFpFp, StoreAddFpFpInplace, StoreSubFpFp, StoreSubFpFpInplace,
		StoreMulFpFp, StoreMulFpFpInplace, StoreDivFpFp, StoreDivFpFpInplace:
		a := acc[0].Value.ToM31Array()[0]
		bv := acc[1].Value.ToM31Array()[0]
		want, err := arith(inst.Op, a, bv)
		if err != nil {
			return err
		}
		if !acc[2].Value.Equal(core.QM31FromM31(want)) {
			return fmt.Errorf("%s: dst value does not equal op(a,b)", inst.Op)
		}
	case StoreAddFpImm, StoreSubFpImm, StoreMulFpImm, StoreDivFpImm:
		a := acc[0].Value.ToM31Array()[0]
		want, err := arith(inst.Op, a, inst.Off2) // imm lives in off2; off1 only selects the dst address
		if err != nil {
			return err
		}
		if !acc[1].Value.Equal(core.QM31FromM31(want)) {
			return fmt.Errorf("%s: dst value does not equal op(a,imm)", inst.Op)
		}
	case StoreAddFpImmInplace, StoreSubFpImmInplace, StoreMulFpImmInplace, StoreDivFpImmInplace:
		a := acc[0].Value.ToM31Array()[0]
		want, err := arith(inst.Op, a, inst.Off1) // imm lives in off1; off0 is both read and write address
		if err != nil {
			return err
		}
		if !acc[1].Value.Equal(core.QM31FromM31(want)) {
			return fmt.Errorf("%s: dst value does not equal op(a,imm)", inst.Op)
		}

	case JmpAbsImm:
		if b.NextPC != inst.Off0.Value() {
			return fmt.Errorf("JmpAbsImm: next pc does not equal off0")
		}
	case JmpRelImm:
		if b.NextPC != pc.Add(inst.Off0).Value() {
			return fmt.Errorf("JmpRelImm: next pc does not equal pc+off0")
		}
	case JmpAbsDerefFp:
		if b.NextPC != acc[0].Value.ToM31Array()[0].Value() {
			return fmt.Errorf("JmpAbsDerefFp: next pc does not equal mem[fp+src]")
		}
	case JmpRelDerefFp:
		if b.NextPC != pc.Add(acc[0].Value.ToM31Array()[0]).Value() {
			return fmt.Errorf("JmpRelDerefFp: next pc does not equal pc+mem[fp+src]")
		}
	case JmpAbsDoubleDerefFp, JmpRelDoubleDerefFp:
		tmp := acc[0].Value.ToM31Array()[0]
		if acc[1].Address != addr(tmp, inst.Off1) {
			return fmt.Errorf("%s: second access address does not equal tmp+off1", inst.Op)
		}
		target := acc[1].Value.ToM31Array()[0]
		if inst.Op == JmpRelDoubleDerefFp {
			target = pc.Add(target)
		}
		if b.NextPC != target.Value() {
			return fmt.Errorf("%s: next pc mismatch", inst.Op)
		}
	case JmpAbsAddFpFp, JmpRelAddFpFp, JmpAbsMulFpFp, JmpRelMulFpFp:
		a := acc[0].Value.ToM31Array()[0]
		bv := acc[1].Value.ToM31Array()[0]
		var combined core.M31
		if inst.Op == JmpAbsAddFpFp || inst.Op == JmpRelAddFpFp {
			combined = a.Add(bv)
		} else {
			combined = a.Mul(bv)
		}
		target := combined
		if inst.Op == JmpRelAddFpFp || inst.Op == JmpRelMulFpFp {
			target = pc.Add(combined)
		}
		if b.NextPC != target.Value() {
			return fmt.Errorf("%s: next pc mismatch", inst.Op)
		}
	case JmpAbsAddFpImm, JmpRelAddFpImm, JmpAbsMulFpImm, JmpRelMulFpImm:
		a := acc[0].Value.ToM31Array()[0]
		var combined core.M31
		if inst.Op == JmpAbsAddFpImm || inst.Op == JmpRelAddFpImm {
			combined = a.Add(inst.Off1)
		} else {
			combined = a.Mul(inst.Off1)
		}
		target := combined
		if inst.Op == JmpRelAddFpImm || inst.Op == JmpRelMulFpImm {
			target = pc.Add(combined)
		}
		if b.NextPC != target.Value() {
			return fmt.Errorf("%s: next pc mismatch", inst.Op)
		}

	case JnzFpImm:
		cond := acc[0].Value
		taken := !cond.IsZero()
		if taken != key.Taken {
			return fmt.Errorf("JnzFpImm: row's taken branch does not match component")
		}
		if taken {
			if b.NextPC != pc.Add(inst.Off1).Value() {
				return fmt.Errorf("JnzFpImm taken: next pc mismatch")
			}
		} else {
			if b.NextPC != pc.Add(core.OneM31()).Value() {
				return fmt.Errorf("JnzFpImm not-taken: next pc mismatch")
			}
		}
	case JnzFpFp:
		cond := acc[0].Value
		taken := !cond.IsZero()
		if taken != key.Taken {
			return fmt.Errorf("JnzFpFp: row's taken branch does not match component")
		}
		if taken {
			delta := acc[1].Value.ToM31Array()[0]
			if b.NextPC != pc.Add(delta).Value() {
				return fmt.Errorf("JnzFpFp taken: next pc mismatch")
			}
		} else {
			if b.NextPC != pc.Add(core.OneM31()).Value() {
				return fmt.Errorf("JnzFpFp not-taken: next pc mismatch")
			}
		}

	case CallAbsImm, CallRelImm:
		newFP := fp.Add(inst.Off1)
		if !acc[0].Value.Equal(core.QM31FromM31(fp)) {
			return fmt.Errorf("%s: saved fp slot incorrect", inst.Op)
		}
		wantTarget := inst.Off0
		if inst.Op == CallRelImm {
			wantTarget = pc.Add(inst.Off0)
		}
		if b.NextPC != wantTarget.Value() {
			return fmt.Errorf("%s: next pc mismatch", inst.Op)
		}
		if b.NextFP != newFP.Value() {
			return fmt.Errorf("%s: next fp mismatch", inst.Op)
		}
	case CallAbsFp, CallRelFp:
		newFP := fp.Add(inst.Off1)
		target := acc[0].Value.ToM31Array()[0]
		if inst.Op == CallRelFp {
			target = pc.Add(target)
		}
		if !acc[1].Value.Equal(core.QM31FromM31(fp)) {
			return fmt.Errorf("%s: saved fp slot incorrect", inst.Op)
		}
		if b.NextPC != target.Value() {
			return fmt.Errorf("%s: next pc mismatch", inst.Op)
		}
		if b.NextFP != newFP.Value() {
			return fmt.Errorf("%s: next fp mismatch", inst.Op)
		}
	case Ret:
		oldFP := acc[0].Value.ToM31Array()[0]
		retPC := acc[1].Value.ToM31Array()[0]
		if b.NextFP != oldFP.Value() || b.NextPC != retPC.Value() {
			return fmt.Errorf("Ret: next pc/fp do not match saved frame")
		}
	}
	return nil
}

// checkClockMonotonicity is "prev_clock < new_clock", discharged as
// new_clock - prev_clock - 1 in [0, 2^20) via a RangeCheck_20 emission
// (§4.G).
func checkClockMonotonicity(b ExecutionBundle) error {
	rc := DefaultRangeCheck()
	check := func(prev, next uint32) error {
		if next <= prev {
			return fmt.Errorf("clock did not advance: prev=%d new=%d", prev, next)
		}
		delta := next - prev - 1
		if !rc.InRange(delta) {
			return fmt.Errorf("clock delta %d exceeds range-check width", delta)
		}
		return nil
	}
	if err := check(b.InstPrevClock, b.Clock); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	clock := b.Clock
	for i, a := range b.Accesses {
		clock++
		if err := check(a.PrevClock, clock); err != nil {
			return fmt.Errorf("access %d: %w", i, err)
		}
	}
	return nil
}
