package protocols_test

import (
	"testing"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/protocols"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/utils"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
)

// A producer's +1 term and a consumer's -1 term over the identical tuple
// must cancel exactly (§4.F) regardless of which relation or challenge is
// in play.
func TestRelationTermCancelsMatchedProducerConsumer(t *testing.T) {
	channel := utils.NewChannel("sha3")
	rel := protocols.NewRelation("Memory", 6, channel)

	tuple := protocols.MemoryTuple(core.NewM31(42), core.QM31FromM31(core.NewM31(7)), core.NewM31(3))
	plus, err := rel.Term(tuple, 1)
	if err != nil {
		t.Fatalf("term: %v", err)
	}
	minus, err := rel.Term(tuple, -1)
	if err != nil {
		t.Fatalf("term: %v", err)
	}
	if !plus.Add(minus).IsZero() {
		t.Fatalf("matched producer/consumer terms did not cancel: %s + %s", plus.String(), minus.String())
	}
}

// Perturbing either side of a supposedly-matched pair (here, the clock)
// must break the cancellation, which is exactly what makes the logup sum
// detect an inconsistent trace (§8 invariant 3).
func TestRelationTermDetectsPerturbedTuple(t *testing.T) {
	channel := utils.NewChannel("sha3")
	rel := protocols.NewRelation("Memory", 6, channel)

	produced := protocols.MemoryTuple(core.NewM31(42), core.QM31FromM31(core.NewM31(7)), core.NewM31(3))
	consumed := protocols.MemoryTuple(core.NewM31(42), core.QM31FromM31(core.NewM31(7)), core.NewM31(4)) // wrong clock

	plus, err := rel.Term(produced, 1)
	if err != nil {
		t.Fatalf("term: %v", err)
	}
	minus, err := rel.Term(consumed, -1)
	if err != nil {
		t.Fatalf("term: %v", err)
	}
	if plus.Add(minus).IsZero() {
		t.Fatal("expected a perturbed tuple to break cancellation")
	}
}

// RangeCheckTuple/InRange together gate every clock-delta claim (§4.E); a
// delta at or beyond 2^20 must be rejected before it is ever folded into a
// relation term, matching the synthetic-overflow scenario (§8 scenario
// "RangeCheck_20 overflow").
func TestRangeCheckRejectsOutOfRangeDelta(t *testing.T) {
	rc := vm.DefaultRangeCheck()
	overflow := uint32(1) << 20
	if rc.InRange(overflow) {
		t.Fatalf("expected %d to be out of RangeCheck_20's range", overflow)
	}
	if !rc.InRange(overflow - 1) {
		t.Fatalf("expected %d to be in RangeCheck_20's range", overflow-1)
	}
}
