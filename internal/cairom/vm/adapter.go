package vm

import (
	"fmt"
	"sort"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// ComponentKey identifies one AIR component (§4.G): an opcode, or — for the
// two Jnz variants, each of which owns a taken/not-taken twin — an opcode
// plus which branch it handles.
type ComponentKey struct {
	Op    Opcode
	Taken bool
}

// Name is the component's stable identifier, used for deterministic
// ordering when the prover commits components (§4.H, §5).
func (k ComponentKey) Name() string {
	if info, err := k.Op.Info(); err == nil && info.JnzVariant {
		if k.Taken {
			return k.Op.String() + "Taken"
		}
		return k.Op.String() + "NotTaken"
	}
	return k.Op.String()
}

// ComponentBundles is one opcode component's bundle list, padded to the
// next power of two (§4.D item 3); NumReal rows precede the dummy padding.
type ComponentBundles struct {
	Key      ComponentKey
	Bundles  []ExecutionBundle
	NumReal  int
}

// LogSize is this component's base-two log row count, the quantity its
// Claim publishes (§3, §4.G).
func (c *ComponentBundles) LogSize() int { return log2(len(c.Bundles)) }

// MemoryBoundary is one touched address's initial or final projection
// (§3 "memory boundaries"): the (addr, value, clock) snapshot the Memory
// logup relation's boundary term is built from (§4.F). Initial boundaries
// always carry clock 0, matching Memory's own "unseen address defaults to
// clock 0" convention.
type MemoryBoundary struct {
	Addr  uint32
	Value core.QM31
	Clock uint32
}

// AdaptedTrace is the trace adapter's output (§4.D).
type AdaptedTrace struct {
	Order         []ComponentKey
	Components    map[ComponentKey]*ComponentBundles
	InitialMemory []MemoryBoundary
	FinalMemory   []MemoryBoundary
}

// InconsistentMemoryChainError signals the per-address clock chain recorded
// by the VM does not match an event's own bookkeeping — a VM bug, never an
// adapter-level condition a well-formed run can trigger (§7).
type InconsistentMemoryChainError struct {
	Addr uint32
}

func (e *InconsistentMemoryChainError) Error() string {
	return fmt.Sprintf("cairom: inconsistent memory chain at address %d", e.Addr)
}

// UnexpectedAccessCountError signals a bundle carries a different number of
// DataAccess entries than its opcode's fixed arity requires (§7).
type UnexpectedAccessCountError struct {
	Op       Opcode
	Got, Want int
}

func (e *UnexpectedAccessCountError) Error() string {
	return fmt.Sprintf("cairom: %s: got %d data accesses, want %d", e.Op, e.Got, e.Want)
}

// Adapt re-expresses a completed VM run into per-component bundle lists and
// the memory boundary sets the prover publishes (§4.D).
func Adapt(out *RunnerOutput) (*AdaptedTrace, error) {
	if err := validateMemoryChain(out.Memory); err != nil {
		return nil, err
	}

	buckets := map[ComponentKey][]ExecutionBundle{}
	var order []ComponentKey
	for _, b := range out.Bundles {
		key := ComponentKey{Op: b.Instruction.Op}
		if info, err := b.Instruction.Op.Info(); err == nil && info.JnzVariant {
			key.Taken = b.JnzTaken
		}
		want := expectedAccessCount(key)
		if len(b.Accesses) != want {
			return nil, &UnexpectedAccessCountError{Op: key.Op, Got: len(b.Accesses), Want: want}
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], b)
	}
	// Deterministic commit order regardless of first-appearance order in
	// the trace: sort by component name (§5 "fixed component order").
	sort.Slice(order, func(i, j int) bool { return order[i].Name() < order[j].Name() })

	components := make(map[ComponentKey]*ComponentBundles, len(buckets))
	for _, key := range order {
		bl := buckets[key]
		padded := padToPowerOfTwo(bl, key)
		components[key] = &ComponentBundles{Key: key, Bundles: padded, NumReal: len(bl)}
	}

	trace := &AdaptedTrace{Order: order, Components: components}
	for _, a := range out.Memory.TouchedAddresses() {
		trace.InitialMemory = append(trace.InitialMemory, MemoryBoundary{Addr: a, Value: out.Memory.InitialValue(a), Clock: 0})
		trace.FinalMemory = append(trace.FinalMemory, MemoryBoundary{Addr: a, Value: out.Memory.FinalValue(a), Clock: out.Memory.FinalClock(a)})
	}
	return trace, nil
}

// validateMemoryChain re-checks invariant 2 (§8): for every address's
// events e_1 < ... < e_k, e_{j+1}.PrevClock == e_j.NewClock and
// e_{j+1}.PrevValue == e_j.Value. Memory's own bookkeeping already
// guarantees this by construction; this pass is the adapter's independent
// confirmation that no caller bypassed the Memory API to corrupt the log.
func validateMemoryChain(m *Memory) error {
	last := map[uint32]MemoryEvent{}
	for _, ev := range m.Events() {
		if prev, ok := last[ev.Addr]; ok {
			if ev.PrevClock != prev.NewClock || !ev.PrevValue.Equal(prev.Value) {
				return &InconsistentMemoryChainError{Addr: ev.Addr}
			}
		}
		last[ev.Addr] = ev
	}
	return nil
}

// expectedAccessCount is each component's fixed DataAccess arity, derived
// from §4.C's per-opcode semantics.
func expectedAccessCount(key ComponentKey) int {
	switch key.Op {
	case StoreImm:
		return 1
	case StoreDerefFp:
		return 2
	case StoreDoubleDerefFp:
		return 3
	case StoreAddFpFp, StoreSubFpFp, StoreMulFpFp, StoreDivFpFp,
		StoreAddFpFpInplace, StoreSubFpFpInplace, StoreMulFpFpInplace, StoreDivFpFpInplace:
		return 3
	case StoreAddFpImm, StoreSubFpImm, StoreMulFpImm, StoreDivFpImm,
		StoreAddFpImmInplace, StoreSubFpImmInplace, StoreMulFpImmInplace, StoreDivFpImmInplace:
		return 2
	case JmpAbsImm, JmpRelImm:
		return 0
	case JmpAbsDerefFp, JmpRelDerefFp:
		return 1
	case JmpAbsDoubleDerefFp, JmpRelDoubleDerefFp:
		return 2
	case JmpAbsAddFpFp, JmpRelAddFpFp, JmpAbsMulFpFp, JmpRelMulFpFp:
		return 2
	case JmpAbsAddFpImm, JmpRelAddFpImm, JmpAbsMulFpImm, JmpRelMulFpImm:
		return 1
	case JnzFpImm:
		return 1
	case JnzFpFp:
		if key.Taken {
			return 2
		}
		return 1
	case CallAbsImm, CallRelImm:
		return 2
	case CallAbsFp, CallRelFp:
		return 3
	case Ret:
		return 2
	case PrintM31, PrintU32:
		return 0
	default:
		return 0
	}
}

// padToPowerOfTwo appends deterministic dummy bundles (all offsets zero,
// clocks equal so the range-check relation sees a trivially-bounded delta)
// until the list's length is a power of two, at least 2 so every component
// has a well-defined nonzero log-size (§4.D item 3).
func padToPowerOfTwo(bl []ExecutionBundle, key ComponentKey) []ExecutionBundle {
	target := nextPow2(len(bl))
	if target < 2 {
		target = 2
	}
	if len(bl) == target {
		return bl
	}
	out := make([]ExecutionBundle, len(bl), target)
	copy(out, bl)
	want := expectedAccessCount(key)
	dummyAccesses := make([]DataAccess, want)
	for len(out) < target {
		out = append(out, ExecutionBundle{
			Instruction: Instruction{Op: key.Op},
			Accesses:    append([]DataAccess(nil), dummyAccesses...),
			JnzTaken:    key.Taken,
			Padding:     true,
		})
	}
	return out
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
