package protocols

import (
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/utils"
)

// Relation is a named logup multiset channel (§4.F): a tuple of a fixed
// arity is mapped to a QM31 random linear combination of two
// verifier-drawn challenges, z and alpha, following the standard
// h(t) = t_0 + alpha*t_1 + alpha^2*t_2 + ... construction. A producer of
// one occurrence of the tuple contributes the fraction
// numerator / (z + h(t)) to the relation's global sum; the sum over every
// producer and consumer in the system must equal zero (§4.F, §8 invariant
// 3).
type Relation struct {
	Name  string
	Arity int
	Z     core.QM31
	Alpha core.QM31
}

// NewRelation draws this relation's two challenges from the channel. Callers
// must draw relations in the same fixed order on both the prover and
// verifier side (§4.H step 3, §5).
func NewRelation(name string, arity int, channel *utils.Channel) *Relation {
	return &Relation{
		Name:  name,
		Arity: arity,
		Z:     channel.ReceiveQM31(),
		Alpha: channel.ReceiveQM31(),
	}
}

// Combine folds a tuple into h(t) = sum_i alpha^i * t_i.
func (r *Relation) Combine(tuple []core.QM31) (core.QM31, error) {
	if len(tuple) != r.Arity {
		return core.QM31{}, fmt.Errorf("cairom: relation %s: tuple has arity %d, want %d", r.Name, len(tuple), r.Arity)
	}
	acc := core.ZeroQM31()
	pow := core.OneQM31()
	for _, t := range tuple {
		acc = acc.Add(t.Mul(pow))
		pow = pow.Mul(r.Alpha)
	}
	return acc, nil
}

// Term returns the signed fraction numerator/(z + h(tuple)) one occurrence
// of tuple contributes to the relation's running logup sum. numerator is
// +1 for a producer (e.g. a new memory value) and -1 for a consumer (e.g.
// the value superseded by it), per §4.F's "+1/frac(...) and -1/frac(...)".
func (r *Relation) Term(tuple []core.QM31, numerator int64) (core.QM31, error) {
	h, err := r.Combine(tuple)
	if err != nil {
		return core.QM31{}, err
	}
	denom := r.Z.Add(h)
	inv, err := denom.Inv()
	if err != nil {
		return core.QM31{}, fmt.Errorf("cairom: relation %s: denominator vanished under challenge (z collided with -h(t))", r.Name)
	}
	n := core.NewM31(uint64(numerator))
	if numerator < 0 {
		n = core.NewM31(uint64(-numerator)).Neg()
	}
	return inv.MulM31(n), nil
}

// MemoryTuple builds the arity-6 tuple (addr, v0, v1, v2, v3, clock) the
// Memory relation combines (§4.F).
func MemoryTuple(addr core.M31, value core.QM31, clock core.M31) []core.QM31 {
	limbs := value.ToM31Array()
	return []core.QM31{
		core.QM31FromM31(addr),
		core.QM31FromM31(limbs[0]),
		core.QM31FromM31(limbs[1]),
		core.QM31FromM31(limbs[2]),
		core.QM31FromM31(limbs[3]),
		core.QM31FromM31(clock),
	}
}

// RangeCheckTuple builds the arity-1 tuple a bounded value contributes to
// RangeCheck_20 (§4.E, §4.F).
func RangeCheckTuple(value core.M31) []core.QM31 {
	return []core.QM31{core.QM31FromM31(value)}
}

// OpcodeDispatchTuple builds the arity-7 tuple (pc, fp, clock, opcode_id,
// off0, off1, off2) the per-opcode dispatch relation matches against the
// global instruction-decode stream (§4.F).
func OpcodeDispatchTuple(pc, fp, clock core.M31, opcodeID uint32, off0, off1, off2 core.M31) []core.QM31 {
	return []core.QM31{
		core.QM31FromM31(pc),
		core.QM31FromM31(fp),
		core.QM31FromM31(clock),
		core.QM31FromM31(core.NewM31(uint64(opcodeID))),
		core.QM31FromM31(off0),
		core.QM31FromM31(off1),
		core.QM31FromM31(off2),
	}
}

// Relations bundles every logup channel the prover and verifier instantiate
// together, once per proving session, in the fixed order §5 requires.
type Relations struct {
	Memory     *Relation
	RangeCheck *Relation
	Dispatch   map[string]*Relation // one per component name, drawn in sorted order
}

// NewRelations draws the Memory and RangeCheck_20 challenges, plus one
// dispatch relation per named component, in a single fixed order so the
// prover and verifier channels stay in lockstep (§4.H step 3).
func NewRelations(channel *utils.Channel, componentNames []string) *Relations {
	r := &Relations{
		Memory:     NewRelation("Memory", 6, channel),
		RangeCheck: NewRelation("RangeCheck_20", 1, channel),
		Dispatch:   make(map[string]*Relation, len(componentNames)),
	}
	for _, name := range componentNames {
		r.Dispatch[name] = NewRelation("Dispatch_"+name, 7, channel)
	}
	return r
}
