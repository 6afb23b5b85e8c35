// Package vm implements the Cairo-M fixed-width instruction set, its
// per-cell-clock memory model, and the fetch-decode-execute loop that turns
// a Program into a structured execution trace.
package vm

import (
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// Opcode is a variant in Cairo-M's closed instruction set. Each opcode has a
// fixed arity of up to three offsets, packed alongside the opcode id into a
// single QM31 limb layout [op_id, off0, off1, off2] (§4.A).
type Opcode uint32

const (
	StoreImm Opcode = iota
	StoreDerefFp
	StoreDoubleDerefFp

	StoreAddFpFp
	StoreAddFpImm
	StoreSubFpFp
	StoreSubFpImm
	StoreMulFpFp
	StoreMulFpImm
	StoreDivFpFp
	StoreDivFpImm

	StoreAddFpFpInplace
	StoreAddFpImmInplace
	StoreSubFpFpInplace
	StoreSubFpImmInplace
	StoreMulFpFpInplace
	StoreMulFpImmInplace
	StoreDivFpFpInplace
	StoreDivFpImmInplace

	JmpAbsImm
	JmpAbsDerefFp
	JmpAbsDoubleDerefFp
	JmpAbsAddFpFp
	JmpAbsAddFpImm
	JmpAbsMulFpFp
	JmpAbsMulFpImm

	JmpRelImm
	JmpRelDerefFp
	JmpRelDoubleDerefFp
	JmpRelAddFpFp
	JmpRelAddFpImm
	JmpRelMulFpFp
	JmpRelMulFpImm

	JnzFpImm
	JnzFpFp

	CallAbsImm
	CallAbsFp
	CallRelImm
	CallRelFp

	Ret

	PrintM31
	PrintU32
)

// opcodeCount is the number of distinct variants in the closed instruction
// set (§3 "Instruction").
const opcodeCount = int(PrintU32) + 1

// OpcodeInfo describes one opcode's surface: how many offsets it decodes,
// whether it reads/writes memory through fp-relative offsets, and whether it
// mutates control flow directly (rather than falling through to pc+size).
type OpcodeInfo struct {
	Opcode      Opcode
	Name        string
	NumOffsets  int  // how many of off0/off1/off2 are meaningful
	IsJump      bool // mutates pc itself rather than advancing by Size
	IsCall      bool
	IsRet       bool
	IsPrint     bool // side-effecting only; never bumps the clock (§9)
	JnzVariant  bool // has a taken/not-taken twin component (§4.G)
	Size        int  // instruction words: every Cairo-M instruction is one QM31 word
}

// Size is fixed at one QM31 word per instruction: the opcode id and up to
// three offsets are packed into a single limb set, unlike variable-width
// multi-word encodings.
const InstructionSize = 1

var opcodeTable = map[Opcode]OpcodeInfo{
	StoreImm:           {StoreImm, "StoreImm", 2, false, false, false, false, false, InstructionSize},
	StoreDerefFp:       {StoreDerefFp, "StoreDerefFp", 2, false, false, false, false, false, InstructionSize},
	StoreDoubleDerefFp: {StoreDoubleDerefFp, "StoreDoubleDerefFp", 3, false, false, false, false, false, InstructionSize},

	StoreAddFpFp:  {StoreAddFpFp, "StoreAddFpFp", 3, false, false, false, false, false, InstructionSize},
	StoreAddFpImm: {StoreAddFpImm, "StoreAddFpImm", 3, false, false, false, false, false, InstructionSize},
	StoreSubFpFp:  {StoreSubFpFp, "StoreSubFpFp", 3, false, false, false, false, false, InstructionSize},
	StoreSubFpImm: {StoreSubFpImm, "StoreSubFpImm", 3, false, false, false, false, false, InstructionSize},
	StoreMulFpFp:  {StoreMulFpFp, "StoreMulFpFp", 3, false, false, false, false, false, InstructionSize},
	StoreMulFpImm: {StoreMulFpImm, "StoreMulFpImm", 3, false, false, false, false, false, InstructionSize},
	StoreDivFpFp:  {StoreDivFpFp, "StoreDivFpFp", 3, false, false, false, false, false, InstructionSize},
	StoreDivFpImm: {StoreDivFpImm, "StoreDivFpImm", 3, false, false, false, false, false, InstructionSize},

	StoreAddFpFpInplace:  {StoreAddFpFpInplace, "StoreAddFpFpInplace", 2, false, false, false, false, false, InstructionSize},
	StoreAddFpImmInplace: {StoreAddFpImmInplace, "StoreAddFpImmInplace", 2, false, false, false, false, false, InstructionSize},
	StoreSubFpFpInplace:  {StoreSubFpFpInplace, "StoreSubFpFpInplace", 2, false, false, false, false, false, InstructionSize},
	StoreSubFpImmInplace: {StoreSubFpImmInplace, "StoreSubFpImmInplace", 2, false, false, false, false, false, InstructionSize},
	StoreMulFpFpInplace:  {StoreMulFpFpInplace, "StoreMulFpFpInplace", 2, false, false, false, false, false, InstructionSize},
	StoreMulFpImmInplace: {StoreMulFpImmInplace, "StoreMulFpImmInplace", 2, false, false, false, false, false, InstructionSize},
	StoreDivFpFpInplace:  {StoreDivFpFpInplace, "StoreDivFpFpInplace", 2, false, false, false, false, false, InstructionSize},
	StoreDivFpImmInplace: {StoreDivFpImmInplace, "StoreDivFpImmInplace", 2, false, false, false, false, false, InstructionSize},

	JmpAbsImm:           {JmpAbsImm, "JmpAbsImm", 1, true, false, false, false, false, InstructionSize},
	JmpAbsDerefFp:        {JmpAbsDerefFp, "JmpAbsDerefFp", 1, true, false, false, false, false, InstructionSize},
	JmpAbsDoubleDerefFp:  {JmpAbsDoubleDerefFp, "JmpAbsDoubleDerefFp", 2, true, false, false, false, false, InstructionSize},
	JmpAbsAddFpFp:        {JmpAbsAddFpFp, "JmpAbsAddFpFp", 2, true, false, false, false, false, InstructionSize},
	JmpAbsAddFpImm:       {JmpAbsAddFpImm, "JmpAbsAddFpImm", 2, true, false, false, false, false, InstructionSize},
	JmpAbsMulFpFp:        {JmpAbsMulFpFp, "JmpAbsMulFpFp", 2, true, false, false, false, false, InstructionSize},
	JmpAbsMulFpImm:       {JmpAbsMulFpImm, "JmpAbsMulFpImm", 2, true, false, false, false, false, InstructionSize},

	JmpRelImm:          {JmpRelImm, "JmpRelImm", 1, true, false, false, false, false, InstructionSize},
	JmpRelDerefFp:       {JmpRelDerefFp, "JmpRelDerefFp", 1, true, false, false, false, false, InstructionSize},
	JmpRelDoubleDerefFp: {JmpRelDoubleDerefFp, "JmpRelDoubleDerefFp", 2, true, false, false, false, false, InstructionSize},
	JmpRelAddFpFp:       {JmpRelAddFpFp, "JmpRelAddFpFp", 2, true, false, false, false, false, InstructionSize},
	JmpRelAddFpImm:      {JmpRelAddFpImm, "JmpRelAddFpImm", 2, true, false, false, false, false, InstructionSize},
	JmpRelMulFpFp:       {JmpRelMulFpFp, "JmpRelMulFpFp", 2, true, false, false, false, false, InstructionSize},
	JmpRelMulFpImm:      {JmpRelMulFpImm, "JmpRelMulFpImm", 2, true, false, false, false, false, InstructionSize},

	JnzFpImm: {JnzFpImm, "JnzFpImm", 2, true, false, false, false, true, InstructionSize},
	JnzFpFp:  {JnzFpFp, "JnzFpFp", 2, true, false, false, false, true, InstructionSize},

	CallAbsImm: {CallAbsImm, "CallAbsImm", 2, true, true, false, false, false, InstructionSize},
	CallAbsFp:  {CallAbsFp, "CallAbsFp", 2, true, true, false, false, false, InstructionSize},
	CallRelImm: {CallRelImm, "CallRelImm", 2, true, true, false, false, false, InstructionSize},
	CallRelFp:  {CallRelFp, "CallRelFp", 2, true, true, false, false, false, InstructionSize},

	Ret: {Ret, "Ret", 0, true, false, true, false, false, InstructionSize},

	PrintM31: {PrintM31, "PrintM31", 1, false, false, false, true, false, InstructionSize},
	PrintU32: {PrintU32, "PrintU32", 1, false, false, false, true, false, InstructionSize},
}

// String returns the opcode's canonical name.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("unknown(%d)", uint32(op))
}

// Info returns the opcode's metadata, or an error for a value outside the
// closed set (the VM surfaces this as UnknownOpcode, §7).
func (op Opcode) Info() (OpcodeInfo, error) {
	info, ok := opcodeTable[op]
	if !ok {
		return OpcodeInfo{}, fmt.Errorf("cairom: unknown opcode %d", uint32(op))
	}
	return info, nil
}

// Instruction is a decoded instruction: an opcode plus up to three signed
// fp-relative offsets, interpreted modulo p (§3).
type Instruction struct {
	Op   Opcode
	Off0 core.M31
	Off1 core.M31
	Off2 core.M31
}

// Encode packs the instruction into a single QM31 word, limb order
// [op_id, off0, off1, off2], matching the bit-exact layout §4.A requires for
// trace serialization.
func (i Instruction) Encode() core.QM31 {
	return core.FromM31Array([4]core.M31{
		core.NewM31(uint64(i.Op)),
		i.Off0,
		i.Off1,
		i.Off2,
	})
}

// DecodeInstruction unpacks a QM31 word into its opcode and offsets,
// rejecting any op_id outside the closed set.
func DecodeInstruction(word core.QM31) (Instruction, error) {
	limbs := word.ToM31Array()
	op := Opcode(limbs[0].Value())
	if _, err := op.Info(); err != nil {
		return Instruction{}, err
	}
	return Instruction{Op: op, Off0: limbs[1], Off1: limbs[2], Off2: limbs[3]}, nil
}

// Program is the stable artefact the VM consumes: an ordered instruction
// stream plus a name -> address entrypoint table (§3, §6).
type Program struct {
	Instructions     []Instruction
	FunctionAddresses map[string]uint32
	CompilerVersion  string
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Instructions:      make([]Instruction, 0),
		FunctionAddresses: make(map[string]uint32),
	}
}

// EntryPoint resolves a function name to its instruction address, failing
// with InvalidEntryPoint (§7) if the name is not present.
func (p *Program) EntryPoint(name string) (uint32, error) {
	addr, ok := p.FunctionAddresses[name]
	if !ok {
		return 0, fmt.Errorf("cairom: invalid entry point %q", name)
	}
	return addr, nil
}
