package vm

import (
	"errors"
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// errDivisionByZero is returned by the Store{Op}... arithmetic opcodes when
// the right-hand operand is the field's zero element (§4.C).
var errDivisionByZero = errors.New("cairom: division by zero")

// UnknownOpcodeError is returned when a decoded op_id falls outside the
// closed instruction set (§7).
type UnknownOpcodeError struct{ OpID uint32 }

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("cairom: unknown opcode id %d", e.OpID)
}

// maxArgs bounds the number of entrypoint arguments the initial call frame
// can carry; exceeding it is the one concrete trigger for
// InvalidArgumentCount (§7) since Program carries no per-entrypoint arity
// schema of its own.
const maxArgs = 4096

// argsBaseOffset is the fp-relative slot argument 0 lives at: slot 0 holds
// the caller's saved fp, slot 1 the return address, matching the Call ABI
// (new_fp = fp + off, §9 resolved open question) applied uniformly to the
// entrypoint's own synthetic call frame.
const argsBaseOffset = 2

// Executor runs a Program's fetch-decode-execute loop (§4.C), threading a
// single mutable State through per-opcode handlers and recording one
// ExecutionBundle per step.
type Executor struct {
	program *Program
	mem     *Memory
	state   State
	opts    Options
	out     *RunnerOutput
}

// Run executes program starting at entrypoint with the given arguments,
// producing a RunnerOutput. Setup failures (unknown entrypoint, too many
// arguments) and in-flight execution failures both surface as out.Err, with
// the same value also returned as a Go error for convenience.
func Run(program *Program, entrypoint string, args []core.QM31, opts Options) (*RunnerOutput, error) {
	if opts.MaxSteps == 0 {
		opts = DefaultOptions()
	}

	entryAddr, err := program.EntryPoint(entrypoint)
	if err != nil {
		out := &RunnerOutput{Memory: NewMemory(), Err: &RunError{Kind: ErrInvalidEntryPoint, Message: err.Error()}}
		return out, out.Err
	}
	if len(args) > maxArgs {
		out := &RunnerOutput{Memory: NewMemory(), Err: &RunError{Kind: ErrInvalidArgumentCount,
			Message: fmt.Sprintf("got %d arguments, max %d", len(args), maxArgs)}}
		return out, out.Err
	}

	mem := NewMemory()
	frameBase := core.ZeroM31()
	mem.Write(frameBase.Value(), core.ZeroQM31(), 0)                          // slot 0: saved fp (unused at entry)
	mem.Write(frameBase.Add(core.OneM31()).Value(), sentinelPC(program), 0) // slot 1: return address (sentinel)
	for i, a := range args {
		mem.Write(frameBase.Value()+argsBaseOffset+uint32(i), a, 0)
	}

	e := &Executor{
		program: program,
		mem:     mem,
		state:   State{PC: core.NewM31(uint64(entryAddr)), FP: frameBase, Clock: core.ZeroM31()},
		opts:    opts,
		out:     &RunnerOutput{Memory: mem},
	}
	out := e.run()
	if out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

func sentinelPC(p *Program) core.QM31 {
	return core.QM31FromM31(core.NewM31(uint64(len(p.Instructions))))
}

func (e *Executor) run() *RunnerOutput {
	sentinel := uint32(len(e.program.Instructions))
	for step := uint32(0); ; step++ {
		if step >= e.opts.MaxSteps {
			e.out.Err = &RunError{Kind: ErrStepLimit, Step: step}
			return e.out
		}
		pcVal := e.state.PC.Value()
		if pcVal == sentinel || int(pcVal) >= len(e.program.Instructions) {
			return e.out
		}

		e.out.States = append(e.out.States, e.state)
		bundle, err := e.step()
		if err != nil {
			e.out.Err = toRunError(err, step)
			return e.out
		}
		e.out.Bundles = append(e.out.Bundles, bundle)
		e.out.StepsRun++
	}
}

func toRunError(err error, step uint32) *RunError {
	var uninit *UninitialisedReadError
	var unknown *UnknownOpcodeError
	switch {
	case errors.As(err, &uninit):
		return &RunError{Kind: ErrUninitialisedRead, Step: step, Message: err.Error()}
	case errors.Is(err, errDivisionByZero):
		return &RunError{Kind: ErrDivisionByZero, Step: step, Message: err.Error()}
	case errors.As(err, &unknown):
		return &RunError{Kind: ErrUnknownOpcode, Step: step, Message: err.Error()}
	default:
		return &RunError{Kind: ErrUnknownOpcode, Step: step, Message: err.Error()}
	}
}

// step fetches and executes one instruction, returning the bundle it
// produced (§3, §4.C, §4.D).
func (e *Executor) step() (ExecutionBundle, error) {
	instPrevClock := e.state.Clock.Value()
	word, err := e.fetch(e.state.PC)
	if err != nil {
		return ExecutionBundle{}, err
	}
	inst, err := DecodeInstruction(word)
	if err != nil {
		return ExecutionBundle{}, &UnknownOpcodeError{OpID: word.ToM31Array()[0].Value()}
	}

	e.state.Clock = e.state.Clock.Add(core.OneM31())
	b := ExecutionBundle{
		PC:            e.state.PC.Value(),
		FP:            e.state.FP.Value(),
		Clock:         e.state.Clock.Value(),
		InstPrevClock: instPrevClock,
		Instruction:   inst,
	}

	info, _ := inst.Op.Info()
	nextPC := e.state.PC.Add(core.NewM31(uint64(info.Size)))

	if info.IsPrint {
		if err := e.execPrint(inst); err != nil {
			return ExecutionBundle{}, err
		}
		e.state.PC = nextPC
		b.NextPC, b.NextFP = e.state.PC.Value(), e.state.FP.Value()
		return b, nil
	}

	if err := e.dispatch(inst, &b, nextPC); err != nil {
		return ExecutionBundle{}, err
	}
	b.NextPC, b.NextFP = e.state.PC.Value(), e.state.FP.Value()
	return b, nil
}

// fetch treats the instruction stream as a flat array indexed by pc; every
// fetch still consumes a clock tick via the caller (step), matching §3's
// "clock is incremented on every access (instruction fetch or data
// access)".
func (e *Executor) fetch(pc core.M31) (core.QM31, error) {
	idx := pc.Value()
	if int(idx) >= len(e.program.Instructions) {
		return core.QM31{}, fmt.Errorf("cairom: pc %d out of range", idx)
	}
	return e.program.Instructions[idx].Encode(), nil
}

func (e *Executor) read(b *ExecutionBundle, address uint32) (core.QM31, error) {
	e.state.Clock = e.state.Clock.Add(core.OneM31())
	val, ev, err := e.mem.Read(address, e.state.Clock.Value())
	if err != nil {
		return core.QM31{}, err
	}
	b.Accesses = append(b.Accesses, DataAccess{Address: address, PrevClock: ev.PrevClock, PrevValue: ev.PrevValue, Value: ev.Value})
	return val, nil
}

func (e *Executor) write(b *ExecutionBundle, address uint32, value core.QM31) {
	e.state.Clock = e.state.Clock.Add(core.OneM31())
	ev := e.mem.Write(address, value, e.state.Clock.Value())
	b.Accesses = append(b.Accesses, DataAccess{Address: address, PrevClock: ev.PrevClock, PrevValue: ev.PrevValue, Value: ev.Value})
}

func (e *Executor) fpAddr(off core.M31) uint32 { return addr(e.state.FP, off) }

// dispatch executes every non-print opcode, mutating e.state.PC/FP and
// appending DataAccess entries to b. nextPC is the fallthrough target
// (pc + instruction size) a non-control-flow opcode should commit.
func (e *Executor) dispatch(inst Instruction, b *ExecutionBundle, nextPC core.M31) error {
	switch inst.Op {
	case StoreImm:
		e.write(b, e.fpAddr(inst.Off1), core.QM31FromM31(inst.Off0))
		e.state.PC = nextPC
		return nil

	case StoreDerefFp:
		v, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		e.write(b, e.fpAddr(inst.Off1), v)
		e.state.PC = nextPC
		return nil

	case StoreDoubleDerefFp:
		tmp, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		tmpLimb := tmp.ToM31Array()[0]
		v, err := e.read(b, addr(tmpLimb, inst.Off1))
		if err != nil {
			return err
		}
		e.write(b, e.fpAddr(inst.Off2), v)
		e.state.PC = nextPC
		return nil

	case StoreAddFpFp, StoreSubFpFp, StoreMulFpFp, StoreDivFpFp:
		return e.execArithFpFp(inst, b, nextPC, inst.Off0, inst.Off1, inst.Off2)
	case StoreAddFpFpInplace, StoreSubFpFpInplace, StoreMulFpFpInplace, StoreDivFpFpInplace:
		// in-place form reads fp+Off0 and fp+Off1 as the two distinct
		// operands and writes the result back into fp+Off0.
		return e.execArithFpFp(inst, b, nextPC, inst.Off0, inst.Off1, inst.Off0)

	case StoreAddFpImm, StoreSubFpImm, StoreMulFpImm, StoreDivFpImm:
		return e.execArithFpImm(inst, b, nextPC, inst.Off0, inst.Off1, inst.Off2)
	case StoreAddFpImmInplace, StoreSubFpImmInplace, StoreMulFpImmInplace, StoreDivFpImmInplace:
		return e.execArithFpImm(inst, b, nextPC, inst.Off0, inst.Off0, inst.Off1)

	case JmpAbsImm:
		e.state.PC = inst.Off0
		return nil
	case JmpRelImm:
		e.state.PC = e.state.PC.Add(inst.Off0)
		return nil

	case JmpAbsDerefFp:
		v, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		e.state.PC = v.ToM31Array()[0]
		return nil
	case JmpRelDerefFp:
		v, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(v.ToM31Array()[0])
		return nil

	case JmpAbsDoubleDerefFp:
		tgt, err := e.derefTarget(b, inst.Off0, inst.Off1)
		if err != nil {
			return err
		}
		e.state.PC = tgt
		return nil
	case JmpRelDoubleDerefFp:
		tgt, err := e.derefTarget(b, inst.Off0, inst.Off1)
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(tgt)
		return nil

	case JmpAbsAddFpFp:
		v, err := e.combineFpFp(b, inst.Off0, inst.Off1, core.M31.Add)
		if err != nil {
			return err
		}
		e.state.PC = v
		return nil
	case JmpRelAddFpFp:
		v, err := e.combineFpFp(b, inst.Off0, inst.Off1, core.M31.Add)
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(v)
		return nil
	case JmpAbsMulFpFp:
		v, err := e.combineFpFp(b, inst.Off0, inst.Off1, core.M31.Mul)
		if err != nil {
			return err
		}
		e.state.PC = v
		return nil
	case JmpRelMulFpFp:
		v, err := e.combineFpFp(b, inst.Off0, inst.Off1, core.M31.Mul)
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(v)
		return nil

	case JmpAbsAddFpImm:
		v, err := e.combineFpImm(b, inst.Off0, inst.Off1, core.M31.Add)
		if err != nil {
			return err
		}
		e.state.PC = v
		return nil
	case JmpRelAddFpImm:
		v, err := e.combineFpImm(b, inst.Off0, inst.Off1, core.M31.Add)
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(v)
		return nil
	case JmpAbsMulFpImm:
		v, err := e.combineFpImm(b, inst.Off0, inst.Off1, core.M31.Mul)
		if err != nil {
			return err
		}
		e.state.PC = v
		return nil
	case JmpRelMulFpImm:
		v, err := e.combineFpImm(b, inst.Off0, inst.Off1, core.M31.Mul)
		if err != nil {
			return err
		}
		e.state.PC = e.state.PC.Add(v)
		return nil

	case JnzFpImm:
		cond, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		b.JnzTaken = !cond.IsZero()
		if b.JnzTaken {
			e.state.PC = e.state.PC.Add(inst.Off1)
		} else {
			e.state.PC = nextPC
		}
		return nil

	case JnzFpFp:
		cond, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		b.JnzTaken = !cond.IsZero()
		if b.JnzTaken {
			delta, err := e.read(b, e.fpAddr(inst.Off1))
			if err != nil {
				return err
			}
			e.state.PC = e.state.PC.Add(delta.ToM31Array()[0])
		} else {
			e.state.PC = nextPC
		}
		return nil

	case CallAbsImm:
		e.execCallPrologue(b, inst.Off1, nextPC)
		e.state.PC = inst.Off0
		return nil
	case CallRelImm:
		target := e.state.PC.Add(inst.Off0)
		e.execCallPrologue(b, inst.Off1, nextPC)
		e.state.PC = target
		return nil
	case CallAbsFp:
		v, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		target := v.ToM31Array()[0]
		e.execCallPrologue(b, inst.Off1, nextPC)
		e.state.PC = target
		return nil
	case CallRelFp:
		v, err := e.read(b, e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		target := e.state.PC.Add(v.ToM31Array()[0])
		e.execCallPrologue(b, inst.Off1, nextPC)
		e.state.PC = target
		return nil

	case Ret:
		oldFPv, err := e.read(b, e.fpAddr(core.ZeroM31()))
		if err != nil {
			return err
		}
		retPCv, err := e.read(b, addr(e.state.FP, core.OneM31()))
		if err != nil {
			return err
		}
		e.state.FP = oldFPv.ToM31Array()[0]
		e.state.PC = retPCv.ToM31Array()[0]
		return nil

	default:
		return &UnknownOpcodeError{OpID: uint32(inst.Op)}
	}
}

// execCallPrologue writes the new frame's saved-fp/return-address slots and
// bumps fp, per the pinned Call ABI new_fp = fp + off (§9).
func (e *Executor) execCallPrologue(b *ExecutionBundle, newFPOff core.M31, returnPC core.M31) {
	newFP := e.state.FP.Add(newFPOff)
	e.write(b, newFP.Value(), core.QM31FromM31(e.state.FP))
	e.write(b, newFP.Add(core.OneM31()).Value(), core.QM31FromM31(returnPC))
	e.state.FP = newFP
}

func (e *Executor) derefTarget(b *ExecutionBundle, src, k core.M31) (core.M31, error) {
	tmp, err := e.read(b, e.fpAddr(src))
	if err != nil {
		return core.M31{}, err
	}
	v, err := e.read(b, addr(tmp.ToM31Array()[0], k))
	if err != nil {
		return core.M31{}, err
	}
	return v.ToM31Array()[0], nil
}

func (e *Executor) combineFpFp(b *ExecutionBundle, a, bOff core.M31, op func(core.M31, core.M31) core.M31) (core.M31, error) {
	va, err := e.read(b, e.fpAddr(a))
	if err != nil {
		return core.M31{}, err
	}
	vb, err := e.read(b, e.fpAddr(bOff))
	if err != nil {
		return core.M31{}, err
	}
	return op(va.ToM31Array()[0], vb.ToM31Array()[0]), nil
}

func (e *Executor) combineFpImm(b *ExecutionBundle, a, imm core.M31, op func(core.M31, core.M31) core.M31) (core.M31, error) {
	va, err := e.read(b, e.fpAddr(a))
	if err != nil {
		return core.M31{}, err
	}
	return op(va.ToM31Array()[0], imm), nil
}

func (e *Executor) execArithFpFp(inst Instruction, b *ExecutionBundle, nextPC core.M31, a, bOff, dst core.M31) error {
	va, err := e.read(b, e.fpAddr(a))
	if err != nil {
		return err
	}
	vb, err := e.read(b, e.fpAddr(bOff))
	if err != nil {
		return err
	}
	result, err := arith(inst.Op, va.ToM31Array()[0], vb.ToM31Array()[0])
	if err != nil {
		return err
	}
	e.write(b, e.fpAddr(dst), core.QM31FromM31(result))
	e.state.PC = nextPC
	return nil
}

func (e *Executor) execArithFpImm(inst Instruction, b *ExecutionBundle, nextPC core.M31, a, dst, imm core.M31) error {
	va, err := e.read(b, e.fpAddr(a))
	if err != nil {
		return err
	}
	result, err := arith(inst.Op, va.ToM31Array()[0], imm)
	if err != nil {
		return err
	}
	e.write(b, e.fpAddr(dst), core.QM31FromM31(result))
	e.state.PC = nextPC
	return nil
}

func arith(op Opcode, a, b core.M31) (core.M31, error) {
	switch op {
	case StoreAddFpFp, StoreAddFpImm, StoreAddFpFpInplace, StoreAddFpImmInplace:
		return a.Add(b), nil
	case StoreSubFpFp, StoreSubFpImm, StoreSubFpFpInplace, StoreSubFpImmInplace:
		return a.Sub(b), nil
	case StoreMulFpFp, StoreMulFpImm, StoreMulFpFpInplace, StoreMulFpImmInplace:
		return a.Mul(b), nil
	case StoreDivFpFp, StoreDivFpImm, StoreDivFpFpInplace, StoreDivFpImmInplace:
		if b.IsZero() {
			return core.M31{}, errDivisionByZero
		}
		v, err := a.Div(b)
		if err != nil {
			return core.M31{}, errDivisionByZero
		}
		return v, nil
	default:
		return core.M31{}, fmt.Errorf("cairom: %s is not an arithmetic opcode", op)
	}
}

func (e *Executor) execPrint(inst Instruction) error {
	switch inst.Op {
	case PrintM31:
		v, err := e.mem.ReadNoTrace(e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		e.recordPrint(DebugPrint{M31Value: v.ToM31Array()[0]})
		return nil
	case PrintU32:
		v, err := e.mem.ReadU32NoTrace(e.fpAddr(inst.Off0))
		if err != nil {
			return err
		}
		e.recordPrint(DebugPrint{IsU32: true, U32Value: v})
		return nil
	default:
		return &UnknownOpcodeError{OpID: uint32(inst.Op)}
	}
}

func (e *Executor) recordPrint(p DebugPrint) {
	if !e.opts.CollectPrints {
		return
	}
	p.Step = uint32(len(e.out.Bundles))
	e.out.Prints = append(e.out.Prints, p)
}
