package vm

import (
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// MemoryEvent is one append-only log entry produced by a read or a write
// (§3 "Memory"). For a read, PrevValue == Value. The per-address chain
// PrevClock -> NewClock is the input to the Memory logup relation (§4.F).
type MemoryEvent struct {
	Addr      uint32
	PrevValue core.QM31
	Value     core.QM31
	PrevClock uint32
	NewClock  uint32
	IsWrite   bool
}

// Memory is the address-indexed store described in §4.B: a mapping from
// addr to (value, last_clock), plus an append-only event log. Every access
// goes through Read/Write, which both stamp the cell with the caller-supplied
// clock (the caller bumps it) and record an event; Read{,U32}NoTrace bypass the log entirely and are
// reserved for Print* debug opcodes (§9).
type Memory struct {
	cells     map[uint32]cell
	events    []MemoryEvent
	touchOrder []uint32
}

type cell struct {
	value     core.QM31
	lastClock uint32
	written   bool
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{cells: make(map[uint32]cell)}
}

// UninitialisedReadError is returned by Read when the address was never
// written (§4.B "Guarantees").
type UninitialisedReadError struct {
	Addr uint32
}

func (e *UninitialisedReadError) Error() string {
	return fmt.Sprintf("cairom: uninitialised read at address %d", e.Addr)
}

// Read loads the value at addr, appending a MemoryEvent stamped with the
// given new clock. Fails with UninitialisedReadError if addr was never
// written (§4.B).
func (m *Memory) Read(addr uint32, clock uint32) (core.QM31, MemoryEvent, error) {
	c, ok := m.cells[addr]
	if !ok {
		return core.QM31{}, MemoryEvent{}, &UninitialisedReadError{Addr: addr}
	}
	ev := m.recordEvent(addr, c.value, c.value, c.lastClock, clock, false)
	m.cells[addr] = cell{value: c.value, lastClock: clock, written: true}
	return c.value, ev, nil
}

// Write stores value at addr, appending a MemoryEvent. The first write to
// an address observes PrevValue == zero (an address with no prior event has
// an implicit initial value of zero, per the reference adapter's cache
// semantics: unseen addresses default to clock 0 and value 0).
func (m *Memory) Write(addr uint32, value core.QM31, clock uint32) MemoryEvent {
	c, ok := m.cells[addr]
	prevValue := core.ZeroQM31()
	prevClock := uint32(0)
	if ok {
		prevValue = c.value
		prevClock = c.lastClock
	}
	ev := m.recordEvent(addr, prevValue, value, prevClock, clock, true)
	m.cells[addr] = cell{value: value, lastClock: clock, written: true}
	return ev
}

func (m *Memory) recordEvent(addr uint32, prevValue, value core.QM31, prevClock, newClock uint32, isWrite bool) MemoryEvent {
	if _, seen := m.cells[addr]; !seen {
		m.touchOrder = append(m.touchOrder, addr)
	}
	ev := MemoryEvent{
		Addr:      addr,
		PrevValue: prevValue,
		Value:     value,
		PrevClock: prevClock,
		NewClock:  newClock,
		IsWrite:   isWrite,
	}
	m.events = append(m.events, ev)
	return ev
}

// ReadNoTrace loads the value at addr without appending an event, used by
// the debug Print* opcodes (§4.B, §9: Print* never bumps the clock).
func (m *Memory) ReadNoTrace(addr uint32) (core.QM31, error) {
	c, ok := m.cells[addr]
	if !ok {
		return core.QM31{}, &UninitialisedReadError{Addr: addr}
	}
	return c.value, nil
}

// ReadU32NoTrace loads a value at addr, interpreted as the low 32-bit limb
// of the packed QM31, without appending an event (PrintU32's debug path).
func (m *Memory) ReadU32NoTrace(addr uint32) (uint32, error) {
	v, err := m.ReadNoTrace(addr)
	if err != nil {
		return 0, err
	}
	return v.ToM31Array()[0].Value(), nil
}

// Events returns the append-only access log, in execution order.
func (m *Memory) Events() []MemoryEvent {
	return m.events
}

// InitialValue returns the value addr holds at clock 0: the value of its
// entry-frame seeding write when its first event is a clock-0 write,
// otherwise the PrevValue of its first event, or zero if addr was never
// accessed (§3 "memory boundaries").
func (m *Memory) InitialValue(addr uint32) core.QM31 {
	for _, e := range m.events {
		if e.Addr == addr {
			if e.IsWrite && e.NewClock == 0 {
				return e.Value
			}
			return e.PrevValue
		}
	}
	return core.ZeroQM31()
}

// FinalValue returns the last observed Value at addr, or zero if never
// accessed (§3 "memory boundaries").
func (m *Memory) FinalValue(addr uint32) core.QM31 {
	if c, ok := m.cells[addr]; ok {
		return c.value
	}
	return core.ZeroQM31()
}

// FinalClock returns the clock of the last event at addr, or zero if never
// accessed. Paired with FinalValue, this is the snapshot the Memory logup
// relation's final-boundary term is built from (§4.F).
func (m *Memory) FinalClock(addr uint32) uint32 {
	if c, ok := m.cells[addr]; ok {
		return c.lastClock
	}
	return 0
}

// TouchedAddresses returns every address that appears in the log, in the
// order it was first touched — the domain of the initial/final memory
// boundary projections the prover publishes (§3).
func (m *Memory) TouchedAddresses() []uint32 {
	out := make([]uint32, len(m.touchOrder))
	copy(out, m.touchOrder)
	return out
}
