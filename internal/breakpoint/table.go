// Package breakpoint implements the address-keyed software breakpoint
// table: installing a trap byte over debuggee memory, remembering the byte
// it displaced, and servicing the trap when it fires.
package breakpoint

import (
	"fmt"

	"github.com/uva-tools/ccov/internal/symbols"
)

// TrapByte is the x86/x64 single-byte software breakpoint opcode (int3).
const TrapByte byte = 0xCC

// MemoryIO is the subset of the platform debug binding the breakpoint
// table needs to install and service traps. Splitting it out of the full
// gdbdebug.Session lets the table (and the coverage ledger built on top of
// it) be unit-tested against a fake, without a real GDB session.
type MemoryIO interface {
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// ThreadRegs is the subset of the platform debug binding needed to rewind
// a thread's program counter after a trap has been serviced.
type ThreadRegs interface {
	GetPC() (uint64, error)
	SetPC(addr uint64) error
}

// BreakPoint is one installed software breakpoint.
type BreakPoint struct {
	File         *symbols.SourceFile
	Line         int
	OriginalByte byte
}

// Table maps code address to BreakPoint. For every key addr in the table,
// the byte currently residing at addr in debuggee memory is TrapByte,
// except between Service and the following Reinstall, when it is the
// restored OriginalByte; OriginalByte is the byte Install displaced.
type Table struct {
	byAddr map[uint64]*BreakPoint
}

// NewTable returns an empty breakpoint table.
func NewTable() *Table {
	return &Table{byAddr: make(map[uint64]*BreakPoint)}
}

// Install writes TrapByte at addr, capturing the displaced byte into the
// returned BreakPoint and registering it in the table. Installing twice at
// the same address is a programming error and returns an error rather than
// silently overwriting the saved original byte.
func (t *Table) Install(mem MemoryIO, addr uint64, file *symbols.SourceFile, line int) (*BreakPoint, error) {
	if _, exists := t.byAddr[addr]; exists {
		return nil, fmt.Errorf("breakpoint: address %#x already has a breakpoint installed", addr)
	}

	original, err := mem.ReadMemory(addr, 1)
	if err != nil {
		return nil, fmt.Errorf("breakpoint: read original byte at %#x: %w", addr, err)
	}

	if err := mem.WriteMemory(addr, []byte{TrapByte}); err != nil {
		return nil, fmt.Errorf("breakpoint: install trap at %#x: %w", addr, err)
	}

	bp := &BreakPoint{File: file, Line: line, OriginalByte: original[0]}
	t.byAddr[addr] = bp
	return bp, nil
}

// Reinstall re-writes TrapByte at addr for a breakpoint already present in
// the table (its original byte has already been captured). Used by the
// re-arm-after-single-step policy in internal/engine.
func (t *Table) Reinstall(mem MemoryIO, addr uint64) error {
	if _, ok := t.byAddr[addr]; !ok {
		return fmt.Errorf("breakpoint: no breakpoint registered at %#x to reinstall", addr)
	}
	return mem.WriteMemory(addr, []byte{TrapByte})
}

// Lookup returns the BreakPoint registered at addr, if any.
func (t *Table) Lookup(addr uint64) (*BreakPoint, bool) {
	bp, ok := t.byAddr[addr]
	return bp, ok
}

// Remove deletes the entry for addr without touching debuggee memory.
// Useful for tests and for bookkeeping when a breakpoint address goes away
// along with its process.
func (t *Table) Remove(addr uint64) {
	delete(t.byAddr, addr)
}

// Service restores the original byte at addr, rewinds the thread's program
// counter by one byte when it reads addr+1 (the trap reports the address
// *after* the trap byte executed; a PC already at addr is left alone), and
// returns the BreakPoint for dispatch. The trap byte is not reinstalled
// here -- callers that want to keep counting hits on a repeatedly executed
// line must call Reinstall once the instruction has been allowed to
// execute (see internal/engine's single-step re-arm).
func (t *Table) Service(mem MemoryIO, regs ThreadRegs, addr uint64) (*BreakPoint, error) {
	bp, ok := t.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("breakpoint: no breakpoint registered at %#x", addr)
	}

	if err := mem.WriteMemory(addr, []byte{bp.OriginalByte}); err != nil {
		return nil, fmt.Errorf("breakpoint: restore original byte at %#x: %w", addr, err)
	}

	pc, err := regs.GetPC()
	if err != nil {
		return nil, fmt.Errorf("breakpoint: read pc while servicing %#x: %w", addr, err)
	}
	if pc == addr+1 {
		if err := regs.SetPC(addr); err != nil {
			return nil, fmt.Errorf("breakpoint: rewind pc at %#x: %w", addr, err)
		}
	}

	return bp, nil
}

// Len reports how many breakpoints are currently installed.
func (t *Table) Len() int {
	return len(t.byAddr)
}
