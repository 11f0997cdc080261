package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uva-tools/ccov/internal/symbols"
)

// fakeTarget is an in-memory stand-in for a debuggee's address space and
// register file, letting the breakpoint table be exercised without a real
// GDB session.
type fakeTarget struct {
	memory map[uint64]byte
	pc     uint64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{memory: map[uint64]byte{}}
}

func (f *fakeTarget) ReadMemory(addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = f.memory[addr+uint64(i)]
	}
	return out, nil
}

func (f *fakeTarget) WriteMemory(addr uint64, data []byte) error {
	for i, b := range data {
		f.memory[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeTarget) GetPC() (uint64, error) { return f.pc, nil }
func (f *fakeTarget) SetPC(addr uint64) error {
	f.pc = addr
	return nil
}

func TestInstallCapturesOriginalByteAndWritesTrap(t *testing.T) {
	target := newFakeTarget()
	target.memory[0x1000] = 0x55

	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}

	bp, err := table.Install(target, 0x1000, file, 42)
	require.NoError(t, err)
	require.Equal(t, byte(0x55), bp.OriginalByte)
	require.Equal(t, TrapByte, target.memory[0x1000])
	require.Equal(t, 1, table.Len())
}

func TestInstallTwiceAtSameAddressErrors(t *testing.T) {
	target := newFakeTarget()
	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}

	_, err := table.Install(target, 0x1000, file, 1)
	require.NoError(t, err)

	_, err = table.Install(target, 0x1000, file, 2)
	require.Error(t, err)
}

func TestServiceRestoresByteAndRewindsPC(t *testing.T) {
	target := newFakeTarget()
	target.memory[0x1000] = 0x90

	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}
	_, err := table.Install(target, 0x1000, file, 7)
	require.NoError(t, err)

	target.pc = 0x1001 // trap reported the address after int3 executed

	bp, err := table.Service(target, target, 0x1000)
	require.NoError(t, err)
	require.Equal(t, 7, bp.Line)
	require.Equal(t, byte(0x90), target.memory[0x1000])
	require.Equal(t, uint64(0x1000), target.pc)
}

func TestServiceDoesNotRewindWhenPCAlreadyAtTrapAddress(t *testing.T) {
	target := newFakeTarget()
	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}
	_, err := table.Install(target, 0x2000, file, 1)
	require.NoError(t, err)

	target.pc = 0x2000

	_, err = table.Service(target, target, 0x2000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), target.pc)
}

func TestReinstallRearmsExistingBreakpoint(t *testing.T) {
	target := newFakeTarget()
	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}
	_, err := table.Install(target, 0x1000, file, 1)
	require.NoError(t, err)

	target.pc = 0x1001
	_, err = table.Service(target, target, 0x1000)
	require.NoError(t, err)
	require.NotEqual(t, TrapByte, target.memory[0x1000])

	err = table.Reinstall(target, 0x1000)
	require.NoError(t, err)
	require.Equal(t, TrapByte, target.memory[0x1000])
}

func TestServiceUnknownAddressErrors(t *testing.T) {
	target := newFakeTarget()
	table := NewTable()

	_, err := table.Service(target, target, 0xdead)
	require.Error(t, err)
}

func TestLookupAndRemove(t *testing.T) {
	target := newFakeTarget()
	table := NewTable()
	file := &symbols.SourceFile{Source: "/a.c"}
	_, err := table.Install(target, 0x1000, file, 1)
	require.NoError(t, err)

	_, ok := table.Lookup(0x1000)
	require.True(t, ok)

	table.Remove(0x1000)
	_, ok = table.Lookup(0x1000)
	require.False(t, ok)
}
