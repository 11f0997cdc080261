package coverage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uva-tools/ccov/internal/breakpoint"
	"github.com/uva-tools/ccov/internal/engine"
	"github.com/uva-tools/ccov/internal/gdbdebug"
	"github.com/uva-tools/ccov/internal/symbols"
)

// fakeSession is a minimal stand-in for *gdbdebug.Session satisfying
// engine.Session, letting the ledger's breakpoint-arming behavior be
// exercised without a real GDB process.
type fakeSession struct {
	memory map[uint64]byte
	pc     uint64
}

func newFakeSession() *fakeSession {
	return &fakeSession{memory: map[uint64]byte{}}
}

func (f *fakeSession) ReadMemory(addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = f.memory[addr+uint64(i)]
	}
	return out, nil
}

func (f *fakeSession) WriteMemory(addr uint64, data []byte) error {
	for i, b := range data {
		f.memory[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeSession) GetPC() (uint64, error)  { return f.pc, nil }
func (f *fakeSession) SetPC(addr uint64) error { f.pc = addr; return nil }

func (f *fakeSession) EnumerateSourceFiles(visit func(sourcePath, objectPath string)) error {
	return nil
}
func (f *fakeSession) EnumerateLines(file string, visit func(line int, addr uint64)) error {
	return nil
}
func (f *fakeSession) WaitEvent(ctx context.Context) (gdbdebug.Event, error) {
	return gdbdebug.Event{}, nil
}
func (f *fakeSession) Continue(reverse bool) error { return nil }
func (f *fakeSession) SingleStep() error           { return nil }

func writeTempSource(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestOnExecutionStartedMarksRelevantLinesAndArmsBreakpoints(t *testing.T) {
	dir := t.TempDir()
	path := writeTempSource(t, dir, "main.c", []string{
		"int main() {",  // line 1, relevant
		"    int x = 1;", // line 2, relevant
		"    return x;",  // line 3, relevant
		"}",              // line 4, not relevant
	})

	ledger := NewLedger(dir, []string{"main.c"})

	session := newFakeSession()
	eng := engine.New(session, ledger)

	sourceFile := eng.Index().FindOrCreate(path, "main.o")
	symbols.AppendLine(sourceFile, 1, 0x1000)
	symbols.AppendLine(sourceFile, 2, 0x1010)
	symbols.AppendLine(sourceFile, 3, 0x1020)

	ledger.OnExecutionStarted(eng.Index(), eng)

	cf := ledger.Files[0]
	require.Equal(t, 4, cf.TotalLines)
	require.Equal(t, 3, cf.TotalRelevantLines)
	require.True(t, cf.Lines[0].IsRelevant)
	require.True(t, cf.Lines[1].IsRelevant)
	require.True(t, cf.Lines[2].IsRelevant)
	require.False(t, cf.Lines[3].IsRelevant)
	require.Equal(t, 3, eng.Breakpoints().Len())
}

func TestOnBreakPointCountsHitsAndUpdatesCoverageOnFirstHitOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeTempSource(t, dir, "loop.c", []string{
		"for (;;) {",
		"    work();",
		"}",
	})

	ledger := NewLedger(dir, []string{"loop.c"})

	session := newFakeSession()
	eng := engine.New(session, ledger)
	sourceFile := eng.Index().FindOrCreate(path, "loop.o")
	symbols.AppendLine(sourceFile, 2, 0x2000)

	ledger.OnExecutionStarted(eng.Index(), eng)

	bp := &breakpoint.BreakPoint{File: sourceFile, Line: 2}

	for i := 0; i < 5; i++ {
		ledger.OnBreakPoint(bp)
	}

	cf := ledger.Files[0]
	require.Equal(t, 5, cf.Lines[1].Hits)
	require.Equal(t, 1, cf.RelevantLinesHit)
	require.Equal(t, 5, cf.TotalHits)
	require.InDelta(t, 100.0, cf.Coverage, 0.0001)
}

func TestParseFilesConfig(t *testing.T) {
	r := strings.NewReader("/home/me/project\nsrc/main.c\nsrc/util.c\n")

	root, files, err := ParseFilesConfig(r)
	require.NoError(t, err)
	require.Equal(t, "/home/me/project", root)
	require.Equal(t, []string{"src/main.c", "src/util.c"}, files)
}

func TestParseFilesConfigRejectsEmptyInput(t *testing.T) {
	_, _, err := ParseFilesConfig(strings.NewReader(""))
	require.Error(t, err)
}

func TestLedgerMarshalJSON(t *testing.T) {
	ledger := NewLedger("/proj", []string{"a.c"})
	data, err := ledger.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"relativePath":"a.c"`)
}
