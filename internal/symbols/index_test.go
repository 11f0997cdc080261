package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindMatchesBySuffix(t *testing.T) {
	idx := NewIndex()
	idx.FindOrCreate("/build/project/src/main.c", "main.o")

	file, ok := idx.Find("src/main.c")
	require.True(t, ok)
	require.Equal(t, "/build/project/src/main.c", file.Source)

	_, ok = idx.Find("nope.c")
	require.False(t, ok)
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	idx := NewIndex()
	a := idx.FindOrCreate("/a.c", "a.o")
	b := idx.FindOrCreate("/a.c", "a.o")

	require.Same(t, a, b)
	require.Len(t, idx.Files(), 1)
}

func TestLineAtOrAfterFindsSmallestQualifyingLine(t *testing.T) {
	file := &SourceFile{Source: "/a.c"}
	AppendLine(file, 10, 0x1000)
	AppendLine(file, 12, 0x1010)
	AppendLine(file, 20, 0x1020)

	line, ok := LineAtOrAfter(file, 11)
	require.True(t, ok)
	require.Equal(t, 12, line.Line)
	require.Equal(t, uint64(0x1010), line.Address)

	line, ok = LineAtOrAfter(file, 20)
	require.True(t, ok)
	require.Equal(t, 20, line.Line)

	_, ok = LineAtOrAfter(file, 21)
	require.False(t, ok)
}

func TestHasLine(t *testing.T) {
	file := &SourceFile{Source: "/a.c"}
	AppendLine(file, 5, 0x2000)

	require.True(t, HasLine(file, 5))
	require.False(t, HasLine(file, 6))
}
