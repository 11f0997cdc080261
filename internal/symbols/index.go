// Package symbols owns the collection of source files discovered in a
// debuggee's debug information and their line-to-address maps.
package symbols

import "strings"

// SourceLine is a single line->address fact extracted from debug info.
// Line is the source line number; Address is the first instruction byte
// attributed to that line.
type SourceLine struct {
	Line    int
	Address uint64
}

// SourceFile is a source path together with its object/PDB origin and the
// ordered set of lines the symbol engine found code for. Lines are stored
// in the order the symbol engine emits them (ascending by address); callers
// must not assume that is the same as ascending by Line number.
type SourceFile struct {
	Source string
	Object string
	Lines  []SourceLine
}

// Index is the arena of known source files. Files are stored once, indexed
// both by position (stable insertion order, used for reporting) and by an
// address-free path scan (used for GDB's suffix-style filenames).
type Index struct {
	files []*SourceFile
}

// NewIndex returns an empty symbol index.
func NewIndex() *Index {
	return &Index{}
}

// Find returns the first SourceFile whose Source path ends with suffix.
// GDB (and most native debug info) reports compile-unit paths that may be
// relative, absolute, or absolute-on-a-different-machine; suffix matching
// is how callers resolve a user-facing filename against debug-info paths
// that may be relative, absolute, or absolute on a different machine.
func (idx *Index) Find(suffix string) (*SourceFile, bool) {
	for _, f := range idx.files {
		if strings.HasSuffix(f.Source, suffix) {
			return f, true
		}
	}
	return nil, false
}

// FindExact returns the SourceFile whose Source path equals path exactly.
func (idx *Index) FindExact(path string) (*SourceFile, bool) {
	for _, f := range idx.files {
		if f.Source == path {
			return f, true
		}
	}
	return nil, false
}

// FindOrCreate returns the existing SourceFile for source, creating one
// (with the given object origin) if this is the first time source has been
// seen. A SourceFile is created exactly once per distinct source path.
func (idx *Index) FindOrCreate(source, object string) *SourceFile {
	if f, ok := idx.FindExact(source); ok {
		return f
	}
	f := &SourceFile{Source: source, Object: object}
	idx.files = append(idx.files, f)
	return f
}

// AppendLine appends a line record to file. Lines are expected to arrive in
// the order the symbol engine enumerates them; no re-sort is performed.
func AppendLine(file *SourceFile, line int, addr uint64) {
	file.Lines = append(file.Lines, SourceLine{Line: line, Address: addr})
}

// Files returns the known source files in discovery order.
func (idx *Index) Files() []*SourceFile {
	return idx.files
}

// LineAtOrAfter returns the SourceLine in file with the smallest Line value
// that is >= requested, or false if no such line exists. This mirrors the
// std::lower_bound scan the original debugger performs when arming a
// breakpoint on a line that may not itself carry code.
func LineAtOrAfter(file *SourceFile, requested int) (SourceLine, bool) {
	best := SourceLine{}
	found := false
	for _, l := range file.Lines {
		if l.Line >= requested && (!found || l.Line < best.Line) {
			best = l
			found = true
		}
	}
	return best, found
}

// HasLine reports whether file's symbol data contains an entry for the
// exact line number (used to mark a physical source line "relevant").
func HasLine(file *SourceFile, line int) bool {
	for _, l := range file.Lines {
		if l.Line == line {
			return true
		}
	}
	return false
}
