// Package coverage implements the coverage ledger: the per-file,
// per-line hit-count accounting an engine.Observer drives as the
// debuggee runs, and the JSON shape the report sink serializes.
package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/uva-tools/ccov/internal/breakpoint"
	"github.com/uva-tools/ccov/internal/engine"
	"github.com/uva-tools/ccov/internal/symbols"
)

// SourceLineRecord is one physical source line's coverage state.
type SourceLineRecord struct {
	Number     int    `json:"number"`
	Text       string `json:"text"`
	Hits       int    `json:"hits"`
	IsRelevant bool   `json:"isRelevant"`
	LastHit    int64  `json:"lastHit"`
}

// CoveredFile is one interesting file's full coverage record.
type CoveredFile struct {
	Path               string             `json:"path"`
	RelativePath       string             `json:"relativePath"`
	Lines              []SourceLineRecord `json:"lines"`
	TotalLines         int                `json:"totalLines"`
	TotalRelevantLines int                `json:"totalRelevantLines"`
	RelevantLinesHit   int                `json:"relevantLinesHit"`
	TotalHits          int                `json:"totalHits"`
	AverageHitsPerLine float64            `json:"averageHitsPerLine"`
	Coverage           float64            `json:"coverage"`
	LastHit            int64              `json:"lastHit"`

	// lineIndex maps a physical line number to its slot in Lines, filled in
	// once OnExecutionStarted has split the source text.
	lineIndex map[int]int
	// addrIndex maps a breakpoint address back to the line number it was
	// armed for. OnBreakPoint does not consult it; it resolves the record
	// through the breakpoint's file and line.
	addrIndex map[uint64]int
}

// Ledger is the full coverage run: every interesting file, plus a
// reserved always-empty Hits field kept for wire compatibility.
type Ledger struct {
	Run   int64          `json:"run"`
	Files []*CoveredFile `json:"files"`
	Hits  map[string]int `json:"hits"`

	byPath map[string]*CoveredFile
}

// NewLedger builds a Ledger with one zeroed CoveredFile per interesting
// file, in the order they were listed, resolved relative to projectRoot.
func NewLedger(projectRoot string, interestingFiles []string) *Ledger {
	l := &Ledger{
		Files:  []*CoveredFile{},
		Hits:   map[string]int{},
		byPath: map[string]*CoveredFile{},
	}
	for _, rel := range interestingFiles {
		abs := rel
		if projectRoot != "" && !strings.HasPrefix(rel, projectRoot) {
			abs = strings.TrimRight(projectRoot, "/\\") + string(os.PathSeparator) + rel
		} else if projectRoot != "" {
			rel = strings.TrimLeft(strings.TrimPrefix(rel, projectRoot), "/\\")
		}
		cf := &CoveredFile{
			Path:         abs,
			RelativePath: rel,
			Lines:        []SourceLineRecord{},
			lineIndex:    map[int]int{},
			addrIndex:    map[uint64]int{},
		}
		l.Files = append(l.Files, cf)
		l.byPath[abs] = cf
	}
	return l
}

// OnExecutionStarted implements engine.Observer's hook by the same name,
// registered for the moment the entry breakpoint has been swallowed and
// the symbol index is fully populated. It reads each interesting file's
// source text, marks which physical lines the compiler actually attached
// code to, and arms a breakpoint on every such line.
func (l *Ledger) OnExecutionStarted(index *symbols.Index, eng *engine.Engine) {
	for _, cf := range l.Files {
		file, ok := index.FindExact(cf.Path)
		if !ok {
			file, ok = index.Find(cf.RelativePath)
		}
		if !ok {
			continue
		}
		// Breakpoints armed below carry file, so OnBreakPoint must be able
		// to resolve its Source even when it differs from cf.Path.
		l.byPath[file.Source] = cf

		lines, err := readPhysicalLines(cf.Path)
		if err != nil {
			continue
		}

		cf.Lines = make([]SourceLineRecord, len(lines))
		cf.TotalLines = len(lines)
		for i, text := range lines {
			lineNo := i + 1
			record := SourceLineRecord{Number: lineNo, Text: text}
			if symbols.HasLine(file, lineNo) {
				record.IsRelevant = true
				cf.TotalRelevantLines++
			}
			cf.Lines[i] = record
			cf.lineIndex[lineNo] = i
		}

		for i := range cf.Lines {
			if !cf.Lines[i].IsRelevant {
				continue
			}
			lineNo := cf.Lines[i].Number
			addr, ok := eng.AppendBreakPoint(cf.RelativePath, lineNo)
			if !ok {
				// No breakable address at or after this line; leave the
				// record marked relevant but uncounted -- a line with no
				// code address attached is a non-fatal condition.
				continue
			}
			cf.addrIndex[addr] = lineNo
		}

		l.recomputeAverages(cf)
	}
}

// OnBreakPoint implements the hit-accounting half of engine.Observer: each
// time a ccov-installed trap fires at a line this ledger is tracking, bump
// its hit count and, on the first hit only, the file's RelevantLinesHit
// and Coverage percentage.
func (l *Ledger) OnBreakPoint(bp *breakpoint.BreakPoint) {
	if bp == nil || bp.File == nil {
		return
	}
	cf, ok := l.byPath[bp.File.Source]
	if !ok {
		return
	}
	idx, ok := cf.lineIndex[bp.Line]
	if !ok {
		return
	}

	record := &cf.Lines[idx]
	firstHit := record.Hits == 0
	record.Hits++
	cf.TotalHits++

	if firstHit {
		cf.RelevantLinesHit++
	}

	l.recomputeAverages(cf)
}

// OnStep, OnNewProcess, OnLoadedDLL and OnExitProcess round out
// engine.Observer with no-ops: the ledger has nothing to do on those
// events beyond what OnExecutionStarted and OnBreakPoint already cover.
func (l *Ledger) OnStep()                           {}
func (l *Ledger) OnNewProcess(string, uint64, bool) {}
func (l *Ledger) OnLoadedDLL(string, uint64, bool)  {}
func (l *Ledger) OnExitProcess(int)                 {}

func (l *Ledger) recomputeAverages(cf *CoveredFile) {
	if cf.TotalRelevantLines > 0 {
		cf.Coverage = 100 * float64(cf.RelevantLinesHit) / float64(cf.TotalRelevantLines)
		cf.AverageHitsPerLine = float64(cf.TotalHits) / float64(cf.TotalRelevantLines)
	}
}

// MarshalJSON renders the ledger through goccy/go-json rather than the
// standard library's encoding/json, per ccov's report sink library choice.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	type alias Ledger
	return json.Marshal((*alias)(l))
}

func readPhysicalLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("coverage: opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("coverage: reading %s: %w", path, err)
	}
	return lines, nil
}

// ParseFilesConfig reads the ccov-files.txt format: the first non-blank
// line is the project root, every line after it names one interesting
// file, relative to that root.
func ParseFilesConfig(r io.Reader) (projectRoot string, files []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if projectRoot == "" {
			projectRoot = line
			continue
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("coverage: parsing files config: %w", err)
	}
	if projectRoot == "" {
		return "", nil, fmt.Errorf("coverage: files config has no project root")
	}
	return projectRoot, files, nil
}
