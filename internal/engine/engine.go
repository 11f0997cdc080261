// Package engine implements the debugger state machine: it consumes the
// debug-event stream from a gdbdebug.Session, owns the symbol index and
// breakpoint table, and dispatches observer callbacks at well-defined
// points.
package engine

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/uva-tools/ccov/internal/breakpoint"
	"github.com/uva-tools/ccov/internal/gdbdebug"
	"github.com/uva-tools/ccov/internal/symbols"
)

// State is one of the five states the engine moves through over its
// lifetime.
type State int

const (
	StateInit State = iota
	StateSpawned
	StateRunningPreEntry
	StateRunningUserspace
	StateExited
)

// Observer is the set of optional callbacks an engine caller can receive.
// BaseObserver gives every method a no-op default so implementers only
// override what they need.
type Observer interface {
	OnNewProcess(image string, entry uint64, symbolsLoaded bool)
	OnLoadedDLL(image string, base uint64, symbolsLoaded bool)
	OnExecutionStarted(index *symbols.Index, eng *Engine)
	OnBreakPoint(bp *breakpoint.BreakPoint)
	OnStep()
	OnExitProcess(code int)
}

// BaseObserver implements Observer with no-op methods; embed it to avoid
// having to implement every callback.
type BaseObserver struct{}

func (BaseObserver) OnNewProcess(string, uint64, bool)          {}
func (BaseObserver) OnLoadedDLL(string, uint64, bool)           {}
func (BaseObserver) OnExecutionStarted(*symbols.Index, *Engine) {}
func (BaseObserver) OnBreakPoint(bp *breakpoint.BreakPoint)     {}
func (BaseObserver) OnStep()                                    {}
func (BaseObserver) OnExitProcess(code int)                     {}

// Session is the subset of gdbdebug.Session the engine depends on. Defined
// here so the engine's event-dispatch logic can be unit-tested against a
// fake session.
type Session interface {
	breakpoint.MemoryIO
	breakpoint.ThreadRegs
	EnumerateSourceFiles(visit func(sourcePath, objectPath string)) error
	EnumerateLines(file string, visit func(line int, addr uint64)) error
	WaitEvent(ctx context.Context) (gdbdebug.Event, error)
	Continue(reverse bool) error
	SingleStep() error
}

// Engine drives one debuggee through its lifetime.
type Engine struct {
	session Session
	obs     Observer

	state   State
	index   *symbols.Index
	bps     *breakpoint.Table

	pendingContinue bool
	entrySeen       bool

	// stepRearm holds the address to reinstall the trap byte at after the
	// next single-step completes (see dispatchBreakpoint and Resume).
	stepRearm uint64
	hasRearm  bool
}

// New constructs an Engine bound to session, dispatching to obs. The
// engine owns the symbol index and breakpoint table for its lifetime.
func New(session Session, obs Observer) *Engine {
	if obs == nil {
		obs = BaseObserver{}
	}
	return &Engine{
		session: session,
		obs:     obs,
		state:   StateSpawned,
		index:   symbols.NewIndex(),
		bps:     breakpoint.NewTable(),
	}
}

// Index exposes the engine's symbol index to callers (the coverage ledger
// needs it at OnExecutionStarted time).
func (e *Engine) Index() *symbols.Index { return e.index }

// State reports the engine's current state.
func (e *Engine) State() State { return e.state }

// Start drives the event loop until the loader's synthetic entry
// breakpoint is observed and swallowed, then returns without processing
// further events. This hands control back to the caller so it can arm its
// own breakpoints against a now-populated symbol index before user code
// runs.
func (e *Engine) Start(ctx context.Context) error {
	if e.state != StateSpawned {
		return fmt.Errorf("engine: Start called in state %v, want Spawned", e.state)
	}
	e.state = StateRunningPreEntry

	for {
		ev, err := e.session.WaitEvent(ctx)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case gdbdebug.EventCreateProcess:
			symbolsLoaded := e.loadSymbolsFor(ev.ImageFile)
			e.obs.OnNewProcess(ev.ImageFile, ev.Entry, symbolsLoaded)
		case gdbdebug.EventLoadImage:
			symbolsLoaded := e.loadSymbolsFor(ev.ImageFile)
			e.obs.OnLoadedDLL(ev.ImageFile, ev.Base, symbolsLoaded)
		case gdbdebug.EventBreakpoint:
			if !e.entrySeen {
				e.entrySeen = true
				e.pendingContinue = false // the caller's next Resume will continue
				e.obs.OnExecutionStarted(e.index, e)
				return nil
			}
			// A real user breakpoint fired before we even got into
			// userspace processing; treat it like any other trap.
			e.dispatchBreakpoint(ev)
		default:
			// swallow, will be re-driven by Resume's continue below.
		}
	}
}

// Resume re-enters the event loop and drives the debuggee to completion.
func (e *Engine) Resume(ctx context.Context) error {
	if e.state != StateRunningPreEntry && e.state != StateRunningUserspace {
		return fmt.Errorf("engine: Resume called in state %v", e.state)
	}
	e.state = StateRunningUserspace

	if err := e.session.Continue(false); err != nil {
		return err
	}

	for {
		ev, err := e.session.WaitEvent(ctx)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case gdbdebug.EventCreateProcess:
			symbolsLoaded := e.loadSymbolsFor(ev.ImageFile)
			e.obs.OnNewProcess(ev.ImageFile, ev.Entry, symbolsLoaded)
			e.continueOrReturn()
		case gdbdebug.EventLoadImage:
			symbolsLoaded := e.loadSymbolsFor(ev.ImageFile)
			e.obs.OnLoadedDLL(ev.ImageFile, ev.Base, symbolsLoaded)
			e.continueOrReturn()
		case gdbdebug.EventBreakpoint:
			e.dispatchBreakpoint(ev)
		case gdbdebug.EventSingleStep:
			e.obs.OnStep()
			if e.hasRearm {
				addr := e.stepRearm
				e.hasRearm = false
				if err := e.bps.Reinstall(e.session, addr); err != nil {
					color.Red("ccov: failed to re-arm breakpoint at %#x: %v", addr, err)
				}
			}
			e.continueOrReturn()
		case gdbdebug.EventExitProcess:
			e.state = StateExited
			e.obs.OnExitProcess(ev.ExitCode)
			return nil
		default:
			e.continueOrReturn()
		}
	}
}

func (e *Engine) dispatchBreakpoint(ev gdbdebug.Event) {
	bp, ok := e.bps.Lookup(ev.Addr)
	if !ok {
		// Not one of ours; forward it (GDB already reported it, nothing
		// more for ccov to do beyond letting execution continue).
		e.continueOrReturn()
		return
	}

	serviced, err := e.bps.Service(e.session, e.session, ev.Addr)
	if err != nil {
		color.Red("ccov: failed to service breakpoint at %#x: %v", ev.Addr, err)
		e.continueOrReturn()
		return
	}

	e.obs.OnBreakPoint(serviced)

	// Let the restored instruction execute once under single-stepping,
	// then reinstall the trap so the line is counted again the next time
	// it executes.
	e.stepRearm = ev.Addr
	e.hasRearm = true
	if err := e.session.SingleStep(); err != nil {
		color.Red("ccov: failed to single-step for re-arm at %#x: %v", ev.Addr, err)
		e.hasRearm = false
		e.continueOrReturn()
	}
	_ = bp
}

func (e *Engine) continueOrReturn() {
	if err := e.session.Continue(false); err != nil {
		color.Red("ccov: continue failed: %v", err)
	}
}

// loadSymbolsFor enumerates every source file and line GDB currently knows
// about, folding newly-seen lines into the symbol index. It reports
// whether this call actually attached new line information for a file the
// index had not already indexed, so the caller can tell this specific
// module's symbols apart from symbols already loaded for an earlier one --
// -file-list-exec-source-files reports the debugger's whole cumulative
// view, not a per-module slice, so a file already carrying lines is one an
// earlier call already accounted for, not one this module contributed.
func (e *Engine) loadSymbolsFor(image string) bool {
	loaded := false
	e.session.EnumerateSourceFiles(func(sourcePath, objectPath string) {
		file, known := e.index.FindExact(sourcePath)
		if known && len(file.Lines) > 0 {
			return
		}
		file = e.index.FindOrCreate(sourcePath, objectPath)
		e.session.EnumerateLines(sourcePath, func(line int, addr uint64) {
			symbols.AppendLine(file, line, addr)
		})
		if len(file.Lines) > 0 {
			loaded = true
		}
	})
	return loaded
}

// AppendBreakPoint finds the smallest line >= requested in the SourceFile
// matching sourcePath by suffix, installs a software breakpoint there, and
// returns its address. ok is false if the file is unknown or has no
// breakable line at or after the requested one.
func (e *Engine) AppendBreakPoint(sourcePath string, line int) (addr uint64, ok bool) {
	file, found := e.index.Find(sourcePath)
	if !found {
		return 0, false
	}

	target, found := symbols.LineAtOrAfter(file, line)
	if !found {
		return 0, false
	}

	if _, exists := e.bps.Lookup(target.Address); exists {
		return target.Address, true
	}

	if _, err := e.bps.Install(e.session, target.Address, file, target.Line); err != nil {
		color.Red("ccov: failed to install breakpoint at %s:%d (%#x): %v", sourcePath, target.Line, target.Address, err)
		return 0, false
	}

	return target.Address, true
}

// Breakpoints exposes the engine's breakpoint table (read-only use by the
// coverage ledger and tests).
func (e *Engine) Breakpoints() *breakpoint.Table { return e.bps }
