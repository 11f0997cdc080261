// Package gdbdebug is the platform debug binding: a thin wrapper over a
// GDB/MI session that gives the rest of ccov spawn-suspended,
// wait-for-debug-event, continue-debug-event, memory read/write and
// register access, plus symbol and source-line enumeration, without the
// caller ever touching GDB/MI strings directly.
package gdbdebug

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/cyrus-and/gdb"
	"github.com/fatih/color"
)

var (
	// VerboseFlag is the package-level verbosity switch: every MI command
	// sent and notification received is echoed when set.
	VerboseFlag bool
)

// EventKind tags the union of debug events a platform binding can deliver.
type EventKind int

const (
	EventOther EventKind = iota
	EventCreateProcess
	EventLoadImage
	EventBreakpoint
	EventSingleStep
	EventExitProcess
)

// Event is a classified debug event. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind        EventKind
	ImageFile   string
	Base        uint64
	Entry       uint64
	Addr        uint64
	ThreadID    string
	FirstChance bool
	ExitCode    int
}

// Session wraps a running `gdb --interpreter=mi` process debugging one
// executable.
type Session struct {
	gdb            *gdb.Gdb
	events         chan Event
	lastFile       string // not written by the notification callback; stays empty
	executablePath string
}

// CheckGdbExecutable parses the version from firstVersionLine (the first
// line of `<path> --version`, where the version is the last field) and
// checks that it is new enough to support the MI features ccov depends on
// (-data-write-memory-bytes, in particular, requires a post-7.x GDB). path
// itself is not inspected.
func CheckGdbExecutable(path string, firstVersionLine string) error {
	fields := strings.Fields(firstVersionLine)
	if len(fields) == 0 {
		return errors.New("gdbdebug: could not determine gdb version")
	}
	versionString := fields[len(fields)-1]

	ver, err := semver.NewVersion(versionString)
	if err != nil {
		return fmt.Errorf("gdbdebug: could not parse gdb version %q: %w", versionString, err)
	}

	constraint, err := semver.NewConstraint(">= 7.11.1")
	if err != nil {
		return err
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("gdbdebug: gdb >= 7.11.1 required, found %v", ver)
	}
	return nil
}

// Spawn starts `gdb --interpreter=mi <executablePath>` and runs it to the
// loader's synthetic entry breakpoint via `-exec-run --start`. The first
// WaitEvent call after Spawn will surface that breakpoint as an
// EventBreakpoint the caller (internal/engine) is responsible for treating
// as the "entry breakpoint" hand-back.
func Spawn(ctx context.Context, gdbExecutable, executablePath string, args []string) (*Session, error) {
	events := make(chan Event, 64)

	session := &Session{events: events, executablePath: executablePath}

	notify := func(notification map[string]interface{}) {
		if VerboseFlag {
			color.Cyan("gdb -> ccov: %v", notification)
		}
		if ev, ok := classifyNotification(notification, executablePath); ok {
			events <- ev
		}
	}

	gdbArgs := []string{gdbExecutable, "--interpreter=mi", executablePath}
	g, err := gdb.NewCmd(gdbArgs, notify)
	if err != nil {
		return nil, fmt.Errorf("gdbdebug: starting gdb: %w", err)
	}
	session.gdb = g

	if len(args) > 0 {
		if _, err := session.send("exec-arguments", strings.Join(args, " ")); err != nil {
			return nil, err
		}
	}

	if _, err := session.send("exec-run", "--start"); err != nil {
		return nil, fmt.Errorf("gdbdebug: exec-run --start: %w", err)
	}

	return session, nil
}

func (s *Session) send(command string, args ...string) (map[string]interface{}, error) {
	if VerboseFlag {
		color.Green("ccov -> gdb: %v %v", command, strings.Join(args, " "))
	}
	result, err := s.gdb.Send(command, args...)
	if err != nil {
		return nil, fmt.Errorf("gdbdebug: %v: %w", command, err)
	}
	return result, nil
}

// EnumerateSourceFiles issues -file-list-exec-source-files and invokes
// visit once per distinct source path GDB reports for the loaded image.
func (s *Session) EnumerateSourceFiles(visit func(sourcePath, objectPath string)) error {
	result, err := s.send("file-list-exec-source-files")
	if err != nil {
		return err
	}

	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return nil
	}
	files, ok := payload["files"].([]interface{})
	if !ok {
		return nil
	}

	for _, raw := range files {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fullname, _ := entry["fullname"].(string)
		if fullname == "" {
			fullname, _ = entry["file"].(string)
		}
		visit(fullname, executableObjectHint(entry))
	}
	return nil
}

func executableObjectHint(entry map[string]interface{}) string {
	if v, ok := entry["debug-fully-read"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EnumerateLines issues -symbol-list-lines <file> and invokes visit once
// per (line, address) pair, in the order GDB reports them (ascending by
// address, which is not necessarily ascending by line number).
func (s *Session) EnumerateLines(file string, visit func(line int, addr uint64)) error {
	result, err := s.send("symbol-list-lines", file)
	if err != nil {
		// Not every source file GDB lists has line info available via this
		// exact command on every GDB version; treat failure as "no lines".
		return nil
	}

	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return nil
	}
	lines, ok := payload["lines"].([]interface{})
	if !ok {
		return nil
	}

	for _, raw := range lines {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		lineStr, _ := entry["line"].(string)
		pcStr, _ := entry["pc"].(string)
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			continue
		}
		addr, err := parseHexAddr(pcStr)
		if err != nil {
			continue
		}
		visit(line, addr)
	}
	return nil
}

// WaitEvent blocks until the notification callback delivers the next
// classified debug event, or ctx is cancelled.
func (s *Session) WaitEvent(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Continue resumes the debuggee. reverse requests GDB's --reverse flag,
// which only has any effect if the session is replaying an rr recording;
// ccov's own CLI and engine never set it, so it is a plain transport-level
// passthrough.
func (s *Session) Continue(reverse bool) error {
	if reverse {
		_, err := s.send("exec-continue", "--reverse")
		return err
	}
	_, err := s.send("exec-continue")
	return err
}

// SingleStep advances the debuggee by exactly one machine instruction.
func (s *Session) SingleStep() error {
	_, err := s.send("exec-step-instruction")
	return err
}

// ReadMemory reads n bytes starting at addr from debuggee memory.
func (s *Session) ReadMemory(addr uint64, n int) ([]byte, error) {
	result, err := s.send("data-read-memory-bytes", fmt.Sprintf("%#x", addr), strconv.Itoa(n))
	if err != nil {
		return nil, err
	}

	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("gdbdebug: malformed data-read-memory-bytes response")
	}
	memory, ok := payload["memory"].([]interface{})
	if !ok || len(memory) == 0 {
		return nil, fmt.Errorf("gdbdebug: empty memory response at %#x", addr)
	}
	block, ok := memory[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("gdbdebug: malformed memory block at %#x", addr)
	}
	contents, _ := block["contents"].(string)
	data, err := hex.DecodeString(contents)
	if err != nil {
		return nil, fmt.Errorf("gdbdebug: decoding memory contents at %#x: %w", addr, err)
	}
	return data, nil
}

// WriteMemory writes data to debuggee memory starting at addr.
func (s *Session) WriteMemory(addr uint64, data []byte) error {
	_, err := s.send("data-write-memory-bytes", fmt.Sprintf("%#x", addr), hex.EncodeToString(data))
	return err
}

// GetPC returns the current thread's program counter.
func (s *Session) GetPC() (uint64, error) {
	result, err := s.send("data-evaluate-expression", "$pc")
	if err != nil {
		return 0, err
	}
	payload, ok := result["payload"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("gdbdebug: malformed data-evaluate-expression response")
	}
	value, _ := payload["value"].(string)
	return parseHexAddr(value)
}

// SetPC sets the current thread's program counter.
func (s *Session) SetPC(addr uint64) error {
	_, err := s.send("data-evaluate-expression", fmt.Sprintf("$pc = %#x", addr))
	return err
}

// Exit terminates the GDB session (and the debuggee with it).
func (s *Session) Exit() {
	s.gdb.Exit()
}

func parseHexAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.SplitN(s, " ", 2)[0] // GDB sometimes appends "<symbol+off>"
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("gdbdebug: parsing address %q: %w", s, err)
	}
	return v, nil
}

func classifyNotification(n map[string]interface{}, executablePath string) (Event, bool) {
	class, _ := n["class"].(string)
	payload, _ := n["payload"].(map[string]interface{})

	switch class {
	case "stopped":
		reason, _ := payload["reason"].(string)
		switch reason {
		case "breakpoint-hit", "signal-received":
			addrStr, _ := payload["frame"].(map[string]interface{})["addr"].(string)
			addr, _ := parseHexAddr(addrStr)
			threadID, _ := payload["thread-id"].(string)
			return Event{Kind: EventBreakpoint, Addr: addr, ThreadID: threadID, FirstChance: true}, true
		case "end-stepping-range":
			threadID, _ := payload["thread-id"].(string)
			return Event{Kind: EventSingleStep, ThreadID: threadID, FirstChance: true}, true
		case "exited-normally", "exited":
			code := 0
			if c, ok := payload["exit-code"].(string); ok {
				if n, err := strconv.ParseInt(strings.TrimPrefix(c, "0"), 8, 64); err == nil {
					code = int(n)
				}
			}
			return Event{Kind: EventExitProcess, ExitCode: code}, true
		}
	case "library-loaded":
		name, _ := payload["target-name"].(string)
		return Event{Kind: EventLoadImage, ImageFile: name}, true
	case "thread-group-started":
		pid, _ := payload["pid"].(string)
		_ = pid
		return Event{Kind: EventCreateProcess, ImageFile: executablePath}, true
	case "thread-group-exited":
		code := 0
		if c, ok := payload["exit-code"].(string); ok {
			if n, err := strconv.Atoi(c); err == nil {
				code = n
			}
		}
		return Event{Kind: EventExitProcess, ExitCode: code}, true
	}

	return Event{}, false
}

// Verboseln prints a and a trailing newline when VerboseFlag is set.
func Verboseln(a ...interface{}) {
	if VerboseFlag {
		log.Println(a...)
	}
}
