// Package console implements ccov's optional interactive operator prompt,
// a small readline loop for inspecting the breakpoint table and toggling
// verbose gdb traffic logging while coverage is being recorded.
package console

import (
	"fmt"
	"io"
	"log"
	"os/user"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/uva-tools/ccov/internal/engine"
	"github.com/uva-tools/ccov/internal/gdbdebug"
)

const helpText = `
ccov interactive console
  b          show how many breakpoints are installed
  v          toggle verbose gdb traffic logging
  q          quit the console and run to completion unattended
  h          this help text
`

// Run drives the "(ccov) " interactive prompt. It blocks until the user
// quits (or EOF/Ctrl-D), after which the caller is expected to call
// eng.Resume to run the debuggee to completion.
func Run(session *gdbdebug.Session, eng *engine.Engine) {
	historyFile := ""
	if u, err := user.Current(); err == nil {
		historyFile = u.HomeDir + "/.ccov.history"
	}

	rdline, err := readline.NewEx(&readline.Config{
		Prompt:      "(ccov) ",
		HistoryFile: historyFile,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer rdline.Close()

	color.Yellow("h <enter> for help")
	for {
		line, err := rdline.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			color.Yellow("Exiting console, running to completion.")
			return
		} else if err != nil {
			log.Fatal(err)
		}

		switch {
		case strings.HasPrefix(line, "b"):
			color.Cyan("%d breakpoints installed", eng.Breakpoints().Len())
		case strings.HasPrefix(line, "v"):
			gdbdebug.VerboseFlag = !gdbdebug.VerboseFlag
			if gdbdebug.VerboseFlag {
				color.Red("Verbose mode")
			} else {
				color.Green("Quiet mode")
			}
		case strings.HasPrefix(line, "q"):
			color.Yellow("Exiting console, running to completion.")
			return
		case strings.HasPrefix(line, "h"):
			fmt.Println(helpText)
		default:
			color.Yellow("unrecognized command, h for help")
		}
	}
}
