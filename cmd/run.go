// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uva-tools/ccov/internal/console"
	"github.com/uva-tools/ccov/internal/coverage"
	"github.com/uva-tools/ccov/internal/engine"
	"github.com/uva-tools/ccov/internal/gdbdebug"
	"github.com/uva-tools/ccov/internal/report"
)

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().String("files", "ccov-files.txt", "path to the project-root/interesting-files config")
	runCmd.Flags().String("template", "coverage/index.template.html", "HTML template containing the m_coverage_info token")
	runCmd.Flags().String("out", "ccov-info.json", "path to write the JSON coverage ledger")
	runCmd.Flags().String("html-out", "coverage/index.html", "path to write the spliced HTML report")
	runCmd.Flags().Bool("interactive", false, "drop into an interactive console before running to completion")
}

var runCmd = &cobra.Command{
	Use:   "run <executable> [args...]",
	Short: "Run an executable under ccov and record source-line coverage",
	Long: `
The 'ccov run' command launches a native executable under a GDB/MI debug
session, arms a breakpoint on every source line named in the interesting-
files config, counts how many times each line executes, and writes a
coverage ledger (ccov-info.json) plus an HTML report on exit.
`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		gdbdebug.VerboseFlag = viper.GetBool("verbose")

		gdbExecutable := viper.GetString("gdb-executable")
		if err := checkGdbVersion(gdbExecutable); err != nil {
			log.Fatalf("ccov: %v", err)
		}

		filesPath := viper.GetString("files")
		projectRoot, interestingFiles := readFilesConfig(filesPath)

		ledger := coverage.NewLedger(projectRoot, interestingFiles)

		executable := args[0]
		debuggeeArgs := args[1:]

		color.Yellow("ccov: launching %v under gdb", executable)
		session, err := gdbdebug.Spawn(context.Background(), gdbExecutable, executable, debuggeeArgs)
		if err != nil {
			log.Fatalf("ccov: spawning debuggee: %v", err)
		}
		defer session.Exit()

		eng := engine.New(session, ledger)

		if err := eng.Start(context.Background()); err != nil {
			log.Fatalf("ccov: starting debuggee: %v", err)
		}

		if viper.GetBool("interactive") {
			console.Run(session, eng)
		}

		if err := eng.Resume(context.Background()); err != nil {
			log.Fatalf("ccov: running debuggee: %v", err)
		}

		outPath := viper.GetString("out")
		if err := report.WriteJSON(outPath, ledger); err != nil {
			log.Fatalf("ccov: writing %v: %v", outPath, err)
		}
		color.Green("ccov: wrote %v", outPath)

		templatePath := viper.GetString("template")
		htmlOutPath := viper.GetString("html-out")
		if err := report.WriteHTML(templatePath, htmlOutPath, ledger); err != nil {
			color.Red("ccov: %v", err)
			return
		}
		color.Green("ccov: wrote %v", htmlOutPath)
	},
}

func checkGdbVersion(gdbExecutable string) error {
	out, err := exec.Command(gdbExecutable, "--version").Output()
	if err != nil {
		return err
	}
	firstLine := strings.SplitN(string(out), "\n", 2)[0]
	return gdbdebug.CheckGdbExecutable(gdbExecutable, firstLine)
}

func readFilesConfig(path string) (string, []string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("ccov: opening %v: %v", path, err)
	}
	defer f.Close()

	root, files, err := coverage.ParseFilesConfig(f)
	if err != nil {
		log.Fatalf("ccov: %v", err)
	}
	return root, files
}
