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
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile        string
	gGdbExecutable string
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "ccov",
	Short: "ccov is a native source-line coverage debugger",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main() exactly once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "print more messages to know what ccov is doing")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ccov.yaml)")
	RootCmd.PersistentFlags().StringVar(&gGdbExecutable, "gdb-executable", "", "the gdb executable (with full path) (default is assume gdb exists in $PATH)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName(".ccov")
	viper.AddConfigPath("$HOME")
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")

	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("gdb-executable", RootCmd.PersistentFlags().Lookup("gdb-executable"))

	viper.BindPFlag("files", runCmd.Flags().Lookup("files"))
	viper.BindPFlag("template", runCmd.Flags().Lookup("template"))
	viper.BindPFlag("out", runCmd.Flags().Lookup("out"))
	viper.BindPFlag("html-out", runCmd.Flags().Lookup("html-out"))
	viper.BindPFlag("interactive", runCmd.Flags().Lookup("interactive"))

	viper.SetDefault("gdb-executable", "gdb")
	viper.SetDefault("files", "ccov-files.txt")
	viper.SetDefault("template", "coverage/index.template.html")
	viper.SetDefault("out", "ccov-info.json")
	viper.SetDefault("html-out", "coverage/index.html")

	viper.RegisterAlias("gdb_executable", "gdb-executable")
	viper.RegisterAlias("html_out", "html-out")

	if err := viper.ReadInConfig(); err == nil {
		color.Yellow("ccov: Using config file: %v", viper.ConfigFileUsed())
	}
}
