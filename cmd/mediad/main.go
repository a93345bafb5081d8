// Command mediad is the media-organizer entry point: a long-running
// monitor-mode command and a one-shot command for processing a fixed set of
// files or a single directory, per spec.md §6. Its command-tree shape
// follows the teacher's cmd/mutagen/main.go (manual help/version flags,
// disabled command sorting, an explicit AddCommand ordering).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func rootMain(command *cobra.Command, _ []string) {
	if rootConfiguration.version {
		fmt.Println(version)
		return
	}
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "mediad",
	Short: "mediad watches directories for new media files, identifies them, and files them into a library",
	Run:   rootMain,
}

var rootConfiguration struct {
	help    bool
	version bool
}

// version is the value printed by --version. It is not tied to module
// releases the way spec.md's scope would require for a real build pipeline,
// so it stays a constant rather than growing a version package.
const version = "0.1.0"

func init() {
	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")

	cobra.EnableCommandSorting = false

	rootCommand.AddCommand(
		runCommand,
		processCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultConfigPath is used by subcommands when --config is not given.
const defaultConfigPath = "media-organizer.ini"
