// Package cliutil holds the small handful of command-line helpers shared
// across cmd/mediad's subcommands, grounded on the teacher's top-level cmd
// package (cmd/error.go, cmd/arguments.go, cmd/signals.go).
package cliutil

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Warning prints a warning message to standard error.
func Warning(message string) {
	fmt.Fprintln(color.Error, color.YellowString("Warning:"), message)
}

// Error prints an error message to standard error.
func Error(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
}

// Fatal prints an error message to standard error and terminates the
// process with exit code 1, per spec.md §6's "exit code 0 on total
// success, 1 on any failure or interrupt".
func Fatal(err error) {
	Error(err)
	os.Exit(1)
}

// DisallowArguments is a Cobra arguments validator that rejects positional
// arguments with a clearer message than cobra.NoArgs gives.
func DisallowArguments(_ *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errors.New("command does not accept arguments")
	}
	return nil
}

// TerminationSignals are the signals mediad treats as a termination
// request.
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}
