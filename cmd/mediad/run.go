package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ghisgit/media-organizer/internal/cliutil"
	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/supervisor"
)

func runMain(_ *cobra.Command, _ []string) error {
	if runConfiguration.verbose {
		mlog.SetLevel(mlog.LevelDebug)
	}

	sup, err := supervisor.New(runConfiguration.config, nil)
	if err != nil {
		return err
	}

	// supervisor.Run installs its own SIGINT/SIGTERM handling and performs
	// ordered shutdown before returning, so run just has to propagate the
	// background context and the result.
	return sup.Run(context.Background())
}

// runCommand is the monitor-mode entry point: it starts the watcher,
// ingestion pipeline, and health prober and blocks until terminated
// (spec.md §6).
var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Start monitoring the configured directories",
	Args:         cliutil.DisallowArguments,
	RunE:         runMain,
	SilenceUsage: true,
}

var runConfiguration struct {
	// config is the path to the INI configuration file.
	config string
	// verbose raises the log level to debug regardless of the
	// configuration file's log_level.
	verbose bool
}

func init() {
	flags := runCommand.Flags()
	flags.SortFlags = false
	flags.StringVarP(&runConfiguration.config, "config", "c", defaultConfigPath, "Path to the configuration file")
	flags.BoolVarP(&runConfiguration.verbose, "verbose", "v", false, "Enable verbose (debug) logging")
}
