package main

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ghisgit/media-organizer/internal/cliutil"
	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/scanner"
	"github.com/ghisgit/media-organizer/internal/supervisor"
)

func processMain(_ *cobra.Command, _ []string) error {
	if processConfiguration.verbose {
		mlog.SetLevel(mlog.LevelDebug)
	}

	files := processConfiguration.files
	dir := processConfiguration.dir
	if (len(files) == 0) == (dir == "") {
		return errors.New("exactly one of --file or --dir must be given")
	}

	oneShot, err := supervisor.NewOneShot(processConfiguration.config, processConfiguration.test)
	if err != nil {
		return errors.Wrap(err, "unable to initialize")
	}
	defer oneShot.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oneShot.Run(ctx)

	admitted := 0
	if dir != "" {
		err = scanner.Scan(dir, scanner.Options{}, func(candidate scanner.Candidate) error {
			oneShot.Admit(candidate.Path)
			admitted++
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "unable to scan directory")
		}
	} else {
		for _, file := range files {
			oneShot.Admit(file)
			admitted++
		}
	}

	if admitted == 0 {
		cliutil.Warning("no matching files to process")
		return nil
	}

	snap := oneShot.Drain(ctx)

	color.Green("processed %d, succeeded %d, failed %d", snap.Processed, snap.Succeeded, snap.Failed)
	if snap.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

// processCommand is the one-shot entry point: it identifies and publishes a
// fixed set of files (--file, repeatable) or every matching file in a
// directory (--dir) and exits, rather than watching continuously (spec.md
// §6).
var processCommand = &cobra.Command{
	Use:          "process",
	Short:        "Process a fixed set of files or a directory and exit",
	Args:         cliutil.DisallowArguments,
	RunE:         processMain,
	SilenceUsage: true,
}

var processConfiguration struct {
	config  string
	verbose bool
	test    bool
	files   []string
	dir     string
}

func init() {
	flags := processCommand.Flags()
	flags.SortFlags = false
	flags.StringVarP(&processConfiguration.config, "config", "c", defaultConfigPath, "Path to the configuration file")
	flags.BoolVarP(&processConfiguration.verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	flags.BoolVar(&processConfiguration.test, "test", false, "Dry run: identify and report without publishing")
	flags.StringSliceVar(&processConfiguration.files, "file", nil, "Process this file (repeatable); mutually exclusive with --dir")
	flags.StringVar(&processConfiguration.dir, "dir", "", "Process every matching file under this directory; mutually exclusive with --file")
}
