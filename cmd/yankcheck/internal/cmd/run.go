// Package cmd wires the yankcheck CLI together.
package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/yankcheck/yankcheck/cmd/yankcheck/scan"
	"github.com/yankcheck/yankcheck/internal/cmdlogger"
	"github.com/yankcheck/yankcheck/internal/version"
)

var (
	commit = "n/a"
	date   = "n/a"
)

func Run(args []string, stdout, stderr io.Writer) int {
	logHandler := cmdlogger.New(stdout, stderr)
	slog.SetDefault(slog.New(logHandler))

	cli.VersionPrinter = func(cmd *cli.Command) {
		cmdlogger.Infof("yankcheck version: %s", cmd.Version)
		cmdlogger.Infof("commit: %s", commit)
		cmdlogger.Infof("built at: %s", date)
	}

	app := &cli.Command{
		Name:           "yankcheck",
		Version:        version.Version,
		Usage:          "checks the packages of Cargo lockfiles for versions yanked from their registry",
		Suggest:        true,
		Writer:         stdout,
		ErrWriter:      stderr,
		DefaultCommand: "scan",
		Commands: []*cli.Command{
			scan.Command(stdout, stderr),
		},
	}

	// cli.HandleExitCoder duck-types errors that happen to have an
	// ExitCode() method and exits early without proper error handling, so
	// remove the handler entirely.
	app.ExitErrHandler = func(_ context.Context, _ *cli.Command, _ error) {}

	err := app.Run(context.Background(), args)
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrYankedPackagesFound):
			return 1
		case errors.Is(err, scan.ErrNoLockfilesFound):
			cmdlogger.Errorf("No lockfiles found, --help for usage information.")
			return 128
		}
		cmdlogger.Errorf("%v", err)
	}

	// if we've been told to print an error, and not already exited with
	// a specific error code, then exit with a generic non-zero code
	if logHandler.HasErrored() {
		return 127
	}

	return 0
}
