// Package scan implements the `scan` command for yankcheck.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/yankcheck/yankcheck/internal/cargolock"
	"github.com/yankcheck/yankcheck/internal/cmdlogger"
	"github.com/yankcheck/yankcheck/internal/output"
	"github.com/yankcheck/yankcheck/pkg/crates"
)

var (
	// ErrYankedPackagesFound means the scan completed and at least one
	// package version has been yanked from its registry.
	ErrYankedPackagesFound = errors.New("yanked packages found")

	// ErrNoLockfilesFound means nothing was given to scan.
	ErrNoLockfilesFound = errors.New("no lockfiles found")
)

var outputFormats = []string{"table", "json"}

func Command(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Usage:       "checks the packages of Cargo lockfiles for versions yanked from their registry.",
		Description: "checks the packages of Cargo lockfiles for versions yanked from their registry.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:      "lockfile",
				Aliases:   []string{"L"},
				Usage:     "check the Cargo.lock on this path",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "sets the output format; value can be: " + strings.Join(outputFormats, ", "),
				Value:   "table",
				Action: func(_ context.Context, _ *cli.Command, s string) error {
					if !slices.Contains(outputFormats, s) {
						return fmt.Errorf("unsupported output format \"%s\" - must be one of: %s", s, strings.Join(outputFormats, ", "))
					}

					return nil
				},
			},
			&cli.StringFlag{
				Name:      "output",
				Usage:     "saves the result to the given file path",
				TakesFile: true,
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "answer only from the local index clone or sparse cache, without network access",
			},
			&cli.StringFlag{
				Name:  "registry",
				Usage: "URL of the registry index to query; defaults to the index recorded in the lockfile",
			},
			&cli.DurationFlag{
				Name:  "lock-timeout",
				Usage: "how long to wait for the filesystem lock on a local index clone; 0 fails immediately",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "specify the level of information that should be provided during runtime; value can be: " + strings.Join(cmdlogger.Levels(), ", "),
				Value: "info",
			},
		},
		ArgsUsage: "[directory1 directory2...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return action(ctx, cmd, stdout, stderr)
		},
	}
}

func action(ctx context.Context, cmd *cli.Command, stdout, stderr io.Writer) error {
	level, err := cmdlogger.ParseLevel(cmd.String("verbosity"))
	if err != nil {
		return err
	}
	cmdlogger.SetLevel(level)

	if cmd.String("format") == "json" && cmd.String("output") == "" {
		if handler, ok := slog.Default().Handler().(cmdlogger.CmdLogger); ok {
			handler.SendEverythingToStderr()
		}
	}

	lockfiles, err := findLockfiles(cmd)
	if err != nil {
		return err
	}

	var pkgs []crates.Package
	registry := cmd.String("registry")
	for _, path := range lockfiles {
		cmdlogger.Infof("Checking %s", path)

		parsed, err := cargolock.Packages(path)
		if err != nil {
			return err
		}
		pkgs = append(pkgs, parsed...)

		if registry == "" {
			registry, err = cargolock.RegistryURL(path)
			if err != nil {
				return err
			}
		}
	}

	opts := crates.Options{
		Location:    registry,
		LockTimeout: cmd.Duration("lock-timeout"),
	}

	var idx *crates.CachedIndex
	if cmd.Bool("offline") {
		idx, err = crates.Open(ctx, opts)
	} else {
		idx, err = crates.Fetch(ctx, opts)
	}
	if err != nil {
		return err
	}

	results := idx.FindYanked(ctx, pkgs)

	if err := printResults(results, stdout, cmd.String("format"), cmd.String("output")); err != nil {
		return err
	}

	yanked, failed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			yanked++
		}
	}

	if failed > 0 {
		cmdlogger.Errorf("Failed to check %d of %d packages", failed, len(pkgs))
	}
	if yanked > 0 {
		return ErrYankedPackagesFound
	}

	return nil
}

// findLockfiles resolves the --lockfile flags and directory arguments into
// concrete Cargo.lock paths, defaulting to the working directory.
func findLockfiles(cmd *cli.Command) ([]string, error) {
	lockfiles := cmd.StringSlice("lockfile")

	dirs := cmd.Args().Slice()
	if len(dirs) == 0 && len(lockfiles) == 0 {
		dirs = []string{"."}
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, "Cargo.lock")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s has no Cargo.lock", ErrNoLockfilesFound, dir)
		}
		lockfiles = append(lockfiles, path)
	}

	if len(lockfiles) == 0 {
		return nil, ErrNoLockfilesFound
	}

	return lockfiles, nil
}

func printResults(results []crates.Result, stdout io.Writer, format, outputPath string) error {
	termWidth := 0

	if outputPath != "" { // Output is definitely a file
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		stdout = file
	} else { // Output might be a terminal
		if stdoutAsFile, ok := stdout.(*os.File); ok {
			var err error
			termWidth, _, err = term.GetSize(int(stdoutAsFile.Fd()))
			if err != nil { // If output is not a terminal,
				termWidth = 0
			}
		}
	}

	if format == "json" {
		return output.PrintJSONResults(results, stdout)
	}

	if len(results) == 0 {
		fmt.Fprintf(stdout, "No yanked packages found\n")
		return nil
	}

	output.PrintTableResults(results, stdout, termWidth)

	return nil
}
