package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/galah-group/galah-installer/internal/config"
)

// Version, Commit, and BuildDate are overridden at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	runMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

// exitError carries a specific exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// execute runs the CLI with the provided args and output writers.
func execute(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd()
	if len(args) > 1 {
		cmd.SetArgs(args[1:])
	} else {
		cmd.SetArgs([]string{})
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

// runMain executes the CLI and exits non-zero on failure.
func runMain(args []string, stdout, stderr io.Writer, exit func(int)) {
	err := execute(args, stdout, stderr)
	if err == nil {
		return
	}

	_, _ = fmt.Fprintf(stderr, "Error: %s\n", config.FormatError(err, hasVerbose(args)))
	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	exit(code)
}

func hasVerbose(args []string) bool {
	for _, a := range args {
		if a == "--verbose" || a == "-v" {
			return true
		}
	}
	return false
}
