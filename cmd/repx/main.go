package main

import (
	"fmt"
	"os"

	"github.com/repx-run/repx/internal/apperror"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level error to the process exit code the lab
// operator scripts against: 0 (all jobs succeeded) and 1 (one or more
// jobs failed, per run.go's own os.Exit) never reach here, since both are
// non-error or handled returns. What does reach here is either a cobra
// argument-parsing error (no apperror.Kind attached: bad flags, unknown
// subcommand, missing required arg) or an apperror from the run itself.
func exitCodeFor(err error) int {
	kind, ok := apperror.Of(err)
	if !ok {
		return 2
	}
	switch kind {
	case apperror.KindConfig, apperror.KindTransport:
		return 3
	default:
		return 1
	}
}
