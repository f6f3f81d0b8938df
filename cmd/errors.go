package cmd

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/core"
)

// reportedError wraps an error the command already presented, as a JSON
// envelope or a report, so the caller only has to pick the exit code.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// IsReported reports whether err was already written to the user.
func IsReported(err error) bool {
	var target *reportedError
	return errors.As(err, &target)
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	return core.CLIExitCodeForError(err)
}

// failJSON writes the error envelope to w and marks err as reported.
func failJSON(w io.Writer, err error) error {
	core.WriteCLIError(w, err)
	return &reportedError{err: err}
}

// usageArgs makes positional argument violations exit as invalid arguments.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &core.InvalidArgumentsError{Message: err.Error()}
		}
		return nil
	}
}

func flagError(_ *cobra.Command, err error) error {
	return &core.InvalidArgumentsError{Message: err.Error()}
}
