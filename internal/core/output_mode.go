package core

// OutputMode controls how output is displayed
type OutputMode int

// OutputMode constants define available output formatting modes.
const (
	OutputNormal OutputMode = iota // Default: styled report
	OutputQuiet                    // Summary line only
	OutputJSON                     // Wire-format report on stdout
)

// NonInteractiveFlags groups all non-interactive options
type NonInteractiveFlags struct {
	Yes  bool       // Auto-approve prompts such as report overwrite
	Mode OutputMode // Output formatting mode
}

// ResolveOutputMode picks the mode from the --json and --quiet flags.
// JSON wins when both are set.
func ResolveOutputMode(jsonFlag, quiet bool) OutputMode {
	switch {
	case jsonFlag:
		return OutputJSON
	case quiet:
		return OutputQuiet
	default:
		return OutputNormal
	}
}

// Interactive reports whether prompts may be shown.
func (f NonInteractiveFlags) Interactive() bool {
	return !f.Yes && f.Mode == OutputNormal
}
