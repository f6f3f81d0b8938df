package core

// ProgressTracker receives per-control progress from the engine.
// Implementations live in the tui package.
type ProgressTracker interface {
	Increment(message string)
	SetTotal(total int)
	Complete()
	Fail(err error)
}

// noopProgress is used when no tracker is configured.
type noopProgress struct{}

func (noopProgress) Increment(string) {}
func (noopProgress) SetTotal(int)     {}
func (noopProgress) Complete()        {}
func (noopProgress) Fail(error)       {}
