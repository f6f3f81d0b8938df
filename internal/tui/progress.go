package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

var (
	progressStyleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	progressStyleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	progressStyleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	progressStyleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// finishWait bounds how long Complete and Fail wait for the final frame.
const finishWait = 500 * time.Millisecond

// NewProgressTracker picks a tracker for the output mode: an animated bar on
// a terminal, plain lines on a pipe, nothing in quiet or JSON mode. Progress
// always goes to stderr.
func NewProgressTracker(mode core.OutputMode, label string) core.ProgressTracker {
	if mode != core.OutputNormal {
		return NewNoOpProgressTracker()
	}
	if IsTerminal(os.Stderr) {
		return NewBarProgressTracker(label)
	}
	return NewLineProgressTracker(os.Stderr, label)
}

// controlTally counts controls as the engine reports them. The engine sends
// "<control id> <status>" per finished control.
type controlTally struct {
	done     int
	total    int
	failing  []string
	lastLine string
}

func (t *controlTally) record(message string) {
	t.done++
	t.lastLine = message
	id, status, ok := strings.Cut(message, " ")
	if !ok {
		return
	}
	switch types.ControlStatus(status) {
	case types.StatusFail, types.StatusError:
		t.failing = append(t.failing, id)
	}
}

func (t *controlTally) summary() string {
	s := fmt.Sprintf("%d/%d controls", t.done, t.total)
	if n := len(t.failing); n > 0 {
		s += fmt.Sprintf(", %d not passing (%s)", n, strings.Join(t.failing, ", "))
	}
	return s
}

// ========================================
// Bubbletea scan bar
// ========================================

type scanModel struct {
	label  string
	tally  controlTally
	done   bool
	failed bool
	err    error
	bar    progress.Model
}

func newScanModel(label string) scanModel {
	return scanModel{
		label: label,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m scanModel) Init() tea.Cmd {
	return nil
}

func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width < 80 {
			m.bar.Width = 20
		} else {
			m.bar.Width = 40
		}
	case controlDoneMsg:
		m.tally.failing = append([]string(nil), m.tally.failing...)
		m.tally.record(string(msg))
	case controlTotalMsg:
		m.tally.total = int(msg)
	case scanDoneMsg:
		m.done = true
		return m, tea.Quit
	case scanFailedMsg:
		m.failed = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m scanModel) percent() float64 {
	if m.tally.total <= 0 {
		return 0
	}
	p := float64(m.tally.done) / float64(m.tally.total)
	if p > 1 {
		return 1
	}
	return p
}

func (m scanModel) View() string {
	switch {
	case m.failed:
		return progressStyleErr.Render(fmt.Sprintf("✗ %s: %v", m.label, m.err)) + "\n"
	case m.done && len(m.tally.failing) > 0:
		return progressStyleWarn.Render(fmt.Sprintf("! %s: %s", m.label, m.tally.summary())) + "\n"
	case m.done:
		return progressStyleSuccess.Render(fmt.Sprintf("✓ %s: %s", m.label, m.tally.summary())) + "\n"
	}

	status := fmt.Sprintf("%s %d/%d", m.bar.ViewAs(m.percent()), m.tally.done, m.tally.total)
	if m.tally.lastLine != "" {
		status += " " + m.tally.lastLine
	}
	return progressStyleTitle.Render(m.label) + "\n" + status
}

type (
	controlDoneMsg  string
	controlTotalMsg int
	scanDoneMsg     struct{}
	scanFailedMsg   struct{ err error }
)

// BarProgressTracker renders scan progress as an animated bar on stderr.
type BarProgressTracker struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

// NewBarProgressTracker starts the bar in the background.
func NewBarProgressTracker(label string) *BarProgressTracker {
	p := tea.NewProgram(newScanModel(label), tea.WithOutput(os.Stderr), tea.WithInput(nil))
	t := &BarProgressTracker{program: p, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		_, _ = p.Run()
	}()
	return t
}

func (t *BarProgressTracker) Increment(message string) { t.program.Send(controlDoneMsg(message)) }
func (t *BarProgressTracker) SetTotal(total int)       { t.program.Send(controlTotalMsg(total)) }
func (t *BarProgressTracker) Complete()                { t.finish(scanDoneMsg{}) }
func (t *BarProgressTracker) Fail(err error)           { t.finish(scanFailedMsg{err: err}) }

func (t *BarProgressTracker) finish(msg tea.Msg) {
	t.once.Do(func() {
		t.program.Send(msg)
		select {
		case <-t.done:
		case <-time.After(finishWait):
		}
	})
}

// ========================================
// Line output (non-TTY)
// ========================================

// LineProgressTracker prints one line per finished control.
type LineProgressTracker struct {
	mu    sync.Mutex
	out   io.Writer
	label string
	tally controlTally
}

func NewLineProgressTracker(out io.Writer, label string) *LineProgressTracker {
	fmt.Fprintf(out, "%s\n", label)
	return &LineProgressTracker{out: out, label: label}
}

func (t *LineProgressTracker) Increment(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tally.record(message)
	line := fmt.Sprintf("  [%d/%d]", t.tally.done, t.tally.total)
	if message != "" {
		line += " " + message
	}
	fmt.Fprintln(t.out, line)
}

func (t *LineProgressTracker) SetTotal(total int) {
	t.mu.Lock()
	t.tally.total = total
	t.mu.Unlock()
}

func (t *LineProgressTracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Done: %s\n", t.tally.summary())
}

func (t *LineProgressTracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Scan aborted: %v\n", err)
}

// NoOpProgressTracker is used in quiet and JSON modes and by tests.
type NoOpProgressTracker struct{}

func NewNoOpProgressTracker() *NoOpProgressTracker { return &NoOpProgressTracker{} }

func (*NoOpProgressTracker) Increment(string) {}
func (*NoOpProgressTracker) SetTotal(int)     {}
func (*NoOpProgressTracker) Complete()        {}
func (*NoOpProgressTracker) Fail(error)       {}
