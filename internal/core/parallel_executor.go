package core

import (
	"context"
	"runtime"
	"sync"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// ControlOutcome pairs a control with the result it produced.
type ControlOutcome struct {
	Control Control
	Result  *types.ControlResult
}

// RunControlFunc runs a single control and always returns a result.
// ctx controls cancellation for this control.
type RunControlFunc func(ctx context.Context, c Control) *types.ControlResult

// ParallelExecutor runs controls on a bounded worker pool.
type ParallelExecutor struct {
	maxWorkers int
}

// NewParallelExecutor creates a new parallel executor. workers <= 0 selects
// one worker per CPU.
func NewParallelExecutor(workers int) *ParallelExecutor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	// Limit to a reasonable maximum to avoid overwhelming the system
	if workers > 8 {
		workers = 8
	}

	return &ParallelExecutor{maxWorkers: workers}
}

// Workers returns the configured worker count.
func (p *ParallelExecutor) Workers() int {
	return p.maxWorkers
}

// Execute runs every control through run and returns the outcomes in
// completion order. onResult, when non-nil, is called from the worker
// goroutine as soon as each control finishes, so it must be safe for
// concurrent use. With one worker the controls run in the given order.
func (p *ParallelExecutor) Execute(
	ctx context.Context,
	controls []Control,
	run RunControlFunc,
	onResult func(ControlOutcome),
) []ControlOutcome {
	if len(controls) == 0 {
		return nil
	}

	// Don't use more workers than controls
	workerCount := p.maxWorkers
	if workerCount > len(controls) {
		workerCount = len(controls)
	}

	jobs := make(chan Control, len(controls))
	results := make(chan ControlOutcome, len(controls))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, jobs, results, run, onResult)
	}

	for _, c := range controls {
		jobs <- c
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]ControlOutcome, 0, len(controls))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// worker processes controls from the jobs channel.
// ctx controls cancellation, checked before each control.
func (p *ParallelExecutor) worker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan Control,
	results chan<- ControlOutcome,
	run RunControlFunc,
	onResult func(ControlOutcome),
) {
	defer wg.Done()

	for c := range jobs {
		var result *types.ControlResult
		// Short-circuit if context is cancelled
		if err := ctx.Err(); err != nil {
			result = Errorf(c.Info(), "scan cancelled: %v", err)
		} else {
			result = run(ctx, c)
		}

		outcome := ControlOutcome{Control: c, Result: result}
		if onResult != nil {
			onResult(outcome)
		}
		results <- outcome
	}
}
