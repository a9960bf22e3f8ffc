package ui

import (
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig describes an operation for Runner
type RunnerConfig struct {
	Title   string            // e.g., "Provisioning"
	Command string            // shown under the title
	Params  map[string]string // shown in the header
	Steps   []string          // step names, in order
	Output  io.Writer         // default os.Stdout

	// Troubleshooting returns tips for a failed run; nil prints none
	Troubleshooting func(err error) []string
}

// Runner prints a header, reports step progress while the operation runs,
// then prints a result box
type Runner struct {
	config   RunnerConfig
	progress *Progress
	out      io.Writer
	width    int
}

// NewRunner creates a runner sized to the current terminal
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()
	return &Runner{
		config:   config,
		progress: NewProgress("", config.Steps).SetWidth(width),
		out:      config.Output,
		width:    width,
	}
}

// Operation performs the work, reporting through onStep, and returns the
// details shown in the success box
type Operation func(onStep StepCallback) (map[string]string, error)

// Run executes op and returns its error
func (r *Runner) Run(op Operation) error {
	start := time.Now()

	_, _ = fmt.Fprintln(r.out, NewHeader(r.config.Title, r.config.Command, r.config.Params).SetWidth(r.width).Render())
	_, _ = fmt.Fprintln(r.out)

	details, err := op(r.onStep)
	elapsed := time.Since(start).Round(time.Millisecond).String()

	_, _ = fmt.Fprintln(r.out)
	if err != nil {
		var tips []string
		if r.config.Troubleshooting != nil {
			tips = r.config.Troubleshooting(err)
		}
		res := NewFailureResult(r.config.Title+" failed", err, tips).SetWidth(r.width)
		res.AddDetail("Duration", elapsed)
		_, _ = fmt.Fprintln(r.out, res.Render())
		return err
	}

	res := NewSuccessResult(r.config.Title+" complete", details).SetWidth(r.width)
	res.AddDetail("Duration", elapsed)
	_, _ = fmt.Fprintln(r.out, res.Render())
	return nil
}

// Steps returns the current step list
func (r *Runner) Steps() []Step {
	return append([]Step(nil), r.progress.Steps...)
}

func (r *Runner) onStep(number int, status StepStatus, message string) {
	if number < 1 || number > len(r.progress.Steps) {
		return
	}
	r.progress.Update(number, status, message)
	line := r.progress.renderStep(r.progress.Steps[number-1])

	// a running line is overwritten by the step's final state
	if status.finished() {
		_, _ = fmt.Fprintln(r.out, line)
	} else if status == StepRunning {
		_, _ = fmt.Fprint(r.out, line+"\r")
	}
}
