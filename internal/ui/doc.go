// Package ui renders the terminal output of sidelightsctl.
//
// Output follows a "run once and exit" pattern built on Lipgloss: a Header
// names the operation and its parameters, a step list reports progress, and a
// Result box closes the run. Runner ties the three together:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Provisioning",
//	    Command: "sidelightsctl provision --ssid home",
//	    Params:  map[string]string{"Device": "192.168.4.1:80"},
//	    Steps:   []string{"Send credentials", "Wait for station address"},
//	})
//
//	err := runner.Run(func(onStep ui.StepCallback) (map[string]string, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, ui.StepComplete, "")
//	    return map[string]string{"SSID": "home"}, nil
//	})
//
// Firmware uploads use RunTransfer instead, a Bubble Tea program whose
// progress bar is fed from the upload goroutine via tea.Program.Send.
//
// Destructive operations ask first through Confirmation, which requires the
// user to type a phrase.
//
// Logging stays silent unless SIDELIGHTS_LOG_LEVEL is set, so the rendered
// output is not interleaved with zap lines.
package ui
