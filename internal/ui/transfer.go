package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrTransferInterrupted is returned when the user quits a transfer view
var ErrTransferInterrupted = errors.New("transfer interrupted")

// TransferProgressMsg reports bytes sent so far
type TransferProgressMsg struct {
	Sent  int64
	Total int64
}

// TransferDoneMsg ends the transfer view
type TransferDoneMsg struct {
	Err error
}

// TransferModel is a Bubble Tea model showing an upload progress bar
type TransferModel struct {
	label   string
	bar     progress.Model
	sent    int64
	total   int64
	started time.Time
	done    bool
	err     error
}

// NewTransferModel creates a model for an upload of total bytes
func NewTransferModel(label string, total int64) TransferModel {
	return TransferModel{
		label:   label,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total:   total,
		started: time.Now(),
	}
}

// Init implements tea.Model
func (m TransferModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TransferProgressMsg:
		m.sent = msg.Sent
		if msg.Total > 0 {
			m.total = msg.Total
		}
		return m, nil

	case TransferDoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.done = true
			m.err = ErrTransferInterrupted
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		w := clampWidth(msg.Width) - 30
		if w < 20 {
			w = 20
		}
		m.bar.Width = w
	}
	return m, nil
}

// Fraction is the share of the image sent, 0 when the size is unknown
func (m TransferModel) Fraction() float64 {
	if m.total <= 0 {
		return 0
	}
	f := float64(m.sent) / float64(m.total)
	if f > 1 {
		f = 1
	}
	return f
}

// Err is the outcome once the view has quit
func (m TransferModel) Err() error {
	return m.err
}

// View implements tea.Model
func (m TransferModel) View() string {
	var b strings.Builder
	b.WriteString(ProgressLabelStyle.Render(m.label))
	b.WriteString("\n\n  ")
	b.WriteString(m.bar.ViewAs(m.Fraction()))
	b.WriteString(fmt.Sprintf("  %s / %s", FormatBytes(m.sent), FormatBytes(m.total)))

	if elapsed := time.Since(m.started).Seconds(); elapsed > 0 && m.sent > 0 {
		b.WriteString(StepNoteStyle.Render(fmt.Sprintf("  %s/s", FormatBytes(int64(float64(m.sent)/elapsed)))))
	}
	b.WriteString("\n")

	if m.done {
		if m.err != nil {
			b.WriteString(ErrorMessageStyle.Render("  " + FailureMarker + " " + m.err.Error()))
		} else {
			b.WriteString(StepCompleteStyle.Render("  " + SuccessMarker + " sent"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ReportFunc receives upload progress
type ReportFunc func(sent, total int64)

// RunTransfer runs op while rendering a progress bar to out. op's error is
// returned; quitting the view cancels op's context.
func RunTransfer(ctx context.Context, out io.Writer, label string, total int64, op func(ctx context.Context, report ReportFunc) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewTransferModel(label, total), tea.WithOutput(out))

	go func() {
		err := op(ctx, func(sent, total int64) {
			p.Send(TransferProgressMsg{Sent: sent, Total: total})
		})
		p.Send(TransferDoneMsg{Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(TransferModel).Err()
}

// FormatBytes renders n with a binary unit (e.g., "1.5 MiB")
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
