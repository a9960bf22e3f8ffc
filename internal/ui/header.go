package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner printed before an operation runs
type Header struct {
	Title   string            // e.g., "Firmware Push"
	Command string            // e.g., "sidelightsctl push --device porch fw.bin"
	Params  map[string]string // e.g., {"Device": "192.168.1.50:80", "Image": "fw.bin"}
	Width   int
}

// NewHeader creates a header sized to the current terminal
func NewHeader(title, command string, params map[string]string) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth overrides the render width
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the bordered header. Params are listed in key order.
func (h *Header) Render() string {
	width := clampWidth(h.Width)

	sections := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
	}
	if h.Command != "" {
		sections = append(sections, HeaderCommandStyle.Render(h.Command))
	}

	if len(h.Params) > 0 {
		sections = append(sections, RenderHorizontalDivider(width-6, "─"))
		for _, key := range sortedKeys(h.Params) {
			sections = append(sections,
				HeaderParamKeyStyle.Render(key+":")+" "+HeaderParamValueStyle.Render(h.Params[key]))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
