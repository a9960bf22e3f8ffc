package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// DefaultPhrase must be typed to confirm a destructive operation
const DefaultPhrase = "I AGREE"

// Confirmation is a warning box followed by a typed confirmation prompt
type Confirmation struct {
	Title      string
	Warnings   []string
	Disclaimer string
	Phrase     string // default DefaultPhrase
}

func (c Confirmation) phrase() string {
	if c.Phrase == "" {
		return DefaultPhrase
	}
	return c.Phrase
}

// Render returns the warning box
func (c Confirmation) Render(width int) string {
	lines := []string{
		"",
		lipgloss.NewStyle().Foreground(WarningColor).Bold(true).
			Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, c.Title)),
		"",
	}
	for _, w := range c.Warnings {
		lines = append(lines, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+w))
	}
	lines = append(lines, "")

	if c.Disclaimer != "" {
		lines = append(lines, lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true).
			Width(clampWidth(width)-12).
			PaddingLeft(3).
			Render(c.Disclaimer), "")
	}
	return boxStyle(WarningColor, width).Render(strings.Join(lines, "\n"))
}

// Ask prints the box to out and reads one line from in. It returns true only
// when the line matches the phrase.
func (c Confirmation) Ask(in io.Reader, out io.Writer) bool {
	_, _ = fmt.Fprintln(out, c.Render(GetTerminalWidth()))
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprint(out, lipgloss.NewStyle().Foreground(WarningColor).Bold(true).
		Render(fmt.Sprintf("To proceed, type %q and press Enter: ", c.phrase())))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.TrimSpace(input) == c.phrase() {
		return true
	}

	_, _ = fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Operation cancelled."))
	_, _ = fmt.Fprintln(out)
	return false
}

// ConfirmDangerousOperation asks on the process's stdin and stdout
func ConfirmDangerousOperation(c Confirmation) bool {
	return c.Ask(os.Stdin, os.Stdout)
}

// EraseConfirmation guards wiping the stored station credentials
func EraseConfirmation(path string) Confirmation {
	return Confirmation{
		Title: "ERASE STORED CREDENTIALS",
		Warnings: []string{
			"The WiFi SSID and password in " + path + " will be removed",
			"The controller will come up in provisioning mode on next start",
			"Someone will need to join its access point to set it up again",
		},
	}
}

// PushConfirmation guards replacing the firmware of a running controller
func PushConfirmation(device, image string, size int64) Confirmation {
	return Confirmation{
		Title: "FIRMWARE PUSH",
		Warnings: []string{
			fmt.Sprintf("%s (%s) will be written to the inactive slot of %s", image, FormatBytes(size), device),
			"The controller restarts into the new image when the upload completes",
			"Do not power off the controller during the upload",
		},
		Disclaimer: "Images are not signature checked. Only push images you built or trust.",
	}
}
