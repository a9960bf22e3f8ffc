package deviceclient

import (
	"fmt"
	"sort"
	"strings"
)

// Summary returns a one-line summary of the device status
func (s *DeviceStatus) Summary() string {
	return fmt.Sprintf("Sidelights %s, %s (FW: %s, slot %s)",
		s.Network.Mode, s.Network.Phase, s.Version.Version, s.OTA.RunningSlot)
}

// FormatNetwork returns the network section
func (s *DeviceStatus) FormatNetwork() string {
	var b strings.Builder

	b.WriteString("=== Network ===\n")
	b.WriteString(fmt.Sprintf("Mode:     %s\n", s.Network.Mode))
	b.WriteString(fmt.Sprintf("Phase:    %s\n", s.Network.Phase))
	if s.Network.SSID != "" {
		b.WriteString(fmt.Sprintf("Network:  %s\n", s.Network.SSID))
	}
	if s.Network.Addr != "" {
		b.WriteString(fmt.Sprintf("Address:  %s\n", s.Network.Addr))
	}
	if s.Network.RetryCount > 0 {
		b.WriteString(fmt.Sprintf("Retries:  %d\n", s.Network.RetryCount))
	}

	return b.String()
}

// FormatFirmware returns the firmware and slot section
func (s *DeviceStatus) FormatFirmware() string {
	var b strings.Builder

	b.WriteString("=== Firmware ===\n")
	b.WriteString(fmt.Sprintf("Version:  %s (%s)\n", s.Version.Version, s.Version.Commit))
	b.WriteString(fmt.Sprintf("Running:  %s\n", s.OTA.RunningSlot))
	b.WriteString(fmt.Sprintf("Boot:     %s\n", s.OTA.BootSlot))
	b.WriteString(fmt.Sprintf("Updater:  %s\n", s.OTA.State))
	if s.OTA.LastOutcome != "" {
		b.WriteString(fmt.Sprintf("Last update: %s\n", s.OTA.LastOutcome))
	}
	if s.OTA.LastError != "" {
		b.WriteString(fmt.Sprintf("Last error: %s\n", s.OTA.LastError))
	}
	b.WriteString("\nSlot   | Valid | Size       | Written\n")
	b.WriteString("-------+-------+------------+---------------------\n")
	for _, slot := range s.OTA.Slots {
		written := "-"
		if slot.Valid && !slot.WrittenAt.IsZero() {
			written = slot.WrittenAt.Local().Format("2006-01-02 15:04:05")
		}
		b.WriteString(fmt.Sprintf("%-6s | %-5v | %10d | %s\n", slot.Label, slot.Valid, slot.Size, written))
	}

	return b.String()
}

// FormatLights returns the light states in name order
func (s *DeviceStatus) FormatLights() string {
	var b strings.Builder

	b.WriteString("=== Lights ===\n")
	if len(s.Lights) == 0 {
		b.WriteString("(none configured)\n")
		return b.String()
	}
	names := make([]string, 0, len(s.Lights))
	for name := range s.Lights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "off"
		if s.Lights[name] {
			state = "on"
		}
		b.WriteString(fmt.Sprintf("%-8s %s\n", name+":", state))
	}

	return b.String()
}

// FormatDetailed returns every section
func (s *DeviceStatus) FormatDetailed() string {
	var b strings.Builder

	b.WriteString(s.FormatNetwork())
	b.WriteString("\n")
	b.WriteString(s.FormatFirmware())
	b.WriteString("\n")
	b.WriteString(s.FormatLights())

	return b.String()
}
