package deviceclient

import (
	"strings"
	"time"

	"github.com/muurk/sidelights/internal/lights"
)

// DeviceStatus is the controller's GET /status response
type DeviceStatus struct {
	Version VersionInfo     `json:"version"`
	Network NetworkStatus   `json:"network"`
	OTA     OTAStatus       `json:"ota"`
	Lights  map[string]bool `json:"lights,omitempty"`
}

// VersionInfo identifies the running firmware build
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// NetworkStatus is the supervisor's network state
type NetworkStatus struct {
	Mode       string `json:"mode"`
	Phase      string `json:"phase"`
	RetryCount int    `json:"retry_count"`
	SSID       string `json:"ssid,omitempty"`
	Addr       string `json:"addr,omitempty"`
}

// OTAStatus describes the updater and its slots
type OTAStatus struct {
	State        string       `json:"state"`
	LastOutcome  string       `json:"last_outcome,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	TargetSlot   string       `json:"target_slot,omitempty"`
	BytesWritten int64        `json:"bytes_written"`
	RunningSlot  string       `json:"running_slot"`
	BootSlot     string       `json:"boot_slot"`
	Slots        []SlotStatus `json:"slots"`
	LastError    string       `json:"last_error,omitempty"`
}

// SlotStatus describes one firmware slot
type SlotStatus struct {
	Label     string    `json:"label"`
	Valid     bool      `json:"valid"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest,omitempty"`
	WrittenAt time.Time `json:"written_at"`
}

// RestartPending reports whether a committed image is waiting for a restart
func (s *DeviceStatus) RestartPending() bool {
	return s.OTA.BootSlot != s.OTA.RunningSlot || s.Network.Phase == "restart-pending"
}

// ParseLightArgs turns CLI arguments such as "light1=on" or "lights=off"
// into commands. Names are checked by the device.
func ParseLightArgs(args []string) ([]lights.Command, error) {
	if len(args) == 0 {
		return nil, inputError("no light commands given")
	}
	cmds := make([]lights.Command, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, inputError("invalid command %q: expected NAME=on|off", arg)
		}
		switch strings.ToLower(value) {
		case "on":
			cmds = append(cmds, lights.Command{Name: name, On: true})
		case "off":
			cmds = append(cmds, lights.Command{Name: name, On: false})
		default:
			return nil, inputError("invalid value %q for %s: expected on or off", value, name)
		}
	}
	return cmds, nil
}
