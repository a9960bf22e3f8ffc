package radio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
)

const (
	// HotspotConnection is the NetworkManager connection name for the AP
	HotspotConnection = "sidelights-ap"

	nmcliTimeout = 15 * time.Second
)

// Runner executes a command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives the radio through NetworkManager's command line client.
// Station and access point run on separate interfaces so dual mode works
// on hardware that exposes a virtual AP interface.
type NMCLI struct {
	StationInterface string
	APInterface      string
	Run              Runner

	mu      sync.Mutex
	mode    Mode
	ap      APConfig
	station StationConfig
}

// NewNMCLI creates an nmcli driver for the given interfaces
func NewNMCLI(stationIface, apIface string) *NMCLI {
	return &NMCLI{
		StationInterface: stationIface,
		APInterface:      apIface,
		Run:              execRunner,
	}
}

func (n *NMCLI) nmcli(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()

	out, err := n.Run(ctx, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli %s: %w: %s", redact(args), err, strings.TrimSpace(string(out)))
	}
	logging.Debug("nmcli", zap.String("args", redact(args)))
	return nil
}

// redact hides the argument following "password"
func redact(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "password" {
			out[i+1] = "***"
		}
	}
	return strings.Join(out, " ")
}

// SetMode implements Driver
func (n *NMCLI) SetMode(mode Mode) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode
	return nil
}

// ConfigureAP implements Driver
func (n *NMCLI) ConfigureAP(cfg APConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ap = cfg
	return nil
}

// ConfigureStation implements Driver
func (n *NMCLI) ConfigureStation(cfg StationConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.station = cfg
	return nil
}

// Start brings up the hotspot when the mode includes AP and tears it down
// otherwise
func (n *NMCLI) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.mode.HasAP() {
		n.hotspotDown()
		return nil
	}

	args := []string{"device", "wifi", "hotspot",
		"ifname", n.APInterface,
		"con-name", HotspotConnection,
		"ssid", n.ap.SSID,
	}
	if !n.ap.Open() {
		args = append(args, "password", n.ap.Password)
	}
	return n.nmcli(args...)
}

// Stop takes down both sides of the radio
func (n *NMCLI) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.hotspotDown()
	if err := n.nmcli("device", "disconnect", n.StationInterface); err != nil {
		// Disconnecting an idle interface fails; nothing to undo
		logging.Debug("Station disconnect ignored", zap.Error(err))
	}
	return nil
}

func (n *NMCLI) hotspotDown() {
	if err := n.nmcli("connection", "down", HotspotConnection); err != nil {
		logging.Debug("Hotspot down ignored", zap.Error(err))
	}
}

// Connect asks NetworkManager to join the station network without waiting
// for activation; link and address events report the outcome.
func (n *NMCLI) Connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.mode.HasStation() {
		return fmt.Errorf("station side not enabled (mode %s)", n.mode)
	}
	if n.station.SSID == "" {
		return fmt.Errorf("station not configured")
	}

	args := []string{"--wait", "0", "device", "wifi", "connect", n.station.SSID}
	if n.station.Password != "" {
		args = append(args, "password", n.station.Password)
	}
	args = append(args, "ifname", n.StationInterface)
	return n.nmcli(args...)
}
