package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Device represents a Sidelights controller found on the network
type Device struct {
	// Name is the mDNS host label (e.g., "sidelights")
	Name string

	// Hostname is the full mDNS hostname (e.g., "sidelights.local.")
	Hostname string

	// Instance is the advertised service instance name
	Instance string

	// IP is the preferred address, IPv4 when available
	IP string

	// Port is the HTTP port (typically 80)
	Port int

	// Metadata contains the mDNS TXT record data
	// Common fields: "app=sidelights", "version=1.2.0", "path=/"
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("Sidelights %s (%s) at %s", d.Name, d.Hostname, net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
}

// BaseURL returns the HTTP base URL for the device
func (d *Device) BaseURL() string {
	return "http://" + net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}
