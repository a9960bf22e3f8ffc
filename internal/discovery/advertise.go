package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// AdvertiserConfig describes what a controller publishes over mDNS
type AdvertiserConfig struct {
	Host     string // host label, published as <Host>.local
	Instance string // service instance name
	Port     int
	Version  string
	// Interfaces restricts advertising to the named interfaces; empty means all
	Interfaces []string
}

// Advertiser publishes the controller's hostname and HTTP service
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
	ips    []string
}

// NewAdvertiser creates an advertiser; nothing is published until Advertise
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	return &Advertiser{config: config}
}

// TXT returns the TXT records published with the service
func (a *Advertiser) TXT() []string {
	txt := []string{"app=" + AppTag, "path=/"}
	if a.config.Version != "" {
		txt = append(txt, "version="+a.config.Version)
	}
	return txt
}

func (a *Advertiser) interfaces() []net.Interface {
	var out []net.Interface
	for _, name := range a.config.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			continue
		}
		out = append(out, *iface)
	}
	return out
}

// Advertise (re)publishes the service for the given addresses, replacing any
// previous registration
func (a *Advertiser) Advertise(ips []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(ips) == 0 {
		return fmt.Errorf("no addresses to advertise for %s.local", a.config.Host)
	}

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.RegisterProxy(
		a.config.Instance,
		ServiceType,
		ServiceDomain,
		a.config.Port,
		a.config.Host,
		ips,
		a.TXT(),
		a.interfaces(),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s.local: %w", a.config.Host, err)
	}

	a.server = server
	a.ips = append([]string(nil), ips...)
	return nil
}

// Addresses returns the addresses currently advertised
func (a *Advertiser) Addresses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ips...)
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.ips = nil
}

// InterfaceAddrs returns the unicast addresses assigned to the named
// interfaces, skipping interfaces that do not exist
func InterfaceAddrs(names ...string) []string {
	var out []string
	for _, name := range names {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, ipnet.IP.String())
		}
	}
	return out
}
