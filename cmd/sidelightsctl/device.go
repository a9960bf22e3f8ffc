package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/config"
	"github.com/muurk/sidelights/internal/deviceclient"
	"github.com/muurk/sidelights/internal/discovery"
	"github.com/muurk/sidelights/internal/logging"
)

// target is a resolved controller address
type target struct {
	Name string // host label, "" when addressed by IP
	IP   string
	Port int
}

func (t target) String() string {
	addr := net.JoinHostPort(t.IP, fmt.Sprint(t.Port))
	if t.Name == "" {
		return addr
	}
	return fmt.Sprintf("%s (%s)", t.Name, addr)
}

// resolver turns the --device value into an address
type resolver struct {
	registry *config.Registry
	port     int
	// find looks a controller up by host label over mDNS
	find func(ctx context.Context, name string) (*discovery.Device, error)
	// scan lists every controller on the network
	scan func(ctx context.Context) ([]*discovery.Device, error)
}

func newResolver(reg *config.Registry) *resolver {
	timeout := time.Duration(scanTimeout) * time.Second
	return &resolver{
		registry: reg,
		port:     devicePort,
		find: func(ctx context.Context, name string) (*discovery.Device, error) {
			s := discovery.NewScanner()
			s.Timeout = timeout
			return s.WaitForDeviceWithContext(ctx, name)
		},
		scan: func(ctx context.Context) ([]*discovery.Device, error) {
			s := discovery.NewScanner()
			s.Timeout = timeout
			return s.ScanForDevicesWithContext(ctx)
		},
	}
}

// Resolve returns the controller named by value. An IP is used as given;
// a nickname is mapped to its host label; a host label is looked up over
// mDNS. An empty value scans and succeeds only if one controller answers.
func (r *resolver) Resolve(ctx context.Context, value string) (target, error) {
	if ip := net.ParseIP(value); ip != nil {
		return target{IP: ip.String(), Port: r.port}, nil
	}

	if value == "" {
		devices, err := r.scan(ctx)
		if err != nil {
			return target{}, fmt.Errorf("scan failed: %w", err)
		}
		switch len(devices) {
		case 0:
			return target{}, fmt.Errorf("no controllers found; use --device to give an address")
		case 1:
			return r.found(devices[0]), nil
		default:
			names := make([]string, len(devices))
			for i, d := range devices {
				names[i] = d.Name
			}
			return target{}, fmt.Errorf("%d controllers found (%s); choose one with --device", len(devices), strings.Join(names, ", "))
		}
	}

	name := value
	if r.registry != nil {
		if host, ok := r.registry.ResolveNickname(value); ok {
			name = host
		}
	}

	d, err := r.find(ctx, name)
	if err != nil {
		// fall back to the last address this controller answered on
		if r.registry != nil {
			if known := r.registry.Lookup(name); known != nil && known.LastIP != "" {
				logging.Debug("mDNS lookup failed, using last known address",
					zap.String("device", name), zap.String("ip", known.LastIP), zap.Error(err))
				port := known.LastPort
				if port == 0 {
					port = r.port
				}
				return target{Name: name, IP: known.LastIP, Port: port}, nil
			}
		}
		return target{}, err
	}
	return r.found(d), nil
}

func (r *resolver) found(d *discovery.Device) target {
	if r.registry != nil {
		r.registry.Seen(d.Name, d.IP, d.Port)
	}
	return target{Name: d.Name, IP: d.IP, Port: d.Port}
}

// connect resolves --device and returns a client for it
func connect(ctx context.Context) (*deviceclient.Client, target, *config.Registry, error) {
	reg, err := config.OpenRegistry()
	if err != nil {
		logging.Warn("Ignoring unreadable device registry", zap.Error(err))
		reg = config.NewRegistry("")
	}

	t, err := newResolver(reg).Resolve(ctx, deviceFlag)
	if err != nil {
		return nil, target{}, nil, err
	}

	client := deviceclient.NewClient(t.IP, t.Port)
	client.SetTimeout(time.Duration(httpTimeout) * time.Second)
	return client, t, reg, nil
}

// remember records what a controller reported and saves the registry
func remember(reg *config.Registry, t target, st *deviceclient.DeviceStatus) {
	if reg == nil || t.Name == "" {
		return
	}
	reg.Seen(t.Name, t.IP, t.Port)
	if st != nil {
		reg.RecordFirmware(t.Name, st.Version.Version)
	}
	if err := reg.Save(); err != nil {
		logging.Warn("Failed to save device registry", zap.Error(err))
	}
}
