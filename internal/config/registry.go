package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RegistryFile is the registry's file name inside the user config directory
const RegistryFile = "controllers.yaml"

// Registry is sidelightsctl's record of controllers seen on the network,
// keyed by mDNS host label (e.g. "sidelights-porch").
type Registry struct {
	Version     int                    `yaml:"version"`
	Controllers map[string]*Controller `yaml:"controllers,omitempty"`

	path string
}

// Controller is what the operator knows about one controller
type Controller struct {
	Nickname     string    `yaml:"nickname,omitempty"`
	LastIP       string    `yaml:"last_ip,omitempty"`
	LastPort     int       `yaml:"last_port,omitempty"`
	LastSeen     time.Time `yaml:"last_seen,omitempty"`
	LastFirmware string    `yaml:"last_firmware,omitempty"` // version reported by /status
}

// ErrNicknameTaken is returned when a nickname already names another host
var ErrNicknameTaken = errors.New("nickname already in use")

// DefaultRegistryPath returns controllers.yaml in the user's config
// directory, e.g. $XDG_CONFIG_HOME/sidelights/controllers.yaml
func DefaultRegistryPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate user config directory: %w", err)
	}
	return filepath.Join(dir, "sidelights", RegistryFile), nil
}

// NewRegistry creates an empty registry that Save writes to path
func NewRegistry(path string) *Registry {
	return &Registry{Version: 1, Controllers: make(map[string]*Controller), path: path}
}

// OpenRegistry loads the registry from DefaultRegistryPath
func OpenRegistry() (*Registry, error) {
	path, err := DefaultRegistryPath()
	if err != nil {
		return nil, err
	}
	return LoadRegistry(path)
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry bound to the same path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	reg := NewRegistry(path)
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	if reg.Version != 1 {
		return nil, fmt.Errorf("unsupported registry version %d in %s", reg.Version, path)
	}
	if reg.Controllers == nil {
		reg.Controllers = make(map[string]*Controller)
	}
	return reg, nil
}

// Path returns the file Save writes to
func (r *Registry) Path() string {
	return r.path
}

// Save writes the registry back to its file through a temporary file and
// rename, so a crash never leaves it truncated
func (r *Registry) Save() error {
	if r.path == "" {
		return errors.New("registry has no file")
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	body, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	data := append([]byte("# Controllers seen by sidelightsctl. WiFi passwords are never stored here.\n"), body...)

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// Lookup returns the entry for host, or nil if it was never seen
func (r *Registry) Lookup(host string) *Controller {
	return r.Controllers[host]
}

func (r *Registry) entry(host string) *Controller {
	c, ok := r.Controllers[host]
	if !ok {
		c = &Controller{}
		r.Controllers[host] = c
	}
	return c
}

// Seen records that host answered at ip:port
func (r *Registry) Seen(host, ip string, port int) {
	c := r.entry(host)
	c.LastIP = ip
	c.LastPort = port
	c.LastSeen = time.Now()
}

// RecordFirmware stores the firmware version host last reported
func (r *Registry) RecordFirmware(host, version string) {
	if version == "" {
		return
	}
	r.entry(host).LastFirmware = version
}

// SetNickname names host; an empty nickname clears it. A nickname held by
// another host is refused with ErrNicknameTaken.
func (r *Registry) SetNickname(host, nickname string) error {
	if nickname != "" {
		if owner, ok := r.ResolveNickname(nickname); ok && owner != host {
			return fmt.Errorf("%w: %q names %s", ErrNicknameTaken, nickname, owner)
		}
	}
	r.entry(host).Nickname = nickname
	return nil
}

// ResolveNickname returns the host label carrying nickname
func (r *Registry) ResolveNickname(nickname string) (string, bool) {
	for host, c := range r.Controllers {
		if c.Nickname == nickname {
			return host, true
		}
	}
	return "", false
}

// Hosts returns every known host label in order
func (r *Registry) Hosts() []string {
	hosts := make([]string, 0, len(r.Controllers))
	for host := range r.Controllers {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
