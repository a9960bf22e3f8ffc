package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDevicePath is where sidelightsd looks for its configuration
	DefaultDevicePath = "/etc/sidelights/config.yaml"

	// DefaultDataDir holds the nvs image and the firmware slots
	DefaultDataDir = "/var/lib/sidelights"
)

// Radio drivers
const (
	DriverNMCLI     = "nmcli"
	DriverSimulated = "simulated"
)

// Light drivers
const (
	LightsGPIO      = "gpio"
	LightsSimulated = "simulated"
)

// Restart methods
const (
	RestartReboot = "reboot"
	RestartExit   = "exit"
)

// DeviceConfig is the controller daemon's configuration file
type DeviceConfig struct {
	Version      int           `yaml:"version"`
	Hostname     string        `yaml:"hostname"`      // mDNS host label, advertised as <hostname>.local
	InstanceName string        `yaml:"instance_name"` // mDNS service instance name
	HTTP         HTTPConfig    `yaml:"http"`
	Storage      StorageConfig `yaml:"storage"`
	Network      NetworkConfig `yaml:"network"`
	Lights       LightsConfig  `yaml:"lights"`
	Restart      RestartConfig `yaml:"restart"`
}

// HTTPConfig configures the local web interface
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-read deadline on request bodies
	SaveBodyLimit  int           `yaml:"save_body_limit"`
}

// StorageConfig locates the durable state
type StorageConfig struct {
	NVSPath       string `yaml:"nvs_path"`
	PartitionsDir string `yaml:"partitions_dir"`
	PartitionSize int64  `yaml:"partition_size"` // bytes per firmware slot
}

// NetworkConfig configures the radio and the retry policy
type NetworkConfig struct {
	Driver           string   `yaml:"driver"`
	StationInterface string   `yaml:"station_interface"`
	APInterface      string   `yaml:"ap_interface"`
	AP               APConfig `yaml:"ap"`
	// MaxRetries bounds reconnects before falling back to provisioning.
	// An explicit null retries forever.
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// APConfig is the provisioning access point
type APConfig struct {
	SSID           string `yaml:"ssid"`
	Password       string `yaml:"password"` // empty for an open network
	MaxConnections int    `yaml:"max_connections"`
}

// LightsConfig maps light names to GPIO lines. Presets name combinations
// of lines switched together, e.g. colours on an RGB strip.
type LightsConfig struct {
	Driver  string              `yaml:"driver"`
	Chip    string              `yaml:"chip"`
	Lines   map[string]int      `yaml:"lines"`
	Presets map[string][]string `yaml:"presets,omitempty"`
}

// RestartConfig selects how a restart request is carried out
type RestartConfig struct {
	Method string        `yaml:"method"`
	Grace  time.Duration `yaml:"grace"` // delay so the last response can be flushed
}

// DefaultMaxRetries is the reconnect budget used when the file does not set one
const DefaultMaxRetries = 10

// DefaultRequestTimeout bounds each body read on the controller's HTTP server
const DefaultRequestTimeout = 5 * time.Second

// NewDeviceConfig returns the configuration used when no file exists
func NewDeviceConfig() *DeviceConfig {
	maxRetries := DefaultMaxRetries
	return &DeviceConfig{
		Version:      1,
		Hostname:     "sidelights",
		InstanceName: "Sidelights Application",
		HTTP: HTTPConfig{
			Listen:         ":80",
			RequestTimeout: DefaultRequestTimeout,
			SaveBodyLimit:  320,
		},
		Storage: StorageConfig{
			NVSPath:       filepath.Join(DefaultDataDir, "nvs.cbor"),
			PartitionsDir: filepath.Join(DefaultDataDir, "partitions"),
			PartitionSize: 16 << 20,
		},
		Network: NetworkConfig{
			Driver:           DriverNMCLI,
			StationInterface: "wlan0",
			APInterface:      "ap0",
			AP: APConfig{
				SSID:           "SideLights",
				Password:       "12345678",
				MaxConnections: 4,
			},
			MaxRetries: &maxRetries,
		},
		Lights: LightsConfig{
			Driver: LightsGPIO,
			Chip:   "gpiochip0",
			Lines: map[string]int{
				"light1": 14,
				"light2": 13,
				"light3": 12,
			},
		},
		Restart: RestartConfig{
			Method: RestartReboot,
			Grace:  500 * time.Millisecond,
		},
	}
}

// LoadDevice reads a device configuration. A missing file yields defaults;
// fields absent from the file keep their default values.
func LoadDevice(path string) (*DeviceConfig, error) {
	cfg := NewDeviceConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Decoding over the defaults keeps unset fields, but a map is merged
	// rather than replaced, so lines are reset when the file names any.
	var raw struct {
		Lights struct {
			Lines map[string]int `yaml:"lines"`
		} `yaml:"lights"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw.Lights.Lines != nil {
		cfg.Lights.Lines = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with
func (c *DeviceConfig) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	if c.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be positive")
	}
	if c.HTTP.SaveBodyLimit <= 0 {
		return fmt.Errorf("http.save_body_limit must be positive")
	}
	if c.Storage.NVSPath == "" || c.Storage.PartitionsDir == "" {
		return fmt.Errorf("storage.nvs_path and storage.partitions_dir are required")
	}
	if c.Storage.PartitionSize < 0 {
		return fmt.Errorf("storage.partition_size must not be negative")
	}

	n := c.Network
	switch n.Driver {
	case DriverNMCLI, DriverSimulated:
	default:
		return fmt.Errorf("network.driver must be %q or %q, got %q", DriverNMCLI, DriverSimulated, n.Driver)
	}
	if n.AP.SSID == "" || len(n.AP.SSID) > 32 {
		return fmt.Errorf("network.ap.ssid must be 1-32 bytes")
	}
	if n.AP.Password != "" && (len(n.AP.Password) < 8 || len(n.AP.Password) > 63) {
		return fmt.Errorf("network.ap.password must be empty or 8-63 characters")
	}
	if n.AP.MaxConnections < 1 {
		return fmt.Errorf("network.ap.max_connections must be at least 1")
	}
	if n.MaxRetries != nil && *n.MaxRetries < 0 {
		return fmt.Errorf("network.max_retries must not be negative")
	}
	if n.RetryDelay < 0 {
		return fmt.Errorf("network.retry_delay must not be negative")
	}

	switch c.Lights.Driver {
	case LightsGPIO, LightsSimulated:
	default:
		return fmt.Errorf("lights.driver must be %q or %q, got %q", LightsGPIO, LightsSimulated, c.Lights.Driver)
	}
	for name, line := range c.Lights.Lines {
		if line < 0 {
			return fmt.Errorf("lights.lines.%s: invalid line %d", name, line)
		}
	}
	for name, members := range c.Lights.Presets {
		if _, ok := c.Lights.Lines[name]; ok {
			return fmt.Errorf("lights.presets.%s: shadows a line of the same name", name)
		}
		for _, m := range members {
			if _, ok := c.Lights.Lines[m]; !ok {
				return fmt.Errorf("lights.presets.%s: unknown line %q", name, m)
			}
		}
	}

	switch c.Restart.Method {
	case RestartReboot, RestartExit:
	default:
		return fmt.Errorf("restart.method must be %q or %q, got %q", RestartReboot, RestartExit, c.Restart.Method)
	}
	return nil
}

// Save writes the configuration atomically
func (c *DeviceConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Sidelights controller configuration
#
# network.max_retries: reconnects after a dropped station link before the
# device erases its WiFi credentials and reboots into provisioning mode.
# Set it to null to retry forever.

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
