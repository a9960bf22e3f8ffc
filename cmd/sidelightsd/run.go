package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/config"
	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/discovery"
	"github.com/muurk/sidelights/internal/lights"
	"github.com/muurk/sidelights/internal/linkwatch"
	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/nvs"
	"github.com/muurk/sidelights/internal/ota"
	"github.com/muurk/sidelights/internal/platform"
	"github.com/muurk/sidelights/internal/provisioning"
	"github.com/muurk/sidelights/internal/radio"
	"github.com/muurk/sidelights/internal/server"
	"github.com/muurk/sidelights/internal/supervisor"
	"github.com/muurk/sidelights/internal/version"
)

// Run command flags
var (
	logLevel    string
	simulate    bool
	simNetworks map[string]string
	noMDNS      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller",
	Long: `Start the network supervisor, the light outputs and the web interface.

With --simulate the radio and the lights are replaced by in-process
simulations, so the daemon can be exercised on a development machine.
Simulated station networks are given with --sim-network.`,
	Example: `  # Run with the installed configuration
  sidelightsd run

  # Development run with a simulated radio that can join "home"
  sidelightsd run --config ./dev.yaml --simulate --sim-network home=secret123 --log-level debug`,
	RunE: runController,
}

func init() {
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Use simulated radio and light drivers")
	runCmd.Flags().StringToStringVar(&simNetworks, "sim-network", nil, "Station network reachable by the simulated radio (ssid=password)")
	runCmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "Do not advertise the controller over mDNS")
}

// controller is the assembled daemon
type controller struct {
	cfg        *config.DeviceConfig
	store      *credstore.Store
	supervisor *supervisor.Supervisor
	events     radio.EventSource
	watcher    *linkwatch.Watcher
	restarter  *platform.Restarter
	transfer   *ota.Transfer
	lights     *lights.Controller
	advertiser *discovery.Advertiser
	server     *server.Server
}

func runController(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simulate {
		cfg.Network.Driver = config.DriverSimulated
		cfg.Lights.Driver = config.LightsSimulated
	}

	logging.Info("Starting sidelightsd",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("config", configPath),
	)

	c, err := assemble(cfg)
	if err != nil {
		return err
	}
	defer c.lights.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if c.watcher != nil {
		go func() {
			if err := c.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn("Link watcher stopped", zap.Error(err))
			}
		}()
	}

	// Boot before serving so the first request sees a settled mode
	if err := c.supervisor.Boot(); err != nil {
		logging.Fatal("Network supervisor failed to boot", zap.Error(err))
	}
	defer c.supervisor.Close()

	if c.advertiser != nil {
		c.advertise(discovery.InterfaceAddrs(cfg.Network.APInterface, cfg.Network.StationInterface))
		defer c.advertiser.Shutdown()
	}

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- c.supervisor.Pump(ctx, radio.Tap(ctx, c.events, c.observe))
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- c.server.Start(ctx)
	}()

	select {
	case err := <-pumpErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Fatal("Network supervisor halted", zap.Error(err))
		}
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		logging.Info("Controller stopped")
	case <-c.restarter.Done():
		logging.Info("Exiting for restart", zap.String("reason", c.restarter.Reason()))
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = c.server.Shutdown(shutdownCtx)
	}
	return nil
}

// assemble builds every component from cfg without starting anything
func assemble(cfg *config.DeviceConfig) (*controller, error) {
	c := &controller{cfg: cfg}

	flash, err := nvs.OpenFile(cfg.Storage.NVSPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open nvs image: %w", err)
	}
	c.store = credstore.New(flash)

	c.restarter, err = platform.NewRestarter(cfg.Restart.Method, cfg.Restart.Grace)
	if err != nil {
		return nil, err
	}

	driver, err := c.openRadio()
	if err != nil {
		return nil, err
	}

	c.supervisor = supervisor.New(c.store, driver, c.restarter, supervisor.Config{
		AP: radio.APConfig{
			SSID:           cfg.Network.AP.SSID,
			Password:       cfg.Network.AP.Password,
			MaxConnections: cfg.Network.AP.MaxConnections,
		},
		Policy: supervisor.Policy{
			MaxRetries: cfg.Network.MaxRetries,
			RetryDelay: cfg.Network.RetryDelay,
		},
	})

	table, err := ota.OpenTableDir(cfg.Storage.PartitionsDir, cfg.Storage.PartitionSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition table: %w", err)
	}
	c.transfer = ota.NewTransfer(table, c.restarter)

	if c.lights, err = openLights(cfg.Lights); err != nil {
		return nil, err
	}

	if !noMDNS {
		port, err := listenPort(cfg.HTTP.Listen)
		if err != nil {
			return nil, err
		}
		c.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Host:     cfg.Hostname,
			Instance: cfg.InstanceName,
			Port:     port,
			Version:  version.Version,
		})
	}

	c.server, err = server.New(&server.Config{
		Listen:      cfg.HTTP.Listen,
		ReadTimeout: cfg.HTTP.RequestTimeout,
	}, server.Deps{
		Supervisor:   c.supervisor,
		Provisioning: provisioning.NewHandler(c.supervisor, cfg.HTTP.SaveBodyLimit),
		OTA:          c.transfer,
		Lights:       c.lights,
	})
	if err != nil {
		c.lights.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return c, nil
}

// openRadio selects the radio driver and its event source
func (c *controller) openRadio() (radio.Driver, error) {
	switch c.cfg.Network.Driver {
	case config.DriverSimulated:
		sim := radio.NewSimulated(simNetworks)
		c.events = sim
		logging.Info("Using simulated radio", zap.Int("networks", len(simNetworks)))
		return sim, nil
	case config.DriverNMCLI:
		nm := radio.NewNMCLI(c.cfg.Network.StationInterface, c.cfg.Network.APInterface)
		c.watcher = linkwatch.New(nm, c.cfg.Network.StationInterface, 0)
		c.events = c.watcher
		return c.watcher, nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", c.cfg.Network.Driver)
	}
}

func openLights(cfg config.LightsConfig) (*lights.Controller, error) {
	names := make([]string, 0, len(cfg.Lines))
	for name := range cfg.Lines {
		names = append(names, name)
	}

	var out lights.Output
	switch cfg.Driver {
	case config.LightsSimulated:
		out = lights.NewSimulated()
	case config.LightsGPIO:
		gpio, err := lights.OpenGPIO(cfg.Chip, cfg.Lines)
		if err != nil {
			return nil, fmt.Errorf("failed to open light outputs: %w", err)
		}
		out = gpio
	default:
		return nil, fmt.Errorf("unknown lights driver %q", cfg.Driver)
	}
	c := lights.NewController(out, names)
	if err := c.SetPresets(cfg.Presets); err != nil {
		out.Close()
		return nil, fmt.Errorf("invalid light presets: %w", err)
	}
	return c, nil
}

// observe runs on every link event before the supervisor sees it
func (c *controller) observe(ev radio.Event) {
	switch ev.Kind {
	case radio.EventAPClientJoined, radio.EventAPClientLeft:
		logging.LogLinkEvent(ev.Kind.String(), ev.Interface, ev.MAC)
	case radio.EventAddressAcquired:
		if c.advertiser != nil {
			addrs := discovery.InterfaceAddrs(c.cfg.Network.APInterface)
			c.advertise(append(addrs, ev.Addr))
		}
	}
}

func (c *controller) advertise(addrs []string) {
	if len(addrs) == 0 {
		logging.Debug("No addresses to advertise yet")
		return
	}
	if err := c.advertiser.Advertise(addrs); err != nil {
		logging.Warn("mDNS advertisement failed", zap.Error(err))
		return
	}
	logging.Info("Advertising controller",
		zap.String("host", c.cfg.Hostname+".local"),
		zap.Strings("addrs", addrs),
	)
}

func listenPort(listen string) (int, error) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("invalid listen port %q: %w", port, err)
	}
	return n, nil
}
