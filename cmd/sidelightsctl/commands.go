package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/sidelights/internal/config"
	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/deviceclient"
	"github.com/muurk/sidelights/internal/ui"
)

// scanCmd lists controllers on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for controllers on the network",
	Long: `Scan for Sidelights controllers using mDNS/DNS-SD discovery.

Controllers advertise an HTTP service on <hostname>.local once they have
joined a network. Every controller found is remembered for --device.`,
	Example: `  # Scan for 5 seconds (default)
  sidelightsctl scan

  # Longer scan for busy networks
  sidelightsctl scan --scan-timeout 15`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for Sidelights controllers (timeout: %ds)...\n\n", scanTimeout)

	reg, err := config.OpenRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring device registry: %v\n", err)
		reg = config.NewRegistry("")
	}

	devices, err := newResolver(reg).scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println(ui.NewFailureResult("No controllers found", nil, []string{
			"Ensure the controller is powered on and has joined your network",
			"A controller in provisioning mode does not advertise; join its access point instead",
			"Try increasing --scan-timeout for slower networks",
			"Use --device to give an IP address if discovery is blocked",
		}).Render())
		return nil
	}

	fmt.Printf("Found %d controller(s):\n\n", len(devices))
	for i, d := range devices {
		nick := ""
		if known := reg.Lookup(d.Name); known != nil && known.Nickname != "" {
			nick = " [" + known.Nickname + "]"
		}
		fmt.Printf("%d. %s%s\n", i+1, d.Name, nick)
		fmt.Printf("   Address:  %s\n", d.BaseURL())
		if v := d.GetMetadata("version"); v != "" {
			fmt.Printf("   Firmware: %s\n", v)
		}
		if d.Instance != "" {
			fmt.Printf("   Service:  %s\n", d.Instance)
		}
		fmt.Println()
		reg.Seen(d.Name, d.IP, d.Port)
		reg.RecordFirmware(d.Name, d.GetMetadata("version"))
	}
	if err := reg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save device registry: %v\n", err)
	}

	fmt.Println("Use 'sidelightsctl status --device <name>' to view a controller")
	return nil
}

var statusFormat string

// statusCmd shows the controller's state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status",
	Long: `Display a controller's network state, firmware slots and light outputs.`,
	Example: `  sidelightsctl status --device sidelights-porch
  sidelightsctl status --device 192.168.1.50 --format json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "detailed", "Output format (detailed, summary, json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, t, reg, err := connect(ctx)
	if err != nil {
		return err
	}

	st, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status from %s: %s", t, deviceclient.Summary(err))
	}
	remember(reg, t, st)

	switch statusFormat {
	case "json":
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
	case "summary":
		fmt.Println(st.Summary())
	default:
		fmt.Println(st.FormatDetailed())
	}
	return nil
}

// Provision command flags
var (
	provisionSSID     string
	provisionPassword string
	passwordStdin     bool
)

// provisionCmd sends WiFi credentials
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Send WiFi credentials to a controller",
	Long: `Send the station network credentials to a controller.

The controller stores them and switches to station mode. When it is in
provisioning mode, join its access point first and pass its address with
--device. Without --password the password is prompted for; an empty
password selects an open network.`,
	Example: `  # Controller in provisioning mode (NetworkManager hotspot address)
  sidelightsctl provision --device 10.42.0.1 --ssid home

  # Scripted
  echo "$WIFI_PASSWORD" | sidelightsctl provision --device 10.42.0.1 --ssid home --password-stdin`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&provisionSSID, "ssid", "", "Network name (required)")
	provisionCmd.Flags().StringVar(&provisionPassword, "password", "", "Network password")
	provisionCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	_ = provisionCmd.MarkFlagRequired("ssid")
}

func readPassword(cmd *cobra.Command) (string, error) {
	switch {
	case passwordStdin:
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	case cmd.Flags().Changed("password"):
		return provisionPassword, nil
	case term.IsTerminal(int(os.Stdin.Fd())):
		fmt.Printf("Password for %q (empty for an open network): ", provisionSSID)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	default:
		return "", nil
	}
}

func runProvision(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	rec := credstore.Record{SSID: provisionSSID, Password: password}
	if err := rec.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	client, t, reg, err := connect(ctx)
	if err != nil {
		return err
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Provisioning",
		Command: cmd.CommandPath(),
		Params: map[string]string{
			"Controller": t.String(),
			"SSID":       rec.SSID,
			"Security":   securityLabel(rec),
		},
		Steps:           []string{"Check controller", "Send credentials"},
		Troubleshooting: troubleshooting,
	})

	return runner.Run(func(onStep ui.StepCallback) (map[string]string, error) {
		onStep(1, ui.StepRunning, "")
		st, err := client.GetStatus(ctx)
		if err != nil {
			onStep(1, ui.StepFailed, "")
			return nil, err
		}
		onStep(1, ui.StepComplete, st.Network.Mode)

		onStep(2, ui.StepRunning, "")
		msg, err := client.Provision(ctx, rec.SSID, rec.Password)
		if err != nil {
			onStep(2, ui.StepFailed, "")
			return nil, err
		}
		onStep(2, ui.StepComplete, "")
		remember(reg, t, st)

		return map[string]string{"Controller": msg}, nil
	})
}

func securityLabel(rec credstore.Record) string {
	if rec.Password == "" {
		return "open"
	}
	return "WPA2-PSK"
}

// controlCmd switches lights
var controlCmd = &cobra.Command{
	Use:   "control NAME=on|off...",
	Short: "Switch lights on or off",
	Long: `Switch a controller's light outputs. The name "lights" addresses every
output at once; commands are applied left to right.`,
	Example: `  sidelightsctl control --device porch light1=on
  sidelightsctl control --device porch lights=off light2=on`,
	Args: cobra.MinimumNArgs(1),
	RunE: runControl,
}

func runControl(cmd *cobra.Command, args []string) error {
	cmds, err := deviceclient.ParseLightArgs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client, t, _, err := connect(ctx)
	if err != nil {
		return err
	}

	msg, err := client.Control(ctx, cmds)
	if err != nil {
		fmt.Println(ui.NewFailureResult("Control failed", err, troubleshooting(err)).Render())
		return err
	}

	fmt.Printf("%s: %s\n", t, msg)
	if st, err := client.GetStatus(ctx); err == nil && len(st.Lights) > 0 {
		fmt.Println()
		fmt.Println(st.FormatLights())
	}
	return nil
}

// nicknameCmd names a controller for --device
var nicknameCmd = &cobra.Command{
	Use:   "nickname HOST NICKNAME",
	Short: "Give a controller a nickname",
	Example: `  sidelightsctl nickname sidelights-2 porch
  sidelightsctl status --device porch`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.OpenRegistry()
		if err != nil {
			return err
		}
		if err := reg.SetNickname(args[0], args[1]); err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}
		fmt.Printf("%s is now known as %q\n", args[0], args[1])
		return nil
	},
}

// troubleshooting returns the client's tips for a failed request, plus the
// provisioning-mode reminder when the controller never answered
func troubleshooting(err error) []string {
	tips := deviceclient.Tips(err)
	if deviceclient.IsTransport(err) {
		tips = append(tips,
			"A controller in provisioning mode is only reachable from its access point",
			fmt.Sprintf("Run 'sidelightsctl scan --scan-timeout %d' to find its current address", scanTimeout*2),
		)
	}
	return tips
}
