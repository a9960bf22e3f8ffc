// Sidelightsd is the network controller daemon for Sidelights light controllers.
//
// It joins the WiFi network stored in its nvs image, falling back to a
// provisioning access point when no credentials are stored or the network
// cannot be reached, and serves the local web interface used to provision
// credentials, switch the lights and push firmware updates.
//
// Usage:
//
//	sidelightsd run [flags]
//
// See 'sidelightsd --help' for the maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/sidelights/internal/config"
	"github.com/muurk/sidelights/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sidelightsd",
	Short: "Sidelights network controller daemon",
	Long: `The network controller daemon for Sidelights light controllers.

On start it joins the stored WiFi network. Without stored credentials, or
once the reconnect budget is spent, it opens the provisioning access point
and serves a form at http://192.168.4.1/ to enter new credentials.

For operating controllers from another machine, use 'sidelightsctl'.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultDevicePath, "Path to the daemon configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nvsCmd)
	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sidelightsd %s (commit: %s)\n", version.Version, version.Commit)
	},
}

// loadConfig reads --config; a missing file yields the built-in defaults
func loadConfig() (*config.DeviceConfig, error) {
	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", configPath, err)
	}
	return cfg, nil
}
