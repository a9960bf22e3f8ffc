// Sidelightsctl operates Sidelights light controllers over the local network.
//
// It finds controllers over mDNS, reports their network and firmware status,
// provisions WiFi credentials, switches lights and pushes firmware images.
// Controllers it has seen are remembered so they can be addressed by
// nickname.
//
// Usage:
//
//	sidelightsctl [command] [flags]
//
// See 'sidelightsctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Flags shared by every device command
var (
	deviceFlag  string
	devicePort  int
	httpTimeout int
	scanTimeout int
)

var rootCmd = &cobra.Command{
	Use:   "sidelightsctl",
	Short: "Sidelights controller utility",
	Long: `A utility for operating Sidelights light controllers on the local network.

Controllers are found over mDNS. Use --device with an IP address, an mDNS
host label (e.g. "sidelights-porch") or a nickname to address one directly.
A controller in provisioning mode is reached by joining its access point.`,
	Version:      version.Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless SIDELIGHTS_LOG_LEVEL asks for output
		return logging.InitializeFromEnv()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&deviceFlag, "device", "", "Controller IP, host label or nickname (skips the scan when an IP)")
	rootCmd.PersistentFlags().IntVar(&devicePort, "port", 80, "Controller HTTP port")
	rootCmd.PersistentFlags().IntVar(&httpTimeout, "timeout", 10, "HTTP request timeout in seconds")
	rootCmd.PersistentFlags().IntVar(&scanTimeout, "scan-timeout", 5, "mDNS scan timeout in seconds")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(nicknameCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sidelightsctl %s (commit: %s)\n", version.Version, version.Commit)
	},
}
