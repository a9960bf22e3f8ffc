package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/nvs"
	"github.com/muurk/sidelights/internal/ota"
	"github.com/muurk/sidelights/internal/ui"
)

// nvs command flags
var (
	revealSecrets bool
	assumeYes     bool
)

var nvsCmd = &cobra.Command{
	Use:   "nvs",
	Short: "Inspect or change the stored network settings",
	Long: `Inspect or change the nvs image holding the station credentials and the
boot-mode flag. Stop the daemon first; changes made while it runs are
overwritten by its next commit.`,
}

var nvsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every committed entry",
	Example: `  sidelightsd nvs show
  sidelightsd nvs show --reveal`,
	RunE: runNVSShow,
}

var nvsEraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the stored WiFi credentials",
	RunE:  runNVSErase,
}

var nvsForceAPCmd = &cobra.Command{
	Use:   "force-ap",
	Short: "Start in provisioning mode on the next boot",
	Long: `Set the boot-mode flag so the next start ignores the stored credentials and
opens the provisioning access point. The flag is cleared by that start.`,
	RunE: runNVSForceAP,
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show the firmware slot table",
	RunE:  runSlots,
}

func init() {
	nvsShowCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "Print passwords instead of masking them")
	nvsEraseCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	nvsCmd.AddCommand(nvsShowCmd)
	nvsCmd.AddCommand(nvsEraseCmd)
	nvsCmd.AddCommand(nvsForceAPCmd)
}

func openFlash() (*nvs.Flash, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	flash, err := nvs.OpenFile(cfg.Storage.NVSPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", cfg.Storage.NVSPath, err)
	}
	return flash, cfg.Storage.NVSPath, nil
}

func runNVSShow(cmd *cobra.Command, args []string) error {
	flash, path, err := openFlash()
	if err != nil {
		return err
	}

	dump := flash.Dump()
	fmt.Printf("%s\n\n", path)
	if len(dump) == 0 {
		fmt.Println("No entries committed.")
		return nil
	}

	namespaces := make([]string, 0, len(dump))
	for ns := range dump {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		fmt.Printf("[%s]\n", ns)
		for _, key := range flash.Keys(ns) {
			fmt.Printf("  %-16s %s\n", key, formatValue(ns, key, dump[ns][key]))
		}
		fmt.Println()
	}
	return nil
}

func formatValue(ns, key string, v nvs.Value) string {
	switch {
	case v.Str != nil:
		if ns == credstore.Namespace && key == credstore.KeyPassword && !revealSecrets {
			if *v.Str == "" {
				return `"" (open network)`
			}
			return strings.Repeat("*", len(*v.Str))
		}
		return fmt.Sprintf("%q", *v.Str)
	case v.U8 != nil:
		return fmt.Sprintf("u8 %d", *v.U8)
	default:
		return "(empty)"
	}
}

func runNVSErase(cmd *cobra.Command, args []string) error {
	flash, path, err := openFlash()
	if err != nil {
		return err
	}

	if !assumeYes && !ui.ConfirmDangerousOperation(ui.EraseConfirmation(path)) {
		return nil
	}

	if err := credstore.New(flash).EraseCredentials(); err != nil {
		return err
	}
	fmt.Println(ui.NewSuccessResult("Credentials erased", map[string]string{"Image": path}).Render())
	return nil
}

func runNVSForceAP(cmd *cobra.Command, args []string) error {
	flash, path, err := openFlash()
	if err != nil {
		return err
	}
	if err := credstore.New(flash).SetBootModeFlag(true); err != nil {
		return err
	}
	fmt.Printf("Boot-mode flag set in %s; the next start opens the provisioning access point.\n", path)
	return nil
}

func runSlots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := ota.OpenTableDir(cfg.Storage.PartitionsDir, cfg.Storage.PartitionSize)
	if err != nil {
		return fmt.Errorf("failed to open partition table: %w", err)
	}

	boot := table.Boot()
	fmt.Printf("Slot capacity: %s\n\n", ui.FormatBytes(table.Capacity()))
	fmt.Printf("  %-6s %-6s %-5s %-10s %-20s %s\n", "SLOT", "BOOT", "VALID", "SIZE", "WRITTEN", "BLAKE3")
	for _, slot := range table.Slots() {
		info := table.Info(slot.Index)
		marker := ""
		if slot.Index == boot.Index {
			marker = "*"
		}
		written := "-"
		if !info.WrittenAt.IsZero() {
			written = info.WrittenAt.Local().Format(time.DateTime)
		}
		digest := info.DigestHex()
		if len(digest) > 16 {
			digest = digest[:16] + "…"
		}
		fmt.Printf("  %-6s %-6s %-5t %-10s %-20s %s\n",
			slot.Label, marker, info.Valid, ui.FormatBytes(info.Size), written, digest)
	}
	return nil
}

