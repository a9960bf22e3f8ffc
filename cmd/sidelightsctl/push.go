package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/sidelights/internal/deviceclient"
	"github.com/muurk/sidelights/internal/ui"
)

// Push command flags
var (
	pushWebSocket bool
	pushYes       bool
	pushWait      bool
	pushWaitFor   int
	pushPlain     bool
)

// pushCmd uploads a firmware image
var pushCmd = &cobra.Command{
	Use:   "push IMAGE",
	Short: "Push a firmware image to a controller",
	Long: `Upload a firmware image to the controller's inactive slot. On success the
controller selects the new slot and restarts into it.

The image is streamed as the body of POST /ota, or as WebSocket binary
messages with --ws. Only one upload is accepted at a time.`,
	Example: `  sidelightsctl push --device porch build/sidelights.bin
  sidelightsctl push --device 192.168.1.50 --ws --yes build/sidelights.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().BoolVar(&pushWebSocket, "ws", false, "Stream the image over a WebSocket")
	pushCmd.Flags().BoolVarP(&pushYes, "yes", "y", false, "Do not ask for confirmation")
	pushCmd.Flags().BoolVar(&pushWait, "wait", true, "Wait for the controller to come back after the restart")
	pushCmd.Flags().IntVar(&pushWaitFor, "wait-timeout", 120, "Seconds to wait for the restart")
	pushCmd.Flags().BoolVar(&pushPlain, "plain", false, "Print progress lines instead of the progress bar")
}

// pushFunc uploads an image; PushFirmware and PushFirmwareWebSocket match it
type pushFunc func(ctx context.Context, image io.Reader, size int64, progress deviceclient.ProgressFunc) (string, error)

func runPush(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("image is empty")
	}

	ctx := cmd.Context()
	client, t, reg, err := connect(ctx)
	if err != nil {
		return err
	}

	before, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status from %s: %s", t, deviceclient.Summary(err))
	}

	if !pushYes && !ui.ConfirmDangerousOperation(ui.PushConfirmation(t.String(), filepath.Base(path), info.Size())) {
		return nil
	}

	transport := "HTTP"
	push := pushFunc(client.PushFirmware)
	if pushWebSocket {
		transport = "WebSocket"
		push = client.PushFirmwareWebSocket
	}

	fmt.Println(ui.NewHeader("Firmware Push", cmd.CommandPath(), map[string]string{
		"Controller": t.String(),
		"Image":      fmt.Sprintf("%s (%s)", filepath.Base(path), ui.FormatBytes(info.Size())),
		"Running":    fmt.Sprintf("%s on %s", before.Version.Version, before.OTA.RunningSlot),
		"Transport":  transport,
	}).Render())
	fmt.Println()

	start := time.Now()
	var msg string
	upload := func(ctx context.Context, report ui.ReportFunc) error {
		var err error
		msg, err = push(ctx, f, info.Size(), deviceclient.ProgressFunc(report))
		return err
	}

	if pushPlain || !ui.IsTerminal() {
		err = upload(ctx, plainReporter(os.Stdout))
	} else {
		err = ui.RunTransfer(ctx, os.Stdout, "Uploading "+filepath.Base(path), info.Size(), upload)
	}
	elapsed := time.Since(start)

	if err != nil {
		fmt.Println()
		fmt.Println(ui.NewFailureResult("Firmware push failed", err, troubleshooting(err)).Render())
		return err
	}

	details := map[string]string{
		"Controller": msg,
		"Duration":   elapsed.Round(time.Millisecond).String(),
		"Rate":       ui.FormatBytes(int64(float64(info.Size())/elapsed.Seconds())) + "/s",
	}

	if pushWait {
		fmt.Println()
		fmt.Println(ui.ProgressLabelStyle.Render("Waiting for the controller to restart..."))
		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(pushWaitFor)*time.Second)
		defer cancel()

		// the controller's grace delay keeps it answering briefly after the upload
		after, err := client.WaitForRestart(waitCtx, 2*time.Second)
		if err != nil {
			fmt.Println(ui.NewWarningResult("Image sent, restart not confirmed", map[string]string{
				"Controller": msg,
				"Error":      deviceclient.Summary(err),
			}).Render())
			return nil
		}
		details["Running"] = fmt.Sprintf("%s on %s", after.Version.Version, after.OTA.RunningSlot)
		remember(reg, t, after)
	}

	fmt.Println()
	fmt.Println(ui.NewSuccessResult("Firmware push complete", details).Render())
	return nil
}

// plainReporter prints a line at every tenth of the upload
func plainReporter(w io.Writer) ui.ReportFunc {
	last := -1
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		step := int(sent * 10 / total)
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(w, "  %3d%%  %s / %s\n", step*10, ui.FormatBytes(sent), ui.FormatBytes(total))
	}
}
