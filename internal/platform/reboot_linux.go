//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// rebootSystem flushes filesystem buffers and restarts the machine. On
// success it does not return.
func rebootSystem() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
