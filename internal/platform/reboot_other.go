//go:build !linux

package platform

import "errors"

func rebootSystem() error {
	return errors.New("reboot is only supported on linux")
}
