//go:build !linux

package lights

import "errors"

// OpenGPIO is only available on linux
func OpenGPIO(chipName string, lines map[string]int) (Output, error) {
	return nil, errors.New("gpio lights require linux")
}
