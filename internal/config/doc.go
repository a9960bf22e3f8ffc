// Package config provides the YAML configuration files used by Sidelights.
//
// There are two files with different owners:
//
//   - DeviceConfig is read by sidelightsd, by default from
//     /etc/sidelights/config.yaml. Absent fields keep their defaults, so an
//     empty file describes a stock controller with the "SideLights"
//     provisioning network and lights on GPIO lines 14, 13 and 12.
//   - Registry is sidelightsctl's record of controllers seen on the
//     network, stored as sidelights/controllers.yaml in the user's
//     configuration directory (os.UserConfigDir).
//
// # Retry policy
//
// network.max_retries bounds how many times a dropped station link is
// retried before the controller erases its credentials and reboots into
// provisioning mode. An explicit null retries forever:
//
//	network:
//	  max_retries: null
//	  retry_delay: 5s
//
// # Security
//
// Neither file stores the household WiFi password. The controller keeps it
// in its nvs image; sidelightsctl always prompts for it.
//
// Both files are written atomically through a temporary file and rename.
package config
