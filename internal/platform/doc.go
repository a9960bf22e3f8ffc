// Package platform provides the system primitives the controller calls but
// does not implement itself: restarting the machine.
//
// A reboot syncs filesystems and issues reboot(2) through golang.org/x/sys.
// The exit method instead closes Done so the daemon can shut down cleanly
// and be restarted by its service manager.
package platform
