// Package supervisor owns the controller's network mode.
//
// At boot the supervisor either opens the provisioning access point (when
// the boot-mode flag is set or no credentials are stored) or joins the
// stored station network. Afterwards it is driven by radio events:
//
//	got_ip            -> connected, retry count reset
//	sta_disconnected  -> reconnect while the retry budget lasts
//	                  -> provisioning fallback once it is spent
//
// The provisioning fallback erases the credentials, sets the boot-mode flag
// and requests a restart, so the device comes back up with its access point
// open. Transitions are computed by the pure Transition function; the
// Supervisor applies their effects while holding its mutex.
//
// Radio drivers are called with that mutex held and must deliver events
// asynchronously through their EventSource, which Pump consumes.
package supervisor
