package supervisor

import (
	"fmt"
	"time"

	"github.com/muurk/sidelights/internal/radio"
)

// Mode is the network mode owned by the supervisor
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeAccessPointOnly
	ModeStationOnly
	ModeDualApStation
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeAccessPointOnly:
		return "ap-only"
	case ModeStationOnly:
		return "station"
	case ModeDualApStation:
		return "ap+station"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// MarshalText lets Mode appear by name in the status JSON
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Phase is the progress of the station side within a mode
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseRetrying
	// PhaseProvisioning means the AP is up waiting for credentials
	PhaseProvisioning
	// PhaseRestartPending is entered by the provisioning fallback and never left
	PhaseRestartPending
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseRetrying:
		return "retrying"
	case PhaseProvisioning:
		return "provisioning"
	case PhaseRestartPending:
		return "restart-pending"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// MarshalText lets Phase appear by name in the status JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// stationActive reports whether station events are meaningful in p
func (p Phase) stationActive() bool {
	return p == PhaseConnecting || p == PhaseConnected || p == PhaseRetrying
}

// Policy controls how station disconnects are retried
type Policy struct {
	// MaxRetries is the number of reconnects after the first failure before
	// falling back to provisioning; nil retries forever
	MaxRetries *int
	// RetryDelay is the fixed wait before each reconnect
	RetryDelay time.Duration
}

// Retries returns a policy with a bounded retry budget
func Retries(n int, delay time.Duration) Policy {
	return Policy{MaxRetries: &n, RetryDelay: delay}
}

// Exhausted reports whether retryCount has used up the budget
func (p Policy) Exhausted(retryCount int) bool {
	return p.MaxRetries != nil && retryCount >= *p.MaxRetries
}

// String describes the policy for logs
func (p Policy) String() string {
	if p.MaxRetries == nil {
		return fmt.Sprintf("retry forever every %s", p.RetryDelay)
	}
	return fmt.Sprintf("max %d retries every %s", *p.MaxRetries, p.RetryDelay)
}

// State is the in-memory network state. It is never persisted.
type State struct {
	Mode       Mode   `json:"mode"`
	Phase      Phase  `json:"phase"`
	RetryCount int    `json:"retry_count"`
	SSID       string `json:"ssid,omitempty"`
	Addr       string `json:"addr,omitempty"`
}

// EffectKind names a side effect requested by a transition
type EffectKind int

const (
	// EffectReconnect asks the radio to join the station network again
	EffectReconnect EffectKind = iota
	EffectEraseCredentials
	EffectSetBootModeFlag
	EffectRequestRestart
)

// String returns the effect name
func (k EffectKind) String() string {
	switch k {
	case EffectReconnect:
		return "reconnect"
	case EffectEraseCredentials:
		return "erase-credentials"
	case EffectSetBootModeFlag:
		return "set-boot-mode-flag"
	case EffectRequestRestart:
		return "request-restart"
	default:
		return fmt.Sprintf("EffectKind(%d)", k)
	}
}

// Effect is a side effect the supervisor performs after a transition, in order
type Effect struct {
	Kind  EffectKind
	Delay time.Duration // EffectReconnect
}

// Transition computes the state following ev. It has no side effects; the
// returned effects are applied by the caller in order.
func Transition(s State, ev radio.Event, p Policy) (State, []Effect) {
	if s.Phase == PhaseRestartPending || !s.Phase.stationActive() {
		return s, nil
	}

	switch ev.Kind {
	case radio.EventAddressAcquired:
		s.RetryCount = 0
		s.Phase = PhaseConnected
		s.Addr = ev.Addr
		return s, nil

	case radio.EventStationDisconnected:
		if p.Exhausted(s.RetryCount) {
			return ProvisioningFallback(s)
		}
		s.RetryCount++
		s.Phase = PhaseRetrying
		s.Addr = ""
		return s, []Effect{{Kind: EffectReconnect, Delay: p.RetryDelay}}
	}

	return s, nil
}

// ProvisioningFallback is the terminal transition taken when the station
// cannot be reached: the credentials are erased, the next boot is forced
// into provisioning mode and the device restarts. Effects run in order and
// the restart must not be requested if either write fails.
func ProvisioningFallback(s State) (State, []Effect) {
	s.Phase = PhaseRestartPending
	s.Addr = ""
	return s, []Effect{
		{Kind: EffectEraseCredentials},
		{Kind: EffectSetBootModeFlag},
		{Kind: EffectRequestRestart},
	}
}
