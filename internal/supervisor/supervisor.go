package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/radio"
)

// Restarter requests a system restart. Implementations return immediately.
type Restarter interface {
	RequestRestart(reason string)
}

// Config holds the supervisor's fixed parameters
type Config struct {
	AP     radio.APConfig
	Policy Policy
}

// Supervisor owns the network state. Every transition, and every credential
// write made through Exclusive, happens under one mutex.
type Supervisor struct {
	mu sync.Mutex

	store     *credstore.Store
	radio     radio.Driver
	restarter Restarter
	cfg       Config

	state            State
	generation       uint64
	retryTimer       *time.Timer
	restartRequested bool
}

// New creates a supervisor. Boot must be called before events are handled.
func New(store *credstore.Store, driver radio.Driver, restarter Restarter, cfg Config) *Supervisor {
	return &Supervisor{
		store:     store,
		radio:     driver,
		restarter: restarter,
		cfg:       cfg,
	}
}

// State returns a copy of the current network state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Boot selects the startup mode from the boot-mode flag and the stored
// credentials. A returned error marked fatal means the flag could not be
// cleared and the controller must halt.
func (s *Supervisor) Boot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Mode != ModeUninitialized {
		return fmt.Errorf("supervisor already booted in %s", s.state.Mode)
	}

	logging.Info("Network supervisor starting", zap.String("policy", s.cfg.Policy.String()))

	if s.store.BootModeFlag() {
		if err := s.store.SetBootModeFlag(false); err != nil {
			return fault.AsFatal("clear boot mode flag", err)
		}
		logging.Info("Boot mode flag consumed, ignoring stored credentials this boot")
		return s.enterProvisioningLocked("boot mode flag")
	}

	rec, ok := s.store.Load()
	if !ok {
		return s.enterProvisioningLocked("no stored credentials")
	}

	if err := s.enterStationLocked(rec); err != nil {
		logging.Warn("Station start failed, falling back to provisioning", zap.Error(err))
		return s.enterProvisioningLocked("station start failed")
	}
	return nil
}

// HandleLinkEvent feeds a network stack event through the state machine and
// applies the resulting effects. Errors marked fatal must halt the controller.
func (s *Supervisor) HandleLinkEvent(ev radio.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.LogLinkEvent(ev.Kind.String(), ev.Interface, ev.String())

	prev := s.state
	next, effects := Transition(prev, ev, s.cfg.Policy)
	s.state = next
	if prev.Phase != next.Phase || prev.Mode != next.Mode {
		logging.LogModeChange(prev.Mode.String()+"/"+prev.Phase.String(),
			next.Mode.String()+"/"+next.Phase.String(), next.RetryCount)
	}
	return s.applyLocked(effects)
}

// Pump delivers events from src until ctx is done or src closes. It returns
// early only for a fatal error; other handler errors are logged.
func (s *Supervisor) Pump(ctx context.Context, src radio.EventSource) error {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.HandleLinkEvent(ev); err != nil {
				if fault.IsFatal(err) {
					return err
				}
				logging.Error("Link event handling failed", zap.String("event", ev.String()), zap.Error(err))
			}
		}
	}
}

// Close stops a pending delayed reconnect
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRetryTimerLocked()
}

func (s *Supervisor) applyLocked(effects []Effect) error {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectReconnect:
			s.reconnectLocked(eff.Delay)
		case EffectEraseCredentials:
			if err := s.store.EraseCredentials(); err != nil {
				return fault.AsFatal("erase credentials", err)
			}
		case EffectSetBootModeFlag:
			if err := s.store.SetBootModeFlag(true); err != nil {
				return fault.AsFatal("set boot mode flag", err)
			}
		case EffectRequestRestart:
			s.requestRestartLocked("station unreachable, returning to provisioning")
		}
	}
	return nil
}

func (s *Supervisor) reconnectLocked(delay time.Duration) {
	if delay <= 0 {
		s.connectOrFallbackLocked()
		return
	}

	s.stopRetryTimerLocked()
	gen := s.generation
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen || s.state.Phase != PhaseRetrying {
			return
		}
		s.connectOrFallbackLocked()
	})
}

// connectOrFallbackLocked retries the station connection; a synchronous
// failure skips the remaining budget and reopens the provisioning AP.
func (s *Supervisor) connectOrFallbackLocked() {
	logging.Info("Reconnecting to station network", zap.Int("retry", s.state.RetryCount))
	if err := s.radio.Connect(); err != nil {
		logging.Warn("Reconnect failed, falling back to provisioning", zap.Error(err))
		if err := s.enterProvisioningLocked("reconnect failed"); err != nil {
			logging.Error("Could not open provisioning access point", zap.Error(err))
		}
	}
}

func (s *Supervisor) requestRestartLocked(reason string) {
	if s.restartRequested {
		return
	}
	s.restartRequested = true
	s.stopRetryTimerLocked()
	logging.Warn("Requesting restart", zap.String("reason", reason))
	s.restarter.RequestRestart(reason)
}

func (s *Supervisor) stopRetryTimerLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Supervisor) setStateLocked(next State) {
	prev := s.state
	s.generation++
	s.stopRetryTimerLocked()
	s.state = next
	logging.LogModeChange(prev.Mode.String()+"/"+prev.Phase.String(),
		next.Mode.String()+"/"+next.Phase.String(), next.RetryCount)
}

func (s *Supervisor) stopRadioLocked() {
	if s.state.Mode == ModeUninitialized {
		return
	}
	if err := s.radio.Stop(); err != nil {
		logging.Warn("Radio stop failed", zap.Error(err))
	}
}

// enterProvisioningLocked brings up the default provisioning AP with the
// station side idle
func (s *Supervisor) enterProvisioningLocked(reason string) error {
	logging.Info("Entering provisioning mode",
		zap.String("reason", reason),
		zap.String("ap_ssid", s.cfg.AP.SSID),
		zap.Bool("open", s.cfg.AP.Open()),
	)

	s.stopRadioLocked()
	s.setStateLocked(State{Mode: ModeDualApStation, Phase: PhaseProvisioning})

	if err := s.radio.SetMode(radio.ModeAPStation); err != nil {
		return fault.NewNetworkError("set mode", err)
	}
	if err := s.radio.ConfigureAP(s.cfg.AP); err != nil {
		return fault.NewNetworkError("configure access point", err)
	}
	if err := s.radio.Start(); err != nil {
		return fault.NewNetworkError("start radio", err)
	}
	return nil
}

// enterStationLocked switches to station-only mode and starts one
// connection attempt. On error the caller decides how to recover.
func (s *Supervisor) enterStationLocked(rec credstore.Record) error {
	logging.Info("Joining station network", zap.String("ssid", rec.SSID))

	s.stopRadioLocked()
	s.setStateLocked(State{Mode: ModeStationOnly, Phase: PhaseConnecting, SSID: rec.SSID})

	if err := s.radio.SetMode(radio.ModeStation); err != nil {
		return fault.NewNetworkError("set mode", err)
	}
	if err := s.radio.ConfigureStation(radio.StationConfig{SSID: rec.SSID, Password: rec.Password}); err != nil {
		return fault.NewNetworkError("configure station", err)
	}
	if err := s.radio.Start(); err != nil {
		return fault.NewNetworkError("start radio", err)
	}
	if err := s.radio.Connect(); err != nil {
		return fault.NewNetworkError("connect", err)
	}
	return nil
}

// ErrRestartPending is wrapped by every Tx write once the device has
// committed to restarting.
var ErrRestartPending = fault.ErrRestartPending

// Exclusive runs fn with the supervisor lock held, so a credential write and
// the mode switch that follows it cannot interleave with link events.
func (s *Supervisor) Exclusive(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// Tx is the view of the supervisor available inside Exclusive. It must not
// be retained after fn returns.
type Tx struct {
	s *Supervisor
}

// State returns the current network state
func (tx *Tx) State() State {
	return tx.s.state
}

// Save durably stores rec. It refuses once a restart is pending, since the
// fallback has already erased the credentials and set the boot flag.
func (tx *Tx) Save(rec credstore.Record) error {
	if tx.s.state.Phase == PhaseRestartPending {
		return fault.NewNetworkError("save credentials", ErrRestartPending)
	}
	return tx.s.store.Save(rec)
}

// SwitchToStation enters station-only mode with rec and starts exactly one
// connection attempt. It returns a NetworkError if the attempt could not be
// started; the mode is left for the caller to revert.
func (tx *Tx) SwitchToStation(rec credstore.Record) error {
	if tx.s.state.Phase == PhaseRestartPending {
		return fault.NewNetworkError("switch to station", ErrRestartPending)
	}
	return tx.s.enterStationLocked(rec)
}

// RevertToProvisioning reopens the default provisioning AP
func (tx *Tx) RevertToProvisioning(reason string) error {
	if tx.s.state.Phase == PhaseRestartPending {
		return fault.NewNetworkError("revert to provisioning", ErrRestartPending)
	}
	return tx.s.enterProvisioningLocked(reason)
}
