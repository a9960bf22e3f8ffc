package radio

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
)

const simulatedEventBuffer = 64

// Simulated is an in-process radio. Networks lists the station networks in
// range with their passphrases; Connect succeeds at the call level and then
// reports got_ip or sta_disconnected depending on whether the configured
// credentials match.
type Simulated struct {
	mu sync.Mutex

	mode    Mode
	ap      APConfig
	station StationConfig
	started bool

	networks map[string]string
	events   chan Event

	// Injected failures, returned by the matching call while non-nil
	FailSetMode error
	FailStart   error
	FailConnect error

	calls []string
}

// NewSimulated creates a simulated radio with the given reachable networks
func NewSimulated(networks map[string]string) *Simulated {
	if networks == nil {
		networks = make(map[string]string)
	}
	return &Simulated{
		networks: networks,
		events:   make(chan Event, simulatedEventBuffer),
	}
}

// Events implements EventSource
func (s *Simulated) Events() <-chan Event {
	return s.events
}

// AddNetwork makes a network reachable
func (s *Simulated) AddNetwork(ssid, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks[ssid] = password
}

// SetFailConnect injects a synchronous Connect failure
func (s *Simulated) SetFailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailConnect = err
}

func (s *Simulated) record(call string) {
	s.calls = append(s.calls, call)
}

// Calls returns the driver calls made so far, in order
func (s *Simulated) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Snapshot returns the current mode, AP config, station config and whether
// the radio is started
func (s *Simulated) Snapshot() (Mode, APConfig, StationConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.ap, s.station, s.started
}

// SetMode implements Driver
func (s *Simulated) SetMode(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("set_mode " + mode.String())
	if s.FailSetMode != nil {
		return s.FailSetMode
	}
	s.mode = mode
	return nil
}

// ConfigureAP implements Driver
func (s *Simulated) ConfigureAP(cfg APConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("config_ap " + cfg.SSID)
	s.ap = cfg
	return nil
}

// ConfigureStation implements Driver
func (s *Simulated) ConfigureStation(cfg StationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("config_sta " + cfg.SSID)
	s.station = cfg
	return nil
}

// Start implements Driver
func (s *Simulated) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("start")
	if s.FailStart != nil {
		return s.FailStart
	}
	s.started = true
	if s.mode.HasStation() {
		s.emit(Event{Kind: EventStationStarted, Interface: "sta0"})
	}
	return nil
}

// Stop implements Driver
func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("stop")
	s.started = false
	return nil
}

// Connect implements Driver
func (s *Simulated) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("connect")
	if s.FailConnect != nil {
		return s.FailConnect
	}
	if !s.started || !s.mode.HasStation() {
		return errors.New("station interface not started")
	}

	pass, ok := s.networks[s.station.SSID]
	switch {
	case !ok:
		s.emit(Event{Kind: EventStationDisconnected, Interface: "sta0", Reason: "no AP found"})
	case pass != s.station.Password:
		s.emit(Event{Kind: EventStationDisconnected, Interface: "sta0", Reason: "auth failed"})
	default:
		s.emit(Event{Kind: EventAddressAcquired, Interface: "sta0", Addr: "192.168.1.50"})
	}
	return nil
}

// emit queues an event without blocking; callers hold s.mu
func (s *Simulated) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		logging.Warn("Simulated radio event dropped, buffer full",
			zap.String("event", ev.String()),
		)
	}
}

// Inject queues an arbitrary event, as if raised by the network stack
func (s *Simulated) Inject(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(ev)
}

// String describes the simulated radio state
func (s *Simulated) String() string {
	mode, ap, sta, started := s.Snapshot()
	return fmt.Sprintf("simulated radio mode=%s ap=%q sta=%q started=%v", mode, ap.SSID, sta.SSID, started)
}
