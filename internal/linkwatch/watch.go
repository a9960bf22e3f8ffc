package linkwatch

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/radio"
)

const (
	// DefaultConnectTimeout bounds how long a connect attempt may go without
	// an address before it is reported as a disconnect
	DefaultConnectTimeout = 30 * time.Second

	eventBuffer = 32
)

// Watcher wraps a radio driver and turns kernel link and address changes on
// the station interface into radio events. A connect attempt that never
// produces an address is reported as a disconnect once ConnectTimeout passes.
type Watcher struct {
	radio.Driver

	station        string
	connectTimeout time.Duration
	events         chan radio.Event

	mu       sync.Mutex
	index    int
	linkUp   bool
	attempt  uint64
	watchdog *time.Timer
}

// New wraps driver for the given station interface
func New(driver radio.Driver, station string, connectTimeout time.Duration) *Watcher {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Watcher{
		Driver:         driver,
		station:        station,
		connectTimeout: connectTimeout,
		events:         make(chan radio.Event, eventBuffer),
	}
}

// Events implements radio.EventSource
func (w *Watcher) Events() <-chan radio.Event {
	return w.events
}

// Connect starts a connect attempt and arms the watchdog
func (w *Watcher) Connect() error {
	if err := w.Driver.Connect(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.disarmLocked()
	w.attempt++
	attempt := w.attempt
	w.watchdog = time.AfterFunc(w.connectTimeout, func() { w.expire(attempt) })
	return nil
}

// Stop disarms the watchdog and stops the driver
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.disarmLocked()
	w.linkUp = false
	w.mu.Unlock()
	return w.Driver.Stop()
}

func (w *Watcher) disarmLocked() {
	if w.watchdog != nil {
		w.watchdog.Stop()
		w.watchdog = nil
	}
}

func (w *Watcher) expire(attempt uint64) {
	w.mu.Lock()
	if attempt != w.attempt || w.watchdog == nil {
		w.mu.Unlock()
		return
	}
	w.watchdog = nil
	w.mu.Unlock()

	w.emit(radio.Event{Kind: radio.EventStationDisconnected, Interface: w.station, Reason: "connect timeout"})
}

func (w *Watcher) emit(ev radio.Event) {
	select {
	case w.events <- ev:
	default:
		logging.Warn("Link event dropped", zap.String("event", ev.String()))
	}
}

// linkChanged records the operational state of a link
func (w *Watcher) linkChanged(name string, index int, up bool) {
	if name != w.station {
		return
	}

	w.mu.Lock()
	w.index = index
	was := w.linkUp
	w.linkUp = up
	w.mu.Unlock()

	switch {
	case up && !was:
		w.emit(radio.Event{Kind: radio.EventLinkUp, Interface: name})
	case !up && was:
		w.mu.Lock()
		w.disarmLocked()
		w.mu.Unlock()
		w.emit(radio.Event{Kind: radio.EventStationDisconnected, Interface: name, Reason: "link down"})
	}
}

// addrAdded reports a new IPv4 address on the station link
func (w *Watcher) addrAdded(index int, ip net.IP) {
	w.mu.Lock()
	if index != w.index || ip.To4() == nil || ip.IsLinkLocalUnicast() {
		w.mu.Unlock()
		return
	}
	w.disarmLocked()
	w.mu.Unlock()

	w.emit(radio.Event{Kind: radio.EventAddressAcquired, Interface: w.station, Addr: ip.String()})
}
