package radio

import (
	"context"
	"fmt"
)

// Mode is the radio operating mode
type Mode int

const (
	ModeOff Mode = iota
	ModeAP
	ModeStation
	ModeAPStation
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeAP:
		return "ap"
	case ModeStation:
		return "sta"
	case ModeAPStation:
		return "apsta"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// HasAP reports whether the access point side is active in m
func (m Mode) HasAP() bool { return m == ModeAP || m == ModeAPStation }

// HasStation reports whether the station side is active in m
func (m Mode) HasStation() bool { return m == ModeStation || m == ModeAPStation }

// APConfig describes the provisioning access point
type APConfig struct {
	SSID           string
	Password       string
	MaxConnections int
}

// Open reports whether the AP runs without authentication
func (c APConfig) Open() bool { return c.Password == "" }

// StationConfig describes the network to join as a client
type StationConfig struct {
	SSID     string
	Password string
}

// Driver is the platform radio. Calls are made with the supervisor's lock
// held and must not deliver events synchronously.
type Driver interface {
	SetMode(mode Mode) error
	ConfigureAP(cfg APConfig) error
	ConfigureStation(cfg StationConfig) error
	Start() error
	Stop() error
	// Connect starts joining the configured station network. A nil return
	// only means the attempt began; the outcome arrives as an Event.
	Connect() error
}

// EventKind identifies a network stack event
type EventKind int

const (
	EventStationStarted EventKind = iota
	EventLinkUp
	EventAddressAcquired
	EventStationDisconnected
	EventAPClientJoined
	EventAPClientLeft
)

// String returns the event name used in logs
func (k EventKind) String() string {
	switch k {
	case EventStationStarted:
		return "sta_start"
	case EventLinkUp:
		return "link_up"
	case EventAddressAcquired:
		return "got_ip"
	case EventStationDisconnected:
		return "sta_disconnected"
	case EventAPClientJoined:
		return "ap_sta_connected"
	case EventAPClientLeft:
		return "ap_sta_disconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is a network stack notification
type Event struct {
	Kind      EventKind
	Interface string
	Addr      string // EventAddressAcquired
	MAC       string // EventAPClient*
	Reason    string
}

// String formats the event detail for logs
func (e Event) String() string {
	switch e.Kind {
	case EventAddressAcquired:
		return fmt.Sprintf("%s %s", e.Kind, e.Addr)
	case EventAPClientJoined, EventAPClientLeft:
		return fmt.Sprintf("%s %s", e.Kind, e.MAC)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
		}
		return e.Kind.String()
	}
}

// EventSource delivers network stack events on a channel owned by the source
type EventSource interface {
	Events() <-chan Event
}

type tapped struct {
	events chan Event
}

func (t *tapped) Events() <-chan Event { return t.events }

// Tap returns a source that forwards every event from src after passing it
// to fn. Forwarding stops when ctx is done or src closes its channel.
func Tap(ctx context.Context, src EventSource, fn func(Event)) EventSource {
	out := &tapped{events: make(chan Event, 16)}
	go func() {
		defer close(out.events)
		in := src.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				fn(ev)
				select {
				case out.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
