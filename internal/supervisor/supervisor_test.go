package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/nvs"
	"github.com/muurk/sidelights/internal/radio"
)

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRestarter) RequestRestart(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

var testAP = radio.APConfig{SSID: "SideLights", Password: "12345678", MaxConnections: 4}

type harness struct {
	sup      *Supervisor
	sim      *radio.Simulated
	store    *credstore.Store
	medium   *nvs.MemoryMedium
	restarts *fakeRestarter
}

func newHarness(t *testing.T, policy Policy, networks map[string]string) *harness {
	t.Helper()
	medium := nvs.NewMemoryMedium()
	flash, err := nvs.Open(medium)
	if err != nil {
		t.Fatalf("nvs.Open() error = %v", err)
	}
	h := &harness{
		sim:      radio.NewSimulated(networks),
		store:    credstore.New(flash),
		medium:   medium,
		restarts: &fakeRestarter{},
	}
	h.sup = New(h.store, h.sim, h.restarts, Config{AP: testAP, Policy: policy})
	return h
}

// settle handles queued radio events until none remain, returning the first
// error from the supervisor
func (h *harness) settle(t *testing.T) error {
	t.Helper()
	for i := 0; i < 1000; i++ {
		select {
		case ev := <-h.sim.Events():
			if err := h.sup.HandleLinkEvent(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	t.Fatal("radio events did not settle")
	return nil
}

func TestTransition(t *testing.T) {
	disconnect := radio.Event{Kind: radio.EventStationDisconnected}
	gotIP := radio.Event{Kind: radio.EventAddressAcquired, Addr: "10.0.0.9"}

	tests := []struct {
		name        string
		state       State
		event       radio.Event
		policy      Policy
		wantPhase   Phase
		wantRetries int
		wantEffects []EffectKind
	}{
		{
			name:        "address resets retries",
			state:       State{Mode: ModeStationOnly, Phase: PhaseRetrying, RetryCount: 7},
			event:       gotIP,
			policy:      Retries(10, 0),
			wantPhase:   PhaseConnected,
			wantRetries: 0,
		},
		{
			name:        "disconnect with budget",
			state:       State{Mode: ModeStationOnly, Phase: PhaseConnecting},
			event:       disconnect,
			policy:      Retries(2, 0),
			wantPhase:   PhaseRetrying,
			wantRetries: 1,
			wantEffects: []EffectKind{EffectReconnect},
		},
		{
			name:        "disconnect after connected",
			state:       State{Mode: ModeStationOnly, Phase: PhaseConnected},
			event:       disconnect,
			policy:      Retries(2, 0),
			wantPhase:   PhaseRetrying,
			wantRetries: 1,
			wantEffects: []EffectKind{EffectReconnect},
		},
		{
			name:        "budget spent",
			state:       State{Mode: ModeStationOnly, Phase: PhaseRetrying, RetryCount: 2},
			event:       disconnect,
			policy:      Retries(2, 0),
			wantPhase:   PhaseRestartPending,
			wantRetries: 2,
			wantEffects: []EffectKind{EffectEraseCredentials, EffectSetBootModeFlag, EffectRequestRestart},
		},
		{
			name:        "zero budget falls back on first disconnect",
			state:       State{Mode: ModeStationOnly, Phase: PhaseConnecting},
			event:       disconnect,
			policy:      Retries(0, 0),
			wantPhase:   PhaseRestartPending,
			wantEffects: []EffectKind{EffectEraseCredentials, EffectSetBootModeFlag, EffectRequestRestart},
		},
		{
			name:        "retry forever",
			state:       State{Mode: ModeStationOnly, Phase: PhaseRetrying, RetryCount: 5000},
			event:       disconnect,
			policy:      Policy{},
			wantPhase:   PhaseRetrying,
			wantRetries: 5001,
			wantEffects: []EffectKind{EffectReconnect},
		},
		{
			name:      "ignored while provisioning",
			state:     State{Mode: ModeDualApStation, Phase: PhaseProvisioning},
			event:     disconnect,
			policy:    Retries(0, 0),
			wantPhase: PhaseProvisioning,
		},
		{
			name:        "ignored after restart requested",
			state:       State{Mode: ModeStationOnly, Phase: PhaseRestartPending, RetryCount: 3},
			event:       gotIP,
			policy:      Retries(3, 0),
			wantPhase:   PhaseRestartPending,
			wantRetries: 3,
		},
		{
			name:      "ap client join is informational",
			state:     State{Mode: ModeStationOnly, Phase: PhaseConnecting},
			event:     radio.Event{Kind: radio.EventAPClientJoined, MAC: "aa:bb"},
			policy:    Retries(3, 0),
			wantPhase: PhaseConnecting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Transition(tt.state, tt.event, tt.policy)
			if got.Phase != tt.wantPhase {
				t.Errorf("Phase = %s, want %s", got.Phase, tt.wantPhase)
			}
			if got.RetryCount != tt.wantRetries {
				t.Errorf("RetryCount = %d, want %d", got.RetryCount, tt.wantRetries)
			}
			if len(effects) != len(tt.wantEffects) {
				t.Fatalf("effects = %v, want %v", effects, tt.wantEffects)
			}
			for i, k := range tt.wantEffects {
				if effects[i].Kind != k {
					t.Errorf("effect[%d] = %s, want %s", i, effects[i].Kind, k)
				}
			}
		})
	}
}

func TestBootWithoutCredentials(t *testing.T) {
	h := newHarness(t, Retries(10, 0), nil)
	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	st := h.sup.State()
	if st.Mode != ModeDualApStation || st.Phase != PhaseProvisioning {
		t.Errorf("state = %s/%s, want ap+station/provisioning", st.Mode, st.Phase)
	}
	mode, ap, sta, started := h.sim.Snapshot()
	if mode != radio.ModeAPStation || !started || ap.SSID != "SideLights" {
		t.Errorf("radio = %s started=%v ap=%q, want provisioning AP up", mode, started, ap.SSID)
	}
	if sta.SSID != "" {
		t.Errorf("station configured with %q, want idle", sta.SSID)
	}
	for _, c := range h.sim.Calls() {
		if c == "connect" {
			t.Error("station connect attempted without credentials")
		}
	}
}

func TestBootModeFlagIgnoresCredentials(t *testing.T) {
	h := newHarness(t, Retries(10, 0), map[string]string{"HomeNet": "secret123"})
	_ = h.store.Save(credstore.Record{SSID: "HomeNet", Password: "secret123"})
	_ = h.store.SetBootModeFlag(true)

	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if h.store.BootModeFlag() {
		t.Error("boot mode flag should be cleared after boot")
	}
	if st := h.sup.State(); st.Mode != ModeDualApStation {
		t.Errorf("Mode = %s, want ap+station", st.Mode)
	}
	if _, ok := h.store.Load(); !ok {
		t.Error("stored credentials should be kept, only ignored")
	}
	for _, c := range h.sim.Calls() {
		if c == "connect" {
			t.Error("station connect attempted while flag was set")
		}
	}
}

func TestBootFlagClearFailureIsFatal(t *testing.T) {
	h := newHarness(t, Retries(10, 0), nil)
	_ = h.store.SetBootModeFlag(true)
	h.medium.SetFailStores(true)

	err := h.sup.Boot()
	if !fault.IsFatal(err) {
		t.Fatalf("Boot() error = %v, want fatal", err)
	}
	if len(h.sim.Calls()) != 0 {
		t.Errorf("radio touched before flag was cleared: %v", h.sim.Calls())
	}
}

func TestBootConnects(t *testing.T) {
	h := newHarness(t, Retries(10, 0), map[string]string{"HomeNet": "secret123"})
	_ = h.store.Save(credstore.Record{SSID: "HomeNet", Password: "secret123"})

	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if err := h.settle(t); err != nil {
		t.Fatalf("settle error = %v", err)
	}

	st := h.sup.State()
	if st.Mode != ModeStationOnly || st.Phase != PhaseConnected {
		t.Errorf("state = %s/%s, want station/connected", st.Mode, st.Phase)
	}
	if st.Addr != "192.168.1.50" {
		t.Errorf("Addr = %q", st.Addr)
	}
}

func TestSynchronousConnectFailureFallsBack(t *testing.T) {
	h := newHarness(t, Retries(10, 0), nil)
	_ = h.store.Save(credstore.Record{SSID: "HomeNet", Password: "secret123"})
	h.sim.SetFailConnect(errors.New("radio busy"))

	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	st := h.sup.State()
	if st.Mode != ModeDualApStation || st.RetryCount != 0 {
		t.Errorf("state = %+v, want ap+station with untouched budget", st)
	}
	if _, ok := h.store.Load(); !ok {
		t.Error("immediate fallback must not erase credentials")
	}
	if h.restarts.count() != 0 {
		t.Error("immediate fallback must not restart")
	}
}

func TestRetryExhaustion(t *testing.T) {
	const maxRetries = 3
	h := newHarness(t, Retries(maxRetries, 0), nil)
	_ = h.store.Save(credstore.Record{SSID: "Unreachable", Password: "secret123"})

	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if err := h.settle(t); err != nil {
		t.Fatalf("settle error = %v", err)
	}

	connects := 0
	for _, c := range h.sim.Calls() {
		if c == "connect" {
			connects++
		}
	}
	if connects != maxRetries+1 {
		t.Errorf("connect attempts = %d, want %d", connects, maxRetries+1)
	}
	if _, ok := h.store.Load(); ok {
		t.Error("credentials should be erased")
	}
	if !h.store.BootModeFlag() {
		t.Error("boot mode flag should be set")
	}
	if h.restarts.count() != 1 {
		t.Errorf("restarts = %d, want 1", h.restarts.count())
	}

	h.sim.Inject(radio.Event{Kind: radio.EventStationDisconnected})
	h.sim.Inject(radio.Event{Kind: radio.EventAddressAcquired, Addr: "10.0.0.2"})
	if err := h.settle(t); err != nil {
		t.Fatalf("settle error = %v", err)
	}
	if h.restarts.count() != 1 {
		t.Errorf("restart requested %d times, want exactly once", h.restarts.count())
	}
	if st := h.sup.State(); st.Phase != PhaseRestartPending {
		t.Errorf("Phase = %s, want restart-pending", st.Phase)
	}
}

func TestFallbackWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, Retries(0, 0), nil)
	_ = h.store.Save(credstore.Record{SSID: "Unreachable", Password: "x"})
	if err := h.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	h.medium.SetFailStores(true)
	err := h.settle(t)
	if !fault.IsFatal(err) {
		t.Fatalf("settle error = %v, want fatal", err)
	}
	if h.restarts.count() != 0 {
		t.Error("restart must not be requested when the decision was not recorded")
	}
}

func TestAddressAcquiredResetsRetries(t *testing.T) {
	h := newHarness(t, Retries(5, 0), map[string]string{"HomeNet": "secret123"})
	_ = h.store.Save(credstore.Record{SSID: "HomeNet", Password: "secret123"})
	_ = h.sup.Boot()
	_ = h.settle(t)

	// Each injected disconnect is followed by a successful reconnect, so the
	// budget never runs out no matter how often the link drops.
	for i := 0; i < 20; i++ {
		h.sim.Inject(radio.Event{Kind: radio.EventStationDisconnected, Reason: "beacon timeout"})
		if err := h.settle(t); err != nil {
			t.Fatalf("settle error = %v", err)
		}
		if st := h.sup.State(); st.RetryCount != 0 || st.Phase != PhaseConnected {
			t.Fatalf("iteration %d: state = %+v", i, st)
		}
	}
	if h.restarts.count() != 0 {
		t.Error("unexpected restart")
	}
}

func TestDelayedReconnect(t *testing.T) {
	h := newHarness(t, Retries(1, 10*time.Millisecond), nil)
	_ = h.store.Save(credstore.Record{SSID: "Unreachable", Password: "x"})
	_ = h.sup.Boot()
	defer h.sup.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.sup.Pump(ctx, h.sim) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.restarts.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if h.restarts.count() != 1 {
		t.Fatalf("restarts = %d, want 1", h.restarts.count())
	}
}

func TestExclusiveSwitchAndRevert(t *testing.T) {
	h := newHarness(t, Retries(10, 0), nil)
	_ = h.sup.Boot()

	rec := credstore.Record{SSID: "HomeNet", Password: "secret123"}
	h.sim.SetFailConnect(errors.New("radio busy"))

	err := h.sup.Exclusive(func(tx *Tx) error {
		if err := tx.Save(rec); err != nil {
			return err
		}
		if err := tx.SwitchToStation(rec); err != nil {
			if rerr := tx.RevertToProvisioning("connect failed"); rerr != nil {
				t.Errorf("RevertToProvisioning() error = %v", rerr)
			}
			return err
		}
		return nil
	})
	if !fault.IsNetworkError(err) {
		t.Fatalf("Exclusive() error = %v, want network error", err)
	}
	if st := h.sup.State(); st.Mode != ModeDualApStation {
		t.Errorf("Mode = %s, want ap+station after revert", st.Mode)
	}
	if got, ok := h.store.Load(); !ok || got != rec {
		t.Error("saved credentials should survive a failed connect")
	}
}

func TestBootTwice(t *testing.T) {
	h := newHarness(t, Retries(10, 0), nil)
	_ = h.sup.Boot()
	if err := h.sup.Boot(); err == nil {
		t.Error("second Boot() should fail")
	}
}

func TestSaveRefusedWhileRestartPending(t *testing.T) {
	h := newHarness(t, Retries(0, 0), map[string]string{"HomeNet": "secret123"})
	_ = h.store.Save(credstore.Record{SSID: "Unreachable", Password: "x"})
	_ = h.sup.Boot()
	if err := h.settle(t); err != nil {
		t.Fatalf("settle error = %v", err)
	}
	if st := h.sup.State(); st.Phase != PhaseRestartPending {
		t.Fatalf("Phase = %s, want restart-pending", st.Phase)
	}

	stores := h.medium.Stores
	err := h.sup.Exclusive(func(tx *Tx) error {
		return tx.Save(credstore.Record{SSID: "HomeNet", Password: "secret123"})
	})
	if !errors.Is(err, ErrRestartPending) {
		t.Fatalf("Save() error = %v, want restart pending", err)
	}
	if h.medium.Stores != stores {
		t.Error("store was written while a restart was pending")
	}
	if _, ok := h.store.Load(); ok {
		t.Error("erased credentials came back")
	}
	if !h.store.BootModeFlag() {
		t.Error("boot mode flag was lost")
	}
}

func TestExclusiveConcurrentWithLinkEvents(t *testing.T) {
	h := newHarness(t, Retries(2, 0), nil)
	_ = h.store.Save(credstore.Record{SSID: "Unreachable", Password: "x"})
	_ = h.sup.Boot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pumped := make(chan error, 1)
	go func() { pumped <- h.sup.Pump(ctx, h.sim) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				rec := credstore.Record{SSID: "Elsewhere", Password: "secret123"}
				_ = h.sup.Exclusive(func(tx *Tx) error {
					if err := tx.Save(rec); err != nil {
						return err
					}
					return tx.SwitchToStation(rec)
				})
				_ = h.sup.State()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			h.sim.Inject(radio.Event{Kind: radio.EventStationDisconnected, Reason: "beacon timeout"})
		}
	}()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for h.restarts.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-pumped; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Pump() error = %v", err)
	}

	if h.restarts.count() != 1 {
		t.Fatalf("restarts = %d, want 1", h.restarts.count())
	}
	if st := h.sup.State(); st.Phase != PhaseRestartPending {
		t.Errorf("Phase = %s, want restart-pending", st.Phase)
	}
	if _, ok := h.store.Load(); ok {
		t.Error("credentials present after the fallback was recorded")
	}
	if !h.store.BootModeFlag() {
		t.Error("boot mode flag not set")
	}
}
