package provisioning

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/nvs"
	"github.com/muurk/sidelights/internal/radio"
	"github.com/muurk/sidelights/internal/supervisor"
)

func TestParseForm(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    credstore.Record
		wantErr bool
	}{
		{"simple", "ssid=HomeNet&password=secret123", credstore.Record{SSID: "HomeNet", Password: "secret123"}, false},
		{"reordered", "password=secret123&ssid=HomeNet", credstore.Record{SSID: "HomeNet", Password: "secret123"}, false},
		{"percent and plus", "ssid=My+Home%20Net&password=p%26ss%3Dword", credstore.Record{SSID: "My Home Net", Password: "p&ss=word"}, false},
		{"open network", "ssid=Cafe&password=", credstore.Record{SSID: "Cafe"}, false},
		{"password omitted", "ssid=Cafe", credstore.Record{SSID: "Cafe"}, false},
		{"key without value", "ssid=Cafe&password", credstore.Record{SSID: "Cafe"}, false},
		{"unknown keys ignored", "foo=bar&ssid=Cafe&x=1", credstore.Record{SSID: "Cafe"}, false},
		{"first occurrence wins", "ssid=First&ssid=Second&password=a&password=b", credstore.Record{SSID: "First", Password: "a"}, false},
		{"stray separators", "&&ssid=Cafe&&", credstore.Record{SSID: "Cafe"}, false},
		{"max lengths", "ssid=" + strings.Repeat("s", 32) + "&password=" + strings.Repeat("p", 64),
			credstore.Record{SSID: strings.Repeat("s", 32), Password: strings.Repeat("p", 64)}, false},
		{"missing ssid", "password=secret123", credstore.Record{}, true},
		{"empty ssid", "ssid=&password=secret123", credstore.Record{}, true},
		{"empty body", "", credstore.Record{}, true},
		{"ssid 33 bytes", "ssid=" + strings.Repeat("s", 33), credstore.Record{}, true},
		{"encoded ssid 33 bytes", "ssid=" + strings.Repeat("%41", 33), credstore.Record{}, true},
		{"password 65 bytes", "ssid=a&password=" + strings.Repeat("p", 65), credstore.Record{}, true},
		{"bad escape", "ssid=%zz", credstore.Record{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseForm([]byte(tt.body))
			if tt.wantErr {
				if !fault.IsConfigError(err) {
					t.Fatalf("ParseForm() error = %v, want config error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseForm() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseForm() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEncodeFormRoundTrip(t *testing.T) {
	rec := credstore.Record{SSID: "Café & Bar", Password: "p=w+d%"}
	got, err := ParseForm([]byte(EncodeForm(rec)))
	if err != nil {
		t.Fatalf("ParseForm() error = %v", err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

type fakeRestarter struct{ n int }

func (f *fakeRestarter) RequestRestart(string) { f.n++ }

type fixture struct {
	handler *Handler
	sup     *supervisor.Supervisor
	sim     *radio.Simulated
	store   *credstore.Store
	medium  *nvs.MemoryMedium
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, supervisor.Retries(10, 0))
}

func newFixtureWithPolicy(t *testing.T, policy supervisor.Policy) *fixture {
	t.Helper()
	medium := nvs.NewMemoryMedium()
	flash, err := nvs.Open(medium)
	if err != nil {
		t.Fatalf("nvs.Open() error = %v", err)
	}
	f := &fixture{
		sim:    radio.NewSimulated(map[string]string{"HomeNet": "secret123"}),
		store:  credstore.New(flash),
		medium: medium,
	}
	f.sup = supervisor.New(f.store, f.sim, &fakeRestarter{}, supervisor.Config{
		AP:     radio.APConfig{SSID: "SideLights", Password: "12345678", MaxConnections: 4},
		Policy: policy,
	})
	if err := f.sup.Boot(); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	f.handler = NewHandler(f.sup, 0)
	return f
}

// drain handles queued radio events until none remain
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		select {
		case ev := <-f.sim.Events():
			if err := f.sup.HandleLinkEvent(ev); err != nil {
				t.Fatalf("HandleLinkEvent() error = %v", err)
			}
		default:
			return
		}
	}
}

func (f *fixture) connects() int {
	n := 0
	for _, c := range f.sim.Calls() {
		if c == "connect" {
			n++
		}
	}
	return n
}

func TestHandleSaveSuccess(t *testing.T) {
	f := newFixture(t)

	res := f.handler.HandleSave(context.Background(), strings.NewReader("ssid=HomeNet&password=secret123"))
	if res.Status != http.StatusOK || res.Message != MsgSaved {
		t.Fatalf("HandleSave() = %+v", res)
	}

	got, ok := f.store.Load()
	if !ok || got.SSID != "HomeNet" || got.Password != "secret123" {
		t.Errorf("stored = %+v, %v", got, ok)
	}
	if st := f.sup.State(); st.Mode != supervisor.ModeStationOnly {
		t.Errorf("Mode = %s, want station", st.Mode)
	}
	if n := f.connects(); n != 1 {
		t.Errorf("connect attempts = %d, want exactly 1", n)
	}

	// The simulated radio reports the outcome asynchronously
	for {
		select {
		case ev := <-f.sim.Events():
			_ = f.sup.HandleLinkEvent(ev)
			continue
		default:
		}
		break
	}
	if st := f.sup.State(); st.Phase != supervisor.PhaseConnected {
		t.Errorf("Phase = %s, want connected", st.Phase)
	}
}

func TestHandleSaveRejectsWithoutTouchingStore(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"ssid too long", "ssid=" + strings.Repeat("s", 33) + "&password=x"},
		{"password too long", "ssid=HomeNet&password=" + strings.Repeat("p", 65)},
		{"missing ssid", "password=x"},
		{"over the body cap", "ssid=HomeNet&password=x&pad=" + strings.Repeat("z", DefaultBodyLimit)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.medium.Stores

			res := f.handler.HandleSave(context.Background(), strings.NewReader(tt.body))
			if res.Status != http.StatusBadRequest || !fault.IsConfigError(res.Err) {
				t.Fatalf("HandleSave() = %+v, want 400 config error", res)
			}
			if f.medium.Stores != before {
				t.Error("store was written for a rejected request")
			}
			if f.connects() != 0 {
				t.Error("connect attempted for a rejected request")
			}
		})
	}
}

func TestHandleSaveStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.medium.SetFailStores(true)

	res := f.handler.HandleSave(context.Background(), strings.NewReader("ssid=HomeNet&password=secret123"))
	if !fault.IsStorageError(res.Err) || res.Status != http.StatusInternalServerError {
		t.Fatalf("HandleSave() = %+v, want storage error", res)
	}
	if st := f.sup.State(); st.Mode != supervisor.ModeDualApStation {
		t.Errorf("Mode = %s, no transition expected", st.Mode)
	}
	if f.connects() != 0 {
		t.Error("connect attempted after failed save")
	}
}

func TestHandleSaveConnectFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.sim.SetFailConnect(errors.New("radio busy"))

	res := f.handler.HandleSave(context.Background(), strings.NewReader("ssid=HomeNet&password=secret123"))
	if !fault.IsNetworkError(res.Err) || res.Status != http.StatusBadGateway {
		t.Fatalf("HandleSave() = %+v, want network error", res)
	}
	if st := f.sup.State(); st.Mode != supervisor.ModeDualApStation || st.Phase != supervisor.PhaseProvisioning {
		t.Errorf("state = %s/%s, want provisioning AP back up", st.Mode, st.Phase)
	}
	if f.connects() != 1 {
		t.Errorf("connect attempts = %d, want 1", f.connects())
	}
}

func TestHandleSaveTimeout(t *testing.T) {
	f := newFixture(t)

	stalled := iotest.ErrReader(os.ErrDeadlineExceeded)
	res := f.handler.HandleSave(context.Background(), stalled)
	if res.Status != http.StatusRequestTimeout || res.Message != "Request timeout" {
		t.Errorf("HandleSave() = %+v, want request timeout", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = f.handler.HandleSave(ctx, strings.NewReader("ssid=HomeNet"))
	if !fault.IsTimeoutError(res.Err) {
		t.Errorf("HandleSave() with done context = %+v, want timeout", res)
	}
	if f.medium.Stores != 0 {
		t.Error("store written after timeout")
	}
}

func TestHandleSaveAfterFallback(t *testing.T) {
	f := newFixtureWithPolicy(t, supervisor.Retries(0, 0))

	// Store unreachable credentials and let the single attempt fail
	res := f.handler.HandleSave(context.Background(), strings.NewReader("ssid=Unreachable&password=x"))
	if res.Status != http.StatusOK {
		t.Fatalf("HandleSave() = %+v", res)
	}
	f.drain(t)
	if st := f.sup.State(); st.Phase != supervisor.PhaseRestartPending {
		t.Fatalf("Phase = %s, want restart-pending", st.Phase)
	}

	stores, connects := f.medium.Stores, f.connects()
	res = f.handler.HandleSave(context.Background(), strings.NewReader("ssid=HomeNet&password=secret123"))
	if res.Status != http.StatusServiceUnavailable || res.Message != "Device is restarting" {
		t.Errorf("HandleSave() = %+v, want 503 restarting", res)
	}
	if f.medium.Stores != stores {
		t.Error("credentials written while a restart was pending")
	}
	if _, ok := f.store.Load(); ok {
		t.Error("erased credentials came back")
	}
	if !f.store.BootModeFlag() {
		t.Error("boot mode flag was lost")
	}
	if f.connects() != connects {
		t.Error("connect attempted while a restart was pending")
	}
}

func TestHandleSaveConcurrentWithLinkEvents(t *testing.T) {
	f := newFixtureWithPolicy(t, supervisor.Policy{})
	f.sim.AddNetwork("Office", "hunter22")

	ctx, cancel := context.WithCancel(context.Background())
	pumped := make(chan error, 1)
	go func() { pumped <- f.sup.Pump(ctx, f.sim) }()

	bodies := []string{"ssid=HomeNet&password=secret123", "ssid=Office&password=hunter22"}
	results := make(chan Result, 40)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				body := bodies[(i+j)%len(bodies)]
				results <- f.handler.HandleSave(context.Background(), strings.NewReader(body))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 40; j++ {
			f.sim.Inject(radio.Event{Kind: radio.EventStationDisconnected, Reason: "beacon timeout"})
			_ = f.sup.State()
		}
	}()
	wg.Wait()
	close(results)
	cancel()
	<-pumped

	for res := range results {
		if res.Status != http.StatusOK {
			t.Errorf("HandleSave() = %+v", res)
		}
	}

	stored, ok := f.store.Load()
	if !ok {
		t.Fatal("no credentials stored")
	}
	st := f.sup.State()
	if st.Mode != supervisor.ModeStationOnly {
		t.Errorf("Mode = %s, want station", st.Mode)
	}
	if st.SSID != stored.SSID {
		t.Errorf("supervisor joined %q but store holds %q", st.SSID, stored.SSID)
	}
}
