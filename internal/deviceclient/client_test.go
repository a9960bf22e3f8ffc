package deviceclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/lights"
	"github.com/muurk/sidelights/internal/nvs"
	"github.com/muurk/sidelights/internal/ota"
	"github.com/muurk/sidelights/internal/provisioning"
	"github.com/muurk/sidelights/internal/radio"
	"github.com/muurk/sidelights/internal/server"
	"github.com/muurk/sidelights/internal/supervisor"
)

const mockStatus = `{"version":{"version":"1.2.0","commit":"abc123"},` +
	`"network":{"mode":"station","phase":"connected","retry_count":0,"ssid":"HomeNet","addr":"192.168.1.50"},` +
	`"ota":{"state":"idle","bytes_written":0,"running_slot":"ota_0","boot_slot":"ota_0",` +
	`"slots":[{"label":"ota_0","valid":true,"size":1024,"written_at":"2026-01-02T03:04:05Z"},{"label":"ota_1","valid":false,"size":0,"written_at":"0001-01-01T00:00:00Z"}]},` +
	`"lights":{"light1":true,"light2":false}}`

func testClient(url string) *Client {
	c := NewClientWithURL(url)
	c.SetRetry(2, time.Millisecond)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		ip   string
		port int
		want string
	}{
		{"192.168.1.50", 80, "http://192.168.1.50:80"},
		{"fe80::1", 8080, "http://[fe80::1]:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			c := NewClient(tt.ip, tt.port)
			if c.BaseURL != tt.want {
				t.Errorf("BaseURL = %s, want %s", c.BaseURL, tt.want)
			}
			if c.HTTPClient.Timeout != DefaultTimeout {
				t.Errorf("Timeout = %v, want %v", c.HTTPClient.Timeout, DefaultTimeout)
			}
		})
	}
}

func TestNewClientWithURLTrimsSlash(t *testing.T) {
	c := NewClientWithURL("http://sidelights.local/")
	if c.BaseURL != "http://sidelights.local" {
		t.Errorf("BaseURL = %s", c.BaseURL)
	}
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("path = %s, want /status", r.URL.Path)
		}
		_, _ = io.WriteString(w, mockStatus)
	}))
	defer srv.Close()

	st, err := testClient(srv.URL).GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Version.Version != "1.2.0" || st.Network.Addr != "192.168.1.50" {
		t.Errorf("status = %+v", st)
	}
	if len(st.OTA.Slots) != 2 || !st.OTA.Slots[0].Valid {
		t.Errorf("slots = %+v", st.OTA.Slots)
	}
	if st.RestartPending() {
		t.Error("RestartPending() = true for matching slots")
	}
}

func TestGetStatusRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, mockStatus)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).GetStatus(context.Background()); err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestGetStatusParseErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetStatus(context.Background())
	if k, _ := KindOf(err); k != KindResponse {
		t.Fatalf("error = %v, want parse error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestProvision(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		_, _ = io.WriteString(w, provisioning.MsgSaved)
	}))
	defer srv.Close()

	msg, err := testClient(srv.URL).Provision(context.Background(), "Home Net", "p&ss")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if msg != provisioning.MsgSaved {
		t.Errorf("message = %q", msg)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", gotType)
	}
	rec, err := provisioning.ParseForm([]byte(gotBody))
	if err != nil || rec.SSID != "Home Net" || rec.Password != "p&ss" {
		t.Errorf("body %q decoded to %+v, %v", gotBody, rec, err)
	}
}

func TestProvisionValidation(t *testing.T) {
	c := testClient("http://127.0.0.1:1")
	tests := []struct {
		name, ssid, password string
	}{
		{"empty ssid", "", "secret"},
		{"long ssid", strings.Repeat("s", 33), ""},
		{"long password", "home", strings.Repeat("p", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Provision(context.Background(), tt.ssid, tt.password); !isInput(err) {
				t.Errorf("Provision() error = %v, want validation error", err)
			}
		})
	}
}

func TestProvisionNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "Could not start WiFi connection", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Provision(context.Background(), "home", "secret")
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("error = %v, want 502", err)
	}
	if Summary(err) != "Could not start WiFi connection" {
		t.Errorf("short message = %q", Summary(err))
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestControl(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, lights.MsgExecuted)
	}))
	defer srv.Close()

	cmds, err := ParseLightArgs([]string{"light1=on", "lights=OFF"})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := testClient(srv.URL).Control(context.Background(), cmds)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if msg != lights.MsgExecuted || gotBody != "light1=on&lights=off" {
		t.Errorf("message %q body %q", msg, gotBody)
	}
}

func TestParseLightArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid", []string{"light2=on"}, false},
		{"none", nil, true},
		{"missing value", []string{"light2"}, true},
		{"bad value", []string{"light2=dim"}, true},
		{"missing name", []string{"=on"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLightArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLightArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestPushFirmware(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, ota.MsgSuccess)
	}))
	defer srv.Close()

	img := bytes.Repeat([]byte{1, 2, 3, 4}, 10_000)
	var last int64
	msg, err := testClient(srv.URL).PushFirmware(context.Background(), bytes.NewReader(img), int64(len(img)),
		func(sent, total int64) {
			if total != int64(len(img)) {
				t.Errorf("total = %d", total)
			}
			last = sent
		})
	if err != nil {
		t.Fatalf("PushFirmware() error = %v", err)
	}
	if msg != ota.MsgSuccess {
		t.Errorf("message = %q", msg)
	}
	if !bytes.Equal(received, img) {
		t.Errorf("received %d bytes, want %d", len(received), len(img))
	}
	if last != int64(len(img)) {
		t.Errorf("last progress = %d, want %d", last, len(img))
	}
}

func TestPushFirmwareConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "Another update is in progress", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).PushFirmware(context.Background(), strings.NewReader("img"), 3, nil)
	if StatusCode(err) != http.StatusConflict || Retryable(err) {
		t.Errorf("error = %v, want non-retryable 409", err)
	}
	if !strings.Contains(strings.Join(Tips(err), " "), "in progress") {
		t.Errorf("tips = %q", Tips(err))
	}
}

func TestPushFirmwareEmpty(t *testing.T) {
	if _, err := testClient("http://127.0.0.1:1").PushFirmware(context.Background(), strings.NewReader(""), 0, nil); !isInput(err) {
		t.Errorf("error = %v, want validation error", err)
	}
}

type restarts struct {
	mu sync.Mutex
	n  int
}

func (r *restarts) RequestRestart(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func (r *restarts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// deviceServer runs the controller's real HTTP interface over simulated
// hardware
func deviceServer(t *testing.T) (*httptest.Server, *restarts) {
	t.Helper()
	flash, err := nvs.Open(nvs.NewMemoryMedium())
	if err != nil {
		t.Fatal(err)
	}
	rs := &restarts{}
	sup := supervisor.New(credstore.New(flash), radio.NewSimulated(nil), rs, supervisor.Config{
		AP:     radio.APConfig{SSID: "SideLights", Password: "12345678", MaxConnections: 4},
		Policy: supervisor.Retries(10, 0),
	})
	if err := sup.Boot(); err != nil {
		t.Fatal(err)
	}
	table, err := ota.OpenTable(t.TempDir(), 1<<20, nvs.NewMemoryMedium())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(&server.Config{ReadTimeout: time.Second}, server.Deps{
		Supervisor:   sup,
		Provisioning: provisioning.NewHandler(sup, provisioning.DefaultBodyLimit),
		OTA:          ota.NewTransfer(table, rs),
		Lights:       lights.NewController(lights.NewSimulated(), []string{"light1", "light2", "light3"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return hs, rs
}

func TestAgainstDevice(t *testing.T) {
	hs, rs := deviceServer(t)
	c := testClient(hs.URL)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Network.Mode != "ap+station" || st.Network.Phase != "provisioning" {
		t.Errorf("network = %+v, want provisioning", st.Network)
	}

	if _, err := c.Control(ctx, []lights.Command{{Name: "light9", On: true}}); StatusCode(err) != http.StatusBadRequest {
		t.Errorf("Control(light9) error = %v, want 400", err)
	}

	img := bytes.Repeat([]byte("firmware"), 2000)
	msg, err := c.PushFirmwareWebSocket(ctx, bytes.NewReader(img), int64(len(img)), nil)
	if err != nil {
		t.Fatalf("PushFirmwareWebSocket() error = %v", err)
	}
	if msg != ota.MsgSuccess {
		t.Errorf("message = %q", msg)
	}
	if rs.count() != 1 {
		t.Errorf("restarts = %d, want 1", rs.count())
	}

	st, err = c.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.RestartPending() || st.OTA.BootSlot != "ota_1" {
		t.Errorf("ota = %+v, want ota_1 pending boot", st.OTA)
	}

	// The committed image blocks further uploads until restart
	_, err = c.PushFirmwareWebSocket(ctx, bytes.NewReader(img), int64(len(img)), nil)
	if err == nil {
		t.Error("second push succeeded, want device rejection")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForRestart(waitCtx, 10*time.Millisecond); err == nil {
		t.Error("WaitForRestart() succeeded while restart still pending")
	}
}

func TestWaitForRestartDeviceBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "restarting", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, mockStatus)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := testClient(srv.URL).WaitForRestart(ctx, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForRestart() error = %v", err)
	}
	if st.OTA.RunningSlot != "ota_0" {
		t.Errorf("running = %s", st.OTA.RunningSlot)
	}
}

func TestErrorsAs(t *testing.T) {
	err := statusError("push firmware", http.StatusInternalServerError, "OTA update failed: write failed")
	wrapped := errors.Join(errors.New("push"), err)
	if StatusCode(wrapped) != http.StatusInternalServerError || !Retryable(wrapped) {
		t.Errorf("wrapped error not classified: %v", wrapped)
	}
}
