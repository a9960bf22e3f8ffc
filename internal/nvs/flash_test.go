package nvs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestHandleCommitVisibility(t *testing.T) {
	flash, err := Open(NewMemoryMedium())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writer := flash.Namespace("storage")
	if err := writer.SetString("ssid", "HomeNet"); err != nil {
		t.Fatalf("SetString() error = %v", err)
	}

	// Staged values are visible through the same handle only
	if got, err := writer.GetString("ssid"); err != nil || got != "HomeNet" {
		t.Errorf("writer.GetString() = %q, %v", got, err)
	}
	reader := flash.Namespace("storage")
	if _, err := reader.GetString("ssid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("uncommitted value visible to other handle, err = %v", err)
	}

	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got, err := reader.GetString("ssid"); err != nil || got != "HomeNet" {
		t.Errorf("reader.GetString() after commit = %q, %v", got, err)
	}
}

func TestCommitFailureKeepsPreviousImage(t *testing.T) {
	medium := NewMemoryMedium()
	flash, err := Open(medium)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	h := flash.Namespace("storage")
	_ = h.SetString("ssid", "First")
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	medium.SetFailStores(true)
	_ = h.SetString("ssid", "Second")
	_ = h.SetU8("start_ap_mode", 1)
	if err := h.Commit(); err == nil {
		t.Fatal("Commit() should fail when the medium rejects the write")
	}

	// Neither the in-memory view nor a fresh open may see the failed commit
	fresh := flash.Namespace("storage")
	if got, _ := fresh.GetString("ssid"); got != "First" {
		t.Errorf("ssid after failed commit = %q, want First", got)
	}
	if _, err := fresh.GetU8("start_ap_mode"); !errors.Is(err, ErrNotFound) {
		t.Errorf("start_ap_mode should be absent, err = %v", err)
	}

	reopened, err := Open(medium)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got, _ := reopened.Namespace("storage").GetString("ssid"); got != "First" {
		t.Errorf("ssid after reopen = %q, want First", got)
	}
}

func TestEraseKey(t *testing.T) {
	flash, _ := Open(NewMemoryMedium())
	h := flash.Namespace("storage")
	_ = h.SetString("ssid", "HomeNet")
	_ = h.SetString("password", "secret")
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	_ = h.EraseKey("ssid")
	_ = h.EraseKey("never-set")
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if keys := flash.Keys("storage"); len(keys) != 1 || keys[0] != "password" {
		t.Errorf("Keys() = %v, want [password]", keys)
	}
}

func TestTypesAndKeys(t *testing.T) {
	flash, _ := Open(NewMemoryMedium())
	h := flash.Namespace("storage")

	_ = h.SetU8("start_ap_mode", 1)
	if _, err := h.GetString("start_ap_mode"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetString on u8 err = %v, want ErrTypeMismatch", err)
	}

	tests := []struct {
		key     string
		wantErr bool
	}{
		{"ssid", false},
		{"fifteen_chars__", false},
		{"sixteen_chars___", true},
		{"", true},
	}
	for _, tt := range tests {
		err := h.SetString(tt.key, "x")
		if (err != nil) != tt.wantErr {
			t.Errorf("SetString(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}

	h.Close()
	if err := h.SetString("ssid", "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetString after Close err = %v, want ErrClosed", err)
	}
}

func TestFileMediumRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs", "nvs.cbor")

	flash, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() on blank path error = %v", err)
	}
	h := flash.Namespace("storage")
	_ = h.SetString("ssid", "HomeNet")
	_ = h.SetString("password", "")
	_ = h.SetU8("start_ap_mode", 0)
	if err := h.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary image should not be left behind")
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	r := reopened.Namespace("storage")
	if got, _ := r.GetString("ssid"); got != "HomeNet" {
		t.Errorf("ssid = %q", got)
	}
	if got, err := r.GetString("password"); err != nil || got != "" {
		t.Errorf("password = %q, %v; want empty present value", got, err)
	}
	if got, _ := r.GetU8("start_ap_mode"); got != 0 {
		t.Errorf("start_ap_mode = %d", got)
	}
}

func TestOpenCorruptImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Error("OpenFile() should reject a corrupt image")
	}
}
