package credstore

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/nvs"
)

const (
	// Namespace is the nvs namespace holding the WiFi profile
	Namespace = "storage"

	KeySSID        = "ssid"
	KeyPassword    = "password"
	KeyStartAPMode = "start_ap_mode"

	// MaxSSIDLength is the 802.11 SSID limit in bytes
	MaxSSIDLength = 32

	// MaxPasswordLength is the WPA passphrase buffer limit in bytes
	MaxPasswordLength = 64
)

// Record is the single WiFi profile the device stores
type Record struct {
	SSID     string
	Password string
}

// Validate checks the field bounds every stored record must satisfy
func (r Record) Validate() error {
	if r.SSID == "" {
		return fault.NewConfigError("ssid is required")
	}
	if len(r.SSID) > MaxSSIDLength {
		return fault.NewConfigError(fmt.Sprintf("ssid too long (max %d bytes): %d bytes", MaxSSIDLength, len(r.SSID)))
	}
	if len(r.Password) > MaxPasswordLength {
		return fault.NewConfigError(fmt.Sprintf("password too long (max %d bytes): %d bytes", MaxPasswordLength, len(r.Password)))
	}
	return nil
}

// Store owns the durable copy of the WiFi profile and the boot-mode flag.
// Every write is commit-then-return.
type Store struct {
	flash *nvs.Flash
}

// New creates a Store on top of an initialized nvs.Flash
func New(flash *nvs.Flash) *Store {
	return &Store{flash: flash}
}

// Load returns the stored profile. The second result is false when the SSID
// or the password key is missing, when the SSID is empty, or when the read
// fails.
func (s *Store) Load() (Record, bool) {
	h := s.flash.Namespace(Namespace)
	defer h.Close()

	ssid, err := h.GetString(KeySSID)
	if err != nil {
		if !errors.Is(err, nvs.ErrNotFound) {
			logging.Warn("Failed to read stored SSID", zap.Error(err))
		}
		return Record{}, false
	}
	password, err := h.GetString(KeyPassword)
	if err != nil {
		if !errors.Is(err, nvs.ErrNotFound) {
			logging.Warn("Failed to read stored password", zap.Error(err))
		}
		return Record{}, false
	}
	if ssid == "" {
		return Record{}, false
	}
	return Record{SSID: ssid, Password: password}, true
}

// Save writes both fields and commits them together
func (s *Store) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	h := s.flash.Namespace(Namespace)
	defer h.Close()

	if err := h.SetString(KeySSID, rec.SSID); err != nil {
		return fault.NewStorageError("nvs set ssid", err)
	}
	if err := h.SetString(KeyPassword, rec.Password); err != nil {
		return fault.NewStorageError("nvs set password", err)
	}
	if err := h.Commit(); err != nil {
		return fault.NewStorageError("nvs commit", err)
	}

	logging.Info("Credentials saved", zap.String("ssid", rec.SSID))
	return nil
}

// EraseCredentials removes both fields
func (s *Store) EraseCredentials() error {
	h := s.flash.Namespace(Namespace)
	defer h.Close()

	if err := h.EraseKey(KeySSID); err != nil {
		return fault.NewStorageError("nvs erase ssid", err)
	}
	if err := h.EraseKey(KeyPassword); err != nil {
		return fault.NewStorageError("nvs erase password", err)
	}
	if err := h.Commit(); err != nil {
		return fault.NewStorageError("nvs commit", err)
	}

	logging.Info("Deleted SSID and password from storage")
	return nil
}

// BootModeFlag reports whether the next boot must start in provisioning
// mode. A missing or unreadable flag reads as false.
func (s *Store) BootModeFlag() bool {
	h := s.flash.Namespace(Namespace)
	defer h.Close()

	v, err := h.GetU8(KeyStartAPMode)
	if err != nil {
		if !errors.Is(err, nvs.ErrNotFound) {
			logging.Warn("Failed to read start_ap_mode", zap.Error(err))
		}
		return false
	}
	return v == 1
}

// SetBootModeFlag durably records the flag
func (s *Store) SetBootModeFlag(on bool) error {
	h := s.flash.Namespace(Namespace)
	defer h.Close()

	var v uint8
	if on {
		v = 1
	}
	if err := h.SetU8(KeyStartAPMode, v); err != nil {
		return fault.NewStorageError("nvs set start_ap_mode", err)
	}
	if err := h.Commit(); err != nil {
		return fault.NewStorageError("nvs commit", err)
	}
	return nil
}
