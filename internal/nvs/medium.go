package nvs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Medium is the raw durable backing for a Flash. Store must be atomic: after
// it returns nil the new image survives power loss, after it returns an error
// a subsequent Load still yields the previous image.
type Medium interface {
	Load() ([]byte, error)
	Store(data []byte) error
}

// ErrBlank is returned by Medium.Load when nothing has ever been stored
var ErrBlank = errors.New("nvs: medium is blank")

// FileMedium keeps the image in a single file, replaced by write-then-rename
type FileMedium struct {
	Path string
}

// Load reads the image file
func (m *FileMedium) Load() ([]byte, error) {
	data, err := os.ReadFile(m.Path)
	if os.IsNotExist(err) {
		return nil, ErrBlank
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.Path, err)
	}
	return data, nil
}

// Store writes the image to a temporary file, syncs it, renames it over the
// previous image and syncs the directory so the rename itself is durable.
func (m *FileMedium) Store(data []byte) error {
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create nvs directory: %w", err)
	}

	tmpPath := m.Path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open temporary image: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary image: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary image: %w", err)
	}

	if err := os.Rename(tmpPath, m.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace image: %w", err)
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open nvs directory: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync nvs directory: %w", err)
	}
	return nil
}

// MemoryMedium is an in-memory Medium used by the simulated device and tests.
// FailStores makes every Store fail until cleared.
type MemoryMedium struct {
	mu         sync.Mutex
	data       []byte
	FailStores bool
	Stores     int
}

// NewMemoryMedium returns a blank in-memory medium
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{}
}

// Load returns a copy of the stored image
func (m *MemoryMedium) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrBlank
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Store replaces the image unless FailStores is set
func (m *MemoryMedium) Store(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailStores {
		return errors.New("nvs: simulated write failure")
	}
	m.data = make([]byte, len(data))
	copy(m.data, data)
	m.Stores++
	return nil
}

// SetFailStores toggles write failure injection
func (m *MemoryMedium) SetFailStores(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailStores = fail
}
