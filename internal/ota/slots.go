package ota

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/muurk/sidelights/internal/nvs"
)

const (
	// SlotCount is the number of application slots; updates alternate between them
	SlotCount = 2

	otadataVersion = 1
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create otadata CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create otadata CBOR decoder mode: %v", err))
	}
}

// Slot identifies one application slot
type Slot struct {
	Index int
	Label string
	Path  string
}

// SlotInfo is the recorded metadata of an image written to a slot
type SlotInfo struct {
	Valid     bool      `cbor:"1,keyasint" json:"valid"`
	Size      int64     `cbor:"2,keyasint" json:"size"`
	Digest    []byte    `cbor:"3,keyasint,omitempty" json:"-"`
	WrittenAt time.Time `cbor:"4,keyasint,omitempty" json:"written_at,omitempty"`
}

// DigestHex returns the blake3 digest as hex, or "" if none was recorded
func (i SlotInfo) DigestHex() string {
	if len(i.Digest) == 0 {
		return ""
	}
	return hex.EncodeToString(i.Digest)
}

type otadata struct {
	Version int                 `cbor:"1,keyasint"`
	Boot    int                 `cbor:"2,keyasint"`
	Slots   [SlotCount]SlotInfo `cbor:"3,keyasint"`
}

// Table is the two-slot partition table plus the boot selection record.
// The slot the process started from stays the running slot until restart,
// even after another slot has been activated.
type Table struct {
	mu       sync.Mutex
	slots    [SlotCount]Slot
	capacity int64
	medium   nvs.Medium
	data     otadata
	running  int
}

// OpenTable loads the boot selection from medium and lays out slot files in
// dir. A blank medium boots slot 0.
func OpenTable(dir string, capacity int64, medium nvs.Medium) (*Table, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create partitions directory: %w", err)
	}

	t := &Table{
		capacity: capacity,
		medium:   medium,
		data:     otadata{Version: otadataVersion},
	}
	for i := range t.slots {
		label := fmt.Sprintf("ota_%d", i)
		t.slots[i] = Slot{Index: i, Label: label, Path: filepath.Join(dir, label+".bin")}
	}

	raw, err := medium.Load()
	switch {
	case errors.Is(err, nvs.ErrBlank):
	case err != nil:
		return nil, fmt.Errorf("failed to read otadata: %w", err)
	default:
		if err := decMode.Unmarshal(raw, &t.data); err != nil {
			return nil, fmt.Errorf("corrupt otadata: %w", err)
		}
		if t.data.Version != otadataVersion {
			return nil, fmt.Errorf("unsupported otadata version %d", t.data.Version)
		}
		if t.data.Boot < 0 || t.data.Boot >= SlotCount {
			return nil, fmt.Errorf("otadata boot slot %d out of range", t.data.Boot)
		}
	}

	t.running = t.data.Boot
	return t, nil
}

// OpenTableDir keeps otadata in dir next to the slot files
func OpenTableDir(dir string, capacity int64) (*Table, error) {
	return OpenTable(dir, capacity, &nvs.FileMedium{Path: filepath.Join(dir, "otadata")})
}

// Capacity returns the size of each slot in bytes
func (t *Table) Capacity() int64 {
	return t.capacity
}

// Running returns the slot the process was started from
func (t *Table) Running() Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.running]
}

// Boot returns the slot that will be started on the next boot
func (t *Table) Boot() Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.data.Boot]
}

// Info returns the recorded metadata for slot i
func (t *Table) Info(i int) SlotInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= SlotCount {
		return SlotInfo{}
	}
	return t.data.Slots[i]
}

// Slots returns both slots in index order
func (t *Table) Slots() [SlotCount]Slot {
	return t.slots
}

// NextUpdate returns the slot an update should be written to: the one the
// process is not running from
func (t *Table) NextUpdate() (Slot, bool) {
	if t.capacity <= 0 {
		return Slot{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[(t.running+1)%SlotCount], true
}

// invalidate durably marks slot as not holding a usable image. If it was
// selected for the next boot, the selection goes back to the running slot.
func (t *Table) invalidate(slot Slot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.data
	next.Slots[slot.Index] = SlotInfo{}
	if next.Boot == slot.Index {
		next.Boot = t.running
	}
	return t.storeLocked(next)
}

// activate records info for slot and selects it for the next boot
func (t *Table) activate(slot Slot, info SlotInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.data
	info.Valid = true
	next.Slots[slot.Index] = info
	next.Boot = slot.Index
	return t.storeLocked(next)
}

func (t *Table) storeLocked(next otadata) error {
	raw, err := encMode.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode otadata: %w", err)
	}
	if err := t.medium.Store(raw); err != nil {
		return err
	}
	t.data = next
	return nil
}
