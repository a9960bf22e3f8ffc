package ota

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
)

// State is the lifecycle state of an update session
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateVerifying
	StateCommitted
	StateAborted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateVerifying:
		return "verifying"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// MarshalText lets State appear by name in the status JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Restarter requests a system restart. Implementations return immediately.
type Restarter interface {
	RequestRestart(reason string)
}

// progressInterval is how often, in bytes, session progress is logged
const progressInterval = 64 * 1024

// Session is one in-flight firmware update. It is only valid for the request
// that began it.
type Session struct {
	ID      uuid.UUID
	Slot    Slot
	Started time.Time

	file       *os.File
	hasher     *blake3.Hasher
	written    int64
	lastLogged int64
	state      State
}

// BytesWritten returns the number of image bytes accepted so far
func (s *Session) BytesWritten() int64 {
	return s.written
}

// Status is a snapshot of the updater for the status endpoint
type Status struct {
	State        State     `json:"state"`
	LastOutcome  State     `json:"last_outcome,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	TargetSlot   string    `json:"target_slot,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
	RunningSlot  string    `json:"running_slot"`
	BootSlot     string    `json:"boot_slot"`
	Slots        []SlotRow `json:"slots"`
	LastError    string    `json:"last_error,omitempty"`
}

// SlotRow describes one slot in a Status
type SlotRow struct {
	Label  string `json:"label"`
	SlotInfo
	Digest string `json:"digest,omitempty"`
}

// ErrRestartPending is wrapped by Begin once an image has been committed
var ErrRestartPending = errors.New("restart pending after committed update")

// Transfer writes firmware images into the table's update slot. At most one
// session exists at a time.
type Transfer struct {
	table     *Table
	restarter Restarter

	mu        sync.Mutex
	active    *Session
	last      *Session
	lastErr   error
	committed bool
}

// NewTransfer creates an updater for table
func NewTransfer(table *Table, restarter Restarter) *Transfer {
	return &Transfer{table: table, restarter: restarter}
}

// Table returns the slot table
func (t *Transfer) Table() *Table {
	return t.table
}

// Begin opens a session on the next update slot. The slot is marked invalid
// and erased before any data is accepted, so an unfinished session can never
// leave it selected for boot.
func (t *Transfer) Begin() (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return nil, fault.NewOTAError(fault.OTABeginFailed, "session "+t.active.ID.String()+" is open", fault.ErrUpdateInProgress)
	}
	if t.committed {
		return nil, fault.NewOTAError(fault.OTABeginFailed, "an update is waiting for restart", ErrRestartPending)
	}

	slot, ok := t.table.NextUpdate()
	if !ok {
		return nil, fault.NewOTAError(fault.OTANoUpdatePartition, "no update slot available", nil)
	}

	if err := t.table.invalidate(slot); err != nil {
		return nil, fault.NewOTAError(fault.OTABeginFailed, "could not invalidate "+slot.Label, err)
	}
	f, err := os.OpenFile(slot.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fault.NewOTAError(fault.OTABeginFailed, "could not erase "+slot.Label, err)
	}

	s := &Session{
		ID:      uuid.New(),
		Slot:    slot,
		Started: time.Now(),
		file:    f,
		hasher:  blake3.New(),
		state:   StateReceiving,
	}
	t.active = s
	t.last = s
	t.lastErr = nil

	logging.Info("OTA session started",
		zap.String("session", s.ID.String()),
		zap.String("slot", slot.Label),
		zap.Int64("capacity", t.table.Capacity()),
	)
	return s, nil
}

func (t *Transfer) checkActiveLocked(s *Session) error {
	if s == nil || t.active != s || s.state != StateReceiving {
		return fault.NewOTAError(fault.OTAWriteFailed, "session is not open", nil)
	}
	return nil
}

// WriteChunk appends p to the session's slot. On error the session is
// aborted.
func (t *Transfer) WriteChunk(s *Session, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActiveLocked(s); err != nil {
		return err
	}

	if s.written+int64(len(p)) > t.table.Capacity() {
		err := fault.NewOTAError(fault.OTAWriteFailed,
			fmt.Sprintf("image exceeds %s capacity of %d bytes", s.Slot.Label, t.table.Capacity()), nil)
		t.abortLocked(s, err)
		return err
	}
	if _, err := s.file.Write(p); err != nil {
		oerr := fault.NewOTAError(fault.OTAWriteFailed, "write to "+s.Slot.Label+" failed", err)
		t.abortLocked(s, oerr)
		return oerr
	}
	_, _ = s.hasher.Write(p)
	s.written += int64(len(p))

	if s.written-s.lastLogged >= progressInterval {
		s.lastLogged = s.written
		logging.LogOTAProgress(s.ID.String(), s.Slot.Label, s.written)
	}
	return nil
}

// Finish finalizes the image, selects its slot for the next boot and
// requests a restart. Activation only happens after the image is durably
// finalized.
func (t *Transfer) Finish(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActiveLocked(s); err != nil {
		return fault.NewOTAError(fault.OTAFinalizeFailed, "session is not open", nil)
	}
	s.state = StateVerifying

	if s.written == 0 {
		err := fault.NewOTAError(fault.OTAFinalizeFailed, "empty image", nil)
		t.abortLocked(s, err)
		return err
	}
	if err := s.file.Sync(); err != nil {
		oerr := fault.NewOTAError(fault.OTAFinalizeFailed, "flush "+s.Slot.Label, err)
		t.abortLocked(s, oerr)
		return oerr
	}
	if err := s.file.Close(); err != nil {
		s.file = nil
		oerr := fault.NewOTAError(fault.OTAFinalizeFailed, "close "+s.Slot.Label, err)
		t.abortLocked(s, oerr)
		return oerr
	}
	s.file = nil

	info := SlotInfo{Size: s.written, Digest: s.hasher.Sum(nil), WrittenAt: time.Now().UTC()}
	if err := t.table.activate(s.Slot, info); err != nil {
		oerr := fault.NewOTAError(fault.OTAActivationFailed, "select "+s.Slot.Label+" for boot", err)
		t.abortLocked(s, oerr)
		return oerr
	}

	s.state = StateCommitted
	t.active = nil
	t.committed = true

	logging.Info("OTA image committed",
		zap.String("session", s.ID.String()),
		zap.String("slot", s.Slot.Label),
		zap.Int64("bytes", s.written),
		zap.String("blake3", info.DigestHex()),
		zap.Duration("elapsed", time.Since(s.Started)),
	)
	t.restarter.RequestRestart("firmware update committed to " + s.Slot.Label)
	return nil
}

// Abort discards the session. The slot stays invalid and the boot
// selection is untouched.
func (t *Transfer) Abort(s *Session, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == nil || t.active != s {
		return
	}
	t.abortLocked(s, cause)
}

func (t *Transfer) abortLocked(s *Session, cause error) {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.state = StateAborted
	t.active = nil
	t.lastErr = cause

	logging.Warn("OTA session aborted",
		zap.String("session", s.ID.String()),
		zap.String("slot", s.Slot.Label),
		zap.Int64("bytes", s.written),
		zap.Error(cause),
	)
}

// Status returns a snapshot of the updater and the slot table
func (t *Transfer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		State:       StateIdle,
		RunningSlot: t.table.Running().Label,
		BootSlot:    t.table.Boot().Label,
	}
	// An aborted session leaves the updater idle; its end state is kept as
	// the last outcome.
	if s := t.last; s != nil {
		if s == t.active || s.state == StateCommitted {
			st.State = s.state
		}
		if s != t.active {
			st.LastOutcome = s.state
		}
		st.SessionID = s.ID.String()
		st.TargetSlot = s.Slot.Label
		st.BytesWritten = s.written
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	for _, slot := range t.table.Slots() {
		info := t.table.Info(slot.Index)
		st.Slots = append(st.Slots, SlotRow{Label: slot.Label, SlotInfo: info, Digest: info.DigestHex()})
	}
	return st
}
