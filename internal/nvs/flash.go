package nvs

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	// ImageVersion is the current version of the on-medium format
	ImageVersion = 1

	// MaxKeyLength matches the 15 character key limit of ESP-IDF NVS
	MaxKeyLength = 15

	// MaxStringLength bounds a single string value
	MaxStringLength = 4000
)

var (
	// ErrNotFound is returned when a key has no value in the namespace
	ErrNotFound = errors.New("nvs: key not found")

	// ErrTypeMismatch is returned when a key holds a value of another type
	ErrTypeMismatch = errors.New("nvs: type mismatch")

	// ErrInvalidKey is returned for empty or oversized keys
	ErrInvalidKey = errors.New("nvs: invalid key")

	// ErrClosed is returned when a closed handle is used
	ErrClosed = errors.New("nvs: handle closed")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create nvs CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create nvs CBOR decoder mode: %v", err))
	}
}

// Value is one typed entry. Exactly one field is set.
type Value struct {
	Str *string `cbor:"1,keyasint,omitempty"`
	U8  *uint8  `cbor:"2,keyasint,omitempty"`
}

func (v Value) clone() Value {
	var out Value
	if v.Str != nil {
		s := *v.Str
		out.Str = &s
	}
	if v.U8 != nil {
		b := *v.U8
		out.U8 = &b
	}
	return out
}

type image struct {
	Version    int                         `cbor:"1,keyasint"`
	Namespaces map[string]map[string]Value `cbor:"2,keyasint"`
}

// Flash is a namespaced key/value store with explicit commit, modelled on
// the ESP-IDF NVS API. Only committed data is ever read back after a restart.
type Flash struct {
	mu        sync.Mutex
	medium    Medium
	committed map[string]map[string]Value
}

// Open initializes a Flash from medium. A blank medium yields an empty store;
// an unreadable or corrupt one is an error, as with nvs_flash_init.
func Open(medium Medium) (*Flash, error) {
	f := &Flash{
		medium:    medium,
		committed: make(map[string]map[string]Value),
	}

	data, err := medium.Load()
	if errors.Is(err, ErrBlank) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	var img image
	if err := decMode.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("nvs: corrupt image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("nvs: unsupported image version %d (expected %d)", img.Version, ImageVersion)
	}
	if img.Namespaces != nil {
		f.committed = img.Namespaces
	}
	return f, nil
}

// OpenFile is a convenience for Open(&FileMedium{Path: path})
func OpenFile(path string) (*Flash, error) {
	return Open(&FileMedium{Path: path})
}

// Namespace opens a read-write handle on namespace ns
func (f *Flash) Namespace(ns string) *Handle {
	return &Handle{
		flash:   f,
		ns:      ns,
		pending: make(map[string]*Value),
	}
}

// Dump returns a copy of all committed entries, keyed by namespace then key
func (f *Flash) Dump() map[string]map[string]Value {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]map[string]Value, len(f.committed))
	for ns, entries := range f.committed {
		cp := make(map[string]Value, len(entries))
		for k, v := range entries {
			cp[k] = v.clone()
		}
		out[ns] = cp
	}
	return out
}

// Keys returns the committed keys of a namespace in sorted order
func (f *Flash) Keys(ns string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.committed[ns]))
	for k := range f.committed[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *Flash) get(ns, key string) (Value, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.committed[ns][key]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// commit applies staged changes to ns. The medium is written first; the
// in-memory view changes only once the medium has acknowledged.
func (f *Flash) commit(ns string, pending map[string]*Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]map[string]Value, len(f.committed)+1)
	for name, entries := range f.committed {
		next[name] = entries
	}
	entries := make(map[string]Value, len(f.committed[ns])+len(pending))
	for k, v := range f.committed[ns] {
		entries[k] = v
	}
	for k, v := range pending {
		if v == nil {
			delete(entries, k)
			continue
		}
		entries[k] = v.clone()
	}
	if len(entries) == 0 {
		delete(next, ns)
	} else {
		next[ns] = entries
	}

	data, err := encMode.Marshal(image{Version: ImageVersion, Namespaces: next})
	if err != nil {
		return fmt.Errorf("nvs: failed to encode image: %w", err)
	}
	if err := f.medium.Store(data); err != nil {
		return err
	}

	f.committed = next
	return nil
}
