package nvs

import "fmt"

// Handle stages writes against one namespace. Reads through a handle see its
// own staged values; nothing is durable, or visible to other handles, until
// Commit returns nil.
type Handle struct {
	flash   *Flash
	ns      string
	pending map[string]*Value
	closed  bool
}

func validKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (h *Handle) lookup(key string) (Value, error) {
	if h.closed {
		return Value{}, ErrClosed
	}
	if err := validKey(key); err != nil {
		return Value{}, err
	}
	if v, staged := h.pending[key]; staged {
		if v == nil {
			return Value{}, ErrNotFound
		}
		return v.clone(), nil
	}
	v, ok := h.flash.get(h.ns, key)
	if !ok {
		return Value{}, ErrNotFound
	}
	return v, nil
}

func (h *Handle) stage(key string, v *Value) error {
	if h.closed {
		return ErrClosed
	}
	if err := validKey(key); err != nil {
		return err
	}
	h.pending[key] = v
	return nil
}

// GetString reads a string value
func (h *Handle) GetString(key string) (string, error) {
	v, err := h.lookup(key)
	if err != nil {
		return "", err
	}
	if v.Str == nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrTypeMismatch, key)
	}
	return *v.Str, nil
}

// SetString stages a string value
func (h *Handle) SetString(key, value string) error {
	if len(value) > MaxStringLength {
		return fmt.Errorf("nvs: value for %s exceeds %d bytes", key, MaxStringLength)
	}
	return h.stage(key, &Value{Str: &value})
}

// GetU8 reads a byte value
func (h *Handle) GetU8(key string) (uint8, error) {
	v, err := h.lookup(key)
	if err != nil {
		return 0, err
	}
	if v.U8 == nil {
		return 0, fmt.Errorf("%w: %s is not a u8", ErrTypeMismatch, key)
	}
	return *v.U8, nil
}

// SetU8 stages a byte value
func (h *Handle) SetU8(key string, value uint8) error {
	return h.stage(key, &Value{U8: &value})
}

// EraseKey stages removal of key. Erasing a missing key is not an error.
func (h *Handle) EraseKey(key string) error {
	return h.stage(key, nil)
}

// Commit durably applies all staged changes as one unit. On failure the
// staged changes are kept so the caller may retry, and the committed data is
// untouched.
func (h *Handle) Commit() error {
	if h.closed {
		return ErrClosed
	}
	if len(h.pending) == 0 {
		return nil
	}
	if err := h.flash.commit(h.ns, h.pending); err != nil {
		return err
	}
	h.pending = make(map[string]*Value)
	return nil
}

// Close discards uncommitted changes
func (h *Handle) Close() {
	h.pending = nil
	h.closed = true
}
