package lights

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
)

const (
	// AllKey switches every configured light at once
	AllKey = "lights"

	// MsgExecuted is returned after the commands have been applied
	MsgExecuted = "Command Executed!"

	maxBody = 512
)

// Output drives named on/off light outputs
type Output interface {
	Set(name string, on bool) error
	Close() error
}

// Command switches one light, or all of them when Name is AllKey
type Command struct {
	Name string
	On   bool
}

// ParseCommands decodes a body such as "light1=on&lights=off". keys lists
// the light and preset names accepted besides AllKey. Pairs are applied in
// order, so a later pair overrides an earlier one.
func ParseCommands(body []byte, keys []string) ([]Command, error) {
	known := make(map[string]bool, len(keys)+1)
	for _, n := range keys {
		known[n] = true
	}
	known[AllKey] = true

	var cmds []Command
	for _, pair := range strings.Split(strings.TrimSpace(string(body)), "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if !known[key] {
			return nil, fault.NewConfigError(fmt.Sprintf("unknown light %q", key))
		}
		switch value {
		case "on":
			cmds = append(cmds, Command{Name: key, On: true})
		case "off":
			cmds = append(cmds, Command{Name: key, On: false})
		default:
			return nil, fault.NewConfigError(fmt.Sprintf("%s: value must be on or off, got %q", key, value))
		}
	}
	if len(cmds) == 0 {
		return nil, fault.NewConfigError("no light command")
	}
	return cmds, nil
}

// Result is the outcome of a control request as reported to the client
type Result struct {
	Status  int
	Message string
	Err     error
}

// Controller applies light commands to an Output and remembers the state
type Controller struct {
	out     Output
	names   []string
	presets map[string][]string

	mu    sync.Mutex
	state map[string]bool
}

// NewController creates a controller for the named lights; all start off
func NewController(out Output, names []string) *Controller {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	state := make(map[string]bool, len(sorted))
	for _, n := range sorted {
		state[n] = false
	}
	return &Controller{out: out, names: sorted, state: state}
}

// Names returns the configured light names in order
func (c *Controller) Names() []string {
	return append([]string(nil), c.names...)
}

// SetPresets installs named combinations of lights, such as a colour mixed
// from the channels of an RGB strip. "<preset>=on" lights exactly the listed
// outputs and turns the rest off; "<preset>=off" turns every output off.
// It must be called before the controller serves requests.
func (c *Controller) SetPresets(presets map[string][]string) error {
	known := make(map[string]bool, len(c.names))
	for _, n := range c.names {
		known[n] = true
	}

	installed := make(map[string][]string, len(presets))
	for name, members := range presets {
		if name == AllKey || known[name] {
			return fmt.Errorf("preset %q shadows a light", name)
		}
		if len(members) == 0 {
			return fmt.Errorf("preset %q lights nothing", name)
		}
		for _, m := range members {
			if !known[m] {
				return fmt.Errorf("preset %q: unknown light %q", name, m)
			}
		}
		installed[name] = append([]string(nil), members...)
	}
	c.presets = installed
	return nil
}

// keys returns every command key other than AllKey
func (c *Controller) keys() []string {
	keys := c.Names()
	for name := range c.presets {
		keys = append(keys, name)
	}
	return keys
}

// resolve expands cmd into per-light values
func (c *Controller) resolve(cmd Command) map[string]bool {
	values := make(map[string]bool, len(c.names))
	members, isPreset := c.presets[cmd.Name]
	switch {
	case cmd.Name == AllKey:
		for _, n := range c.names {
			values[n] = cmd.On
		}
	case isPreset:
		for _, n := range c.names {
			values[n] = false
		}
		if cmd.On {
			for _, n := range members {
				values[n] = true
			}
		}
	default:
		values[cmd.Name] = cmd.On
	}
	return values
}

// Apply runs cmds in order, stopping at the first output failure
func (c *Controller) Apply(cmds []Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range cmds {
		values := c.resolve(cmd)
		for _, name := range c.names {
			on, ok := values[name]
			if !ok {
				continue
			}
			if err := c.out.Set(name, on); err != nil {
				return fmt.Errorf("set %s: %w", name, err)
			}
			c.state[name] = on
		}
	}
	return nil
}

// State returns a copy of the last applied light states
func (c *Controller) State() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

// HandleControl reads a bounded command body and applies it
func (c *Controller) HandleControl(ctx context.Context, body io.Reader) Result {
	data, err := io.ReadAll(io.LimitReader(body, maxBody+1))
	if err != nil {
		if fault.IsDeadline(err) || ctx.Err() != nil {
			err = fault.NewTimeoutError("read body", err)
		} else {
			err = &fault.Error{Kind: fault.KindConfig, Op: "read body", Message: "could not read request body", Err: err}
		}
		return Result{Status: fault.HTTPStatus(err), Message: fault.ShortMessage(err), Err: err}
	}
	if len(data) > maxBody {
		err := fault.NewConfigError("request body too large")
		return Result{Status: http.StatusBadRequest, Message: fault.ShortMessage(err), Err: err}
	}

	cmds, err := ParseCommands(data, c.keys())
	if err != nil {
		return Result{Status: http.StatusBadRequest, Message: fault.ShortMessage(err), Err: err}
	}
	if err := c.Apply(cmds); err != nil {
		logging.Error("Light output failed", zap.Error(err))
		return Result{Status: http.StatusInternalServerError, Message: "Light output failed", Err: err}
	}

	logging.Debug("Light commands applied", zap.Int("commands", len(cmds)))
	return Result{Status: http.StatusOK, Message: MsgExecuted}
}

// Close releases the output
func (c *Controller) Close() error {
	return c.out.Close()
}

// Simulated is an in-memory Output
type Simulated struct {
	mu     sync.Mutex
	values map[string]bool
	Fail   error
}

// NewSimulated creates a simulated output
func NewSimulated() *Simulated {
	return &Simulated{values: make(map[string]bool)}
}

// Set implements Output
func (s *Simulated) Set(name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.values[name] = on
	logging.Info("Light switched", zap.String("light", name), zap.Bool("on", on))
	return nil
}

// Value reports the last value set on name
func (s *Simulated) Value(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

// Close implements Output
func (s *Simulated) Close() error {
	return nil
}

// EncodeCommands renders cmds in the form accepted by ParseCommands
func EncodeCommands(cmds []Command) string {
	pairs := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		value := "off"
		if cmd.On {
			value = "on"
		}
		pairs = append(pairs, cmd.Name+"="+value)
	}
	return strings.Join(pairs, "&")
}
