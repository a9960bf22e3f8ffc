package platform

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
)

// Restart methods
const (
	MethodReboot = "reboot"
	MethodExit   = "exit"
)

// Restarter carries out a restart request after a grace period, so the
// response that triggered it can reach the client. Only the first request
// has any effect.
type Restarter struct {
	method string
	grace  time.Duration

	// reboot is replaced in tests
	reboot func() error

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// NewRestarter creates a restarter for the given method
func NewRestarter(method string, grace time.Duration) (*Restarter, error) {
	switch method {
	case MethodReboot, MethodExit:
	default:
		return nil, fmt.Errorf("unknown restart method %q", method)
	}
	return &Restarter{
		method: method,
		grace:  grace,
		reboot: rebootSystem,
		done:   make(chan struct{}),
	}, nil
}

// RequestRestart schedules the restart and returns immediately
func (r *Restarter) RequestRestart(reason string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.reason = reason
		r.mu.Unlock()

		logging.Warn("Restart requested",
			zap.String("reason", reason),
			zap.String("method", r.method),
			zap.Duration("grace", r.grace),
		)
		go r.run()
	})
}

func (r *Restarter) run() {
	time.Sleep(r.grace)
	logging.Sync()

	if r.method == MethodReboot {
		if err := r.reboot(); err != nil {
			// Fall through to a process exit so a supervisor can restart us
			logging.Error("Reboot failed, exiting instead", zap.Error(err))
		}
	}
	close(r.done)
}

// Done is closed once the process should exit: immediately after the grace
// period for the exit method, or if a reboot could not be issued.
func (r *Restarter) Done() <-chan struct{} {
	return r.done
}

// Reason returns the reason given with the first restart request
func (r *Restarter) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}
