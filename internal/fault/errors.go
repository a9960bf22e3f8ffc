package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Kind represents the category of error that occurred
type Kind int

const (
	// KindStorage indicates the durable medium could not be opened, written or committed
	KindStorage Kind = iota
	// KindConfig indicates malformed or oversized credential input
	KindConfig
	// KindNetwork indicates a radio configuration or connect-call failure
	KindNetwork
	// KindOTA indicates a firmware update failure (see OTAReason)
	KindOTA
	// KindTimeout indicates a request body read stalled past its deadline
	KindTimeout
)

// String returns a human-readable name for the error kind
func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "Storage Error"
	case KindConfig:
		return "Config Error"
	case KindNetwork:
		return "Network Error"
	case KindOTA:
		return "OTA Error"
	case KindTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// OTAReason narrows down a KindOTA error
type OTAReason int

const (
	OTANone OTAReason = iota
	OTANoUpdatePartition
	OTABeginFailed
	OTAWriteFailed
	OTAReadError
	OTATransferTimeout
	OTAFinalizeFailed
	OTAActivationFailed
)

// String returns the reason name used in logs and responses
func (r OTAReason) String() string {
	switch r {
	case OTANone:
		return "none"
	case OTANoUpdatePartition:
		return "no update partition"
	case OTABeginFailed:
		return "begin failed"
	case OTAWriteFailed:
		return "write failed"
	case OTAReadError:
		return "read error"
	case OTATransferTimeout:
		return "transfer timeout"
	case OTAFinalizeFailed:
		return "finalize failed"
	case OTAActivationFailed:
		return "activation failed"
	default:
		return fmt.Sprintf("OTAReason(%d)", r)
	}
}

// ErrUpdateInProgress is wrapped by the BeginFailed error returned when a
// second update is started while one is still open.
var ErrUpdateInProgress = errors.New("another firmware update is in progress")

// ErrRestartPending is wrapped by errors from requests refused because the
// device has already committed to restarting.
var ErrRestartPending = errors.New("restart pending")

// Error is the error type shared by the controller's components
type Error struct {
	Kind    Kind      // Category of error
	Reason  OTAReason // OTA sub-reason (KindOTA only)
	Op      string    // Operation that failed, e.g. "nvs commit"
	Message string    // Human-readable error message
	Err     error     // Underlying error (if any)
	Fatal   bool      // Failure to record a recovery decision; caller must halt
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Kind == KindOTA {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Reason)
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError creates a storage error
func NewStorageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "durable storage failure", Err: err}
}

// NewConfigError creates a config error
func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// NewNetworkError creates a network error
func NewNetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "radio operation failed", Err: err}
}

// NewOTAError creates an OTA error with the given reason
func NewOTAError(reason OTAReason, message string, err error) *Error {
	return &Error{Kind: KindOTA, Reason: reason, Message: message, Err: err}
}

// NewTimeoutError creates a request timeout error
func NewTimeoutError(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: "request timeout", Err: err}
}

// AsFatal marks err as fatal. Non-fault errors are wrapped as storage errors
// since recording a recovery decision only ever touches durable storage.
func AsFatal(op string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.Fatal = true
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}
	e := NewStorageError(op, err)
	e.Fatal = true
	return e
}

func kindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindStorage
}

// IsConfigError checks if an error is a config error
func IsConfigError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfig
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNetwork
}

// IsTimeoutError checks if an error is a request timeout, including an OTA
// transfer timeout
func IsTimeoutError(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == KindTimeout || (fe.Kind == KindOTA && fe.Reason == OTATransferTimeout)
}

// IsFatal checks if an error must halt the controller
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Fatal
}

// OTAReasonOf returns the OTA reason of err, or OTANone
func OTAReasonOf(err error) OTAReason {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindOTA {
		return fe.Reason
	}
	return OTANone
}

// HTTPStatus maps an error to the status code returned by the HTTP layer
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if IsTimeoutError(err) {
		return http.StatusRequestTimeout
	}
	if errors.Is(err, ErrUpdateInProgress) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrRestartPending) {
		return http.StatusServiceUnavailable
	}
	k, ok := kindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch k {
	case KindConfig:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ShortMessage returns a concise plain-text message suitable for an HTTP body
func ShortMessage(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return err.Error()
	}
	if errors.Is(fe, ErrRestartPending) {
		return "Device is restarting"
	}
	switch fe.Kind {
	case KindConfig:
		return "Invalid request: " + fe.Message
	case KindStorage:
		return "Could not save settings"
	case KindNetwork:
		return "Could not start WiFi connection"
	case KindTimeout:
		return "Request timeout"
	case KindOTA:
		if errors.Is(fe, ErrUpdateInProgress) {
			return "Another update is in progress"
		}
		if fe.Reason == OTATransferTimeout {
			return "Request timeout"
		}
		return "OTA update failed: " + fe.Reason.String()
	default:
		return fe.Message
	}
}

// IsDeadline reports whether err came from a read that stalled past its
// deadline, as opposed to a closed or broken stream
func IsDeadline(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
