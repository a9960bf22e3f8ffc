package deviceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// Kind says how a request to a controller failed
type Kind int

const (
	// KindUnreachable covers transport failures with no reply
	KindUnreachable Kind = iota
	// KindRefused means nothing listens on the port, as while the controller reboots
	KindRefused
	// KindTimeout means the controller did not answer in time
	KindTimeout
	// KindLookup means the .local name did not resolve
	KindLookup
	// KindStatus means the controller answered with an error status
	KindStatus
	// KindResponse means the reply could not be decoded
	KindResponse
	// KindInput means the request was rejected before it was sent
	KindInput
)

var kindNames = map[Kind]string{
	KindUnreachable: "unreachable",
	KindRefused:     "refused",
	KindTimeout:     "timeout",
	KindLookup:      "lookup",
	KindStatus:      "status",
	KindResponse:    "response",
	KindInput:       "input",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error every Client method returns
type Error struct {
	Kind    Kind
	Op      string // what the client was doing
	Status  int    // KindStatus only
	Message string // controller's plain-text reason, or the input problem
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Kind == KindStatus && e.Message != "":
		fmt.Fprintf(&b, "%s (HTTP %d)", e.Message, e.Status)
	case e.Kind == KindStatus:
		fmt.Fprintf(&b, "HTTP %d", e.Status)
	case e.Message != "":
		b.WriteString(e.Message)
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// retryable reports whether sending the same request again may succeed.
// A 409 means another upload holds the updater, so it is final.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindUnreachable, KindRefused, KindTimeout:
		return !errors.Is(e.Err, context.Canceled)
	case KindStatus:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

// networkError classifies a transport failure
func networkError(op string, err error) *Error {
	e := &Error{Kind: KindUnreachable, Op: op, Err: err}
	var dnsErr *net.DNSError
	switch {
	case os.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
	case errors.As(err, &dnsErr):
		e.Kind = KindLookup
		e.Message = dnsErr.Name
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Kind = KindRefused
	}
	return e
}

func statusError(op string, status int, body string) *Error {
	return &Error{Kind: KindStatus, Op: op, Status: status, Message: strings.TrimSpace(body)}
}

func responseError(op string, err error) *Error {
	return &Error{Kind: KindResponse, Op: op, Err: err}
}

func inputError(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the kind of a client error
func KindOf(err error) (Kind, bool) {
	if e, ok := asError(err); ok {
		return e.Kind, true
	}
	return 0, false
}

// IsTransport reports whether err never got an answer from the controller
func IsTransport(err error) bool {
	k, ok := KindOf(err)
	return ok && k <= KindLookup
}

// Retryable reports whether the request behind err may be sent again
func Retryable(err error) bool {
	e, ok := asError(err)
	return ok && e.retryable()
}

// StatusCode returns the HTTP status the controller answered with, or 0
func StatusCode(err error) int {
	if e, ok := asError(err); ok && e.Kind == KindStatus {
		return e.Status
	}
	return 0
}

// Summary is a one-line description of err for the terminal
func Summary(err error) string {
	e, ok := asError(err)
	if !ok {
		return err.Error()
	}
	switch e.Kind {
	case KindTimeout:
		return "Controller not responding (timeout)"
	case KindRefused:
		return "Controller refused the connection"
	case KindLookup:
		return "Cannot resolve " + e.Message
	case KindUnreachable:
		return "Controller unreachable"
	case KindStatus:
		if e.Message != "" {
			return e.Message
		}
		return fmt.Sprintf("Controller error (HTTP %d)", e.Status)
	case KindResponse:
		return "Unreadable reply from controller"
	}
	return e.Message
}

// Tips suggests what the operator can do about err
func Tips(err error) []string {
	e, ok := asError(err)
	if !ok {
		return []string{"Try again"}
	}
	switch e.Kind {
	case KindTimeout:
		return []string{
			"The controller did not respond in time",
			"If it is unprovisioned, join its access point first",
			"Raise --timeout on a slow network",
		}
	case KindRefused:
		return []string{
			"The controller may be restarting after an update; wait and retry",
			"Check the port (default 80)",
		}
	case KindLookup:
		return []string{
			"Run 'sidelightsctl scan' to find the controller's address",
			"Pass the IP address instead of the .local name",
		}
	case KindUnreachable:
		return []string{"Check that this machine is on the controller's network"}
	case KindStatus:
		return statusTips(e.Status)
	case KindResponse:
		return []string{"The controller firmware may be older than this tool"}
	}
	return nil
}

func statusTips(status int) []string {
	switch {
	case status == http.StatusConflict:
		return []string{"Another firmware upload is in progress; wait for it to finish"}
	case status == http.StatusRequestTimeout:
		return []string{"The controller stopped receiving data; check the link and retry"}
	case status == http.StatusServiceUnavailable:
		return []string{"The controller is restarting; wait for it to come back"}
	case status == http.StatusBadRequest:
		return []string{"The controller rejected the values sent"}
	case status >= http.StatusInternalServerError:
		return []string{
			"Check 'sidelightsctl status' for the last update error",
			"Power-cycle the controller if the error persists",
		}
	}
	return nil
}
