package provisioning

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/supervisor"
)

const (
	// DefaultBodyLimit fits a fully percent-encoded 32-byte ssid and
	// 64-byte password with their field names
	DefaultBodyLimit = 320

	// MsgSaved is returned after credentials are stored and a connection started
	MsgSaved = "Credentials saved! Connecting to WiFi..."
)

// Result is the outcome of a save request as reported to the client
type Result struct {
	Status  int
	Message string
	Err     error
}

func failed(err error) Result {
	return Result{Status: fault.HTTPStatus(err), Message: fault.ShortMessage(err), Err: err}
}

// Handler applies credential submissions to the store and the supervisor
type Handler struct {
	sup   *supervisor.Supervisor
	limit int
}

// NewHandler creates a handler; limit <= 0 selects DefaultBodyLimit
func NewHandler(sup *supervisor.Supervisor, limit int) *Handler {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return &Handler{sup: sup, limit: limit}
}

// Limit returns the body cap in bytes
func (h *Handler) Limit() int {
	return h.limit
}

// HandleSave reads a bounded body, stores the credentials it carries and
// switches the supervisor to station mode. Exactly one connection attempt is
// started per successful save; if it cannot be started the provisioning
// access point is reopened so the operator is not locked out.
func (h *Handler) HandleSave(ctx context.Context, body io.Reader) Result {
	data, err := h.readBody(ctx, body)
	if err != nil {
		logging.Warn("Provisioning body rejected", zap.Error(err))
		return failed(err)
	}

	rec, err := ParseForm(data)
	if err != nil {
		logging.Warn("Provisioning form rejected", zap.Error(err))
		return failed(err)
	}

	err = h.sup.Exclusive(func(tx *supervisor.Tx) error {
		if err := tx.Save(rec); err != nil {
			return err
		}
		logging.Info("Credentials stored", zap.String("ssid", rec.SSID))

		if err := tx.SwitchToStation(rec); err != nil {
			if rerr := tx.RevertToProvisioning("provisioned network could not be joined"); rerr != nil {
				logging.Error("Could not reopen provisioning access point", zap.Error(rerr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		logging.Warn("Provisioning failed", zap.String("ssid", rec.SSID), zap.Error(err))
		return failed(err)
	}

	return Result{Status: http.StatusOK, Message: MsgSaved}
}

// readBody reads at most limit bytes. A body longer than the cap is
// rejected outright rather than parsed from its prefix.
func (h *Handler) readBody(ctx context.Context, body io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.NewTimeoutError("read body", err)
	}

	data, err := io.ReadAll(io.LimitReader(body, int64(h.limit)+1))
	if err != nil {
		if fault.IsDeadline(err) || ctx.Err() != nil {
			return nil, fault.NewTimeoutError("read body", err)
		}
		return nil, &fault.Error{Kind: fault.KindConfig, Op: "read body", Message: "could not read request body", Err: err}
	}
	if len(data) > h.limit {
		return nil, fault.NewConfigError(fmt.Sprintf("request body exceeds %d bytes", h.limit))
	}
	return data, nil
}
