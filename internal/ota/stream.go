package ota

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/fault"
	"github.com/muurk/sidelights/internal/logging"
)

const (
	// ChunkSize is the receive buffer size for one pull from the stream
	ChunkSize = 1024

	// MsgSuccess is returned once the image is committed
	MsgSuccess = "OTA update successful! Rebooting..."
)

// ChunkSource yields the image as a sequence of chunks. End of data is
// signalled by io.EOF or by a zero-length chunk with a nil error.
type ChunkSource interface {
	ReadChunk(ctx context.Context, buf []byte) (int, error)
}

// ReaderSource adapts an io.Reader. BeforeRead, if set, runs before every
// read and is where callers arm a per-read deadline.
type ReaderSource struct {
	R          io.Reader
	BeforeRead func() error
}

// ReadChunk implements ChunkSource
func (r *ReaderSource) ReadChunk(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.BeforeRead != nil {
		if err := r.BeforeRead(); err != nil {
			return 0, err
		}
	}
	for i := 0; i < 100; i++ {
		n, err := r.R.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

// Result is the outcome of a streamed update as reported to the client
type Result struct {
	Status       int
	Message      string
	Err          error
	BytesWritten int64
}

// HandleStream runs a whole update: it begins a session, pulls chunks from
// src until end of data and finishes the session. Any failure aborts the
// session without touching the boot selection.
func (t *Transfer) HandleStream(ctx context.Context, src ChunkSource) Result {
	s, err := t.Begin()
	if err != nil {
		logging.Warn("OTA begin failed", zap.Error(err))
		return failed(err, 0)
	}

	buf := make([]byte, ChunkSize)
	for {
		n, rerr := src.ReadChunk(ctx, buf)
		if n > 0 {
			if err := t.WriteChunk(s, buf[:n]); err != nil {
				return failed(err, s.BytesWritten())
			}
		}
		if (rerr == nil && n == 0) || errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			err := streamError(ctx, rerr)
			t.Abort(s, err)
			return failed(err, s.BytesWritten())
		}
	}

	if err := t.Finish(s); err != nil {
		return failed(err, s.BytesWritten())
	}
	return Result{Status: http.StatusOK, Message: MsgSuccess, BytesWritten: s.BytesWritten()}
}

// streamError classifies a failed pull: a stall is a transfer timeout,
// anything else a read error
func streamError(ctx context.Context, err error) error {
	if fault.IsDeadline(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.NewOTAError(fault.OTATransferTimeout, "image stream stalled", err)
	}
	return fault.NewOTAError(fault.OTAReadError, "image stream failed", err)
}

func failed(err error, written int64) Result {
	return Result{
		Status:       fault.HTTPStatus(err),
		Message:      fault.ShortMessage(err),
		Err:          err,
		BytesWritten: written,
	}
}
