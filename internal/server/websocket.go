package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/ota"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// StreamResult is the final text message sent on /ota/ws before closing
type StreamResult struct {
	Status       int    `json:"status"`
	Message      string `json:"message"`
	BytesWritten int64  `json:"bytes_written"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  ota.ChunkSize,
	WriteBufferSize: 1024,
	// Operators upload from the CLI or a page served by the device itself
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleOTAWebSocket receives the image as binary messages. An empty binary
// message or a normal close ends the image.
func (s *Server) handleOTAWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("Failed to upgrade OTA connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	logging.Info("OTA stream opened", zap.String("remote_addr", r.RemoteAddr))

	src := &wsSource{conn: conn, timeout: s.config.ReadTimeout}
	res := s.deps.OTA.HandleStream(r.Context(), src)
	if res.Err != nil {
		logging.Warn("OTA stream failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int64("bytes_written", res.BytesWritten),
			zap.Error(res.Err),
		)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(StreamResult{Status: res.Status, Message: res.Message, BytesWritten: res.BytesWritten}); err != nil {
		logging.Debug("Could not send OTA result", zap.Error(err))
		return
	}
	closeCode := websocket.CloseNormalClosure
	if res.Err != nil {
		closeCode = websocket.CloseInternalServerErr
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, ""),
		time.Now().Add(writeWait))
}

// wsSource adapts a WebSocket connection to ota.ChunkSource. Messages larger
// than the chunk buffer are handed out over several reads.
type wsSource struct {
	conn    *websocket.Conn
	timeout time.Duration
	pending []byte
	done    bool
}

func (s *wsSource) ReadChunk(ctx context.Context, buf []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(buf, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.done {
		return 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, err
	}

	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			s.done = true
			return 0, io.EOF
		}
		return 0, err
	}
	if kind != websocket.BinaryMessage {
		return 0, fmt.Errorf("unexpected message type %d in image stream", kind)
	}
	if len(data) == 0 {
		s.done = true
		return 0, io.EOF
	}

	n := copy(buf, data)
	s.pending = data[n:]
	return n, nil
}

var _ ota.ChunkSource = (*wsSource)(nil)
